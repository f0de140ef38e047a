// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package gc

import (
	"sync"
	"time"

	"github.com/pingcap-incubator/tinymvcc/kv/util/worker"
)

type gcTick struct{}

// Thread runs garbage collection passes in the background at a fixed interval.
type Thread struct {
	gc       *GarbageCollector
	interval time.Duration
	wg       *sync.WaitGroup
	worker   *worker.Worker
}

func NewThread(gc *GarbageCollector, interval time.Duration) *Thread {
	wg := new(sync.WaitGroup)
	return &Thread{
		gc:       gc,
		interval: interval,
		wg:       wg,
		worker:   worker.NewWorker("gc", wg),
	}
}

type gcHandler struct {
	gc *GarbageCollector
}

func (h gcHandler) Handle(t worker.Task) {
	switch t.(type) {
	case gcTick:
		h.gc.PerformGarbageCollection()
	}
}

func (t *Thread) Start() {
	t.worker.Start(gcHandler{gc: t.gc})
	t.worker.Schedule(t.interval, func() worker.Task { return gcTick{} })
}

// Stop waits for the background passes to end, then runs passes until everything the collector holds is
// deallocated. Transactions still running at this point keep their own records alive.
func (t *Thread) Stop() {
	t.worker.Stop()
	t.wg.Wait()
	for i := 0; i < 3; i++ {
		t.gc.PerformGarbageCollection()
	}
}

func (t *Thread) GarbageCollector() *GarbageCollector {
	return t.gc
}
