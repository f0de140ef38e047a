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

package worker

import (
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type TaskStop struct{}

type Task interface{}

// Worker runs a TaskHandler on its own goroutine, feeding it tasks one at a time.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	closeCh  chan struct{}
	once     sync.Once
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

type Stopper interface {
	Stop()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Info("worker started", zap.String("name", w.name))
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				if s, ok := handler.(Stopper); ok {
					s.Stop()
				}
				log.Info("worker stopped", zap.String("name", w.name))
				return
			}
			handler.Handle(task)
		}
	}()
}

// Schedule sends newTask() to the worker every interval until the worker is stopped. A tick is dropped rather than
// queued when the worker is still busy with the previous ones.
func (w *Worker) Schedule(interval time.Duration, newTask func() Task) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.closeCh:
				return
			case <-ticker.C:
				select {
				case w.sender <- newTask():
				default:
				}
			}
		}
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop asks the worker to exit after the tasks already queued. It is safe to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.closeCh)
		w.sender <- TaskStop{}
	})
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		closeCh:  make(chan struct{}),
		name:     name,
		wg:       wg,
	}
}
