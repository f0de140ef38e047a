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

package engine

import (
	"github.com/pingcap-incubator/tinymvcc/kv/catalog"
	"github.com/pingcap-incubator/tinymvcc/kv/config"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/gc"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Engine wires up the storage core: the undo segment pool, the clock, the transaction manager, the catalog and,
// if enabled, the background garbage collector.
type Engine struct {
	cfg     *config.Config
	pool    *undo.SegmentPool
	tsm     *timestamp.Manager
	txns    *transaction.Manager
	catalog *catalog.Catalog

	gc       *gc.GarbageCollector
	gcThread *gc.Thread
}

func NewEngine(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	pool := undo.NewSegmentPool(cfg.PoolOptions())
	tsm := timestamp.NewManager()
	txns := transaction.NewManager(tsm, pool, cfg.GC.Enabled)
	e := &Engine{
		cfg:  cfg,
		pool: pool,
		tsm:  tsm,
		txns: txns,
	}
	if cfg.GC.Enabled {
		e.gc = gc.NewGarbageCollector(txns)
		e.gcThread = gc.NewThread(e.gc, cfg.GC.Interval.Duration)
		e.gcThread.Start()
	}

	cat, err := catalog.Bootstrap(txns, cfg.Table.BlockSize)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.catalog = cat

	log.Info("engine started",
		zap.Int("segment-size", cfg.Buffer.SegmentSize),
		zap.Int("pool-capacity", cfg.Buffer.PoolCapacity),
		zap.Bool("gc", cfg.GC.Enabled),
		zap.Duration("gc-interval", cfg.GC.Interval.Duration))
	return e, nil
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) Pool() *undo.SegmentPool {
	return e.pool
}

func (e *Engine) TimestampManager() *timestamp.Manager {
	return e.tsm
}

func (e *Engine) TxnManager() *transaction.Manager {
	return e.txns
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// GarbageCollector is nil when garbage collection is disabled.
func (e *Engine) GarbageCollector() *gc.GarbageCollector {
	return e.gc
}

// Close stops the garbage collector after a final reclamation of everything terminated so far. Transactions
// must not be used afterwards.
func (e *Engine) Close() {
	if e.gcThread != nil {
		e.gcThread.Stop()
		e.gcThread = nil
	}
	log.Info("engine closed",
		zap.Int("active-txns", e.tsm.ActiveCount()),
		zap.Int("outstanding-segments", e.pool.Outstanding()))
}
