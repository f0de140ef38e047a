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

package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinymvcc/kv/engine"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/table"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/util/codec"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	benchTable   = "bench"
	loadTxnSize  = 50
	colKey       = 0
	colValue     = 1
	benchColumns = 2
)

// Workload is a stream of short OLTP transactions mixing inserts, point updates and point reads over one table.
type Workload struct {
	Threads       int
	TxnsPerThread int
	TxnLength     int
	TableSize     int
	InsertRatio   float64
	UpdateRatio   float64
	SelectRatio   float64
	Seed          int64
	// Target caps the transactions started per second across all threads; 0 means unlimited.
	Target int
}

func (w Workload) Validate() error {
	if w.Threads <= 0 || w.TxnsPerThread <= 0 || w.TxnLength <= 0 {
		return errors.New("threads, txns and txn length must be positive")
	}
	if w.Target < 0 {
		return errors.New("target must not be negative")
	}
	if w.TableSize <= 0 {
		return errors.New("table size must be positive")
	}
	if w.InsertRatio < 0 || w.UpdateRatio < 0 || w.SelectRatio < 0 {
		return errors.New("operation ratios must not be negative")
	}
	if sum := w.InsertRatio + w.UpdateRatio + w.SelectRatio; math.Abs(sum-1) > 1e-6 {
		return errors.Errorf("operation ratios sum to %v, want 1", sum)
	}
	return nil
}

type Result struct {
	Committed int64
	Aborted   int64
	// Updates is the number of committed increments.
	Updates int64
	Elapsed   time.Duration
	// Latencies of committed transactions, in microseconds.
	Latencies []float64
}

func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Committed) / r.Elapsed.Seconds()
}

func (r *Result) AbortRate() float64 {
	total := r.Committed + r.Aborted
	if total == 0 {
		return 0
	}
	return float64(r.Aborted) / float64(total)
}

// Percentile returns the p-th percentile latency of committed transactions.
func (r *Result) Percentile(p float64) time.Duration {
	v, err := stats.Percentile(r.Latencies, p)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Microsecond))
}

func (r *Result) Mean() time.Duration {
	v, err := stats.Mean(r.Latencies)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Microsecond))
}

func (r *Result) String() string {
	return fmt.Sprintf("committed %d, aborted %d (%.2f%%), %.0f txn/s, latency mean %v p50 %v p95 %v p99 %v, takes %v",
		r.Committed, r.Aborted, 100*r.AbortRate(), r.Throughput(),
		r.Mean(), r.Percentile(50), r.Percentile(95), r.Percentile(99), r.Elapsed)
}

// slotSet is the set of rows inserted so far. Workers pick random rows from it.
type slotSet struct {
	mu    sync.RWMutex
	slots []tuple.Slot
}

func (s *slotSet) add(addr tuple.Slot) {
	s.mu.Lock()
	s.slots = append(s.slots, addr)
	s.mu.Unlock()
}

func (s *slotSet) pick(rnd *rand.Rand) tuple.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[rnd.Intn(len(s.slots))]
}

type runner struct {
	w     Workload
	txns  *transaction.Manager
	table *table.DataTable
	slots slotSet
	keys  atomic.Uint64
	// limiter is nil when the workload runs unthrottled.
	limiter *rate.Limiter

	committed atomic.Int64
	aborted   atomic.Int64
	updates   atomic.Int64
}

// Run loads the table and drives the workload against e until every thread finished or ctx is done.
func Run(ctx context.Context, e *engine.Engine, w Workload) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	r := &runner{w: w, txns: e.TxnManager()}
	if w.Target > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(w.Target), 1)
	}
	err := r.txns.RunInTxn(func(txn *transaction.Txn) error {
		var err error
		r.table, err = e.Catalog().CreateTable(txn, benchTable, benchColumns)
		return err
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	log.Info("table loaded", zap.Int("rows", w.TableSize))

	var (
		wg        sync.WaitGroup
		latencies = make([][]float64, w.Threads)
		start     = time.Now()
	)
	for i := 0; i < w.Threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			latencies[i] = r.work(ctx, rand.New(rand.NewSource(w.Seed+int64(i))))
		}(i)
	}
	wg.Wait()

	res := &Result{
		Committed: r.committed.Load(),
		Aborted:   r.aborted.Load(),
		Updates:   r.updates.Load(),
		Elapsed:   time.Since(start),
	}
	if err := r.verify(res.Updates); err != nil {
		return res, err
	}
	for _, l := range latencies {
		res.Latencies = append(res.Latencies, l...)
	}
	return res, nil
}

// verify checks that every committed increment is reflected in the table exactly once.
func (r *runner) verify(updates int64) error {
	txn := r.txns.Begin()
	defer r.txns.Commit(txn, nil)
	var sum int64
	r.table.Scan(txn, func(_ tuple.Slot, row tuple.Row) bool {
		v, _ := row.Get(colValue)
		sum += int64(codec.MustDecodeUint64(v))
		return true
	})
	if sum != updates {
		return errors.Errorf("table holds %d increments, %d were committed", sum, updates)
	}
	return nil
}

func (r *runner) newRow() tuple.Row {
	k := r.keys.Inc()
	return tuple.Row{
		{ID: colKey, Value: codec.EncodeUint64(k)},
		{ID: colValue, Value: codec.EncodeUint64(0)},
	}
}

func (r *runner) load() error {
	for loaded := 0; loaded < r.w.TableSize; {
		n := r.w.TableSize - loaded
		if n > loadTxnSize {
			n = loadTxnSize
		}
		var batch []tuple.Slot
		err := r.txns.RunInTxn(func(txn *transaction.Txn) error {
			for i := 0; i < n; i++ {
				addr, err := r.table.Insert(txn, r.newRow())
				if err != nil {
					return err
				}
				batch = append(batch, addr)
			}
			return nil
		})
		if err != nil {
			return errors.Annotate(err, "load table")
		}
		for _, addr := range batch {
			r.slots.add(addr)
		}
		loaded += n
	}
	return nil
}

func (r *runner) work(ctx context.Context, rnd *rand.Rand) []float64 {
	latencies := make([]float64, 0, r.w.TxnsPerThread)
	for i := 0; i < r.w.TxnsPerThread; i++ {
		if ctx.Err() != nil {
			break
		}
		if r.limiter != nil && r.limiter.Wait(ctx) != nil {
			break
		}
		start := time.Now()
		if r.runTxn(rnd) {
			r.committed.Inc()
			latencies = append(latencies, float64(time.Since(start))/float64(time.Microsecond))
		} else {
			r.aborted.Inc()
		}
	}
	return latencies
}

// runTxn runs one transaction and reports whether it committed.
func (r *runner) runTxn(rnd *rand.Rand) bool {
	var (
		inserted []tuple.Slot
		updates  int64
	)
	err := r.txns.RunInTxn(func(txn *transaction.Txn) error {
		for op := 0; op < r.w.TxnLength; op++ {
			switch x := rnd.Float64(); {
			case x < r.w.InsertRatio:
				addr, err := r.table.Insert(txn, r.newRow())
				if err != nil {
					return err
				}
				inserted = append(inserted, addr)
			case x < r.w.InsertRatio+r.w.UpdateRatio:
				addr := r.slots.pick(rnd)
				row, ok := r.table.Select(txn, addr)
				if !ok {
					continue
				}
				v, _ := row.Get(colValue)
				delta := tuple.Row{{ID: colValue, Value: codec.EncodeUint64(codec.MustDecodeUint64(v) + 1)}}
				if err := r.table.Update(txn, addr, delta); err != nil {
					return err
				}
				updates++
			default:
				r.table.Select(txn, r.slots.pick(rnd))
			}
		}
		return nil
	})
	if err != nil {
		return false
	}
	r.updates.Add(updates)
	for _, addr := range inserted {
		r.slots.add(addr)
	}
	return true
}
