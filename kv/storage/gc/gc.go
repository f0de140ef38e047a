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

	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// GarbageCollector reclaims the undo records of terminated transactions in two steps. A transaction is first
// unlinked: its records are cut out of every version chain once no running snapshot can need them. Its segments are
// only handed back to the pool on a later pass, after every transaction that was running during the unlink has
// finished, since such a transaction may still be walking the records it reached before they were cut out.
type GarbageCollector struct {
	txns *transaction.Manager
	tsm  *timestamp.Manager

	// mu serializes passes.
	mu sync.Mutex
	// lastUnlinked is checked out after the most recent unlink step; records unlinked before it are unreachable
	// once the watermark passes it.
	lastUnlinked timestamp.Timestamp
	unlinkQueue  []*transaction.Txn
	deallocQueue []*transaction.Txn
}

// NewGarbageCollector creates a collector for the transactions txns terminates.
func NewGarbageCollector(txns *transaction.Manager) *GarbageCollector {
	return &GarbageCollector{
		txns: txns,
		tsm:  txns.TimestampManager(),
	}
}

// PerformGarbageCollection runs one pass and returns how many transactions it deallocated and unlinked.
func (gc *GarbageCollector) PerformGarbageCollection() (deallocated, unlinked int) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	deallocated = gc.processDeallocateQueue()
	unlinked = gc.processUnlinkQueue()
	gcDuration.Observe(time.Since(start).Seconds())
	gcTxnCounter.WithLabelValues("deallocated").Add(float64(deallocated))
	gcTxnCounter.WithLabelValues("unlinked").Add(float64(unlinked))
	if deallocated > 0 || unlinked > 0 {
		log.Debug("garbage collection pass",
			zap.Int("deallocated", deallocated),
			zap.Int("unlinked", unlinked),
			zap.Int("pending", len(gc.unlinkQueue)+len(gc.deallocQueue)),
			zap.Duration("cost", time.Since(start)))
	}
	return deallocated, unlinked
}

// Pending is the number of terminated transactions the collector holds but has not deallocated yet.
func (gc *GarbageCollector) Pending() int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return len(gc.unlinkQueue) + len(gc.deallocQueue)
}

func (gc *GarbageCollector) processDeallocateQueue() int {
	if len(gc.deallocQueue) == 0 || gc.tsm.OldestActiveTimestamp() <= gc.lastUnlinked {
		return 0
	}
	n := len(gc.deallocQueue)
	for _, txn := range gc.deallocQueue {
		txn.Undo().Release()
	}
	gc.deallocQueue = nil
	return n
}

func (gc *GarbageCollector) processUnlinkQueue() int {
	watermark := gc.tsm.OldestActiveTimestamp()
	gc.unlinkQueue = append(gc.unlinkQueue, gc.txns.CompletedTransactionsForGC()...)

	unlinked := 0
	remaining := gc.unlinkQueue[:0]
	for _, txn := range gc.unlinkQueue {
		if gc.unlink(txn, watermark) {
			gc.deallocQueue = append(gc.deallocQueue, txn)
			unlinked++
		} else {
			remaining = append(remaining, txn)
		}
	}
	for i := len(remaining); i < len(gc.unlinkQueue); i++ {
		gc.unlinkQueue[i] = nil
	}
	gc.unlinkQueue = remaining

	if unlinked > 0 {
		gc.lastUnlinked = gc.tsm.CheckoutTimestamp()
	}
	return unlinked
}

// unlink reports whether none of txn's records is reachable from a version chain anymore.
func (gc *GarbageCollector) unlink(txn *transaction.Txn, watermark timestamp.Timestamp) bool {
	if txn.State() == transaction.StateAborted {
		// Rollback already took the records off their chains.
		return true
	}
	if txn.FinishTS() >= watermark {
		return false
	}
	done := true
	txn.Undo().ForEach(func(_ undo.Handle, r *undo.Record) {
		if !r.Owner().Unlink(r.Slot(), watermark) {
			done = false
		}
	})
	return done
}
