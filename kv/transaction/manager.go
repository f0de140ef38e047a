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

package transaction

import (
	"sync"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
)

var (
	// ErrTxnNotActive is returned when Commit or Abort is called on a transaction that already terminated.
	ErrTxnNotActive = errors.New("transaction is not active")
	// ErrMustAbort is returned by Commit for a transaction that saw a write conflict or pool exhaustion.
	ErrMustAbort = errors.New("transaction must abort")
)

// CommitCallback is invoked once a commit has been published.
type CommitCallback func(txn *Txn)

// Manager runs the begin/commit/abort protocol. It is the only writer of commit and abort timestamps and the
// hand-off point of terminated transactions to the garbage collector.
type Manager struct {
	tsm       *timestamp.Manager
	pool      *undo.SegmentPool
	gcEnabled bool

	commitLatch sync.RWMutex

	completedGuard sync.Mutex
	completed      []*Txn
}

// NewManager creates a Manager. With gcEnabled false terminated transactions are dropped instead of queued, which
// means their undo segments are never returned to the pool.
func NewManager(tsm *timestamp.Manager, pool *undo.SegmentPool, gcEnabled bool) *Manager {
	return &Manager{
		tsm:       tsm,
		pool:      pool,
		gcEnabled: gcEnabled,
	}
}

// TimestampManager returns the timestamp source shared with the garbage collector.
func (m *Manager) TimestampManager() *timestamp.Manager {
	return m.tsm
}

// Pool returns the segment pool backing undo records.
func (m *Manager) Pool() *undo.SegmentPool {
	return m.pool
}

// GCEnabled reports whether terminated transactions are queued for the garbage collector.
func (m *Manager) GCEnabled() bool {
	return m.gcEnabled
}

// Begin starts a transaction reading the snapshot at a fresh start timestamp.
func (m *Manager) Begin() *Txn {
	m.commitLatch.Lock()
	start := m.tsm.BeginTransaction()
	m.commitLatch.Unlock()
	txnCounter.WithLabelValues("begin").Inc()
	return newTxn(start, m.pool)
}

// Commit publishes every write of txn under one commit timestamp and terminates it. callback may be nil. A
// transaction flagged with SetMustAbort is left active and ErrMustAbort is returned; the caller has to Abort it.
func (m *Manager) Commit(txn *Txn, callback CommitCallback) (timestamp.Timestamp, error) {
	if txn.MustAbort() {
		return timestamp.InvalidTimestamp, errors.Trace(ErrMustAbort)
	}
	if !txn.state.CAS(int32(StateActive), int32(StateCommitting)) {
		return timestamp.InvalidTimestamp, errors.Annotatef(ErrTxnNotActive, "commit %v", txn)
	}

	var commitTS timestamp.Timestamp
	if txn.ReadOnly() {
		// Nothing to publish, and nothing for the garbage collector to do.
		commitTS = txn.startTS
	} else {
		m.commitLatch.RLock()
		commitTS = m.tsm.CheckoutTimestamp()
		txn.undo.ForEach(func(_ undo.Handle, r *undo.Record) {
			r.SetTimestamp(commitTS)
		})
		m.commitLatch.RUnlock()
	}

	m.tsm.Deregister(txn.startTS)
	txn.finishTS.Store(uint64(commitTS))
	txn.state.Store(int32(StateCommitted))
	txnCounter.WithLabelValues("commit").Inc()

	if callback != nil {
		callback(txn)
	}
	m.complete(txn)
	return commitTS, nil
}

// Abort rolls back every write of txn, newest first, and terminates it.
func (m *Manager) Abort(txn *Txn) (timestamp.Timestamp, error) {
	if !txn.state.CAS(int32(StateActive), int32(StateAborting)) {
		return timestamp.InvalidTimestamp, errors.Annotatef(ErrTxnNotActive, "abort %v", txn)
	}

	txn.undo.ForEachReverse(func(h undo.Handle, r *undo.Record) {
		r.Owner().Rollback(h, r)
	})
	abortTS := m.tsm.CheckoutTimestamp()

	m.tsm.Deregister(txn.startTS)
	txn.finishTS.Store(uint64(abortTS))
	txn.state.Store(int32(StateAborted))
	txnCounter.WithLabelValues("abort").Inc()

	m.complete(txn)
	return abortTS, nil
}

func (m *Manager) complete(txn *Txn) {
	if txn.ReadOnly() {
		// A failed write may have checked out a segment without publishing anything in it.
		txn.undo.Release()
		return
	}
	if !m.gcEnabled {
		return
	}
	m.completedGuard.Lock()
	m.completed = append(m.completed, txn)
	m.completedGuard.Unlock()
}

// CompletedTransactionsForGC hands every transaction terminated since the previous call to the caller, which takes
// ownership of them.
func (m *Manager) CompletedTransactionsForGC() []*Txn {
	m.completedGuard.Lock()
	txns := m.completed
	m.completed = nil
	m.completedGuard.Unlock()
	return txns
}

// RunInTxn runs f inside a new transaction, committing if f returns nil and aborting otherwise.
func (m *Manager) RunInTxn(f func(txn *Txn) error) error {
	txn := m.Begin()
	if err := f(txn); err != nil {
		if _, abortErr := m.Abort(txn); abortErr != nil {
			return errors.Trace(abortErr)
		}
		return err
	}
	if _, err := m.Commit(txn, nil); err != nil {
		if errors.Cause(err) == ErrMustAbort {
			if _, abortErr := m.Abort(txn); abortErr != nil {
				return errors.Trace(abortErr)
			}
		}
		return err
	}
	return nil
}
