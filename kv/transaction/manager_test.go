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
	"testing"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOwner struct {
	mu         sync.Mutex
	rolledBack []uint32
}

func (o *recordingOwner) Rollback(h undo.Handle, r *undo.Record) {
	o.mu.Lock()
	o.rolledBack = append(o.rolledBack, r.Slot().Offset)
	o.mu.Unlock()
}

func (o *recordingOwner) Unlink(slot tuple.Slot, watermark timestamp.Timestamp) bool {
	return true
}

func newTestManager(gc bool) *Manager {
	pool := undo.NewSegmentPool(undo.PoolOptions{SegmentSize: 4, Capacity: 16, ReuseLimit: 16})
	return NewManager(timestamp.NewManager(), pool, gc)
}

func writeRecords(t *testing.T, txn *Txn, owner undo.Owner, n int) []*undo.Record {
	var records []*undo.Record
	for i := 0; i < n; i++ {
		_, r, err := txn.Undo().NewRecord()
		require.Nil(t, err)
		r.Init(undo.KindUpdate, owner, tuple.Slot{Offset: uint32(i)}, txn.ID(), undo.NilHandle, nil)
		records = append(records, r)
	}
	return records
}

func TestBeginRegistersActive(t *testing.T) {
	m := newTestManager(true)
	txn1 := m.Begin()
	txn2 := m.Begin()
	assert.True(t, txn2.StartTS() > txn1.StartTS())
	assert.Equal(t, StateActive, txn1.State())
	assert.True(t, txn1.Active())
	assert.True(t, txn1.ID().Uncommitted())
	assert.Equal(t, txn1.StartTS(), txn1.ID().StartTS())
	assert.Equal(t, txn1.StartTS(), m.TimestampManager().OldestActiveTimestamp())
	assert.Equal(t, timestamp.InvalidTimestamp, txn1.FinishTS())
}

func TestCommitStampsEveryRecord(t *testing.T) {
	m := newTestManager(true)
	owner := &recordingOwner{}
	txn := m.Begin()
	records := writeRecords(t, txn, owner, 6)
	for _, r := range records {
		assert.Equal(t, txn.ID(), r.Timestamp())
	}

	var called *Txn
	commitTS, err := m.Commit(txn, func(t *Txn) { called = t })
	require.Nil(t, err)
	assert.Equal(t, txn, called)
	assert.True(t, commitTS > txn.StartTS())
	assert.Equal(t, commitTS, txn.FinishTS())
	assert.Equal(t, StateCommitted, txn.State())
	for _, r := range records {
		assert.Equal(t, commitTS, r.Timestamp())
	}
	assert.Empty(t, owner.rolledBack)
	assert.Equal(t, 0, m.TimestampManager().ActiveCount())

	done := m.CompletedTransactionsForGC()
	assert.Equal(t, []*Txn{txn}, done)
	assert.Empty(t, m.CompletedTransactionsForGC())
}

func TestReadOnlyCommit(t *testing.T) {
	m := newTestManager(true)
	txn := m.Begin()
	commitTS, err := m.Commit(txn, nil)
	require.Nil(t, err)
	assert.Equal(t, txn.StartTS(), commitTS)
	assert.True(t, txn.ReadOnly())
	// Read-only transactions leave nothing for the garbage collector.
	assert.Empty(t, m.CompletedTransactionsForGC())
	assert.Equal(t, 0, m.Pool().Outstanding())
}

func TestAbortRollsBackNewestFirst(t *testing.T) {
	m := newTestManager(true)
	owner := &recordingOwner{}
	txn := m.Begin()
	writeRecords(t, txn, owner, 5)

	abortTS, err := m.Abort(txn)
	require.Nil(t, err)
	assert.Equal(t, []uint32{4, 3, 2, 1, 0}, owner.rolledBack)
	assert.Equal(t, StateAborted, txn.State())
	assert.Equal(t, abortTS, txn.FinishTS())
	assert.Equal(t, 0, m.TimestampManager().ActiveCount())
	assert.Len(t, m.CompletedTransactionsForGC(), 1)
}

func TestTerminatedTransactionsAreImmutable(t *testing.T) {
	m := newTestManager(true)
	txn := m.Begin()
	_, err := m.Commit(txn, nil)
	require.Nil(t, err)

	_, err = m.Commit(txn, nil)
	assert.Equal(t, ErrTxnNotActive, errors.Cause(err))
	_, err = m.Abort(txn)
	assert.Equal(t, ErrTxnNotActive, errors.Cause(err))
	assert.Equal(t, StateCommitted, txn.State())

	txn = m.Begin()
	_, err = m.Abort(txn)
	require.Nil(t, err)
	_, err = m.Commit(txn, nil)
	assert.Equal(t, ErrTxnNotActive, errors.Cause(err))
	assert.Equal(t, StateAborted, txn.State())
}

func TestMustAbortRefusesCommit(t *testing.T) {
	m := newTestManager(true)
	owner := &recordingOwner{}
	txn := m.Begin()
	writeRecords(t, txn, owner, 1)
	txn.SetMustAbort()

	_, err := m.Commit(txn, nil)
	assert.Equal(t, ErrMustAbort, errors.Cause(err))
	assert.True(t, txn.Active())

	_, err = m.Abort(txn)
	require.Nil(t, err)
	assert.Equal(t, []uint32{0}, owner.rolledBack)
}

func TestGCDisabledDropsTransactions(t *testing.T) {
	m := newTestManager(false)
	txn := m.Begin()
	writeRecords(t, txn, &recordingOwner{}, 1)
	_, err := m.Commit(txn, nil)
	require.Nil(t, err)
	assert.False(t, m.GCEnabled())
	assert.Empty(t, m.CompletedTransactionsForGC())
}

func TestRunInTxn(t *testing.T) {
	m := newTestManager(true)
	owner := &recordingOwner{}
	var seen *Txn
	err := m.RunInTxn(func(txn *Txn) error {
		seen = txn
		writeRecords(t, txn, owner, 1)
		return nil
	})
	require.Nil(t, err)
	assert.Equal(t, StateCommitted, seen.State())

	boom := errors.New("boom")
	err = m.RunInTxn(func(txn *Txn) error {
		seen = txn
		writeRecords(t, txn, owner, 2)
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, StateAborted, seen.State())
	assert.Equal(t, []uint32{1, 0}, owner.rolledBack)

	err = m.RunInTxn(func(txn *Txn) error {
		seen = txn
		txn.SetMustAbort()
		return nil
	})
	assert.Equal(t, ErrMustAbort, errors.Cause(err))
	assert.Equal(t, StateAborted, seen.State())
	assert.Equal(t, 0, m.TimestampManager().ActiveCount())
	_, err = m.Abort(seen)
	assert.Equal(t, ErrTxnNotActive, errors.Cause(err))
}

func TestConcurrentBeginCommit(t *testing.T) {
	m := newTestManager(true)
	owner := &recordingOwner{}
	var wg sync.WaitGroup
	commits := make(chan timestamp.Timestamp, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				txn := m.Begin()
				_, r, err := txn.Undo().NewRecord()
				if err != nil {
					m.Abort(txn)
					continue
				}
				r.Init(undo.KindUpdate, owner, tuple.Slot{}, txn.ID(), undo.NilHandle, nil)
				ts, err := m.Commit(txn, nil)
				assert.Nil(t, err)
				commits <- ts
			}
		}()
	}
	wg.Wait()
	close(commits)
	seen := make(map[timestamp.Timestamp]bool)
	for ts := range commits {
		assert.False(t, seen[ts])
		seen[ts] = true
	}
	assert.Equal(t, 0, m.TimestampManager().ActiveCount())
}
