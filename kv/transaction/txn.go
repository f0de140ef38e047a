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
	"fmt"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"go.uber.org/atomic"
)

// State is the position of a transaction in its life cycle.
type State int32

const (
	StateActive State = iota
	StateCommitting
	StateCommitted
	StateAborting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Txn is the per-transaction context: the snapshot it reads, the undo log of what it wrote, and, once it has
// terminated, the timestamp at which it did.
type Txn struct {
	startTS timestamp.Timestamp
	id      timestamp.Timestamp

	state     atomic.Int32
	finishTS  atomic.Uint64
	mustAbort atomic.Bool

	undo *undo.Buffer
}

func newTxn(startTS timestamp.Timestamp, pool *undo.SegmentPool) *Txn {
	return &Txn{
		startTS: startTS,
		id:      startTS.TxnID(),
		undo:    undo.NewBuffer(pool),
	}
}

// StartTS is the snapshot the transaction reads.
func (txn *Txn) StartTS() timestamp.Timestamp {
	return txn.startTS
}

// ID is the identifier stamped into records the transaction has not committed yet.
func (txn *Txn) ID() timestamp.Timestamp {
	return txn.id
}

// FinishTS is the commit or abort timestamp, or InvalidTimestamp while the transaction runs.
func (txn *Txn) FinishTS() timestamp.Timestamp {
	return timestamp.Timestamp(txn.finishTS.Load())
}

func (txn *Txn) State() State {
	return State(txn.state.Load())
}

// Active reports whether the transaction may still read and write.
func (txn *Txn) Active() bool {
	return txn.State() == StateActive
}

// Undo is the transaction's private undo log. Only the owning goroutine may append to it.
func (txn *Txn) Undo() *undo.Buffer {
	return txn.undo
}

// SetMustAbort records that an operation failed in a way that forbids committing.
func (txn *Txn) SetMustAbort() {
	txn.mustAbort.Store(true)
}

// MustAbort reports whether Commit will refuse the transaction.
func (txn *Txn) MustAbort() bool {
	return txn.mustAbort.Load()
}

// ReadOnly reports whether the transaction has not written anything.
func (txn *Txn) ReadOnly() bool {
	return txn.undo.Empty()
}

func (txn *Txn) String() string {
	return fmt.Sprintf("txn{start: %v, state: %v, finish: %v, records: %d}", txn.startTS, txn.State(), txn.FinishTS(), txn.undo.Len())
}
