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

package timestamp

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.uber.org/atomic"
)

// Timestamp is a logical point in time issued by a Manager. Start timestamps and commit timestamps come from the same
// counter, so they are totally ordered.
type Timestamp uint64

const (
	// InvalidTimestamp is never issued by a Manager.
	InvalidTimestamp Timestamp = 0

	// The most significant bit tags a transaction identifier, i.e. a start timestamp used as the owner of versions
	// that are not committed yet. Issued timestamps must never reach it.
	uncommittedBit Timestamp = 1 << 63
)

// TxnID returns the uncommitted-writer identifier derived from a start timestamp.
func (ts Timestamp) TxnID() Timestamp {
	return ts | uncommittedBit
}

// Uncommitted reports whether ts is a transaction identifier rather than a commit timestamp.
func (ts Timestamp) Uncommitted() bool {
	return ts&uncommittedBit != 0
}

// StartTS strips the uncommitted tag from a transaction identifier.
func (ts Timestamp) StartTS() Timestamp {
	return ts &^ uncommittedBit
}

func (ts Timestamp) String() string {
	if ts.Uncommitted() {
		return fmt.Sprintf("txn(%d)", uint64(ts.StartTS()))
	}
	return fmt.Sprintf("%d", uint64(ts))
}

type activeItem Timestamp

func (a activeItem) Less(than btree.Item) bool {
	return a < than.(activeItem)
}

// Manager issues monotonically increasing timestamps and tracks the start timestamps of running transactions so
// that the garbage collector can compute a reclamation watermark.
type Manager struct {
	time atomic.Uint64

	// activeGuard protects active. It is only held for a single tree operation.
	activeGuard sync.Mutex
	active      *btree.BTree
}

// NewManager creates a Manager whose first issued timestamp is 1.
func NewManager() *Manager {
	m := &Manager{active: btree.New(8)}
	m.time.Store(1)
	return m
}

// CheckoutTimestamp atomically issues a fresh timestamp. It panics if the counter would overflow into the tag bit,
// since every version stamp in the system would become ambiguous.
func (m *Manager) CheckoutTimestamp() Timestamp {
	ts := Timestamp(m.time.Inc() - 1)
	if ts&uncommittedBit != 0 {
		panic("timestamp counter overflowed")
	}
	return ts
}

// CurrentTime returns the timestamp the next checkout will issue. Every timestamp issued so far is smaller.
func (m *Manager) CurrentTime() Timestamp {
	return Timestamp(m.time.Load())
}

// BeginTransaction checks out a start timestamp and registers it as active in one step. A start timestamp that is
// issued but not yet registered would be invisible to OldestActiveTimestamp, so the two must not be separated.
func (m *Manager) BeginTransaction() Timestamp {
	m.activeGuard.Lock()
	ts := m.CheckoutTimestamp()
	m.active.ReplaceOrInsert(activeItem(ts))
	m.activeGuard.Unlock()
	return ts
}

// RegisterActive marks ts as belonging to a running transaction.
func (m *Manager) RegisterActive(ts Timestamp) {
	m.activeGuard.Lock()
	m.active.ReplaceOrInsert(activeItem(ts))
	m.activeGuard.Unlock()
}

// Deregister removes ts from the running set. It returns false if ts was not registered.
func (m *Manager) Deregister(ts Timestamp) bool {
	m.activeGuard.Lock()
	removed := m.active.Delete(activeItem(ts))
	m.activeGuard.Unlock()
	return removed != nil
}

// OldestActiveTimestamp returns the smallest registered start timestamp, or the current time if no transaction is
// running. Any transaction that begins afterwards gets a start timestamp at least as large.
func (m *Manager) OldestActiveTimestamp() Timestamp {
	m.activeGuard.Lock()
	defer m.activeGuard.Unlock()
	if min := m.active.Min(); min != nil {
		return Timestamp(min.(activeItem))
	}
	return m.CurrentTime()
}

// ActiveCount returns the number of registered transactions.
func (m *Manager) ActiveCount() int {
	m.activeGuard.Lock()
	defer m.activeGuard.Unlock()
	return m.active.Len()
}
