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

package table

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
	uatomic "go.uber.org/atomic"
)

var (
	// ErrWriteConflict is returned when another transaction owns the tuple, or committed a newer version of it
	// than the writer's snapshot. The writer must abort.
	ErrWriteConflict = errors.New("write conflict")
	// ErrNotVisible is what catalog style lookups return for a tuple that does not exist in the snapshot.
	ErrNotVisible = errors.New("tuple not visible")
	// ErrInvalidSlot marks a slot that was never handed out by the table. It is raised as a panic.
	ErrInvalidSlot = errors.New("invalid tuple slot")
	// ErrInvalidColumn is returned for a row naming a column outside of the table's schema.
	ErrInvalidColumn = errors.New("column out of range")
)

// version is what a slot stores in place: the newest record of the slot's version chain together with the values
// of the most recent write, committed or not. Versions are immutable; every write publishes a new one, so a reader
// always sees a head and the values written under it as one pair.
type version struct {
	head    undo.Handle
	values  tuple.Image
	deleted bool
}

type slot struct {
	// current points to the slot's version. Swapping it is how a writer takes ownership of the tuple.
	current unsafe.Pointer
}

func (s *slot) load() *version {
	return (*version)(atomic.LoadPointer(&s.current))
}

func (s *slot) store(v *version) {
	atomic.StorePointer(&s.current, unsafe.Pointer(v))
}

func (s *slot) cas(old, next *version) bool {
	return atomic.CompareAndSwapPointer(&s.current, unsafe.Pointer(old), unsafe.Pointer(next))
}

type block struct {
	slots []slot
	// claimed counts offsets handed out; it may overshoot len(slots).
	claimed uatomic.Uint32
}

func (b *block) used() int {
	n := int(b.claimed.Load())
	if n > len(b.slots) {
		return len(b.slots)
	}
	return n
}

// DataTable is a version store: tuples are updated in place and every write pushes the before-image onto the
// tuple's version chain, so that older snapshots can reconstruct what they are supposed to see.
type DataTable struct {
	id         uint32
	numColumns int
	blockSize  int
	pool       *undo.SegmentPool

	growGuard sync.Mutex
	// blocks points to a []*block that is replaced, never modified, when the table grows.
	blocks unsafe.Pointer
}

// NewDataTable creates an empty table whose undo records are resolved through pool.
func NewDataTable(id uint32, numColumns int, blockSize int, pool *undo.SegmentPool) *DataTable {
	if numColumns <= 0 || blockSize <= 0 {
		panic("table needs a positive number of columns and block size")
	}
	empty := make([]*block, 0)
	return &DataTable{
		id:         id,
		numColumns: numColumns,
		blockSize:  blockSize,
		pool:       pool,
		blocks:     unsafe.Pointer(&empty),
	}
}

// ID is the table's identifier, the Table part of its slots.
func (t *DataTable) ID() uint32 {
	return t.id
}

// NumColumns is the width of the table's rows.
func (t *DataTable) NumColumns() int {
	return t.numColumns
}

func (t *DataTable) loadBlocks() []*block {
	return *(*[]*block)(atomic.LoadPointer(&t.blocks))
}

func (t *DataTable) allocateSlot() (tuple.Slot, *slot) {
	for {
		blocks := t.loadBlocks()
		if n := len(blocks); n > 0 {
			b := blocks[n-1]
			if offset := int(b.claimed.Inc()) - 1; offset < t.blockSize {
				return tuple.Slot{Table: t.id, Block: uint32(n - 1), Offset: uint32(offset)}, &b.slots[offset]
			}
		}
		t.grow(len(blocks))
	}
}

func (t *DataTable) grow(seen int) {
	t.growGuard.Lock()
	defer t.growGuard.Unlock()
	blocks := t.loadBlocks()
	if len(blocks) != seen {
		// Someone else grew the table already.
		return
	}
	next := make([]*block, len(blocks), len(blocks)+1)
	copy(next, blocks)
	next = append(next, &block{slots: make([]slot, t.blockSize)})
	atomic.StorePointer(&t.blocks, unsafe.Pointer(&next))
}

func (t *DataTable) lookup(addr tuple.Slot) *slot {
	blocks := t.loadBlocks()
	if addr.Table != t.id || int(addr.Block) >= len(blocks) || int(addr.Offset) >= blocks[addr.Block].used() {
		panic(errors.Annotatef(ErrInvalidSlot, "table %d, slot %v", t.id, addr))
	}
	return &blocks[addr.Block].slots[addr.Offset]
}

func (t *DataTable) checkColumns(row tuple.Row) error {
	for _, c := range row {
		if int(c.ID) >= t.numColumns {
			return errors.Annotatef(ErrInvalidColumn, "column %d of table %d with %d columns", c.ID, t.id, t.numColumns)
		}
	}
	return nil
}

// Insert writes a new tuple. It stays invisible to every other transaction until txn commits. Columns row does not
// cover are NULL.
func (t *DataTable) Insert(txn *transaction.Txn, row tuple.Row) (tuple.Slot, error) {
	if err := t.checkColumns(row); err != nil {
		return tuple.Slot{}, err
	}
	h, r, err := txn.Undo().NewRecord()
	if err != nil {
		txn.SetMustAbort()
		return tuple.Slot{}, errors.Trace(err)
	}
	addr, s := t.allocateSlot()
	r.Init(undo.KindInsert, t, addr, txn.ID(), undo.NilHandle, nil)
	s.store(&version{head: h, values: make(tuple.Image, t.numColumns).With(row.Clone())})
	return addr, nil
}

// Select reconstructs the version of the tuple visible to txn. It returns false if the tuple did not exist in
// txn's snapshot, or was deleted in it.
func (t *DataTable) Select(txn *transaction.Txn, addr tuple.Slot) (tuple.Row, bool) {
	v := t.lookup(addr).load()
	if v == nil {
		panic(errors.Annotatef(ErrInvalidSlot, "table %d, slot %v is not initialized", t.id, addr))
	}
	return t.reconstruct(txn, v)
}

func (t *DataTable) reconstruct(txn *transaction.Txn, v *version) (tuple.Row, bool) {
	h, values, deleted := v.head, v.values, v.deleted
	for h != undo.NilHandle {
		r := t.pool.Get(h)
		ts := r.Timestamp()
		if ts == txn.ID() || (!ts.Uncommitted() && ts <= txn.StartTS()) {
			break
		}
		switch r.Kind() {
		case undo.KindInsert:
			return nil, false
		case undo.KindUpdate:
			values = values.With(r.Delta())
		case undo.KindDelete:
			deleted = false
		}
		h = r.Next()
	}
	if deleted {
		return nil, false
	}
	return values.Row(), true
}

// Get is Select reporting absence as ErrNotVisible.
func (t *DataTable) Get(txn *transaction.Txn, addr tuple.Slot) (tuple.Row, error) {
	row, ok := t.Select(txn, addr)
	if !ok {
		return nil, errors.Annotatef(ErrNotVisible, "slot %v at %v", addr, txn.StartTS())
	}
	return row, nil
}

// Scan calls f for every tuple visible to txn, in slot order, until f returns false.
func (t *DataTable) Scan(txn *transaction.Txn, f func(addr tuple.Slot, row tuple.Row) bool) {
	for bi, b := range t.loadBlocks() {
		for off, n := 0, b.used(); off < n; off++ {
			v := b.slots[off].load()
			if v == nil {
				// Claimed by an insert that has not published yet.
				continue
			}
			if row, ok := t.reconstruct(txn, v); ok {
				if !f(tuple.Slot{Table: t.id, Block: uint32(bi), Offset: uint32(off)}, row) {
					return
				}
			}
		}
	}
}

// Update overwrites the columns delta covers. The previous values go to the version chain so that older snapshots
// still see them.
func (t *DataTable) Update(txn *transaction.Txn, addr tuple.Slot, delta tuple.Row) error {
	if err := t.checkColumns(delta); err != nil {
		return err
	}
	delta = delta.Clone()
	return t.write(txn, addr, undo.KindUpdate, func(v *version) (tuple.Image, bool, tuple.Row) {
		return v.values.With(delta), false, v.values.Project(delta)
	})
}

// Delete marks the tuple deleted. Snapshots taken after txn commits no longer see it.
func (t *DataTable) Delete(txn *transaction.Txn, addr tuple.Slot) error {
	return t.write(txn, addr, undo.KindDelete, func(v *version) (tuple.Image, bool, tuple.Row) {
		return v.values, true, nil
	})
}

// write takes ownership of the tuple by swapping its version for one headed by a new record owned by txn. The swap
// is the only arbitration between writers.
func (t *DataTable) write(txn *transaction.Txn, addr tuple.Slot, kind undo.Kind, apply func(*version) (tuple.Image, bool, tuple.Row)) error {
	s := t.lookup(addr)
	h, r, err := txn.Undo().NewRecord()
	if err != nil {
		txn.SetMustAbort()
		return errors.Trace(err)
	}
	for {
		cur := s.load()
		if cur == nil || t.hasConflict(txn, cur.head) || cur.deleted {
			txn.Undo().Discard(h)
			txn.SetMustAbort()
			writeConflictCounter.Inc()
			return errors.Annotatef(ErrWriteConflict, "slot %v, txn %v", addr, txn.StartTS())
		}
		values, deleted, before := apply(cur)
		r.Init(kind, t, addr, txn.ID(), cur.head, before)
		if s.cas(cur, &version{head: h, values: values, deleted: deleted}) {
			return nil
		}
		// The version changed. If another writer took it the next round reports the conflict; if the garbage
		// collector merely truncated the chain we try again.
	}
}

func (t *DataTable) hasConflict(txn *transaction.Txn, head undo.Handle) bool {
	if head == undo.NilHandle {
		return false
	}
	ts := t.pool.Get(head).Timestamp()
	if ts == txn.ID() {
		return false
	}
	if ts.Uncommitted() {
		return true
	}
	return ts > txn.StartTS()
}

// Rollback implements undo.Owner.
func (t *DataTable) Rollback(h undo.Handle, r *undo.Record) {
	s := t.lookup(r.Slot())
	cur := s.load()
	if cur == nil || cur.head != h {
		panic(errors.Errorf("rollback of %v on slot %v which does not head the version chain", h, r.Slot()))
	}
	restored := &version{head: r.Next(), values: cur.values, deleted: cur.deleted}
	switch r.Kind() {
	case undo.KindInsert:
		restored.deleted = true
	case undo.KindUpdate:
		restored.values = cur.values.With(r.Delta())
	case undo.KindDelete:
		restored.deleted = false
	}
	if !s.cas(cur, restored) {
		panic(errors.Errorf("version of slot %v changed under its owner %v", r.Slot(), h))
	}
}

// Unlink implements undo.Owner. Every record committed before watermark is either the first such record on the
// chain or older than it; in both cases no current or future snapshot needs it, because the in-place image already
// reflects it.
func (t *DataTable) Unlink(addr tuple.Slot, watermark timestamp.Timestamp) bool {
	s := t.lookup(addr)
	for {
		cur := s.load()
		if cur == nil || cur.head == undo.NilHandle {
			return true
		}
		r := t.pool.Get(cur.head)
		if ts := r.Timestamp(); !ts.Uncommitted() && ts < watermark {
			if s.cas(cur, &version{values: cur.values, deleted: cur.deleted}) {
				return true
			}
			continue
		}
		uncommittedHead := r.Timestamp().Uncommitted()
		prev := r
		for next := prev.Next(); next != undo.NilHandle; next = prev.Next() {
			n := t.pool.Get(next)
			if ts := n.Timestamp(); !ts.Uncommitted() && ts < watermark {
				if prev == r && uncommittedHead {
					// The head's owner may roll back onto n at any moment.
					return false
				}
				prev.SetNext(undo.NilHandle)
				return true
			}
			prev = n
		}
		return true
	}
}

var _ undo.Owner = (*DataTable)(nil)
