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

package undo

import (
	"fmt"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"go.uber.org/atomic"
)

// Kind tells a reader how to undo a record.
type Kind uint8

const (
	// KindInsert undoes to "the row does not exist".
	KindInsert Kind = 1
	// KindUpdate undoes by writing the stored before-image back over the changed columns.
	KindUpdate Kind = 2
	// KindDelete undoes to "the row exists" with its current column values.
	KindDelete Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Handle is the stable address of a Record inside a SegmentPool: the segment id in the high word (offset by one)
// and the position in the segment in the low word. The zero Handle is the end of a version chain.
type Handle uint64

// NilHandle terminates a version chain.
const NilHandle Handle = 0

func makeHandle(segment, offset uint32) Handle {
	return Handle(uint64(segment+1)<<32 | uint64(offset))
}

func (h Handle) segment() uint32 {
	return uint32(h>>32) - 1
}

func (h Handle) offset() uint32 {
	return uint32(h)
}

func (h Handle) String() string {
	if h == NilHandle {
		return "nil"
	}
	return fmt.Sprintf("%d/%d", h.segment(), h.offset())
}

// Owner is the table a record's version chain is anchored in.
type Owner interface {
	// Rollback writes r's before-image back into its slot and removes r from the head of the slot's version chain.
	// r must be the head and must be owned by the calling transaction.
	Rollback(h Handle, r *Record)
	// Unlink truncates the version chain of slot so that no record committed before watermark remains reachable.
	// It returns false if the chain could not be truncated yet and the caller should try again in a later pass.
	Unlink(slot tuple.Slot, watermark timestamp.Timestamp) bool
}

// Record is one entry of a version chain. Only timestamp and next are mutated after the record is published: the
// owning transaction stamps timestamp at commit, and the garbage collector clears next when it truncates a chain.
type Record struct {
	timestamp atomic.Uint64
	next      atomic.Uint64

	kind  Kind
	slot  tuple.Slot
	owner Owner
	delta tuple.Row
}

// Init fills a freshly allocated record. It must be called before the record's handle is published.
func (r *Record) Init(kind Kind, owner Owner, slot tuple.Slot, txnID timestamp.Timestamp, next Handle, delta tuple.Row) {
	r.kind = kind
	r.owner = owner
	r.slot = slot
	r.delta = delta
	r.timestamp.Store(uint64(txnID))
	r.next.Store(uint64(next))
}

// Timestamp is either the owning transaction's identifier or, once committed, the commit timestamp.
func (r *Record) Timestamp() timestamp.Timestamp {
	return timestamp.Timestamp(r.timestamp.Load())
}

// SetTimestamp publishes a commit timestamp.
func (r *Record) SetTimestamp(ts timestamp.Timestamp) {
	r.timestamp.Store(uint64(ts))
}

// Next is the handle of the next older record for the same slot.
func (r *Record) Next() Handle {
	return Handle(r.next.Load())
}

// SetNext is called by the garbage collector to cut the older part of a chain off.
func (r *Record) SetNext(h Handle) {
	r.next.Store(uint64(h))
}

func (r *Record) Kind() Kind {
	return r.kind
}

func (r *Record) Slot() tuple.Slot {
	return r.slot
}

func (r *Record) Owner() Owner {
	return r.owner
}

// Delta is the before-image of the columns the write changed. It is empty for inserts and deletes.
func (r *Record) Delta() tuple.Row {
	return r.delta
}

func (r *Record) reset() {
	r.kind = 0
	r.owner = nil
	r.slot = tuple.Slot{}
	r.delta = nil
	r.timestamp.Store(0)
	r.next.Store(0)
}
