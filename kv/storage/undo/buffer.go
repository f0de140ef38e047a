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

import "github.com/pingcap/errors"

// Buffer is a transaction's private, ordered log of the undo records it created. Segments are taken from the pool
// only when the first record is needed, so read-only transactions never touch the pool.
type Buffer struct {
	pool     *SegmentPool
	segments []*Segment
	handles  []Handle
}

// NewBuffer creates an empty buffer drawing from pool.
func NewBuffer(pool *SegmentPool) *Buffer {
	return &Buffer{pool: pool}
}

// NewRecord carves a record from the buffer's current segment, checking out a new segment if necessary. The
// record is appended to the log; the caller must Init it before publishing its handle.
func (b *Buffer) NewRecord() (Handle, *Record, error) {
	if n := len(b.segments); n == 0 || b.segments[n-1].full() {
		s, err := b.pool.Allocate()
		if err != nil {
			return NilHandle, nil, errors.Trace(err)
		}
		b.segments = append(b.segments, s)
	}
	h, r := b.segments[len(b.segments)-1].alloc()
	b.handles = append(b.handles, h)
	return h, r, nil
}

// Discard forgets the most recently created record, which must not have been published. Its space is not reused.
func (b *Buffer) Discard(h Handle) {
	if n := len(b.handles); n > 0 && b.handles[n-1] == h {
		b.pool.Get(h).reset()
		b.handles = b.handles[:n-1]
	}
}

// Empty reports whether the transaction wrote anything.
func (b *Buffer) Empty() bool {
	return len(b.handles) == 0
}

// Len is the number of records in the log.
func (b *Buffer) Len() int {
	return len(b.handles)
}

// Segments is the number of segments the buffer holds.
func (b *Buffer) Segments() int {
	return len(b.segments)
}

// ForEach visits the log oldest first.
func (b *Buffer) ForEach(f func(h Handle, r *Record)) {
	for _, h := range b.handles {
		f(h, b.pool.Get(h))
	}
}

// ForEachReverse visits the log newest first.
func (b *Buffer) ForEachReverse(f func(h Handle, r *Record)) {
	for i := len(b.handles) - 1; i >= 0; i-- {
		h := b.handles[i]
		f(h, b.pool.Get(h))
	}
}

// Release hands every segment back to the pool. It must only be called once no reader can reach the records.
func (b *Buffer) Release() {
	for _, s := range b.segments {
		b.pool.Release(s)
	}
	b.segments = nil
	b.handles = nil
}
