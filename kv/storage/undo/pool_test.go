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
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(size, capacity, reuse int) *SegmentPool {
	return NewSegmentPool(PoolOptions{SegmentSize: size, Capacity: capacity, ReuseLimit: reuse})
}

func TestHandleEncoding(t *testing.T) {
	h := makeHandle(0, 0)
	assert.NotEqual(t, NilHandle, h)
	assert.Equal(t, uint32(0), h.segment())
	assert.Equal(t, uint32(0), h.offset())

	h = makeHandle(7, 1234)
	assert.Equal(t, uint32(7), h.segment())
	assert.Equal(t, uint32(1234), h.offset())
	assert.Equal(t, "7/1234", h.String())
	assert.Equal(t, "nil", NilHandle.String())
}

func TestAllocateUntilExhausted(t *testing.T) {
	p := newTestPool(4, 2, 2)
	s1, err := p.Allocate()
	require.Nil(t, err)
	s2, err := p.Allocate()
	require.Nil(t, err)
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, 2, p.Outstanding())

	_, err = p.Allocate()
	assert.Equal(t, ErrBufferExhausted, errors.Cause(err))

	p.Release(s1)
	assert.Equal(t, 1, p.Outstanding())
	assert.Equal(t, 1, p.Retained())
	s3, err := p.Allocate()
	require.Nil(t, err)
	// The released segment is reused.
	assert.Equal(t, s1.ID(), s3.ID())
	assert.Equal(t, 0, s3.Len())
}

func TestReuseLimitDropsSurplus(t *testing.T) {
	p := newTestPool(4, 3, 1)
	var segs []*Segment
	for i := 0; i < 3; i++ {
		s, err := p.Allocate()
		require.Nil(t, err)
		segs = append(segs, s)
	}
	for _, s := range segs {
		p.Release(s)
	}
	assert.Equal(t, 0, p.Outstanding())
	assert.Equal(t, 1, p.Retained())

	// Dropped segments are rebuilt on demand, so the full capacity is still available.
	for i := 0; i < 3; i++ {
		s, err := p.Allocate()
		require.Nil(t, err)
		assert.Equal(t, 4, s.Cap())
	}
}

func TestWaitPolicy(t *testing.T) {
	p := NewSegmentPool(PoolOptions{SegmentSize: 1, Capacity: 1, ReuseLimit: 1, Policy: Wait, WaitTimeout: 20 * time.Millisecond})
	s, err := p.Allocate()
	require.Nil(t, err)

	// Times out while nothing is released.
	start := time.Now()
	_, err = p.Allocate()
	assert.Equal(t, ErrBufferExhausted, errors.Cause(err))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)

	// Wakes up once a segment comes back.
	p = NewSegmentPool(PoolOptions{SegmentSize: 1, Capacity: 1, ReuseLimit: 1, Policy: Wait})
	s, err = p.Allocate()
	require.Nil(t, err)
	done := make(chan *Segment)
	go func() {
		got, err := p.Allocate()
		assert.Nil(t, err)
		done <- got
	}()
	time.Sleep(10 * time.Millisecond)
	p.Release(s)
	got := <-done
	assert.Equal(t, s.ID(), got.ID())
}

func TestBufferSpansSegments(t *testing.T) {
	p := newTestPool(2, 4, 4)
	b := NewBuffer(p)
	assert.True(t, b.Empty())
	assert.Equal(t, 0, p.Outstanding())

	var handles []Handle
	for i := 0; i < 5; i++ {
		h, r, err := b.NewRecord()
		require.Nil(t, err)
		r.Init(KindUpdate, nil, tuple.Slot{Offset: uint32(i)}, timestamp.Timestamp(9).TxnID(), NilHandle, nil)
		handles = append(handles, h)
	}
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, b.Segments())
	assert.Equal(t, 3, p.Outstanding())

	var forward, backward []uint32
	b.ForEach(func(h Handle, r *Record) { forward = append(forward, r.Slot().Offset) })
	b.ForEachReverse(func(h Handle, r *Record) { backward = append(backward, r.Slot().Offset) })
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, forward)
	assert.Equal(t, []uint32{4, 3, 2, 1, 0}, backward)

	r := p.Get(handles[3])
	assert.Equal(t, uint32(3), r.Slot().Offset)
	assert.True(t, r.Timestamp().Uncommitted())

	b.Release()
	assert.Equal(t, 0, p.Outstanding())
	assert.True(t, b.Empty())
}

func TestBufferExhaustion(t *testing.T) {
	p := newTestPool(1, 1, 1)
	b := NewBuffer(p)
	_, _, err := b.NewRecord()
	require.Nil(t, err)
	_, _, err = b.NewRecord()
	assert.Equal(t, ErrBufferExhausted, errors.Cause(err))
	assert.Equal(t, 1, b.Len())
	b.Release()
	assert.Equal(t, 0, p.Outstanding())
}

func TestDiscardLastRecord(t *testing.T) {
	p := newTestPool(4, 1, 1)
	b := NewBuffer(p)
	h1, _, err := b.NewRecord()
	require.Nil(t, err)
	h2, _, err := b.NewRecord()
	require.Nil(t, err)
	b.Discard(h1)
	assert.Equal(t, 2, b.Len())
	b.Discard(h2)
	assert.Equal(t, 1, b.Len())
}

func TestConcurrentAllocateRelease(t *testing.T) {
	p := newTestPool(8, 4, 2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s, err := p.Allocate()
				if err != nil {
					continue
				}
				p.Release(s)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Outstanding())
	assert.True(t, p.Retained() <= 2)
}
