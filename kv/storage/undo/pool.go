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
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ErrBufferExhausted is returned when every segment the pool may hand out is checked out. The transaction asking
// for the segment has to abort.
var ErrBufferExhausted = errors.New("undo buffer segment pool exhausted")

// ExhaustionPolicy decides what Allocate does when no segment is available.
type ExhaustionPolicy int

const (
	// FailFast reports ErrBufferExhausted immediately.
	FailFast ExhaustionPolicy = iota
	// Wait blocks until another segment is released, or until the configured timeout elapses.
	Wait
)

// PoolOptions configures a SegmentPool.
type PoolOptions struct {
	// SegmentSize is the number of undo records per segment.
	SegmentSize int
	// Capacity is the maximum number of segments checked out at once.
	Capacity int
	// ReuseLimit is the maximum number of released segments kept for reuse. Surplus segments drop their memory.
	ReuseLimit int
	Policy     ExhaustionPolicy
	// WaitTimeout bounds a Wait allocation. Zero waits until a segment is released.
	WaitTimeout time.Duration
}

// SegmentPool is a bounded allocator of undo record segments. It also resolves record handles, since a handle names
// a segment of this pool.
type SegmentPool struct {
	opts PoolOptions

	// segments is indexed by segment id. Entries are written once, under mu, before any handle into the segment is
	// handed out, and read lock-free by Get.
	segments []unsafe.Pointer

	mu          sync.Mutex
	free        []*Segment
	dropped     []*Segment
	created     int
	outstanding int
	// released is closed and replaced every time a segment comes back.
	released chan struct{}
}

// NewSegmentPool creates an empty pool. Segments are created lazily.
func NewSegmentPool(opts PoolOptions) *SegmentPool {
	if opts.SegmentSize <= 0 || opts.Capacity <= 0 {
		panic("segment pool needs a positive segment size and capacity")
	}
	if opts.ReuseLimit < 0 || opts.ReuseLimit > opts.Capacity {
		opts.ReuseLimit = opts.Capacity
	}
	return &SegmentPool{
		opts:     opts,
		segments: make([]unsafe.Pointer, opts.Capacity),
		released: make(chan struct{}),
	}
}

// Allocate hands out a segment, or ErrBufferExhausted when the pool's capacity is reached.
func (p *SegmentPool) Allocate() (*Segment, error) {
	var deadline <-chan time.Time
	for {
		p.mu.Lock()
		s := p.tryAllocate()
		released := p.released
		p.mu.Unlock()
		if s != nil {
			segmentsInUse.Inc()
			return s, nil
		}

		if p.opts.Policy != Wait {
			poolExhaustedCounter.Inc()
			return nil, errors.Trace(ErrBufferExhausted)
		}
		if deadline == nil && p.opts.WaitTimeout > 0 {
			timer := time.NewTimer(p.opts.WaitTimeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-released:
		case <-deadline:
			poolExhaustedCounter.Inc()
			log.Warn("gave up waiting for an undo segment", zap.Duration("timeout", p.opts.WaitTimeout))
			return nil, errors.Trace(ErrBufferExhausted)
		}
	}
}

func (p *SegmentPool) tryAllocate() *Segment {
	if p.outstanding >= p.opts.Capacity {
		return nil
	}
	var s *Segment
	switch {
	case len(p.free) > 0:
		s = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	case len(p.dropped) > 0:
		s = p.dropped[len(p.dropped)-1]
		p.dropped = p.dropped[:len(p.dropped)-1]
		s.records = make([]Record, p.opts.SegmentSize)
	default:
		s = &Segment{
			id:      uint32(p.created),
			records: make([]Record, p.opts.SegmentSize),
		}
		atomic.StorePointer(&p.segments[s.id], unsafe.Pointer(s))
		p.created++
	}
	p.outstanding++
	return s
}

// Release returns a segment to the pool. The caller guarantees that no reader can still reach its records.
func (p *SegmentPool) Release(s *Segment) {
	s.reset()
	p.mu.Lock()
	if len(p.free) < p.opts.ReuseLimit {
		p.free = append(p.free, s)
	} else {
		s.records = nil
		p.dropped = append(p.dropped, s)
	}
	p.outstanding--
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()
	segmentsInUse.Dec()
}

// Get resolves a record handle.
func (p *SegmentPool) Get(h Handle) *Record {
	s := (*Segment)(atomic.LoadPointer(&p.segments[h.segment()]))
	return &s.records[h.offset()]
}

// Outstanding is the number of segments currently checked out.
func (p *SegmentPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Retained is the number of released segments kept for reuse.
func (p *SegmentPool) Retained() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Options returns the options the pool was created with, after adjustment.
func (p *SegmentPool) Options() PoolOptions {
	return p.opts
}
