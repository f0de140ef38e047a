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

// Segment is a fixed-capacity slab of undo records. A segment is checked out to exactly one transaction, which
// carves records from it sequentially; it goes back to the pool once the garbage collector has proven that no
// reader can still reach any of its records.
type Segment struct {
	id      uint32
	records []Record
	used    int
}

// ID is the segment's position in its pool.
func (s *Segment) ID() uint32 {
	return s.id
}

// Cap is the number of records the segment can hold.
func (s *Segment) Cap() int {
	return len(s.records)
}

// Len is the number of records carved so far.
func (s *Segment) Len() int {
	return s.used
}

func (s *Segment) full() bool {
	return s.used == len(s.records)
}

func (s *Segment) alloc() (Handle, *Record) {
	offset := s.used
	s.used++
	return makeHandle(s.id, uint32(offset)), &s.records[offset]
}

func (s *Segment) reset() {
	for i := 0; i < s.used; i++ {
		s.records[i].reset()
	}
	s.used = 0
}
