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

package tuple

import (
	"bytes"
	"fmt"
)

// Slot is the stable physical address of one logical row: the table it lives in, the block within the table, and
// the offset within the block.
type Slot struct {
	Table  uint32
	Block  uint32
	Offset uint32
}

func (s Slot) String() string {
	return fmt.Sprintf("%d:%d:%d", s.Table, s.Block, s.Offset)
}

// Column is the value of one column, identified by its position in the table's schema. A nil Value is NULL.
type Column struct {
	ID    uint16
	Value []byte
}

// Row is a projection of a row onto a subset of its columns.
type Row []Column

// NewRow builds a row covering columns 0..len(values)-1.
func NewRow(values ...[]byte) Row {
	r := make(Row, len(values))
	for i, v := range values {
		r[i] = Column{ID: uint16(i), Value: v}
	}
	return r
}

// Get returns the value of column id, and whether the row covers that column.
func (r Row) Get(id uint16) ([]byte, bool) {
	for _, c := range r {
		if c.ID == id {
			return c.Value, true
		}
	}
	return nil, false
}

// Clone returns a deep copy so the caller may keep it after the row's source is overwritten.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for i, c := range r {
		out[i] = Column{ID: c.ID, Value: cloneValue(c.Value)}
	}
	return out
}

// Equal reports whether both rows cover the same columns, in the same order, with the same values.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i].ID != o[i].ID || (r[i].Value == nil) != (o[i].Value == nil) || !bytes.Equal(r[i].Value, o[i].Value) {
			return false
		}
	}
	return true
}

// Image is the full set of column values of a row, indexed by column id. Images are never modified once published;
// writers build a new image with With.
type Image [][]byte

// With returns a copy of img with the columns of delta overwritten.
func (img Image) With(delta Row) Image {
	out := make(Image, len(img))
	copy(out, img)
	for _, c := range delta {
		out[c.ID] = c.Value
	}
	return out
}

// Project captures the current values of the columns delta covers, i.e. the before-image of applying delta.
func (img Image) Project(delta Row) Row {
	out := make(Row, len(delta))
	for i, c := range delta {
		out[i] = Column{ID: c.ID, Value: img[c.ID]}
	}
	return out
}

// Row converts the image to a row covering every column, copying the values.
func (img Image) Row() Row {
	out := make(Row, len(img))
	for i, v := range img {
		out[i] = Column{ID: uint16(i), Value: cloneValue(v)}
	}
	return out
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append(make([]byte, 0, len(v)), v...)
}
