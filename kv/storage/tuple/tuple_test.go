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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageWithAndProject(t *testing.T) {
	img := Image{[]byte("a"), []byte("b"), nil}
	delta := Row{{ID: 1, Value: []byte("B")}, {ID: 2, Value: []byte("C")}}

	before := img.Project(delta)
	assert.True(t, before.Equal(Row{{ID: 1, Value: []byte("b")}, {ID: 2, Value: nil}}))

	next := img.With(delta)
	assert.Equal(t, Image{[]byte("a"), []byte("B"), []byte("C")}, next)
	// The source image is left untouched.
	assert.Equal(t, Image{[]byte("a"), []byte("b"), nil}, img)

	// Applying the before-image restores the original.
	assert.Equal(t, img, next.With(before))
}

func TestRowCloneIsDeep(t *testing.T) {
	r := NewRow([]byte("x"), nil)
	c := r.Clone()
	r[0].Value[0] = 'y'
	v, ok := c.Get(0)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)
	v, ok = c.Get(1)
	assert.True(t, ok)
	assert.Nil(t, v)
	_, ok = c.Get(7)
	assert.False(t, ok)
}

func TestRowEqualDistinguishesNull(t *testing.T) {
	assert.False(t, NewRow(nil).Equal(NewRow([]byte{})))
	assert.True(t, NewRow([]byte{}).Equal(NewRow([]byte{})))
	assert.False(t, NewRow([]byte("a")).Equal(NewRow([]byte("a"), nil)))
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "3:1:9", Slot{Table: 3, Block: 1, Offset: 9}.String())
}
