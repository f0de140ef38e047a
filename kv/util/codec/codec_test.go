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

package codec

import (
	"bytes"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint32(t *testing.T) {
	for _, v := range []uint32{0, 1, 1001, 1<<32 - 1} {
		got, err := DecodeUint32(EncodeUint32(v))
		require.Nil(t, err)
		assert.Equal(t, v, got)
	}
	_, err := DecodeUint32([]byte{1, 2})
	assert.Equal(t, ErrInvalidLength, errors.Cause(err))
}

func TestUint64Order(t *testing.T) {
	assert.True(t, bytes.Compare(EncodeUint64(255), EncodeUint64(256)) < 0)
	assert.Equal(t, uint64(1<<40), MustDecodeUint64(EncodeUint64(1<<40)))
	_, err := DecodeUint64(nil)
	assert.NotNil(t, err)
	assert.Panics(t, func() { MustDecodeUint64([]byte{0}) })
}
