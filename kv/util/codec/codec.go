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

// Package codec encodes the fixed width integer column values used by the catalog and the benchmark workload.
// Integers are big endian, so encoded values sort like the integers they encode.
package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// ErrInvalidLength is returned when a value does not have the width of the integer it is decoded as.
var ErrInvalidLength = errors.New("invalid encoded integer length")

func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, errors.Annotatef(ErrInvalidLength, "want 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Annotatef(ErrInvalidLength, "want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// MustDecodeUint64 is DecodeUint64 for values this process encoded itself.
func MustDecodeUint64(b []byte) uint64 {
	v, err := DecodeUint64(b)
	if err != nil {
		panic(err)
	}
	return v
}
