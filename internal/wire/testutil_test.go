// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

// Hand-rolled protobuf-wire encoders for test fixtures, mirroring the
// decoding helpers in ndgr.go but in the opposite direction. Kept in the
// test package rather than imported from anywhere else: production code
// never needs to encode this wire format, only decode it.

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendTag(buf []byte, fieldNumber int, wt WireType) []byte {
	return appendVarint(buf, uint64(fieldNumber)<<3|uint64(wt))
}

func appendLengthDelimited(buf []byte, fieldNumber int, payload []byte) []byte {
	buf = appendTag(buf, fieldNumber, WireLengthDelimited)
	buf = appendVarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func appendVarintField(buf []byte, fieldNumber int, v uint64) []byte {
	buf = appendTag(buf, fieldNumber, WireVarint)
	return appendVarint(buf, v)
}

// int64ValueWrapper builds a nested Int64Value{1: v} message.
func int64ValueWrapper(v uint64) []byte {
	return appendVarintField(nil, 1, v)
}

// stringValueWrapper builds a nested StringValue{1: s} message.
func stringValueWrapper(s string) []byte {
	return appendLengthDelimited(nil, 1, []byte(s))
}
