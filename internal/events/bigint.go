// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import "strconv"

// safeIntegerLimit is the largest magnitude (2^53-1) that round-trips
// losslessly through a float64/machine-integer representation in the hosts
// this system is designed to feed (per spec §3's invariant on 64-bit
// timestamps expressed in milliseconds).
const safeIntegerLimit = int64(1)<<53 - 1

// BigInt preserves a 64-bit integer either as a native int64 (when its
// magnitude fits the safe integer range) or, losslessly, as a decimal
// string. The zero value has Exact == false and an empty Str, so String
// renders it as ""; NewBigInt(0) is the exact zero.
type BigInt struct {
	Num   int64
	Exact bool // false when Num does not hold the full value; see Str.
	Str   string
}

// NewBigInt builds a BigInt from a machine int64, choosing the string form
// when the magnitude exceeds the safe integer range.
func NewBigInt(v int64) BigInt {
	if v > safeIntegerLimit || v < -safeIntegerLimit {
		return BigInt{Exact: false, Str: strconv.FormatInt(v, 10)}
	}
	return BigInt{Num: v, Exact: true}
}

// NewBigIntFromUint64 builds a BigInt from a raw 64-bit unsigned value, the
// shape the varint decoder naturally produces.
func NewBigIntFromUint64(v uint64) BigInt {
	if v > uint64(safeIntegerLimit) {
		return BigInt{Exact: false, Str: strconv.FormatUint(v, 10)}
	}
	return BigInt{Num: int64(v), Exact: true}
}

// String renders the value in decimal regardless of which form it is held in.
func (b BigInt) String() string {
	if b.Exact {
		return strconv.FormatInt(b.Num, 10)
	}
	return b.Str
}

// MarshalJSON emits the BigInt as a JSON number when it fits safely, and as
// a JSON string otherwise — the same convention callers already apply to
// millisecond timestamps per spec §3.
func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Exact {
		return []byte(strconv.FormatInt(b.Num, 10)), nil
	}
	return []byte(strconv.Quote(b.Str)), nil
}
