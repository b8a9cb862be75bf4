// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements a hand-rolled, schema-reconstructed decoder for
// the protobuf wire format used by the NDGR view and segment endpoints. It
// does not depend on a protobuf schema compiler: field numbers, wire types,
// and the variant encodings actually observed on the wire are handled
// directly, per the tolerant-decoding approach described by the upstream
// design notes this package is built against.
package wire

import (
	"encoding/binary"
	"errors"
)

// Errors are recoverable at the enclosing decoder boundary — never fatal to
// the process. Callers that hit one of these abandon the current frame, not
// the stream.
var (
	ErrTruncated         = errors.New("wire: truncated buffer")
	ErrVarintTooLong     = errors.New("wire: varint exceeds 10 bytes")
	ErrUnsupportedWire   = errors.New("wire: unsupported wire type")
	ErrLengthOutOfBounds = errors.New("wire: length-delimited field exceeds remaining buffer")
)

// WireType is one of the five protobuf wire-format tags.
type WireType uint8

const (
	WireVarint          WireType = 0
	WireFixed64         WireType = 1
	WireLengthDelimited WireType = 2
	WireStartGroup      WireType = 3 // unused by NDGR; Skip rejects it
	WireEndGroup        WireType = 4 // deprecated; Skip treats it as a no-op
	WireFixed32         WireType = 5
)

// Cursor is a pure, allocation-free walk over a byte buffer. It carries no
// state besides its position, so a single Cursor can be reused across
// frames by re-slicing.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for reading from the start.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.buf) - c.pos }

// Done reports whether every byte has been consumed.
func (c *Cursor) Done() bool { return c.pos >= len(c.buf) }

// Tag reads a (fieldNumber, wireType) pair, the varint-encoded key that
// precedes every field in a protobuf message.
func (c *Cursor) Tag() (fieldNumber int, wireType WireType, err error) {
	key, err := c.ReadVarUint64()
	if err != nil {
		return 0, 0, err
	}
	return int(key >> 3), WireType(key & 0x7), nil
}

// ReadVarUint32 decodes an unsigned varint and returns it truncated to 32
// bits — high bits beyond the 32nd are discarded, consistent with the
// reference wire format's own treatment of oversized varints in a uint32
// field.
func (c *Cursor) ReadVarUint32() (uint32, error) {
	v, err := c.ReadVarUint64()
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ReadVarUint64 decodes a little-endian base-128 varint of at most 10
// bytes. The caller is responsible for promoting values beyond the safe
// integer range to a lossless representation (see events.BigInt); this
// layer only ever returns the raw 64-bit pattern.
func (c *Cursor) ReadVarUint64() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < 10; i++ {
		if c.pos >= len(c.buf) {
			return 0, ErrTruncated
		}
		b := c.buf[c.pos]
		c.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrVarintTooLong
}

// ReadLengthDelimited reads a varint length L followed by L raw bytes. The
// returned slice aliases the Cursor's backing array; callers that need to
// retain it past the lifetime of the enclosing buffer must copy it.
func (c *Cursor) ReadLengthDelimited() ([]byte, error) {
	length, err := c.ReadVarUint64()
	if err != nil {
		return nil, err
	}
	if length > uint64(c.Len()) {
		return nil, ErrLengthOutOfBounds
	}
	start := c.pos
	c.pos += int(length)
	return c.buf[start:c.pos], nil
}

// ReadFixed32 reads a little-endian 32-bit fixed field.
func (c *Cursor) ReadFixed32() (uint32, error) {
	if c.Len() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

// ReadFixed64 reads a little-endian 64-bit fixed field.
func (c *Cursor) ReadFixed64() (uint64, error) {
	if c.Len() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v, nil
}

// Skip consumes and discards the value for the given wire type, following
// the tag. It never errors on WireEndGroup (a no-op per the deprecated
// group encoding) and rejects any wire type it does not recognize.
func (c *Cursor) Skip(wt WireType) error {
	switch wt {
	case WireVarint:
		_, err := c.ReadVarUint64()
		return err
	case WireFixed64:
		_, err := c.ReadFixed64()
		return err
	case WireLengthDelimited:
		_, err := c.ReadLengthDelimited()
		return err
	case WireEndGroup:
		return nil
	case WireFixed32:
		_, err := c.ReadFixed32()
		return err
	default:
		return ErrUnsupportedWire
	}
}
