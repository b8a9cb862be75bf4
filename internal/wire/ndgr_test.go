// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/hex"
	"testing"
)

// TestDecodeViewFrame_ReconnectOnly is spec §8 end-to-end scenario 1: a
// single ViewEntry carrying only a Reconnect.at.
func TestDecodeViewFrame_ReconnectOnly(t *testing.T) {
	buf, err := hex.DecodeString("220608ffb784ca06")
	if err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}

	entries, err := DecodeViewFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Reconnect == nil {
		t.Fatalf("expected Reconnect to be set")
	}
	// Standard little-endian base-128 varint decoding of 0xffb784ca06.
	const wantAt = 1765874687
	if e.Reconnect.At.String() != "1765874687" {
		t.Errorf("got at=%s, want %d", e.Reconnect.At.String(), wantAt)
	}
}

// TestDecodeViewFrame_BackwardAndSnapshotURLs is spec §8 scenario 2: a
// ChunkedEntry wrapping one ViewEntry whose Next and Previous fields are
// both encoded as bare URL strings.
func TestDecodeViewFrame_BackwardAndSnapshotURLs(t *testing.T) {
	backwardURI := "https://mpn.live.nicovideo.jp/data/backward/v4/sample"
	snapshotURI := "https://mpn.live.nicovideo.jp/data/snapshot/v4/sample"

	var entryBuf []byte
	entryBuf = appendLengthDelimited(entryBuf, 2, []byte(backwardURI))
	entryBuf = appendLengthDelimited(entryBuf, 3, []byte(snapshotURI))

	var outer []byte
	outer = appendLengthDelimited(outer, 2, entryBuf)

	entries, err := DecodeViewFrame(outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Next == nil || e.Next.URI == nil || *e.Next.URI != backwardURI {
		t.Errorf("Next.URI = %v, want %s", e.Next, backwardURI)
	}
	if e.Previous == nil || e.Previous.URI == nil || *e.Previous.URI != snapshotURI {
		t.Errorf("Previous.URI = %v, want %s", e.Previous, snapshotURI)
	}
}

// TestReadInt64Field_WrapperVariantTolerance is spec §8 scenario 3: an
// Int64Value-wrapped timestamp and the same value sent raw must decode to
// the same integer.
func TestReadInt64Field_WrapperVariantTolerance(t *testing.T) {
	const want = 1700000000

	rawBuf := appendVarintField(nil, 1, uint64(want))
	wrappedBuf := appendLengthDelimited(nil, 1, int64ValueWrapper(uint64(want)))

	rawEntry, err := decodeReconnect(rawBuf)
	if err != nil {
		t.Fatalf("decoding raw reconnect: %v", err)
	}
	wrappedEntry, err := decodeReconnect(wrappedBuf)
	if err != nil {
		t.Fatalf("decoding wrapped reconnect: %v", err)
	}

	if rawEntry.At.String() != wrappedEntry.At.String() {
		t.Errorf("raw=%s wrapped=%s, want equal", rawEntry.At.String(), wrappedEntry.At.String())
	}
	if rawEntry.At.String() != "1700000000" {
		t.Errorf("got %s, want 1700000000", rawEntry.At.String())
	}
}

func TestReadOpaqueCursor(t *testing.T) {
	t.Run("valid utf8", func(t *testing.T) {
		oc := ReadOpaqueCursor([]byte("cursor-token-123"))
		if !oc.IsText || oc.Text != "cursor-token-123" {
			t.Errorf("got %+v, want text cursor", oc)
		}
	})
	t.Run("invalid utf8", func(t *testing.T) {
		raw := []byte{0xff, 0xfe, 0x00, 0x01}
		oc := ReadOpaqueCursor(raw)
		if oc.IsText {
			t.Errorf("expected non-text cursor for invalid UTF-8")
		}
		if oc.Base64 == "" || len(oc.RawBytes) != len(raw) {
			t.Errorf("got %+v, want base64+raw bytes populated", oc)
		}
	})
}

func TestReadStringFlexible_WrapperAndPlain(t *testing.T) {
	plainBuf := appendLengthDelimited(nil, 1, []byte("hello"))
	c := NewCursor(plainBuf)
	fn, wt, _ := c.Tag()
	if fn != 1 {
		t.Fatalf("bad fixture")
	}
	s, ok, err := readStringFlexible(c, wt)
	if err != nil || !ok || s != "hello" {
		t.Fatalf("got s=%q ok=%v err=%v, want hello/true/nil", s, ok, err)
	}

	wrappedBuf := appendLengthDelimited(nil, 1, stringValueWrapper("wrapped-hello"))
	c2 := NewCursor(wrappedBuf)
	fn2, wt2, _ := c2.Tag()
	if fn2 != 1 {
		t.Fatalf("bad fixture")
	}
	s2, ok2, err2 := readStringFlexible(c2, wt2)
	if err2 != nil || !ok2 || s2 != "wrapped-hello" {
		t.Fatalf("got s=%q ok=%v err=%v, want wrapped-hello/true/nil", s2, ok2, err2)
	}
}

func TestDecodeChunkedMessage_ChatAndReconnectAndEnd(t *testing.T) {
	var chatBuf []byte
	chatBuf = appendLengthDelimited(chatBuf, 1, []byte("room1"))
	chatBuf = appendVarintField(chatBuf, 2, 42)
	chatBuf = appendVarintField(chatBuf, 3, 7)
	chatBuf = appendVarintField(chatBuf, 4, 1000)
	chatBuf = appendLengthDelimited(chatBuf, 5, []byte("hello world"))
	chatBuf = appendLengthDelimited(chatBuf, 6, []byte("user1"))
	chatBuf = appendLengthDelimited(chatBuf, 7, []byte("Display Name"))

	var msg1 []byte
	msg1 = appendLengthDelimited(msg1, 1, chatBuf)

	var msg2 []byte
	msg2 = appendTag(msg2, 5, WireVarint)
	msg2 = appendVarint(msg2, 1) // End{} field, payload value irrelevant to Skip

	var envelope []byte
	envelope = appendLengthDelimited(envelope, 1, msg1)
	envelope = appendLengthDelimited(envelope, 1, msg2)

	messages, err := DecodeChunkedMessage(envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Chat == nil || messages[0].Chat.Content != "hello world" {
		t.Errorf("got chat=%+v, want content 'hello world'", messages[0].Chat)
	}
	if messages[0].Chat.Name != "Display Name" {
		t.Errorf("got name=%q, want Display Name", messages[0].Chat.Name)
	}
	if !messages[1].End {
		t.Errorf("expected second message to be End")
	}
}

func TestDecodeViewFrame_Empty(t *testing.T) {
	entries, err := DecodeViewFrame(nil)
	if err != nil || entries != nil {
		t.Fatalf("got entries=%v err=%v, want nil/nil", entries, err)
	}
}
