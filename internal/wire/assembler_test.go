// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
)

// buildFrame returns a length-prefixed frame for payload.
func buildFrame(payload []byte) []byte {
	return append(appendVarint(nil, uint64(len(payload))), payload...)
}

// TestAssembler_SplitAcrossChunks is one of spec §8's round-trip laws: for
// any chunk sequence whose concatenation equals k complete frames plus a
// partial tail, Feed emits exactly those k frames in order and retains the
// tail.
func TestAssembler_SplitAcrossChunks(t *testing.T) {
	f1 := buildFrame([]byte("hello"))
	f2 := buildFrame([]byte("world!!"))
	f3 := buildFrame([]byte("x"))

	full := append(append(append([]byte{}, f1...), f2...), f3...)

	// Split the concatenation at arbitrary byte boundaries, including mid-frame.
	splitAt := []int{3, len(f1) + 2, len(f1) + len(f2) + 0}
	var chunks [][]byte
	prev := 0
	for _, at := range splitAt {
		chunks = append(chunks, full[prev:at])
		prev = at
	}
	chunks = append(chunks, full[prev:])

	asm := NewAssembler(0)
	var got [][]byte
	for _, c := range chunks {
		frames, err := asm.Feed(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, frames...)
	}

	want := [][]byte{[]byte("hello"), []byte("world!!"), []byte("x")}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if asm.Pending() != 0 {
		t.Errorf("expected no pending bytes, got %d", asm.Pending())
	}
}

func TestAssembler_PartialTailRetained(t *testing.T) {
	f := buildFrame([]byte("complete"))
	partial := f[:len(f)-2]

	asm := NewAssembler(0)
	frames, err := asm.Feed(partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0 (incomplete)", len(frames))
	}
	if asm.Pending() != len(partial) {
		t.Errorf("got %d pending, want %d", asm.Pending(), len(partial))
	}

	frames, err = asm.Feed(f[len(f)-2:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "complete" {
		t.Fatalf("got %v, want [complete]", frames)
	}
}

func TestAssembler_FrameTooLarge(t *testing.T) {
	asm := NewAssembler(4)
	oversized := buildFrame([]byte("this payload is too big"))

	_, err := asm.Feed(oversized)
	if err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
	if asm.Pending() != 0 {
		t.Errorf("expected buffer discarded, got %d pending", asm.Pending())
	}
}
