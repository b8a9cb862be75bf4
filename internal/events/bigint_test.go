// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import "testing"

func TestNewBigInt_SafeRange(t *testing.T) {
	b := NewBigInt(42)
	if !b.Exact || b.Num != 42 {
		t.Fatalf("got %+v, want exact 42", b)
	}
	if b.String() != "42" {
		t.Errorf("got %q, want 42", b.String())
	}
}

func TestNewBigInt_BeyondSafeRange(t *testing.T) {
	v := safeIntegerLimit + 1
	b := NewBigInt(v)
	if b.Exact {
		t.Fatalf("expected inexact representation for %d", v)
	}
	if b.String() != "9007199254740992" {
		t.Errorf("got %q, want 9007199254740992", b.String())
	}
}

func TestNewBigIntFromUint64_LargeTimestamp(t *testing.T) {
	// A millisecond timestamp that exceeds 2^53-1.
	b := NewBigIntFromUint64(9007199254740993)
	if b.Exact {
		t.Fatalf("expected inexact representation")
	}
	if b.String() != "9007199254740993" {
		t.Errorf("got %q, want 9007199254740993", b.String())
	}
}

func TestBigInt_MarshalJSON(t *testing.T) {
	exact := NewBigInt(1700000000)
	data, err := exact.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "1700000000" {
		t.Errorf("got %s, want bare JSON number", data)
	}

	huge := NewBigInt(safeIntegerLimit + 5)
	data, err = huge.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `"9007199254740996"` {
		t.Errorf("got %s, want quoted decimal string", data)
	}
}
