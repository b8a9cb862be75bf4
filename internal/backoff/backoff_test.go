// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backoff

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := New(Policy{Base: 1 * time.Second, Max: 4 * time.Second})

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := New(Policy{Base: 1 * time.Second, Max: 16 * time.Second})
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("got %v after reset, want base 1s", got)
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, 1*time.Hour); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSleep_CompletesNaturally(t *testing.T) {
	if err := Sleep(context.Background(), 1*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAttemptLimiter_DisabledByDefault(t *testing.T) {
	l := NewAttemptLimiter(0, 0)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error on attempt %d: %v", i, err)
		}
	}
}

func TestAttemptLimiter_RespectsCancellation(t *testing.T) {
	l := NewAttemptLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// First attempt consumes the single burst token immediately.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second attempt must wait far longer than the refill rate allows within
	// the short timeout, so it should report the context's cancellation.
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
