// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backoff implements the exponential reconnect delays used by every
// long-running task in this system (signaling socket, view walker, segment
// runner, Service-T client), plus a process-wide attempt limiter that
// bounds how often any connection may retry within a rolling window.
package backoff

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy holds the doubling schedule for one kind of reconnect loop, per
// spec §5's bounds table (signaling 1s->16s, view 1s->16s, view-422
// 500ms->2s, segment 1s->30s).
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Backoff tracks the current delay for one connection's retry loop. It is
// not safe for concurrent use; each owning task (one Signaling Session, one
// View Walker, one Segment Runner) keeps its own.
type Backoff struct {
	policy  Policy
	current time.Duration
}

// New creates a Backoff starting at policy.Base.
func New(policy Policy) *Backoff {
	return &Backoff{policy: policy, current: policy.Base}
}

// Next returns the delay to sleep before the next attempt, then doubles it
// (capped at Max) for the attempt after that.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := b.current * 2
	if next > b.policy.Max {
		next = b.policy.Max
	}
	b.current = next
	return d
}

// Reset restores the delay to Base, called after a successful connect.
func (b *Backoff) Reset() {
	b.current = b.policy.Base
}

// Sleep waits for d or until ctx is cancelled, whichever comes first. It
// returns ctx.Err() on cancellation so callers can distinguish a timed-out
// sleep from an aborted one.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AttemptLimiter bounds the rate at which reconnect attempts may happen
// across every connection sharing one process, on top of each connection's
// own exponential delay. It exists so a misbehaving server cannot turn many
// simultaneous broadcasts into a reconnect storm: the per-connection
// Backoff already slows a single connection down, but N connections each
// independently at their floor delay can still saturate the process — the
// limiter caps the aggregate.
//
// Grounded on the teacher's ThrottledWriter (internal/agent/throttle.go),
// which wraps golang.org/x/time/rate around an io.Writer to pace bytes;
// here the same token bucket paces reconnect attempts instead of bytes.
type AttemptLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewAttemptLimiter allows up to burst immediate attempts, refilling at
// attemptsPerSecond thereafter. attemptsPerSecond <= 0 disables limiting.
func NewAttemptLimiter(attemptsPerSecond float64, burst int) *AttemptLimiter {
	if attemptsPerSecond <= 0 {
		return &AttemptLimiter{}
	}
	return &AttemptLimiter{limiter: rate.NewLimiter(rate.Limit(attemptsPerSecond), burst)}
}

// Wait blocks until a reconnect attempt is permitted or ctx is cancelled.
func (l *AttemptLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Signaling, View, ViewSchemaError, and Segment are the named policies from
// spec §5.
var (
	Signaling       = Policy{Base: 1 * time.Second, Max: 16 * time.Second}
	View            = Policy{Base: 1 * time.Second, Max: 16 * time.Second}
	ViewSchemaError = Policy{Base: 500 * time.Millisecond, Max: 2 * time.Second}
	Segment         = Policy{Base: 1 * time.Second, Max: 30 * time.Second}
)
