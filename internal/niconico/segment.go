// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package niconico

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gatsunoko/komebyu/internal/backoff"
	"github.com/gatsunoko/komebyu/internal/events"
	"github.com/gatsunoko/komebyu/internal/wire"
)

// Segment runs one long-poll HTTP stream against a segment endpoint,
// decoding chat payloads into normalized events (spec §4.6). It restarts
// itself on body end with exponential backoff, and yields control to a
// replacement when the server issues a Reconnect naming a different URL.
type Segment struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	limiter   *backoff.AttemptLimiter

	connectionID string
	uri          string
	cursor       string
	policy       backoff.Policy

	onMessage func(events.NormalizedEvent)
	onReplace func(newURL string)
	onEnd     func()
}

// NewSegment builds a Segment Runner for the given fully-qualified URL,
// using the default Segment backoff policy (spec §5). Use SetPolicy to
// apply a config-driven override.
func NewSegment(client *http.Client, userAgent, connectionID, segmentURL string, logger *slog.Logger, limiter *backoff.AttemptLimiter) *Segment {
	return &Segment{
		client:       client,
		userAgent:    userAgent,
		logger:       logger,
		limiter:      limiter,
		connectionID: connectionID,
		uri:          segmentURL,
		cursor:       nowCursor,
		policy:       backoff.Segment,
	}
}

// SetPolicy overrides the restart backoff policy, letting the Supervisor
// apply a config.BackoffConfig value (spec §5).
func (s *Segment) SetPolicy(policy backoff.Policy) { s.policy = policy }

// URI returns the exact fully-qualified URL this runner is addressing, the
// Supervisor's dedup key (spec §3, §4.6).
func (s *Segment) URI() string { return s.uri }

// OnMessage registers the callback invoked for every non-empty Chat.content.
func (s *Segment) OnMessage(fn func(events.NormalizedEvent)) { s.onMessage = fn }

// OnReplace registers the callback invoked when a Reconnect names a
// different streamUrl; the Supervisor spawns a replacement Runner and drains
// this one.
func (s *Segment) OnReplace(fn func(newURL string)) { s.onReplace = fn }

// OnEnd registers the callback invoked when the server sends an explicit End
// message; the Supervisor decides whether to reopen.
func (s *Segment) OnEnd(fn func()) { s.onEnd = fn }

// Run polls the segment endpoint until ctx is cancelled or a terminal
// directive (Reconnect-to-new-URL, End) is observed.
func (s *Segment) Run(ctx context.Context) error {
	bo := backoff.New(s.policy)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		terminal, progressed, err := s.pollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}

		if progressed {
			bo.Reset()
		}
		if s.limiter != nil {
			if werr := s.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if serr := backoff.Sleep(ctx, bo.Next()); serr != nil {
			return serr
		}
	}
}

// pollOnce issues one long-poll GET. terminal reports that this Runner
// should stop permanently (replaced or ended); false means "body ended
// quietly, restart with backoff" (spec §4.6 step 4). progressed reports
// whether at least one frame was actually decoded during this poll, the
// signal the caller uses to decide whether the backoff delay may reset —
// a body that opens and closes with no data must not reset the delay, or
// the exponential growth spec §4.6 step 4 requires never happens.
func (s *Segment) pollOnce(ctx context.Context) (terminal bool, progressed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Origin", "https://live.nicovideo.jp")
	req.Header.Set("Referer", "https://live.nicovideo.jp/")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, fmt.Errorf("niconico: segment poll failed: status %d", resp.StatusCode)
	}

	asm := wire.NewAssembler(0)
	buf := make([]byte, readBufSize)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			frames, ferr := asm.Feed(buf[:n])
			if ferr != nil {
				if s.logger != nil {
					s.logger.Warn("segment poll: frame assembly error, dropping buffer", "uri", s.uri, "error", ferr)
				}
				asm.Reset()
			}
			for _, frame := range frames {
				progressed = true
				messages, derr := wire.DecodeChunkedMessage(frame)
				if derr != nil {
					if s.logger != nil {
						s.logger.Debug("segment poll: dropping undecodable frame", "uri", s.uri, "error", derr)
					}
					continue
				}
				if done := s.applyMessages(messages); done {
					return true, progressed, nil
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return false, progressed, rerr
		}
	}

	return false, progressed, nil
}

// applyMessages processes decoded segment messages per spec §4.6 step 3,
// returning true when the Runner should stop for good (replaced or ended).
func (s *Segment) applyMessages(messages []wire.SegmentMessage) bool {
	for _, m := range messages {
		switch {
		case m.Chat != nil && m.Chat.Content != "":
			user := m.Chat.Name
			if user == "" {
				user = m.Chat.UserID
			}
			if user == "" {
				user = "niconico"
			}
			if s.onMessage != nil {
				s.onMessage(events.NormalizedEvent{
					ConnectionID: s.connectionID,
					Source:       events.SourceServiceN,
					User:         user,
					Text:         m.Chat.Content,
				})
			}

		case m.Reconnect != nil:
			if m.Reconnect.StreamURL != nil && *m.Reconnect.StreamURL != s.uri {
				newURL := applyCursorParams(*m.Reconnect.StreamURL, normalizeCursor(m.Reconnect.At))
				if s.onReplace != nil {
					s.onReplace(newURL)
				}
				return true
			}
			s.cursor = normalizeCursor(m.Reconnect.At)

		case m.End:
			if s.onEnd != nil {
				s.onEnd()
			}
			return true

		case m.Ping, m.Statistics != nil:
			// ignored per spec §4.6 step 3
		}
	}
	return false
}
