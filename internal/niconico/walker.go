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
	"net/url"
	"strconv"

	"github.com/gatsunoko/komebyu/internal/backoff"
	"github.com/gatsunoko/komebyu/internal/events"
	"github.com/gatsunoko/komebyu/internal/wire"
)

// nowCursor is the sentinel meaning "current server time" (spec §3): never
// compared numerically, only ever round-tripped as a literal string.
const nowCursor = "now"

// millisecondThreshold is the boundary above which a received `at` value is
// assumed to be milliseconds rather than seconds (spec §4.5).
const millisecondThreshold = int64(1_000_000_000_000)

// readBufSize bounds a single body read; the Chunk Assembler handles partial
// frames across reads so this is a throughput knob, not a correctness one.
const readBufSize = 32 * 1024

// Walker maintains the walk position along the view endpoint's open-ended
// entry sequence (spec §4.5), grounded on the teacher's reconnect-loop shape
// applied to a long-poll GET instead of a persistent socket.
type Walker struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	limiter   *backoff.AttemptLimiter

	cursor  string // nowCursor or a decimal seconds value
	viewURL string

	policy       backoff.Policy
	schemaPolicy backoff.Policy

	onSegment   func(segmentURL string)
	onReconnect func(segmentURL string)
}

// NewWalker builds a Walker starting at cursor "now" against the given view
// endpoint URL, using the default View/ViewSchemaError backoff policies
// (spec §5). Use SetPolicies to apply config-driven overrides.
func NewWalker(client *http.Client, userAgent, viewURL string, logger *slog.Logger, limiter *backoff.AttemptLimiter) *Walker {
	return &Walker{
		client:       client,
		userAgent:    userAgent,
		logger:       logger,
		limiter:      limiter,
		cursor:       nowCursor,
		viewURL:      viewURL,
		policy:       backoff.View,
		schemaPolicy: backoff.ViewSchemaError,
	}
}

// SetPolicies overrides the poll-retry and 422-schema-error backoff policies,
// letting the Supervisor apply config.BackoffConfig values (spec §5).
func (w *Walker) SetPolicies(policy, schemaPolicy backoff.Policy) {
	w.policy = policy
	w.schemaPolicy = schemaPolicy
}

// OnSegment registers the callback invoked when a ViewSegment entry is
// decoded; the Supervisor spawns a Segment Runner for the URL (at=now).
func (w *Walker) OnSegment(fn func(segmentURL string)) { w.onSegment = fn }

// OnReconnectSegment registers the callback invoked for a Reconnect entry
// carrying a streamUrl; the Supervisor spawns a Segment Runner with the
// cursor/at propagated onto the URL.
func (w *Walker) OnReconnectSegment(fn func(segmentURL string)) { w.onReconnect = fn }

// Run polls the view endpoint until ctx is cancelled.
func (w *Walker) Run(ctx context.Context) error {
	bo := backoff.New(w.policy)
	schemaBo := backoff.New(w.schemaPolicy)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		abort, cursorChanged, err := w.pollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			if verr, ok := err.(*viewSchemaError); ok {
				if w.logger != nil {
					w.logger.Warn("view poll: schema error, resetting cursor", "status", verr.status)
				}
				w.cursor = nowCursor
				if w.limiter != nil {
					if werr := w.limiter.Wait(ctx); werr != nil {
						return werr
					}
				}
				if serr := backoff.Sleep(ctx, schemaBo.Next()); serr != nil {
					return serr
				}
				continue
			}
			return err
		}

		if abort || cursorChanged {
			bo.Reset()
			continue
		}

		if w.limiter != nil {
			if werr := w.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if serr := backoff.Sleep(ctx, bo.Next()); serr != nil {
			return serr
		}
	}
}

type viewSchemaError struct{ status int }

func (e *viewSchemaError) Error() string { return fmt.Sprintf("view poll: status %d", e.status) }

// pollOnce issues one long-poll GET and processes whatever frames arrive
// before the body ends or an abort-worthy directive is seen. abort reports
// that the poll loop should restart immediately (cursor or URL changed
// mid-stream, per spec §4.5 step 5).
func (w *Walker) pollOnce(ctx context.Context) (abort bool, cursorChanged bool, err error) {
	reqURL, err := w.buildRequestURL()
	if err != nil {
		return false, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Origin", "https://live.nicovideo.jp")
	req.Header.Set("Referer", "https://live.nicovideo.jp/")
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return false, false, &viewSchemaError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, fmt.Errorf("niconico: view poll failed: status %d", resp.StatusCode)
	}

	asm := wire.NewAssembler(0)
	buf := make([]byte, readBufSize)
	startCursor := w.cursor
	startURL := w.viewURL

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			frames, ferr := asm.Feed(buf[:n])
			if ferr != nil {
				if w.logger != nil {
					w.logger.Warn("view poll: frame assembly error, dropping buffer", "error", ferr)
				}
				asm.Reset()
			}
			for _, frame := range frames {
				entries, derr := wire.DecodeViewFrame(frame)
				if derr != nil {
					if w.logger != nil {
						w.logger.Debug("view poll: dropping undecodable frame", "error", derr)
					}
					continue
				}
				if didAbort := w.applyEntries(entries); didAbort {
					return true, w.cursor != startCursor || w.viewURL != startURL, nil
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return false, w.cursor != startCursor || w.viewURL != startURL, rerr
		}
	}

	return false, w.cursor != startCursor || w.viewURL != startURL, nil
}

// applyEntries takes the first applicable action per entry per spec §4.5
// step 5, returning true if the poll should be aborted and restarted.
func (w *Walker) applyEntries(entries []wire.ViewEntry) bool {
	for _, e := range entries {
		switch {
		case e.Segment != nil:
			if w.onSegment != nil {
				w.onSegment(applyCursorParams(e.Segment.URI, nowCursor))
			}
		case e.Reconnect != nil && e.Reconnect.StreamURL != nil:
			segURL := applyCursorParams(*e.Reconnect.StreamURL, w.cursor)
			if w.onReconnect != nil {
				w.onReconnect(segURL)
			}
		case e.Reconnect != nil:
			w.cursor = normalizeCursor(e.Reconnect.At)
			return true
		case e.Next != nil:
			w.cursor = normalizeCursor(e.Next.At)
			if e.Next.URI != nil {
				w.viewURL = *e.Next.URI
			}
			return true
		}
	}
	return false
}

// normalizeCursor implements spec §4.5's millisecond/seconds disambiguation.
func normalizeCursor(at events.BigInt) string {
	raw := at.String()
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Magnitude exceeded int64; preserve the decimal string verbatim,
		// it is already in seconds at the scale this protocol operates.
		return raw
	}
	if v >= millisecondThreshold {
		v /= 1000
	}
	return strconv.FormatInt(v, 10)
}

func (w *Walker) buildRequestURL() (string, error) {
	u, err := url.Parse(w.viewURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("at", w.cursor)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// applyCursorParams sets the at query parameter of a segment URL to cursor,
// which is either "now" or a decimal seconds value. It never sets a cursor
// query parameter: an opaque Reconnect cursor is not carried onto the URL.
func applyCursorParams(segmentURL, cursor string) string {
	u, err := url.Parse(segmentURL)
	if err != nil {
		return segmentURL
	}
	q := u.Query()
	if cursor == nowCursor {
		q.Set("at", nowCursor)
	} else {
		q.Set("at", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
