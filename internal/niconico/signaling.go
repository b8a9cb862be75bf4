// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package niconico implements the Service-N ingestion pipeline: landing-page
// discovery, the signaling session, the view walker, and segment runners.
package niconico

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatsunoko/komebyu/internal/backoff"
)

const keepSeatInterval = 30 * time.Second

// viewURLPattern matches the Service-N view endpoint host, used to classify
// an inbound messageServer/room payload as carrying the view endpoint (spec
// §4.4 point 4).
var viewURLPattern = regexp.MustCompile(`mpn\.live\.nicovideo\.jp/api/view`)

// SignalingConfig carries the fixed per-broadcast defaults sent in the
// startWatching request (spec §4.4 point 1).
type SignalingConfig struct {
	Quality      string
	Protocol     string
	Latency      string
	ChasePlay    bool
	RoomProtocol string
	Commentable  bool
}

// Dialer abstracts the websocket dial so tests can substitute a fake. The
// real implementation is websocket.DefaultDialer.Dial.
type Dialer interface {
	Dial(urlStr string, header map[string][]string) (Conn, error)
}

// Conn is the subset of *websocket.Conn the Signaling Session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type gorillaDialer struct {
	userAgent string
}

func (d gorillaDialer) Dial(urlStr string, _ map[string][]string) (Conn, error) {
	header := map[string][]string{"User-Agent": {d.userAgent}}
	c, _, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewDialer builds the default production Dialer.
func NewDialer(userAgent string) Dialer {
	return gorillaDialer{userAgent: userAgent}
}

// Signaling owns the bidirectional signaling socket for one broadcast. It
// reconnects on unexpected close with exponential backoff (spec §4.4 point
// 5), grounded on the teacher's control-channel reconnect loop, and reports
// the discovered view endpoint exactly once.
type Signaling struct {
	dialer    Dialer
	url       string
	cfg       SignalingConfig
	logger    *slog.Logger
	limiter   *backoff.AttemptLimiter

	policy backoff.Policy

	onViewURL    func(string)
	onDisconnect func(reason string)

	mu         sync.Mutex
	viewURLSet bool
}

// NewSignaling builds a Signaling Session bound to the given signaling URL,
// using the default Signaling backoff policy (spec §5). Use SetPolicy to
// apply a config-driven override.
func NewSignaling(dialer Dialer, signalingURL string, cfg SignalingConfig, logger *slog.Logger, limiter *backoff.AttemptLimiter) *Signaling {
	return &Signaling{dialer: dialer, url: signalingURL, cfg: cfg, logger: logger, limiter: limiter, policy: backoff.Signaling}
}

// SetPolicy overrides the reconnect backoff policy, letting the Supervisor
// apply a config.BackoffConfig value (spec §5).
func (s *Signaling) SetPolicy(policy backoff.Policy) { s.policy = policy }

// OnViewURL registers the single-shot callback invoked the first time a view
// endpoint URL is discovered. Later reports are suppressed (spec §4.4).
func (s *Signaling) OnViewURL(fn func(string)) { s.onViewURL = fn }

// OnDisconnect registers the callback invoked when the server sends an
// explicit disconnect message, carrying its reason.
func (s *Signaling) OnDisconnect(fn func(reason string)) { s.onDisconnect = fn }

// Run dials and maintains the signaling socket until ctx is cancelled or the
// server sends a disconnect message, reconnecting with exponential backoff on
// every unexpected close.
func (s *Signaling) Run(ctx context.Context) error {
	bo := backoff.New(s.policy)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// runOnce returns nil only after a server disconnect message,
			// which ends the session for good.
			return nil
		}
		delay := bo.Next()
		if s.logger != nil {
			s.logger.Warn("signaling socket closed, reconnecting", "url", s.url, "delay", delay, "error", err)
		}
		if s.limiter != nil {
			if werr := s.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if serr := backoff.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (s *Signaling) runOnce(ctx context.Context) error {
	conn, err := s.dialer.Dial(s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := s.sendStartWatching(conn); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	ticker := time.NewTicker(keepSeatInterval)
	defer ticker.Stop()

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := s.sendKeepSeat(conn); err != nil {
				return err
			}
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case data := <-msgCh:
			terminate, err := s.handleMessage(conn, data)
			if err != nil {
				return err
			}
			if terminate {
				return nil
			}
		}
	}
}

type signalingEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Signaling) sendStartWatching(conn Conn) error {
	payload := map[string]any{
		"type": "startWatching",
		"data": map[string]any{
			"stream": map[string]any{
				"quality":   s.cfg.Quality,
				"protocol":  s.cfg.Protocol,
				"latency":   s.cfg.Latency,
				"chasePlay": s.cfg.ChasePlay,
			},
			"room": map[string]any{
				"protocol":    s.cfg.RoomProtocol,
				"commentable": s.cfg.Commentable,
			},
			"reconnect": false,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Signaling) sendKeepSeat(conn Conn) error {
	return s.writeType(conn, "keepSeat")
}

func (s *Signaling) sendPong(conn Conn) error {
	return s.writeType(conn, "pong")
}

func (s *Signaling) writeType(conn Conn, typ string) error {
	b, err := json.Marshal(signalingEnvelope{Type: typ})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// handleMessage classifies one inbound signaling message per spec §4.4 point
// 4. It returns terminate=true when the connection should end (a disconnect
// message), without treating that as an error.
func (s *Signaling) handleMessage(conn Conn, data []byte) (terminate bool, err error) {
	var env signalingEnvelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
		if s.logger != nil {
			s.logger.Debug("signaling: dropping unparseable message", "error", jsonErr)
		}
		return false, nil
	}

	switch env.Type {
	case "ping":
		return false, s.sendPong(conn)

	case "messageServer", "room":
		s.maybeReportViewURL(env.Data)
		if env.Type == "room" {
			return false, s.sendKeepSeat(conn)
		}
		return false, nil

	case "seat":
		return false, s.sendKeepSeat(conn)

	case "akashicMessageServer":
		if s.logger != nil {
			s.logger.Debug("signaling: ignoring akashic message server", "data", string(env.Data))
		}
		return false, nil

	case "disconnect":
		reason := extractDisconnectReason(env.Data)
		if s.onDisconnect != nil {
			s.onDisconnect(reason)
		}
		return true, nil

	default:
		if s.logger != nil {
			s.logger.Debug("signaling: unrecognized message type", "type", env.Type)
		}
		return false, nil
	}
}

func (s *Signaling) maybeReportViewURL(data json.RawMessage) {
	viewURL := findViewURL(data)
	if viewURL == "" {
		return
	}
	s.mu.Lock()
	already := s.viewURLSet
	if !already {
		s.viewURLSet = true
	}
	s.mu.Unlock()
	if already {
		return
	}
	if s.onViewURL != nil {
		s.onViewURL(viewURL)
	}
}

// findViewURL walks arbitrary decoded JSON looking for any string value that
// is an absolute URL matching the view endpoint host. The signaling
// messageServer/room payload shape is not fully pinned down by spec §4.4, so
// this is deliberately structure-tolerant rather than keyed to one exact
// field path.
func findViewURL(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return searchForViewURL(v)
}

func searchForViewURL(v any) string {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "http") && viewURLPattern.MatchString(t) {
			if _, err := url.Parse(t); err == nil {
				return t
			}
		}
	case map[string]any:
		for _, child := range t {
			if found := searchForViewURL(child); found != "" {
				return found
			}
		}
	case []any:
		for _, child := range t {
			if found := searchForViewURL(child); found != "" {
				return found
			}
		}
	}
	return ""
}

func extractDisconnectReason(data json.RawMessage) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "disconnect"
	}
	if payload.Reason == "" {
		return "disconnect"
	}
	return payload.Reason
}
