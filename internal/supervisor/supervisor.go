// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor implements the Connection Supervisor (spec §4.7): the
// per-broadcast lifecycle owner that dedups connections, wires the
// Signaling Session to the View Walker to Segment Runners, propagates
// cancellation, and surfaces status/message/connections-snapshot events to
// the host.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/gatsunoko/komebyu/internal/backoff"
	"github.com/gatsunoko/komebyu/internal/config"
	"github.com/gatsunoko/komebyu/internal/events"
	"github.com/gatsunoko/komebyu/internal/logging"
	"github.com/gatsunoko/komebyu/internal/niconico"
	"github.com/gatsunoko/komebyu/internal/servicet"
)

var (
	broadcastIDPattern = regexp.MustCompile(`lv\d+`)
	servicetPrefixes   = []string{"https://www.twitch.tv/", "https://twitch.tv/"}
)

// EventSink receives the three outbound event kinds (spec §6). The UI host
// implements this; the Supervisor never assumes anything about delivery
// beyond "best effort, non-blocking."
type EventSink interface {
	Status(events.StatusEvent)
	Message(events.NormalizedEvent)
	Connections(events.ConnectionsSnapshot)
}

// connection tracks one live broadcast's subtree: its cancel function and
// the set of currently running Segment Runner cancel functions, keyed by
// exact URL (spec §3, §4.6's Runner-uniqueness invariant).
type connection struct {
	handle events.ConnectionHandle
	cancel context.CancelFunc
	logger *slog.Logger

	mu       sync.Mutex
	segments map[string]context.CancelFunc
}

// Supervisor owns every live connection for the process lifetime (spec §9:
// "scope it to a single owning object whose lifetime equals the host
// application window").
type Supervisor struct {
	cfg       *config.Config
	logger    *slog.Logger
	sink      EventSink
	client    *http.Client
	limiter   *backoff.AttemptLimiter

	niconicoLandingURL func(broadcastID string) string

	mu          sync.Mutex
	connections map[string]*connection
}

// New builds a Supervisor. landingURLFn renders a broadcast id into its
// landing page URL (kept injectable so tests need not depend on a live
// service's URL scheme).
func New(cfg *config.Config, logger *slog.Logger, sink EventSink, landingURLFn func(broadcastID string) string) *Supervisor {
	limiter := backoff.NewAttemptLimiter(cfg.Backoff.MaxAttemptsPerSecond, cfg.Backoff.AttemptBurst)
	return &Supervisor{
		cfg:                cfg,
		logger:             logger,
		sink:               sink,
		client:             &http.Client{},
		limiter:            limiter,
		niconicoLandingURL: landingURLFn,
		connections:        make(map[string]*connection),
	}
}

// Connect classifies input per spec §6 and starts the matching connection.
// Duplicate ids are rejected with a status event (spec §3, §8 scenario 6).
func (s *Supervisor) Connect(ctx context.Context, input string) {
	kind, naturalKey := classifyInput(input)
	id := events.HandleID(kind, naturalKey)

	s.mu.Lock()
	if _, exists := s.connections[id]; exists {
		s.mu.Unlock()
		s.emitStatus(fmt.Sprintf("already connected: %s", id))
		return
	}
	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		handle:   events.ConnectionHandle{ID: id, Kind: kind, Label: naturalKey, Status: "connecting"},
		cancel:   cancel,
		logger:   logging.ConnectionLogger(s.logger, id),
		segments: make(map[string]context.CancelFunc),
	}
	s.connections[id] = conn
	s.mu.Unlock()

	s.publishConnections()

	switch kind {
	case events.SourceServiceN:
		go s.runNiconico(connCtx, conn, naturalKey)
	case events.SourceServiceT:
		go s.runServiceT(connCtx, conn, naturalKey)
	}
}

// Disconnect aborts the named connection, or every connection when id is
// empty (spec §4.7).
func (s *Supervisor) Disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		for _, conn := range s.connections {
			conn.cancel()
		}
		return
	}
	if conn, ok := s.connections[id]; ok {
		conn.cancel()
	}
}

// classifyInput implements spec §6's input classification: a broadcast id
// if it matches lv\d+ (anywhere, including as a path segment), otherwise a
// Service-T channel name (lowercased, '#' and twitch.tv prefix stripped).
func classifyInput(input string) (events.ConnectionKind, string) {
	if m := broadcastIDPattern.FindString(input); m != "" {
		return events.SourceServiceN, m
	}
	channel := strings.ToLower(strings.TrimSpace(input))
	channel = strings.TrimPrefix(channel, "#")
	for _, prefix := range servicetPrefixes {
		channel = strings.TrimPrefix(channel, prefix)
	}
	channel = strings.TrimSuffix(channel, "/")
	return events.SourceServiceT, channel
}

func (s *Supervisor) runNiconico(ctx context.Context, conn *connection, broadcastID string) {
	landingURL := s.niconicoLandingURL(broadcastID)

	s.setStatus(conn, "fetching_html")
	signalingURL, err := niconico.DiscoverSignalingURL(ctx, s.client, landingURL, s.cfg.HTTP.UserAgent)
	if err != nil {
		s.fail(conn, fmt.Sprintf("%s: could not discover signaling endpoint: %v", conn.handle.ID, err))
		return
	}

	s.setStatus(conn, "signaling_opening")
	viewURLCh := make(chan string, 1)
	sigCfg := niconico.SignalingConfig{
		Quality:      s.cfg.Niconico.Quality,
		Protocol:     s.cfg.Niconico.Protocol,
		Latency:      s.cfg.Niconico.Latency,
		ChasePlay:    s.cfg.Niconico.ChasePlay,
		RoomProtocol: s.cfg.Niconico.RoomProtocol,
		Commentable:  s.cfg.Niconico.Commentable,
	}
	sig := niconico.NewSignaling(niconico.NewDialer(s.cfg.HTTP.UserAgent), signalingURL, sigCfg, conn.logger, s.limiter)
	sig.SetPolicy(backoff.Policy{Base: s.cfg.Backoff.SignalingBase, Max: s.cfg.Backoff.SignalingMax})
	sig.OnViewURL(func(u string) {
		select {
		case viewURLCh <- u:
		default:
		}
	})
	sig.OnDisconnect(func(reason string) {
		s.fail(conn, fmt.Sprintf("%s: disconnected: %s", conn.handle.ID, reason))
	})

	go func() {
		if err := sig.Run(ctx); err != nil && ctx.Err() == nil {
			conn.logger.Warn("niconico: signaling session ended", "error", err)
		}
	}()

	var viewURL string
	select {
	case <-ctx.Done():
		s.finish(conn, "cancelled")
		return
	case viewURL = <-viewURLCh:
	}

	s.setStatus(conn, "view_polling")
	walker := niconico.NewWalker(s.client, s.cfg.HTTP.UserAgent, viewURL, conn.logger, s.limiter)
	walker.SetPolicies(
		backoff.Policy{Base: s.cfg.Backoff.ViewBase, Max: s.cfg.Backoff.ViewMax},
		backoff.ViewSchemaError,
	)
	walker.OnSegment(func(segURL string) {
		s.startSegment(ctx, conn, segURL)
	})
	walker.OnReconnectSegment(func(segURL string) {
		s.startSegment(ctx, conn, segURL)
	})

	s.setStatus(conn, "segment_running")
	if err := walker.Run(ctx); err != nil && ctx.Err() == nil {
		s.fail(conn, fmt.Sprintf("%s: view walker failed: %v", conn.handle.ID, err))
		return
	}
	s.finish(conn, "cancelled")
}

// startSegment spawns a Segment Runner for segURL unless one is already
// running for that exact URL (spec §4.6's Runner-uniqueness invariant).
func (s *Supervisor) startSegment(ctx context.Context, conn *connection, segURL string) {
	conn.mu.Lock()
	if _, exists := conn.segments[segURL]; exists {
		conn.mu.Unlock()
		return
	}
	segCtx, cancel := context.WithCancel(ctx)
	conn.segments[segURL] = cancel
	conn.mu.Unlock()

	runner := niconico.NewSegment(s.client, s.cfg.HTTP.UserAgent, conn.handle.ID, segURL, conn.logger, s.limiter)
	runner.SetPolicy(backoff.Policy{Base: s.cfg.Backoff.SegmentBase, Max: s.cfg.Backoff.SegmentMax})
	runner.OnMessage(func(ev events.NormalizedEvent) {
		s.sink.Message(ev)
	})
	runner.OnReplace(func(newURL string) {
		s.startSegment(ctx, conn, newURL)
	})
	runner.OnEnd(func() {
		conn.logger.Debug("niconico: segment ended", "uri", segURL)
	})

	go func() {
		defer func() {
			conn.mu.Lock()
			delete(conn.segments, segURL)
			conn.mu.Unlock()
		}()
		if err := runner.Run(segCtx); err != nil && segCtx.Err() == nil {
			conn.logger.Warn("niconico: segment runner failed", "uri", segURL, "error", err)
		}
	}()
}

func (s *Supervisor) runServiceT(ctx context.Context, conn *connection, channel string) {
	s.setStatus(conn, "connecting")
	client := servicet.NewClient(s.cfg.ServiceT.WebSocketURL, s.cfg.ServiceT.Nick, channel, conn.handle.ID, conn.logger, s.limiter)
	client.SetPolicy(backoff.Policy{Base: s.cfg.Backoff.SignalingBase, Max: s.cfg.Backoff.SignalingMax})
	client.OnMessage(func(ev events.NormalizedEvent) {
		s.sink.Message(ev)
	})

	s.setStatus(conn, "open")
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		s.fail(conn, fmt.Sprintf("%s: servicet client failed: %v", conn.handle.ID, err))
		return
	}
	s.finish(conn, "cancelled")
}

func (s *Supervisor) setStatus(conn *connection, status string) {
	s.mu.Lock()
	conn.handle.Status = status
	s.mu.Unlock()
	s.publishConnections()
}

// fail marks conn failed and tears down its entire subtree: cancelling
// conn.cancel() aborts the signaling socket, the view walker, and every
// segment runner still hanging off connCtx, per the cancellation model of
// spec §5 and the "terminated on … unrecoverable fetch error" / "disconnect
// → terminate connection" lifecycle rules of spec §3 and §4.4 point 4.
// Without this, a signaling `disconnect` or a walker failure only removes
// the handle from the map while the rest of the subtree keeps running.
func (s *Supervisor) fail(conn *connection, message string) {
	conn.cancel()
	s.mu.Lock()
	conn.handle.Status = "failed"
	s.mu.Unlock()
	s.emitStatus(message)
	s.publishConnections()
	s.remove(conn)
}

func (s *Supervisor) finish(conn *connection, status string) {
	s.mu.Lock()
	conn.handle.Status = status
	s.mu.Unlock()
	s.publishConnections()
	s.remove(conn)
}

func (s *Supervisor) remove(conn *connection) {
	s.mu.Lock()
	delete(s.connections, conn.handle.ID)
	s.mu.Unlock()
	s.publishConnections()
}

func (s *Supervisor) emitStatus(message string) {
	if s.sink != nil {
		s.sink.Status(events.StatusEvent{Global: message})
	}
}

func (s *Supervisor) publishConnections() {
	s.mu.Lock()
	snapshot := make([]events.ConnectionHandle, 0, len(s.connections))
	for _, conn := range s.connections {
		snapshot = append(snapshot, conn.handle)
	}
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Connections(events.ConnectionsSnapshot{Connections: snapshot})
	}
}

// DefaultNiconicoLandingURL renders a broadcast id into its live.nicovideo.jp
// landing page URL.
func DefaultNiconicoLandingURL(broadcastID string) string {
	u := url.URL{Scheme: "https", Host: "live.nicovideo.jp", Path: "/watch/" + broadcastID}
	return u.String()
}
