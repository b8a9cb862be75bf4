// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command komebyu runs the chat aggregation core as a standalone process,
// reading connect/disconnect commands as newline-delimited JSON on stdin and
// writing status/message/connections events as newline-delimited JSON on
// stdout. This stands in for the UI host, which spec §1 treats as an
// external collaborator out of this module's scope.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gatsunoko/komebyu/internal/config"
	"github.com/gatsunoko/komebyu/internal/events"
	"github.com/gatsunoko/komebyu/internal/logging"
	"github.com/gatsunoko/komebyu/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "komebyu: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := &stdoutSink{encoder: json.NewEncoder(os.Stdout)}
	sup := supervisor.New(cfg, logger, sink, supervisor.DefaultNiconicoLandingURL)

	logger.Info("komebyu started")
	runCommandLoop(ctx, sup, logger)
}

// commandLine mirrors the inbound user surface of spec §6: a connect with
// input text, or a disconnect naming an optional handle id.
type commandLine struct {
	Command string `json:"command"`
	Input   string `json:"input,omitempty"`
	ID      string `json:"id,omitempty"`
}

func runCommandLoop(ctx context.Context, sup *supervisor.Supervisor, logger interface {
	Warn(msg string, args ...any)
}) {
	scanner := bufio.NewScanner(os.Stdin)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var cmd commandLine
			if err := json.Unmarshal(line, &cmd); err != nil {
				logger.Warn("komebyu: dropping unparseable command", "error", err)
				continue
			}
			switch cmd.Command {
			case "connect":
				sup.Connect(ctx, cmd.Input)
			case "disconnect":
				sup.Disconnect(cmd.ID)
			default:
				logger.Warn("komebyu: unknown command", "command", cmd.Command)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// stdoutSink implements supervisor.EventSink by writing each event as one
// JSON line on stdout, serialized so concurrent emitters never interleave.
type stdoutSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (s *stdoutSink) Status(ev events.StatusEvent) {
	s.emit("status", ev)
}

func (s *stdoutSink) Message(ev events.NormalizedEvent) {
	s.emit("message", ev)
}

func (s *stdoutSink) Connections(ev events.ConnectionsSnapshot) {
	s.emit("connections", ev)
}

func (s *stdoutSink) emit(kind string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.encoder.Encode(map[string]any{"type": kind, "data": payload})
}
