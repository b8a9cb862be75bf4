// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the komebyu process configuration from a YAML file,
// following the same load-then-default-then-validate shape the teacher
// repository uses for its agent and server configs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	HTTP     HTTPConfig     `yaml:"http"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Niconico NiconicoConfig `yaml:"niconico"`
	ServiceT ServiceTConfig `yaml:"servicet"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default "info"
	Format string `yaml:"format"` // json|text, default "json"
	File   string `yaml:"file"`   // optional extra output file
}

// HTTPConfig controls outbound HTTP behavior toward Service-N endpoints.
type HTTPConfig struct {
	UserAgent string `yaml:"user_agent"`
}

// BackoffConfig overrides the default reconnect backoff bounds from spec
// §5. Any zero duration falls back to the compiled-in default.
type BackoffConfig struct {
	SignalingBase time.Duration `yaml:"signaling_base"`
	SignalingMax  time.Duration `yaml:"signaling_max"`
	ViewBase      time.Duration `yaml:"view_base"`
	ViewMax       time.Duration `yaml:"view_max"`
	SegmentBase   time.Duration `yaml:"segment_base"`
	SegmentMax    time.Duration `yaml:"segment_max"`

	// MaxAttemptsPerSecond bounds the aggregate reconnect-attempt rate
	// across every connection in the process (internal/backoff.AttemptLimiter).
	// 0 disables the limiter.
	MaxAttemptsPerSecond float64 `yaml:"max_attempts_per_second"`
	AttemptBurst         int     `yaml:"attempt_burst"`
}

// NiconicoConfig configures the Service-N start-watching defaults sent on
// the signaling socket (spec §4.4 point 1).
type NiconicoConfig struct {
	Quality      string `yaml:"quality"`
	Protocol     string `yaml:"protocol"`
	Latency      string `yaml:"latency"`
	ChasePlay    bool   `yaml:"chase_play"`
	RoomProtocol string `yaml:"room_protocol"`
	Commentable  bool   `yaml:"commentable"`
}

// ServiceTConfig configures the IRC-over-WebSocket adapter.
type ServiceTConfig struct {
	WebSocketURL string `yaml:"websocket_url"`
	Nick         string `yaml:"nick"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		HTTP:    HTTPConfig{UserAgent: "komebyu/1.0 (+https://github.com/)"},
		Backoff: BackoffConfig{
			SignalingBase: 1 * time.Second,
			SignalingMax:  16 * time.Second,
			ViewBase:      1 * time.Second,
			ViewMax:       16 * time.Second,
			SegmentBase:   1 * time.Second,
			SegmentMax:    30 * time.Second,
		},
		Niconico: NiconicoConfig{
			Quality:      "abr",
			Protocol:     "hls",
			Latency:      "high",
			ChasePlay:    false,
			RoomProtocol: "webSocket",
			Commentable:  true,
		},
		ServiceT: ServiceTConfig{
			WebSocketURL: "wss://irc-ws.servicet.example/",
			Nick:         "justinfan0",
		},
	}
}

// Load reads and parses a YAML config file at path, applying defaults for
// any field left unset and validating the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = def.HTTP.UserAgent
	}
	if cfg.Backoff.SignalingBase == 0 {
		cfg.Backoff.SignalingBase = def.Backoff.SignalingBase
	}
	if cfg.Backoff.SignalingMax == 0 {
		cfg.Backoff.SignalingMax = def.Backoff.SignalingMax
	}
	if cfg.Backoff.ViewBase == 0 {
		cfg.Backoff.ViewBase = def.Backoff.ViewBase
	}
	if cfg.Backoff.ViewMax == 0 {
		cfg.Backoff.ViewMax = def.Backoff.ViewMax
	}
	if cfg.Backoff.SegmentBase == 0 {
		cfg.Backoff.SegmentBase = def.Backoff.SegmentBase
	}
	if cfg.Backoff.SegmentMax == 0 {
		cfg.Backoff.SegmentMax = def.Backoff.SegmentMax
	}
	if cfg.Niconico.Quality == "" {
		cfg.Niconico.Quality = def.Niconico.Quality
	}
	if cfg.Niconico.Protocol == "" {
		cfg.Niconico.Protocol = def.Niconico.Protocol
	}
	if cfg.Niconico.Latency == "" {
		cfg.Niconico.Latency = def.Niconico.Latency
	}
	if cfg.Niconico.RoomProtocol == "" {
		cfg.Niconico.RoomProtocol = def.Niconico.RoomProtocol
	}
}

// Validate rejects nonsensical backoff bounds (max < base).
func (c *Config) Validate() error {
	if c.Backoff.SignalingMax < c.Backoff.SignalingBase {
		return fmt.Errorf("backoff.signaling_max must be >= signaling_base")
	}
	if c.Backoff.ViewMax < c.Backoff.ViewBase {
		return fmt.Errorf("backoff.view_max must be >= view_base")
	}
	if c.Backoff.SegmentMax < c.Backoff.SegmentBase {
		return fmt.Errorf("backoff.segment_max must be >= segment_base")
	}
	return nil
}
