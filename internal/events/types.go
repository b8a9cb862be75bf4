// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events defines the wire-independent data model shared across the
// Service-T and Service-N ingestion paths and the outbound event stream
// consumed by the UI host.
package events

import "fmt"

// Source identifies which upstream chat service produced an event.
type Source string

const (
	SourceServiceT Source = "servicet"
	SourceServiceN Source = "niconico"
)

// ConnectionKind mirrors Source but is used on ConnectionHandle, where the
// vocabulary is about the kind of connection rather than the origin of a
// single message.
type ConnectionKind = Source

// ConnectionHandle is the Supervisor's view of one live or terminated
// connection. Mutated only by the Supervisor.
type ConnectionHandle struct {
	ID     string         `json:"id"`
	Kind   ConnectionKind `json:"kind"`
	Label  string         `json:"label"`
	Status string         `json:"status"`
}

// HandleID builds the canonical "<kind>:<natural-key>" unique id.
func HandleID(kind ConnectionKind, naturalKey string) string {
	return fmt.Sprintf("%s:%s", kind, naturalKey)
}

// ChatMessage is the Service-N payload shape decoded from a ChunkedMessage's
// Chat field (spec §3). Only Content is required downstream; the rest are
// carried for parity with what the wire actually sends.
type ChatMessage struct {
	RoomName  string
	ThreadID  BigInt
	No        BigInt
	Vpos      BigInt
	Content   string
	UserID    string
	Name      string
	Mail      string
	Anonymous bool
}

// EmoteRange is a [start, end) UTF-16 code unit range within NormalizedEvent.Text
// where a given emote is rendered.
type EmoteRange struct {
	Start int
	End   int
}

// NormalizedEvent is the single message shape emitted on the outbound event
// stream regardless of source.
type NormalizedEvent struct {
	ConnectionID string                  `json:"connectionId"`
	Source       Source                  `json:"source"`
	User         string                  `json:"user"`
	Text         string                  `json:"text"`
	Badges       map[string]string       `json:"badges,omitempty"`
	Emotes       map[string][]EmoteRange `json:"emotes,omitempty"`
}

// StatusEvent is a transient, human-readable status line surfaced to the host.
type StatusEvent struct {
	Global string `json:"global"`
}

// ConnectionsSnapshot is a full snapshot of live handles, sent after any
// change to the Supervisor's connection set.
type ConnectionsSnapshot struct {
	Connections []ConnectionHandle `json:"connections"`
}
