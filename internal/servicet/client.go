// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package servicet adapts a conventional IRC-over-WebSocket chat service
// into the normalized event model. It is a thin external collaborator: its
// only contract with the core is an event callback (spec §1, §4's Service-T
// mention, §6).
package servicet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/gatsunoko/komebyu/internal/backoff"
	"github.com/gatsunoko/komebyu/internal/events"
)

// Client owns the IRC-over-WebSocket connection for one Service-T channel.
type Client struct {
	websocketURL string
	nick         string
	channel      string
	connectionID string
	logger       *slog.Logger
	limiter      *backoff.AttemptLimiter
	policy       backoff.Policy

	onMessage func(events.NormalizedEvent)
}

// NewClient builds a Service-T client for the given channel name. channel is
// expected already normalized by the caller (lowercased, stripped of '#' and
// any service prefix — spec §6). It reconnects with the same backoff shape
// as the Service-N Signaling Session by default; use SetPolicy to override.
func NewClient(websocketURL, nick, channel, connectionID string, logger *slog.Logger, limiter *backoff.AttemptLimiter) *Client {
	return &Client{
		websocketURL: websocketURL,
		nick:         nick,
		channel:      channel,
		connectionID: connectionID,
		logger:       logger,
		limiter:      limiter,
		policy:       backoff.Signaling,
	}
}

// SetPolicy overrides the reconnect backoff policy, letting the Supervisor
// apply a config.BackoffConfig value (spec §5).
func (c *Client) SetPolicy(policy backoff.Policy) { c.policy = policy }

// OnMessage registers the callback invoked for every normalized chat event.
func (c *Client) OnMessage(fn func(events.NormalizedEvent)) { c.onMessage = fn }

// Run dials and maintains the IRC connection until ctx is cancelled,
// reconnecting with exponential backoff on close, the same shape as the
// Service-N Signaling Session.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.New(c.policy)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := bo.Next()
		if c.logger != nil {
			c.logger.Warn("servicet: connection closed, reconnecting", "channel", c.channel, "delay", delay, "error", err)
		}
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if serr := backoff.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.login(conn); err != nil {
		return err
	}

	msgCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- string(data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case raw := <-msgCh:
			for _, line := range strings.Split(strings.TrimRight(raw, "\r\n"), "\r\n") {
				if line == "" {
					continue
				}
				c.handleLine(conn, line)
			}
		}
	}
}

func (c *Client) login(conn *websocket.Conn) error {
	pass := fmt.Sprintf("PASS oauth:%s\r\n", c.nick)
	nick := fmt.Sprintf("NICK %s\r\n", c.nick)
	join := fmt.Sprintf("JOIN #%s\r\n", c.channel)
	capReq := "CAP REQ :twitch.tv/tags twitch.tv/commands\r\n"
	for _, cmd := range []string{capReq, pass, nick, join} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleLine(conn *websocket.Conn, line string) {
	if strings.HasPrefix(line, "PING") {
		reply := "PONG" + strings.TrimPrefix(line, "PING")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply+"\r\n"))
		return
	}

	tags, rest := splitIRCv3Tags(line)
	if !strings.Contains(rest, "PRIVMSG") {
		return
	}

	user, text, ok := parsePrivmsg(rest)
	if !ok {
		return
	}
	if c.onMessage == nil {
		return
	}
	c.onMessage(events.NormalizedEvent{
		ConnectionID: c.connectionID,
		Source:       events.SourceServiceT,
		User:         displayName(tags, user),
		Text:         text,
		Badges:       parseBadges(tags),
		Emotes:       parseEmotes(tags, text),
	})
}

// splitIRCv3Tags splits a leading "@k=v;k=v ..." tag block off an IRC line,
// returning the parsed tag map and the remainder of the line.
func splitIRCv3Tags(line string) (map[string]string, string) {
	if !strings.HasPrefix(line, "@") {
		return nil, line
	}
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return nil, line
	}
	tagBlock := line[1:sp]
	rest := line[sp+1:]

	tags := make(map[string]string)
	for _, pair := range strings.Split(tagBlock, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		tags[kv[0]] = unescapeTagValue(kv[1])
	}
	return tags, rest
}

func unescapeTagValue(v string) string {
	replacer := strings.NewReplacer(`\s`, " ", `\:`, ";", `\\`, `\`, `\r`, "\r", `\n`, "\n")
	return replacer.Replace(v)
}

// parsePrivmsg extracts the sending user's nick and the message text from
// ":nick!user@host PRIVMSG #channel :text".
func parsePrivmsg(rest string) (user, text string, ok bool) {
	if !strings.HasPrefix(rest, ":") {
		return "", "", false
	}
	excl := strings.IndexByte(rest, '!')
	if excl < 0 {
		return "", "", false
	}
	user = rest[1:excl]

	colonIdx := strings.Index(rest, " :")
	if colonIdx < 0 {
		return "", "", false
	}
	text = rest[colonIdx+2:]
	return user, text, true
}

func displayName(tags map[string]string, fallback string) string {
	if dn, ok := tags["display-name"]; ok && dn != "" {
		return dn
	}
	return fallback
}

// parseBadges decodes the "badges" IRCv3 tag, formatted "name1/v1,name2/v2".
func parseBadges(tags map[string]string) map[string]string {
	raw, ok := tags["badges"]
	if !ok || raw == "" {
		return nil
	}
	badges := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "/", 2)
		if len(kv) != 2 {
			continue
		}
		badges[kv[0]] = kv[1]
	}
	if len(badges) == 0 {
		return nil
	}
	return badges
}

// parseEmotes decodes the "emotes" IRCv3 tag, formatted
// "emoteId:start-end,start-end/emoteId:start-end", into UTF-16 code unit
// ranges over text, matching the wire convention Service-T uses.
func parseEmotes(tags map[string]string, text string) map[string][]events.EmoteRange {
	raw, ok := tags["emotes"]
	if !ok || raw == "" {
		return nil
	}
	result := make(map[string][]events.EmoteRange)
	for _, entry := range strings.Split(raw, "/") {
		kv := strings.SplitN(entry, ":", 2)
		if len(kv) != 2 {
			continue
		}
		id := kv[0]
		var ranges []events.EmoteRange
		for _, span := range strings.Split(kv[1], ",") {
			bounds := strings.SplitN(span, "-", 2)
			if len(bounds) != 2 {
				continue
			}
			start, err1 := strconv.Atoi(bounds[0])
			end, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				continue
			}
			ranges = append(ranges, events.EmoteRange{Start: start, End: end + 1})
		}
		if len(ranges) > 0 {
			result[id] = ranges
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
