// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/base64"
	"regexp"
	"unicode/utf8"

	"github.com/gatsunoko/komebyu/internal/events"
)

// urlPattern is the leading-bytes test used to tell a bare URL string apart
// from a nested message sharing the same length-delimited wire type.
var urlPattern = regexp.MustCompile(`^https?://`)

// OpaqueCursor is the result of readOpaqueCursor: a cursor that is either
// valid UTF-8 text, or raw bytes preserved alongside their base64 form.
type OpaqueCursor struct {
	Text     string
	IsText   bool
	Base64   string
	RawBytes []byte
}

// ReadOpaqueCursor implements the flexible opaque-cursor reader from spec
// §4.2: UTF-8 bytes are treated as a text cursor; anything else is
// base64-encoded with the raw bytes preserved in a parallel field.
func ReadOpaqueCursor(b []byte) OpaqueCursor {
	if utf8.Valid(b) {
		return OpaqueCursor{Text: string(b), IsText: true}
	}
	raw := append([]byte(nil), b...)
	return OpaqueCursor{Base64: base64.StdEncoding.EncodeToString(raw), RawBytes: raw}
}

// readInt64Field implements the three-variant tolerant integer reader:
// raw varint, fixed64, or a nested Int64Value{1: int} wrapper.
func readInt64Field(c *Cursor, wt WireType) (events.BigInt, error) {
	switch wt {
	case WireVarint:
		v, err := c.ReadVarUint64()
		if err != nil {
			return events.BigInt{}, err
		}
		return events.NewBigIntFromUint64(v), nil
	case WireFixed64:
		v, err := c.ReadFixed64()
		if err != nil {
			return events.BigInt{}, err
		}
		return events.NewBigIntFromUint64(v), nil
	case WireLengthDelimited:
		nested, err := c.ReadLengthDelimited()
		if err != nil {
			return events.BigInt{}, err
		}
		return decodeInt64Wrapper(nested)
	default:
		return events.BigInt{}, ErrUnsupportedWire
	}
}

// decodeInt64Wrapper decodes a nested message expected to carry a single
// field #1 holding the wrapped integer (Int64Value), tolerating either
// varint or fixed64 encoding of that inner field.
func decodeInt64Wrapper(buf []byte) (events.BigInt, error) {
	nc := NewCursor(buf)
	for !nc.Done() {
		fn, fwt, err := nc.Tag()
		if err != nil {
			return events.BigInt{}, err
		}
		if fn == 1 {
			switch fwt {
			case WireVarint:
				v, err := nc.ReadVarUint64()
				if err != nil {
					return events.BigInt{}, err
				}
				return events.NewBigIntFromUint64(v), nil
			case WireFixed64:
				v, err := nc.ReadFixed64()
				if err != nil {
					return events.BigInt{}, err
				}
				return events.NewBigIntFromUint64(v), nil
			default:
				if err := nc.Skip(fwt); err != nil {
					return events.BigInt{}, err
				}
			}
			continue
		}
		if err := nc.Skip(fwt); err != nil {
			return events.BigInt{}, err
		}
	}
	return events.BigInt{}, ErrTruncated
}

// readStringFlexible implements the tolerant string reader: a wrapped
// StringValue{1: string}, a plain UTF-8 byte run, or null when neither
// applies.
func readStringFlexible(c *Cursor, wt WireType) (value string, ok bool, err error) {
	if wt != WireLengthDelimited {
		if skipErr := c.Skip(wt); skipErr != nil {
			return "", false, skipErr
		}
		return "", false, nil
	}
	b, err := c.ReadLengthDelimited()
	if err != nil {
		return "", false, err
	}
	if s, wrapped := tryStringValueWrapper(b); wrapped {
		return s, true, nil
	}
	if utf8.Valid(b) {
		return string(b), true, nil
	}
	return "", false, nil
}

// tryStringValueWrapper attempts to decode buf as a nested message with a
// single field #1 holding the string, consuming the entire buffer exactly.
func tryStringValueWrapper(buf []byte) (string, bool) {
	nc := NewCursor(buf)
	fn, fwt, err := nc.Tag()
	if err != nil || fn != 1 || fwt != WireLengthDelimited {
		return "", false
	}
	inner, err := nc.ReadLengthDelimited()
	if err != nil || !nc.Done() {
		return "", false
	}
	if !utf8.Valid(inner) {
		return "", false
	}
	return string(inner), true
}

// ViewSegment is the Segment variant of a ViewEntry: a chat-bearing segment
// endpoint plus the time range it covers.
type ViewSegment struct {
	URI   string
	From  *events.BigInt
	Until *events.BigInt
}

// Next instructs the View Walker to continue polling at a new cursor and,
// optionally, a new view endpoint.
type Next struct {
	At     events.BigInt
	Cursor *OpaqueCursor
	URI    *string
}

// Previous carries historical-backfill information. Decoded and exposed,
// never acted on by the forward-only Walker (spec §3, §9(b)).
type Previous struct {
	At     events.BigInt
	Cursor *OpaqueCursor
	URI    *string
}

// Reconnect instructs the reader to migrate: the Walker reinterprets At as
// a new cursor, the Segment Runner reinterprets StreamURL as a new target.
type Reconnect struct {
	At        events.BigInt
	StreamURL *string
	Cursor    *OpaqueCursor
}

// ViewEntry is the tagged union described in spec §3. Exactly one non-nil
// field (or one of the two bool flags) is expected to be set per entry,
// though the decoder never enforces that — it merely reports whatever
// fields were present.
type ViewEntry struct {
	Segment   *ViewSegment
	Next      *Next
	Previous  *Previous
	Reconnect *Reconnect
	Ping      bool
	History   bool

	// AmbiguousBoth records that both a bare URL string and a decodable
	// nested message were observed for the same field (spec §9 open
	// question (a)); diagnostic only.
	AmbiguousBoth bool
}

// decodeViewSegment decodes a Segment message: field 1 = uri (string or
// StringValue), field 2 = from (int64, tolerant), field 3 = until (int64).
func decodeViewSegment(buf []byte) (*ViewSegment, error) {
	c := NewCursor(buf)
	seg := &ViewSegment{}
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return nil, err
		}
		switch fn {
		case 1:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				seg.URI = s
			}
		case 2:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			seg.From = &v
		case 3:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			seg.Until = &v
		default:
			if err := c.Skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return seg, nil
}

// decodeNextOrPrevious decodes the shared Next/Previous layout: field 1 =
// at, field 2 = cursor (opaque bytes), field 3 = uri.
func decodeNextOrPrevious(buf []byte) (at events.BigInt, cursor *OpaqueCursor, uri *string, err error) {
	c := NewCursor(buf)
	for !c.Done() {
		fn, wt, terr := c.Tag()
		if terr != nil {
			return at, cursor, uri, terr
		}
		switch fn {
		case 1:
			v, verr := readInt64Field(c, wt)
			if verr != nil {
				return at, cursor, uri, verr
			}
			at = v
		case 2:
			b, berr := c.ReadLengthDelimited()
			if berr != nil {
				return at, cursor, uri, berr
			}
			oc := ReadOpaqueCursor(b)
			cursor = &oc
		case 3:
			s, ok, serr := readStringFlexible(c, wt)
			if serr != nil {
				return at, cursor, uri, serr
			}
			if ok {
				uri = &s
			}
		default:
			if serr := c.Skip(wt); serr != nil {
				return at, cursor, uri, serr
			}
		}
	}
	return at, cursor, uri, nil
}

// decodeReconnect decodes Reconnect: field 1 = at, field 2 = streamUrl,
// field 3 = cursor.
func decodeReconnect(buf []byte) (*Reconnect, error) {
	c := NewCursor(buf)
	r := &Reconnect{}
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return nil, err
		}
		switch fn {
		case 1:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			r.At = v
		case 2:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				r.StreamURL = &s
			}
		case 3:
			b, err := c.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			oc := ReadOpaqueCursor(b)
			r.Cursor = &oc
		default:
			if err := c.Skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// decodeViewEntry decodes a single ViewEntry message. Fields #2 and #3
// (Next, Previous) may be encoded as a bare URL string instead of a nested
// message at some server revisions; the decoder tries the string path
// first and falls back to nested-message decoding when the bytes do not
// match the URL pattern (spec §4.2, §9(a)).
func decodeViewEntry(buf []byte) (ViewEntry, error) {
	c := NewCursor(buf)
	var e ViewEntry
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return e, err
		}
		switch fn {
		case 1:
			b, err := fieldBytes(c, wt)
			if err != nil {
				return e, err
			}
			seg, err := decodeViewSegment(b)
			if err != nil {
				return e, err
			}
			e.Segment = seg
		case 2:
			n, err := decodeBareOrNested(c, wt, &e)
			if err != nil {
				return e, err
			}
			e.Next = n
		case 3:
			p, err := decodeBareOrNestedPrevious(c, wt, &e)
			if err != nil {
				return e, err
			}
			e.Previous = p
		case 4:
			b, err := fieldBytes(c, wt)
			if err != nil {
				return e, err
			}
			r, err := decodeReconnect(b)
			if err != nil {
				return e, err
			}
			e.Reconnect = r
		case 5:
			if err := c.Skip(wt); err != nil {
				return e, err
			}
			e.Ping = true
		case 6:
			if err := c.Skip(wt); err != nil {
				return e, err
			}
			e.History = true
		default:
			if err := c.Skip(wt); err != nil {
				return e, err
			}
		}
	}
	return e, nil
}

// fieldBytes reads the raw length-delimited payload for a field, regardless
// of whether it later turns out to be a nested message or a bare string.
func fieldBytes(c *Cursor, wt WireType) ([]byte, error) {
	if wt != WireLengthDelimited {
		return nil, c.Skip(wt)
	}
	return c.ReadLengthDelimited()
}

// decodeBareOrNested handles entry field #2 (Next): bare URL string first,
// nested Next message as fallback.
func decodeBareOrNested(c *Cursor, wt WireType, e *ViewEntry) (*Next, error) {
	b, err := fieldBytes(c, wt)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(b) && urlPattern.Match(b) {
		s := string(b)
		n := &Next{URI: &s}
		if _, nestedErr := decodeCheckNested(b); nestedErr == nil {
			e.AmbiguousBoth = true
		}
		return n, nil
	}
	at, cursor, uri, err := decodeNextOrPrevious(b)
	if err != nil {
		return nil, err
	}
	return &Next{At: at, Cursor: cursor, URI: uri}, nil
}

// decodeBareOrNestedPrevious handles entry field #3 (Previous) with the
// same bare-string-first strategy.
func decodeBareOrNestedPrevious(c *Cursor, wt WireType, e *ViewEntry) (*Previous, error) {
	b, err := fieldBytes(c, wt)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(b) && urlPattern.Match(b) {
		s := string(b)
		p := &Previous{URI: &s}
		if _, nestedErr := decodeCheckNested(b); nestedErr == nil {
			e.AmbiguousBoth = true
		}
		return p, nil
	}
	at, cursor, uri, err := decodeNextOrPrevious(b)
	if err != nil {
		return nil, err
	}
	return &Previous{At: at, Cursor: cursor, URI: uri}, nil
}

// decodeCheckNested is a best-effort probe used only to detect the open
// question in spec §9(a): whether a bare-URL-shaped field also parses as a
// well-formed Next/Previous message. It never affects the returned value.
func decodeCheckNested(b []byte) (at events.BigInt, err error) {
	at, _, _, err = decodeNextOrPrevious(b)
	return at, err
}

// ChunkedEntry is the envelope carrying repeated ViewEntry values under
// field numbers #1 and #2 (both observed in traffic and both treated as
// entries, per spec §4.2).
type ChunkedEntry struct {
	Entries []ViewEntry
}

func decodeChunkedEntry(buf []byte) (ChunkedEntry, error) {
	c := NewCursor(buf)
	var ce ChunkedEntry
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return ce, err
		}
		if (fn == 1 || fn == 2) && wt == WireLengthDelimited {
			b, err := c.ReadLengthDelimited()
			if err != nil {
				return ce, err
			}
			entry, err := decodeViewEntry(b)
			if err != nil {
				return ce, err
			}
			ce.Entries = append(ce.Entries, entry)
			continue
		}
		if err := c.Skip(wt); err != nil {
			return ce, err
		}
	}
	return ce, nil
}

// DecodeViewFrame implements the view-payload heuristic: peek the first
// tag, and if its field number is 1 or 2 with wire type 2, decode as a
// ChunkedEntry; otherwise decode as a single ViewEntry. An empty buffer
// yields an empty entry list.
func DecodeViewFrame(buf []byte) ([]ViewEntry, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	peek := NewCursor(buf)
	fn, wt, err := peek.Tag()
	if err != nil {
		return nil, err
	}
	if (fn == 1 || fn == 2) && wt == WireLengthDelimited {
		ce, err := decodeChunkedEntry(buf)
		if err != nil {
			return nil, err
		}
		return ce.Entries, nil
	}
	entry, err := decodeViewEntry(buf)
	if err != nil {
		return nil, err
	}
	return []ViewEntry{entry}, nil
}

// Chat is the decoded payload of ChunkedMessage.Message.Chat (spec §3,
// §4.2). Fields 1..9 map 1:1 onto events.ChatMessage.
type Chat struct {
	RoomName  string
	ThreadID  events.BigInt
	No        events.BigInt
	Vpos      events.BigInt
	Content   string
	UserID    string
	Name      string
	Mail      string
	Anonymous bool
}

// Statistics is decoded but carries no fields the core cares about; it is
// ignored downstream (spec §4.6) and kept only so the decoder has
// somewhere to route field #3.
type Statistics struct{}

func decodeChat(buf []byte) (*Chat, error) {
	c := NewCursor(buf)
	chat := &Chat{}
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return nil, err
		}
		switch fn {
		case 1:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				chat.RoomName = s
			}
		case 2:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			chat.ThreadID = v
		case 3:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			chat.No = v
		case 4:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			chat.Vpos = v
		case 5:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				chat.Content = s
			}
		case 6:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				chat.UserID = s
			}
		case 7:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				chat.Name = s
			}
		case 8:
			s, ok, err := readStringFlexible(c, wt)
			if err != nil {
				return nil, err
			}
			if ok {
				chat.Mail = s
			}
		case 9:
			v, err := readInt64Field(c, wt)
			if err != nil {
				return nil, err
			}
			chat.Anonymous = v.Num != 0
		default:
			if err := c.Skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return chat, nil
}

// SegmentMessage is one element of a ChunkedMessage's repeated field #1:
// exactly one of Chat, Reconnect, Statistics, Ping, or End is set.
type SegmentMessage struct {
	Chat       *Chat
	Reconnect  *Reconnect
	Statistics *Statistics
	Ping       bool
	End        bool
}

func decodeSegmentMessage(buf []byte) (SegmentMessage, error) {
	c := NewCursor(buf)
	var m SegmentMessage
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return m, err
		}
		switch fn {
		case 1:
			b, err := fieldBytes(c, wt)
			if err != nil {
				return m, err
			}
			chat, err := decodeChat(b)
			if err != nil {
				return m, err
			}
			m.Chat = chat
		case 2:
			b, err := fieldBytes(c, wt)
			if err != nil {
				return m, err
			}
			r, err := decodeReconnect(b)
			if err != nil {
				return m, err
			}
			m.Reconnect = r
		case 3:
			if err := c.Skip(wt); err != nil {
				return m, err
			}
			m.Statistics = &Statistics{}
		case 4:
			if err := c.Skip(wt); err != nil {
				return m, err
			}
			m.Ping = true
		case 5:
			if err := c.Skip(wt); err != nil {
				return m, err
			}
			m.End = true
		default:
			if err := c.Skip(wt); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

// DecodeChunkedMessage decodes the envelope carrying a repeated Message
// under field #1, the wire shape sent by segment endpoints.
func DecodeChunkedMessage(buf []byte) ([]SegmentMessage, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	c := NewCursor(buf)
	var messages []SegmentMessage
	for !c.Done() {
		fn, wt, err := c.Tag()
		if err != nil {
			return messages, err
		}
		if fn == 1 && wt == WireLengthDelimited {
			b, err := c.ReadLengthDelimited()
			if err != nil {
				return messages, err
			}
			m, err := decodeSegmentMessage(b)
			if err != nil {
				return messages, err
			}
			messages = append(messages, m)
			continue
		}
		if err := c.Skip(wt); err != nil {
			return messages, err
		}
	}
	return messages, nil
}

// ToChatMessage adapts a decoded Chat into the public events.ChatMessage
// shape.
func (c *Chat) ToChatMessage() events.ChatMessage {
	return events.ChatMessage{
		RoomName:  c.RoomName,
		ThreadID:  c.ThreadID,
		No:        c.No,
		Vpos:      c.Vpos,
		Content:   c.Content,
		UserID:    c.UserID,
		Name:      c.Name,
		Mail:      c.Mail,
		Anonymous: c.Anonymous,
	}
}
