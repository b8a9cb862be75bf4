// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package servicet

import (
	"reflect"
	"testing"

	"github.com/gatsunoko/komebyu/internal/events"
)

func TestSplitIRCv3Tags(t *testing.T) {
	line := `@badge-info=;badges=moderator/1;display-name=SomeUser :someuser!someuser@someuser.tmi.example PRIVMSG #channel :hello there`
	tags, rest := splitIRCv3Tags(line)

	if tags["display-name"] != "SomeUser" {
		t.Errorf("got display-name=%q, want SomeUser", tags["display-name"])
	}
	if tags["badges"] != "moderator/1" {
		t.Errorf("got badges=%q, want moderator/1", tags["badges"])
	}
	if rest != `:someuser!someuser@someuser.tmi.example PRIVMSG #channel :hello there` {
		t.Errorf("got rest=%q", rest)
	}
}

func TestSplitIRCv3Tags_NoTags(t *testing.T) {
	line := `:someuser!someuser@someuser.tmi.example PRIVMSG #channel :hi`
	tags, rest := splitIRCv3Tags(line)
	if tags != nil {
		t.Errorf("expected nil tags, got %v", tags)
	}
	if rest != line {
		t.Errorf("got %q, want unchanged line", rest)
	}
}

func TestParsePrivmsg(t *testing.T) {
	rest := `:someuser!someuser@someuser.tmi.example PRIVMSG #channel :hello there`
	user, text, ok := parsePrivmsg(rest)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if user != "someuser" {
		t.Errorf("got user=%q, want someuser", user)
	}
	if text != "hello there" {
		t.Errorf("got text=%q, want 'hello there'", text)
	}
}

func TestParseBadges(t *testing.T) {
	tags := map[string]string{"badges": "broadcaster/1,subscriber/12"}
	got := parseBadges(tags)
	want := map[string]string{"broadcaster": "1", "subscriber": "12"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseBadges_Empty(t *testing.T) {
	if got := parseBadges(map[string]string{}); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestParseEmotes(t *testing.T) {
	tags := map[string]string{"emotes": "25:0-4,6-10/1902:12-16"}
	got := parseEmotes(tags, "Kappa Kappa Other")
	want := map[string][]events.EmoteRange{
		"25":   {{Start: 0, End: 5}, {Start: 6, End: 11}},
		"1902": {{Start: 12, End: 17}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseEmotes_Absent(t *testing.T) {
	if got := parseEmotes(map[string]string{}, "text"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestUnescapeTagValue(t *testing.T) {
	cases := map[string]string{
		`hello\sworld`: "hello world",
		`a\:b`:         "a;b",
		`a\\b`:         `a\b`,
	}
	for in, want := range cases {
		if got := unescapeTagValue(in); got != want {
			t.Errorf("unescapeTagValue(%q) = %q, want %q", in, got, want)
		}
	}
}
