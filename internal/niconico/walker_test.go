// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package niconico

import (
	"net/http"
	"testing"

	"github.com/gatsunoko/komebyu/internal/events"
)

// TestNormalizeCursor covers spec §4.5's millisecond/seconds disambiguation
// and §8's testable property on at values.
func TestNormalizeCursor(t *testing.T) {
	cases := []struct {
		name string
		in   int64
		want string
	}{
		{"plain seconds", 1700000000, "1700000000"},
		{"milliseconds boundary", 1_000_000_000_000, "1000000000"},
		{"milliseconds well above boundary", 1_765_874_687_000, "1765874687"},
		{"seconds just under boundary", 999_999_999_999, "999999999999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeCursor(events.NewBigInt(tc.in))
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWalker_BuildRequestURL(t *testing.T) {
	w := NewWalker(&http.Client{}, "komebyu/1.0", "https://mpn.live.nicovideo.jp/api/view/v4/abc", nil, nil)
	u, err := w.buildRequestURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != "https://mpn.live.nicovideo.jp/api/view/v4/abc?at=now" {
		t.Errorf("got %q, want at=now appended", u)
	}

	w.cursor = "1700000000"
	u, err = w.buildRequestURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != "https://mpn.live.nicovideo.jp/api/view/v4/abc?at=1700000000" {
		t.Errorf("got %q, want updated cursor", u)
	}
}

func TestApplyCursorParams(t *testing.T) {
	got := applyCursorParams("https://mpn.live.nicovideo.jp/data/seg/v4/x", "1700000000")
	if got != "https://mpn.live.nicovideo.jp/data/seg/v4/x?at=1700000000" {
		t.Errorf("got %q", got)
	}

	got = applyCursorParams("https://mpn.live.nicovideo.jp/data/seg/v4/x", nowCursor)
	if got != "https://mpn.live.nicovideo.jp/data/seg/v4/x?at=now" {
		t.Errorf("got %q", got)
	}
}
