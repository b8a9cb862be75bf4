// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package niconico

import "testing"

// TestExtractSignalingURL_EmbeddedData is spec §8 end-to-end scenario 4.
func TestExtractSignalingURL_EmbeddedData(t *testing.T) {
	html := []byte(`<html><head><script id="embedded-data" data-props="{&quot;site&quot;:{&quot;relive&quot;:{&quot;watchServer&quot;:{&quot;url&quot;:&quot;wss://a.example/ws&quot;}}}}"></script></head></html>`)

	got, err := ExtractSignalingURL(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://a.example/ws" {
		t.Errorf("got %q, want wss://a.example/ws", got)
	}
}

func TestExtractSignalingURL_ProbeOrder(t *testing.T) {
	// Only the program.broadcast fallback path is present; relive and
	// program.watchServer are absent, so the decoder must fall through to
	// the fourth probe path.
	html := []byte(`<script id="embedded-data" data-props="{&quot;program&quot;:{&quot;broadcast&quot;:{&quot;watchServer&quot;:{&quot;url&quot;:&quot;wss://fourth.example/ws&quot;}}}}"></script>`)

	got, err := ExtractSignalingURL(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://fourth.example/ws" {
		t.Errorf("got %q, want wss://fourth.example/ws", got)
	}
}

func TestExtractSignalingURL_RegexFallback(t *testing.T) {
	html := []byte(`<html><body>no embedded data here, just a raw wss://fallback.example/path?x=1 in a comment</body></html>`)

	got, err := ExtractSignalingURL(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://fallback.example/path?x=1" {
		t.Errorf("got %q, want wss://fallback.example/path?x=1", got)
	}
}

func TestExtractSignalingURL_NotFound(t *testing.T) {
	html := []byte(`<html><body>nothing useful</body></html>`)
	if _, err := ExtractSignalingURL(html); err != ErrSignalingURLNotFound {
		t.Fatalf("got %v, want ErrSignalingURLNotFound", err)
	}
}

func TestDecodeHTMLEntities(t *testing.T) {
	cases := map[string]string{
		"&amp;&lt;&gt;&quot;&apos;&nbsp;": "&<>\"' ",
		"&#65;&#66;&#67;":                 "ABC",
		"&#x41;&#x42;":                    "AB",
	}
	for in, want := range cases {
		if got := decodeHTMLEntities(in); got != want {
			t.Errorf("decodeHTMLEntities(%q) = %q, want %q", in, got, want)
		}
	}
}
