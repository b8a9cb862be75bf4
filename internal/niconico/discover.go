// Copyright (c) 2025 gatsunoko. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package niconico

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
)

// DefaultUserAgent is sent on every landing-page and stream request (spec §6).
const DefaultUserAgent = "komebyu/1.0 (+https://github.com/)"

var (
	embeddedDataPattern = regexp.MustCompile(`(?s)<script\s+id="embedded-data"[^>]*\bdata-props="([^"]*)"`)
	wsScanPattern        = regexp.MustCompile(`wss?://[A-Za-z0-9.\-_~:/?#\[\]@!$&'()*+,;=%]+`)
	numericEntityPattern = regexp.MustCompile(`&#(x?)([0-9A-Fa-f]+);`)
	entityPattern        = regexp.MustCompile(`&(?:#x?[0-9A-Fa-f]+|amp|lt|gt|quot|apos|nbsp);`)
)

var namedEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&apos;": "'",
	"&nbsp;": " ",
}

// probePaths is the ordered list of dot-paths tried against the decoded
// embedded JSON to find the signaling URL (spec §4.7).
var probePaths = [][]string{
	{"site", "relive", "watchServer", "url"},
	{"site", "program", "watchServer", "url"},
	{"program", "broadcaster", "socialGroup", "watchServer", "url"},
	{"program", "broadcast", "watchServer", "url"},
	{"watchServer", "url"},
}

// ErrSignalingURLNotFound is a ConfigError (spec §7): the landing page had no
// discoverable signaling endpoint, embedded or via regex fallback.
var ErrSignalingURLNotFound = fmt.Errorf("niconico: signaling url not found on landing page")

// DiscoverSignalingURL fetches the broadcast landing page and extracts the
// signaling socket URL (spec §4.7, §6, §8 scenario 4).
func DiscoverSignalingURL(ctx context.Context, client *http.Client, pageURL, userAgent string) (string, error) {
	body, err := fetchLandingPage(ctx, client, pageURL, userAgent)
	if err != nil {
		return "", err
	}
	return ExtractSignalingURL(body)
}

func fetchLandingPage(ctx context.Context, client *http.Client, pageURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("niconico: landing page fetch failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ExtractSignalingURL implements the embedded-JSON-first, regex-fallback
// discovery algorithm from spec §4.7 against already-fetched HTML.
func ExtractSignalingURL(html []byte) (string, error) {
	if m := embeddedDataPattern.FindSubmatch(html); m != nil {
		decoded := decodeHTMLEntities(string(m[1]))
		var doc map[string]any
		if err := json.Unmarshal([]byte(decoded), &doc); err == nil {
			for _, path := range probePaths {
				if u, ok := lookupPath(doc, path); ok && u != "" {
					return u, nil
				}
			}
		}
	}

	if m := wsScanPattern.Find(html); m != nil {
		return string(m), nil
	}

	return "", ErrSignalingURLNotFound
}

func lookupPath(doc map[string]any, path []string) (string, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// decodeHTMLEntities decodes the small named-entity set plus numeric
// (decimal and hex) character references spec §4.7 requires, in a single
// left-to-right pass.
func decodeHTMLEntities(s string) string {
	return entityPattern.ReplaceAllStringFunc(s, func(match string) string {
		if repl, ok := namedEntities[match]; ok {
			return repl
		}
		sub := numericEntityPattern.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		base := 10
		if sub[1] == "x" {
			base = 16
		}
		codepoint, err := strconv.ParseInt(sub[2], base, 32)
		if err != nil {
			return match
		}
		return string(rune(codepoint))
	})
}
