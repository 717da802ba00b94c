// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package acserver

import (
	"regexp"
	"strings"
)

// LineKind is the classification of one line of wrapped server output.
type LineKind int

const (
	// LineOther is any unrecognised line. It marks the state dirty.
	LineOther LineKind = iota
	// LineNoise is page-served chatter, ignored entirely.
	LineNoise
	LineHTTPPort
	LineGrip
	LineWeather
	LineWind
	LineSessionType
	LineConnecting
	LineSlotFound
)

var lineKindNames = [...]string{
	LineOther:       "other",
	LineNoise:       "noise",
	LineHTTPPort:    "http_port",
	LineGrip:        "grip",
	LineWeather:     "weather",
	LineWind:        "wind",
	LineSessionType: "session_type",
	LineConnecting:  "connecting",
	LineSlotFound:   "slot_found",
}

func (k LineKind) String() string {
	if int(k) < len(lineKindNames) {
		return lineKindNames[k]
	}
	return "unknown"
}

// Match is the result of classifying a line. Groups holds the pattern's
// capture groups in order; it is owned by the caller.
type Match struct {
	Kind   LineKind
	Groups []string
}

type linePattern struct {
	kind LineKind
	re   *regexp.Regexp
}

// Order matters: the first matching pattern wins. The wind line is not
// anchored because the server prefixes it inconsistently.
var linePatterns = []linePattern{
	{LineHTTPPort, regexp.MustCompile(`^Starting HTTP server on port  (\d+)`)},
	{LineGrip, regexp.MustCompile(`^DynamicTrack: current_grip= (.+)  transfer= (.+)  sessiongrip= (.+)`)},
	{LineWeather, regexp.MustCompile(`^Weather update\. Ambient: (.+) Road: (.+) Graphics: (.+)`)},
	{LineWind, regexp.MustCompile(`Wind update\. Speed: (.+) Direction: (.+)`)},
	{LineSessionType, regexp.MustCompile(`^SENDING session type : (.+)`)},
	{LineConnecting, regexp.MustCompile(`^Looking for available slot by name for GUID (\S+)`)},
	{LineSlotFound, regexp.MustCompile(`^Slot found at index (.+)`)},
}

func isNoise(line string) bool {
	return strings.HasPrefix(line, "PAGE: ") ||
		strings.HasPrefix(line, "Serve JSON took") ||
		line == "REQ" ||
		strings.HasPrefix(line, "{")
}

// Classify matches a trimmed, non-empty line against the known output
// patterns. It has no side effects and is safe for concurrent use.
func Classify(line string) Match {
	if isNoise(line) {
		return Match{Kind: LineNoise}
	}
	for _, p := range linePatterns {
		if sm := p.re.FindStringSubmatch(line); sm != nil {
			return Match{Kind: p.kind, Groups: sm[1:]}
		}
	}
	return Match{Kind: LineOther}
}
