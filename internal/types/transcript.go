// Package types holds the domain model shared across the pipeline:
// audio sources, transcript segments and analyzer insights.
package types

import (
	"strings"
)

// Source identifies which stream a piece of audio or text came from.
type Source string

const (
	SourceMic    Source = "mic"
	SourceSystem Source = "system"
	SourceNote   Source = "note"
	SourceOCR    Source = "ocr"
)

// NormalizeSource maps client aliases onto canonical sources.
// "microphone" is accepted as an alias for "mic".
func NormalizeSource(s string) (Source, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "mic", "microphone":
		return SourceMic, true
	case "system":
		return SourceSystem, true
	case "note":
		return SourceNote, true
	case "ocr":
		return SourceOCR, true
	}
	return "", false
}

// TranscriptSegment is one timed piece of recognized speech, with
// timestamps in seconds from session start.
type TranscriptSegment struct {
	T0         float64 `json:"t0"`
	T1         float64 `json:"t1"`
	Text       string  `json:"text"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
	Stable     bool    `json:"stable"`
	IsFinal    bool    `json:"is_final"`
}

// Duration returns the covered span in seconds.
func (s TranscriptSegment) Duration() float64 {
	return s.T1 - s.T0
}
