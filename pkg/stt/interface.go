// Package stt defines the transcriber contract the ASR workers call
// into. Implementations live in subpackages; the engine itself is an
// external collaborator behind this interface.
package stt

import (
	"context"
)

// Segment is one recognized span with chunk-relative timestamps in
// seconds. The caller rebases them onto the session timeline.
type Segment struct {
	T0         float64
	T1         float64
	Text       string
	Confidence float64
	Stable     bool
}

// Request carries one speech-gated PCM chunk to the transcriber.
type Request struct {
	PCM        []byte
	SampleRate int
	Language   string
}

// Transcriber converts PCM into timestamped text segments. It must be
// safe for concurrent use across sessions.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) ([]Segment, error)
}
