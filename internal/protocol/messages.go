// Package protocol defines the wire contract of the live listener: the
// tagged inbound message union, its validation rules, and the outbound
// event types fanned out to clients.
package protocol

import (
	"github.com/meetscribe/livelistener/internal/audio"
	"github.com/meetscribe/livelistener/internal/types"
)

// Kind tags the inbound message union.
type Kind string

const (
	KindStart          Kind = "start"
	KindStop           Kind = "stop"
	KindAudio          Kind = "audio"
	KindVoiceNoteStart Kind = "voice_note_start"
	KindVoiceNoteAudio Kind = "voice_note_audio"
	KindVoiceNoteStop  Kind = "voice_note_stop"
	KindOCRText        Kind = "ocr_text"
)

// Start opens a session. Must be the first message on a connection.
type Start struct {
	SessionID  string
	SampleRate int
	Channels   int
	Format     audio.Format
	Language   string
}

// Spec returns the audio parameters the client declared.
func (s Start) Spec() audio.Spec {
	return audio.Spec{SampleRate: s.SampleRate, Channels: s.Channels, Format: s.Format}
}

// Stop requests a graceful session close.
type Stop struct {
	SessionID string
}

// Audio carries one decoded PCM frame. Voice-note audio reuses this
// shape with Source set to types.SourceNote.
type Audio struct {
	Source types.Source
	PCM    []byte
}

// OCRText injects a textual observation into the analyzer tail.
type OCRText struct {
	Text string
}

// Message is the decoded inbound union; exactly the variant matching
// Kind is non-nil. VoiceNoteStart/Stop carry no payload.
type Message struct {
	Kind  Kind
	Start *Start
	Stop  *Stop
	Audio *Audio
	OCR   *OCRText
}
