package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetscribe/livelistener/internal/audio"
	"github.com/meetscribe/livelistener/internal/types"
)

const (
	maxSessionIDLen = 256
	maxOCRTextLen   = 10000
)

// DecodeError is a protocol-kind validation failure; the session
// supervisor maps it to error{kind:protocol}.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return e.Reason }

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// wireMessage is the superset of fields any inbound JSON message may
// carry; Decode validates per kind and produces the typed union.
type wireMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Format     string `json:"format,omitempty"`
	Language   string `json:"language,omitempty"`
	Source     string `json:"source,omitempty"`
	Data       string `json:"data,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Decode validates a single inbound text message and returns the typed
// variant or a DecodeError.
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, decodeErrf("malformed JSON: %v", err)
	}

	switch Kind(w.Type) {
	case KindStart:
		return decodeStart(w)
	case KindStop:
		sid := strings.TrimSpace(w.SessionID)
		if sid == "" || len(sid) > maxSessionIDLen {
			return Message{}, decodeErrf("stop: session_id must be 1..%d chars", maxSessionIDLen)
		}
		return Message{Kind: KindStop, Stop: &Stop{SessionID: sid}}, nil
	case KindAudio:
		return decodeAudio(w)
	case KindVoiceNoteStart:
		return Message{Kind: KindVoiceNoteStart}, nil
	case KindVoiceNoteStop:
		return Message{Kind: KindVoiceNoteStop}, nil
	case KindVoiceNoteAudio:
		pcm, err := decodePCM(w.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindVoiceNoteAudio, Audio: &Audio{Source: types.SourceNote, PCM: pcm}}, nil
	case KindOCRText:
		text := strings.TrimSpace(w.Text)
		if len(text) == 0 || len(text) > maxOCRTextLen {
			return Message{}, decodeErrf("ocr_text: text must be 1..%d chars", maxOCRTextLen)
		}
		return Message{Kind: KindOCRText, OCR: &OCRText{Text: text}}, nil
	}
	return Message{}, decodeErrf("unknown message type %q", w.Type)
}

// DecodeBinary interprets a raw binary frame, accepted only after
// start, as mic audio.
func DecodeBinary(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return Message{}, decodeErrf("empty binary frame")
	}
	pcm := make([]byte, len(raw))
	copy(pcm, raw)
	return Message{Kind: KindAudio, Audio: &Audio{Source: types.SourceMic, PCM: pcm}}, nil
}

func decodeStart(w wireMessage) (Message, error) {
	sid := strings.TrimSpace(w.SessionID)
	if sid == "" || len(sid) > maxSessionIDLen {
		return Message{}, decodeErrf("start: session_id must be 1..%d chars", maxSessionIDLen)
	}
	s := Start{
		SessionID:  sid,
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		Format:     audio.Format(w.Format),
		Language:   strings.TrimSpace(w.Language),
	}
	if err := s.Spec().Validate(); err != nil {
		return Message{}, decodeErrf("start: %v", err)
	}
	return Message{Kind: KindStart, Start: &s}, nil
}

func decodeAudio(w wireMessage) (Message, error) {
	src, ok := types.NormalizeSource(w.Source)
	if !ok || (src != types.SourceMic && src != types.SourceSystem) {
		return Message{}, decodeErrf("audio: source must be mic or system, got %q", w.Source)
	}
	pcm, err := decodePCM(w.Data)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindAudio, Audio: &Audio{Source: src, PCM: pcm}}, nil
}

func decodePCM(data string) ([]byte, error) {
	if data == "" {
		return nil, decodeErrf("audio: missing data")
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, decodeErrf("audio: data is not valid base64: %v", err)
	}
	if len(pcm) == 0 {
		return nil, decodeErrf("audio: empty payload")
	}
	return pcm, nil
}

// Encode re-serializes a decoded message; decoding its output yields an
// equal message. Used by tests and session replay tooling.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: string(m.Kind)}
	switch m.Kind {
	case KindStart:
		if m.Start == nil {
			return nil, fmt.Errorf("encode: start variant missing")
		}
		w.SessionID = m.Start.SessionID
		w.SampleRate = m.Start.SampleRate
		w.Channels = m.Start.Channels
		w.Format = string(m.Start.Format)
		w.Language = m.Start.Language
	case KindStop:
		if m.Stop == nil {
			return nil, fmt.Errorf("encode: stop variant missing")
		}
		w.SessionID = m.Stop.SessionID
	case KindAudio, KindVoiceNoteAudio:
		if m.Audio == nil {
			return nil, fmt.Errorf("encode: audio variant missing")
		}
		if m.Kind == KindAudio {
			w.Source = string(m.Audio.Source)
		}
		w.Data = base64.StdEncoding.EncodeToString(m.Audio.PCM)
	case KindOCRText:
		if m.OCR == nil {
			return nil, fmt.Errorf("encode: ocr variant missing")
		}
		w.Text = m.OCR.Text
	case KindVoiceNoteStart, KindVoiceNoteStop:
	default:
		return nil, fmt.Errorf("encode: unknown kind %q", m.Kind)
	}
	return json.Marshal(w)
}
