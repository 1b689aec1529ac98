// Package gate provides voice-activity gating in front of the
// transcriber: a cheap speech probe and a filter that extracts
// speech-only slices from a PCM chunk.
package gate

// Slice is a speech-only span cut from a chunk, with its offset in
// seconds from the chunk start.
type Slice struct {
	PCM    []byte
	Offset float64
}

// Config tunes detection. Threshold is a probability-style knob in
// [0,1]; SampleRate is the fallback rate used when a caller passes 0.
type Config struct {
	SampleRate   int     `json:"sampleRate"`
	Threshold    float64 `json:"threshold"`
	MinSpeechMs  int     `json:"minSpeechMs"`
	MinSilenceMs int     `json:"minSilenceMs"`
}

// DefaultConfig matches 16 kHz speech capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		Threshold:    0.5,
		MinSpeechMs:  250,
		MinSilenceMs: 100,
	}
}

// SpeechGate classifies and filters mono 16-bit LE PCM at the given
// sample rate (0 means the configured default). Failures are non-fatal
// to the pipeline: callers fail open and treat the chunk as speech.
type SpeechGate interface {
	// HasSpeech is a cheap probe over the whole chunk.
	HasSpeech(pcm []byte, sampleRate int) (bool, error)

	// Filter returns zero or more speech-only slices.
	Filter(pcm []byte, sampleRate int) ([]Slice, error)
}
