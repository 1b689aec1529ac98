// Package audio holds the PCM plumbing between the gateway and the ASR
// workers: sample formats, frames and the bounded per-source queues.
package audio

import "fmt"

// Format is the PCM sample encoding a session streams in.
type Format string

const (
	FormatS16LE Format = "pcm_s16le"
	FormatS8    Format = "pcm_s8"
	FormatF32LE Format = "pcm_f32le"
)

// BytesPerSample returns the sample width for the format, 0 if unknown.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatS16LE:
		return 2
	case FormatS8:
		return 1
	case FormatF32LE:
		return 4
	}
	return 0
}

// Valid reports whether the format is one we accept at the handshake.
func (f Format) Valid() bool {
	return f.BytesPerSample() != 0
}

// Spec ties a session's audio parameters together so byte<->second
// conversions stay in one place.
type Spec struct {
	SampleRate int
	Channels   int
	Format     Format
}

func (s Spec) Validate() error {
	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		return fmt.Errorf("sample_rate %d outside [8000, 48000]", s.SampleRate)
	}
	if s.Channels != 1 && s.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", s.Channels)
	}
	if !s.Format.Valid() {
		return fmt.Errorf("unknown format %q", s.Format)
	}
	return nil
}

// BytesPerSecond is the stream rate implied by the spec.
func (s Spec) BytesPerSecond() int {
	return s.SampleRate * s.Format.BytesPerSample() * s.Channels
}

// FrameAligned reports whether n bytes hold whole samples across all
// channels. Misaligned frames are rejected, never truncated.
func (s Spec) FrameAligned(n int) bool {
	unit := s.Format.BytesPerSample() * s.Channels
	return unit > 0 && n%unit == 0
}

// SecondsForBytes converts a byte count on this stream to seconds.
func (s Spec) SecondsForBytes(n int) float64 {
	bps := s.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// BytesForSeconds converts seconds to a byte count, frame aligned.
func (s Spec) BytesForSeconds(sec float64) int {
	unit := s.Format.BytesPerSample() * s.Channels
	n := int(sec * float64(s.BytesPerSecond()))
	if unit > 0 {
		n -= n % unit
	}
	return n
}
