package audio

import (
	"encoding/binary"
	"math"
)

// Mono16 is the spec after Normalize: same rate, one channel, s16le.
func (s Spec) Mono16() Spec {
	return Spec{SampleRate: s.SampleRate, Channels: 1, Format: FormatS16LE}
}

// Normalize converts a frame-aligned chunk to mono 16-bit LE at the
// same sample rate, the only shape the VAD gates and WAV encoder
// accept. Mono s16le input is returned as-is. Stereo is downmixed by
// averaging the channel pair.
func (s Spec) Normalize(pcm []byte) []byte {
	if s.Format == FormatS16LE && s.Channels == 1 {
		return pcm
	}

	unit := s.Format.BytesPerSample() * s.Channels
	if unit == 0 {
		return nil
	}
	frames := len(pcm) / unit
	out := make([]byte, frames*2)
	width := s.Format.BytesPerSample()

	for f := 0; f < frames; f++ {
		var v float64
		for c := 0; c < s.Channels; c++ {
			v += sampleValue(s.Format, pcm[f*unit+c*width:])
		}
		v /= float64(s.Channels)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[f*2:], uint16(int16(v*32767)))
	}
	return out
}

// sampleValue decodes one sample to [-1, 1].
func sampleValue(f Format, b []byte) float64 {
	switch f {
	case FormatS16LE:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case FormatS8:
		return float64(int8(b[0])) / 128.0
	case FormatF32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return 0
}
