package audio

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/meetscribe/livelistener/internal/types"
)

// Frame is one inbound slice of PCM tagged with its source and arrival
// offset in seconds since session start.
type Frame struct {
	Source  types.Source
	PCM     []byte
	Arrival float64
}

const frameHeaderSize = 8 + 1 + 4 // arrival(8) + source(1) + pcm length(4)

var sourceCodes = map[types.Source]byte{
	types.SourceMic:    0,
	types.SourceSystem: 1,
	types.SourceNote:   2,
}

var codeSources = map[byte]types.Source{
	0: types.SourceMic,
	1: types.SourceSystem,
	2: types.SourceNote,
}

// MarshalBinary packs the frame for ring storage:
// arrival float bits (8) + source code (1) + pcm length (4) + pcm.
func (f *Frame) MarshalBinary() ([]byte, error) {
	code, ok := sourceCodes[f.Source]
	if !ok {
		return nil, errors.New("frame source not queueable")
	}
	buf := make([]byte, frameHeaderSize+len(f.PCM))
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(f.Arrival))
	buf[8] = code
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(f.PCM)))
	copy(buf[frameHeaderSize:], f.PCM)
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < frameHeaderSize {
		return errors.New("frame record truncated")
	}
	f.Arrival = math.Float64frombits(binary.LittleEndian.Uint64(data[0:]))
	src, ok := codeSources[data[8]]
	if !ok {
		return errors.New("unknown frame source code")
	}
	f.Source = src
	n := binary.LittleEndian.Uint32(data[9:])
	if len(data[frameHeaderSize:]) < int(n) {
		return errors.New("frame record truncated")
	}
	f.PCM = make([]byte, n)
	copy(f.PCM, data[frameHeaderSize:frameHeaderSize+int(n)])
	return nil
}
