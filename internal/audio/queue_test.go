package audio

import (
	"testing"
	"time"

	"github.com/meetscribe/livelistener/internal/types"
)

func testSpec() Spec {
	return Spec{SampleRate: 16000, Channels: 1, Format: FormatS16LE}
}

func TestFrameRoundTrip(t *testing.T) {
	original := Frame{
		Source:  types.SourceSystem,
		PCM:     []byte{1, 2, 3, 4, 5, 6},
		Arrival: 12.345,
	}

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored Frame
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.Source != original.Source {
		t.Errorf("expected source %s, got %s", original.Source, restored.Source)
	}
	if restored.Arrival != original.Arrival {
		t.Errorf("expected arrival %v, got %v", original.Arrival, restored.Arrival)
	}
	if len(restored.PCM) != len(original.PCM) {
		t.Fatalf("expected %d pcm bytes, got %d", len(original.PCM), len(restored.PCM))
	}
	for i, b := range restored.PCM {
		if b != original.PCM[i] {
			t.Errorf("pcm mismatch at %d: expected %d, got %d", i, original.PCM[i], b)
		}
	}
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	q := NewSourceQueue(types.SourceMic, testSpec(), 8, nil, nil)

	for i := 0; i < 3; i++ {
		f := Frame{Source: types.SourceMic, PCM: []byte{byte(i), byte(i)}, Arrival: float64(i)}
		if err := q.Enqueue(f); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		f, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d failed", i)
		}
		if f.Arrival != float64(i) {
			t.Errorf("expected arrival %d, got %v", i, f.Arrival)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("dequeue on empty queue should fail")
	}
}

func TestQueueBufferedSeconds(t *testing.T) {
	spec := testSpec()
	q := NewSourceQueue(types.SourceMic, spec, 8, nil, nil)

	// 0.5 s of 16 kHz s16le mono is 16000 bytes.
	pcm := make([]byte, 16000)
	if err := q.Enqueue(Frame{Source: types.SourceMic, PCM: pcm}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if got := q.BufferedSeconds(); got < 0.49 || got > 0.51 {
		t.Errorf("expected ~0.5 buffered seconds, got %v", got)
	}
}

func TestQueueDropOldestOnOverflow(t *testing.T) {
	spec := testSpec()
	droppedFrames := 0
	droppedBytes := 0
	q := NewSourceQueue(types.SourceMic, spec, 1, func(frames, bytes int) {
		droppedFrames += frames
		droppedBytes += bytes
	}, nil)

	// 1 s of capacity; each frame is 0.25 s.
	frame := func(i int) Frame {
		return Frame{Source: types.SourceMic, PCM: make([]byte, 8000), Arrival: float64(i)}
	}
	for i := 0; i < 6; i++ {
		if err := q.Enqueue(frame(i)); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	if droppedFrames == 0 {
		t.Fatal("expected drops after exceeding capacity")
	}
	if droppedBytes != droppedFrames*8000 {
		t.Errorf("expected %d dropped bytes, got %d", droppedFrames*8000, droppedBytes)
	}

	// Oldest frames must be gone; the first survivor is the oldest kept.
	f, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a survivor frame")
	}
	if f.Arrival < 1 {
		t.Errorf("oldest frame should have been evicted, got arrival %v", f.Arrival)
	}

	if got := q.BufferedSeconds(); got > q.CapacitySeconds()+0.001 {
		t.Errorf("buffered %v exceeds capacity %v", got, q.CapacitySeconds())
	}
}

func TestQueueBackpressureRateLimited(t *testing.T) {
	spec := testSpec()
	notifications := 0
	q := NewSourceQueue(types.SourceMic, spec, 1, nil, func() {
		notifications++
	})

	// Overflow the queue many times back to back; the 500 ms limiter
	// must collapse them into a single notification.
	for i := 0; i < 20; i++ {
		if err := q.Enqueue(Frame{Source: types.SourceMic, PCM: make([]byte, 8000)}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	if notifications != 1 {
		t.Errorf("expected exactly 1 backpressure notification, got %d", notifications)
	}
}

func TestQueueNotifySignals(t *testing.T) {
	q := NewSourceQueue(types.SourceMic, testSpec(), 8, nil, nil)

	if err := q.Enqueue(Frame{Source: types.SourceMic, PCM: []byte{0, 0}}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Error("expected a notify signal after enqueue")
	}
}

func TestQueueRejectsOversizedFrame(t *testing.T) {
	q := NewSourceQueue(types.SourceMic, testSpec(), 1, nil, nil)

	huge := make([]byte, 4*1024*1024)
	if err := q.Enqueue(Frame{Source: types.SourceMic, PCM: huge}); err == nil {
		t.Error("expected oversized frame to be rejected")
	}
}
