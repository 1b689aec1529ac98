package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/meetscribe/livelistener/internal/types"
)

// backpressureInterval rate-limits overflow notifications per source.
const backpressureInterval = 500 * time.Millisecond

// SourceQueue is a bounded FIFO of PCM frames for one (session, source)
// pair. Capacity is measured in audio seconds and enforced as payload
// bytes derived from the stream spec. Writes never block: when full the
// oldest frames are evicted and the drop callback fires.
type SourceQueue struct {
	source      types.Source
	spec        Spec
	capBytes    int
	rb          *ringbuffer.RingBuffer
	mu          sync.Mutex
	payload     int
	lastBP      time.Time
	notify      chan struct{}
	onDrop      func(frames, bytes int)
	onBackpress func()
}

// NewSourceQueue builds a queue holding maxSeconds of audio under spec.
// onDrop fires with evicted counts on every overflow; onBackpress is
// rate-limited to one call per 500 ms.
func NewSourceQueue(source types.Source, spec Spec, maxSeconds float64, onDrop func(frames, bytes int), onBackpress func()) *SourceQueue {
	capBytes := spec.BytesForSeconds(maxSeconds)
	if capBytes <= 0 {
		capBytes = spec.BytesPerSecond()
	}
	// Ring holds payload plus per-frame record headers; the slack keeps
	// header overhead from stealing audio capacity at sane frame sizes.
	ringSize := capBytes + 64*1024
	return &SourceQueue{
		source:      source,
		spec:        spec,
		capBytes:    capBytes,
		rb:          ringbuffer.New(ringSize).SetBlocking(false),
		notify:      make(chan struct{}, 1),
		onDrop:      onDrop,
		onBackpress: onBackpress,
	}
}

func (q *SourceQueue) Source() types.Source { return q.source }

// CapacitySeconds is the configured bound in audio seconds.
func (q *SourceQueue) CapacitySeconds() float64 {
	return q.spec.SecondsForBytes(q.capBytes)
}

// BufferedSeconds is the audio duration currently queued.
func (q *SourceQueue) BufferedSeconds() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spec.SecondsForBytes(q.payload)
}

// BufferedBytes is the queued payload byte count.
func (q *SourceQueue) BufferedBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.payload
}

// Notify signals once per enqueue; consumers select on it to wake up.
func (q *SourceQueue) Notify() <-chan struct{} { return q.notify }

// Enqueue appends a frame, evicting the oldest frames first when either
// the audio-seconds bound or the ring itself is out of room.
func (q *SourceQueue) Enqueue(f Frame) error {
	record, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	required := len(record) + 4
	if required > q.rb.Capacity() {
		return errors.New("audio frame too large for queue")
	}

	q.mu.Lock()
	droppedFrames, droppedBytes := 0, 0
	for q.payload+len(f.PCM) > q.capBytes || q.rb.Free() < required {
		n, ok := q.evictOldestLocked()
		if !ok {
			q.rb.Reset()
			q.payload = 0
			break
		}
		droppedFrames++
		droppedBytes += n
	}

	size := make([]byte, 4)
	binary.LittleEndian.PutUint32(size, uint32(len(record)))
	if _, err := q.rb.Write(size); err != nil {
		q.mu.Unlock()
		return err
	}
	if _, err := q.rb.Write(record); err != nil {
		q.mu.Unlock()
		return err
	}
	q.payload += len(f.PCM)

	fireBP := false
	if droppedFrames > 0 {
		now := time.Now()
		if now.Sub(q.lastBP) >= backpressureInterval {
			q.lastBP = now
			fireBP = true
		}
	}
	q.mu.Unlock()

	if droppedFrames > 0 && q.onDrop != nil {
		q.onDrop(droppedFrames, droppedBytes)
	}
	if fireBP && q.onBackpress != nil {
		q.onBackpress()
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest frame. Returns false on an empty queue.
func (q *SourceQueue) Dequeue() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.readRecordLocked()
	if !ok {
		return Frame{}, false
	}
	var f Frame
	if err := f.UnmarshalBinary(record); err != nil {
		return Frame{}, false
	}
	q.payload -= len(f.PCM)
	if q.payload < 0 {
		q.payload = 0
	}
	return f, true
}

// evictOldestLocked drops one frame record, returning its payload size.
func (q *SourceQueue) evictOldestLocked() (int, bool) {
	record, ok := q.readRecordLocked()
	if !ok {
		return 0, false
	}
	var f Frame
	if err := f.UnmarshalBinary(record); err != nil {
		return 0, false
	}
	q.payload -= len(f.PCM)
	if q.payload < 0 {
		q.payload = 0
	}
	return len(f.PCM), true
}

func (q *SourceQueue) readRecordLocked() ([]byte, bool) {
	if q.rb.IsEmpty() {
		return nil, false
	}
	size := make([]byte, 4)
	if n, err := q.rb.Read(size); err != nil || n != 4 {
		return nil, false
	}
	recLen := binary.LittleEndian.Uint32(size)
	record := make([]byte, recLen)
	if n, err := q.rb.Read(record); err != nil || n != int(recLen) {
		return nil, false
	}
	return record, true
}
