package session

import (
	"fmt"
	"math"
	"sync"

	"github.com/meetscribe/livelistener/internal/types"
)

// TranscriptStore is the append-only record of final segments for one
// session. Segments arrive from the ASR workers (one writer per source)
// and from OCR injection; readers are the analyzer scheduler and the
// final summary pass.
type TranscriptStore struct {
	mu    sync.RWMutex
	segs  []types.TranscriptSegment
	seen  map[string]struct{}
	chars int
}

func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{seen: make(map[string]struct{})}
}

func segKey(source types.Source, t0 float64, text string) string {
	// t0 rounded to 1ms so float arithmetic on offsets cannot split a
	// duplicate into two keys.
	return fmt.Sprintf("%s|%.3f|%s", source, math.Round(t0*1000)/1000, text)
}

// Append records a final segment. Duplicates of the same
// (source, t0, text) are dropped. Returns false for drops and for
// non-final segments, which never belong in the store.
func (s *TranscriptStore) Append(seg types.TranscriptSegment) bool {
	if !seg.IsFinal || seg.Text == "" {
		return false
	}
	key := segKey(seg.Source, seg.T0, seg.Text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.segs = append(s.segs, seg)
	s.chars += len(seg.Text)
	return true
}

// TailSince returns every segment whose t1 lies strictly after the
// cursor, in insertion order.
func (s *TranscriptStore) TailSince(cursor float64) []types.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.TranscriptSegment
	for _, seg := range s.segs {
		if seg.T1 > cursor {
			out = append(out, seg)
		}
	}
	return out
}

// ContextBefore returns segments ending at or before the cursor but
// within span seconds of it, used as read-only analyzer context.
func (s *TranscriptStore) ContextBefore(cursor, span float64) []types.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.TranscriptSegment
	for _, seg := range s.segs {
		if seg.T1 <= cursor && seg.T1 > cursor-span {
			out = append(out, seg)
		}
	}
	return out
}

// All returns a copy of the whole transcript in insertion order.
func (s *TranscriptStore) All() []types.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TranscriptSegment, len(s.segs))
	copy(out, s.segs)
	return out
}

// Len reports the number of stored final segments.
func (s *TranscriptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segs)
}

// Chars reports the total character count of stored text, which the
// scheduler uses for its minimum-new-text threshold.
func (s *TranscriptStore) Chars() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chars
}

// MaxT1 reports the latest end time across all segments, 0 when empty.
func (s *TranscriptStore) MaxT1() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max float64
	for _, seg := range s.segs {
		if seg.T1 > max {
			max = seg.T1
		}
	}
	return max
}
