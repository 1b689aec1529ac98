package session

import (
	"testing"

	"github.com/meetscribe/livelistener/internal/types"
)

func finalSeg(source types.Source, t0, t1 float64, text string) types.TranscriptSegment {
	return types.TranscriptSegment{
		T0: t0, T1: t1, Text: text,
		Source: source, Confidence: 0.9, Stable: true, IsFinal: true,
	}
}

func TestStoreAppendAndTail(t *testing.T) {
	s := NewTranscriptStore()

	if !s.Append(finalSeg(types.SourceMic, 0, 2, "hello there")) {
		t.Fatal("first append rejected")
	}
	if !s.Append(finalSeg(types.SourceSystem, 1, 3, "screen share audio")) {
		t.Fatal("second append rejected")
	}
	if !s.Append(finalSeg(types.SourceMic, 2, 4, "how are you")) {
		t.Fatal("third append rejected")
	}

	if got := s.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	tail := s.TailSince(2)
	if len(tail) != 2 {
		t.Fatalf("TailSince(2) returned %d segments, want 2", len(tail))
	}
	if tail[0].Text != "screen share audio" || tail[1].Text != "how are you" {
		t.Errorf("tail out of insertion order: %q, %q", tail[0].Text, tail[1].Text)
	}
}

func TestStoreDropsDuplicates(t *testing.T) {
	s := NewTranscriptStore()
	seg := finalSeg(types.SourceMic, 1.5, 3.0, "same text")

	if !s.Append(seg) {
		t.Fatal("first append rejected")
	}
	if s.Append(seg) {
		t.Error("duplicate (source, t0, text) accepted")
	}
	// Same text at a different time is a new segment.
	other := seg
	other.T0, other.T1 = 10, 11.5
	if !s.Append(other) {
		t.Error("same text at different t0 rejected")
	}
	// Same (t0, text) from a different source is a new segment.
	fromSystem := seg
	fromSystem.Source = types.SourceSystem
	if !s.Append(fromSystem) {
		t.Error("same (t0, text) from another source rejected")
	}
}

func TestStoreRejectsPartialsAndEmpty(t *testing.T) {
	s := NewTranscriptStore()

	partial := finalSeg(types.SourceMic, 0, 1, "partial")
	partial.IsFinal = false
	if s.Append(partial) {
		t.Error("non-final segment accepted")
	}
	empty := finalSeg(types.SourceMic, 0, 1, "")
	if s.Append(empty) {
		t.Error("empty segment accepted")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestStoreContextBefore(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(finalSeg(types.SourceMic, 0, 10, "too old"))
	s.Append(finalSeg(types.SourceMic, 35, 40, "in window"))
	s.Append(finalSeg(types.SourceMic, 50, 55, "after cursor"))

	ctx := s.ContextBefore(45, 30)
	if len(ctx) != 1 || ctx[0].Text != "in window" {
		t.Fatalf("ContextBefore(45, 30) = %v, want only the in-window segment", ctx)
	}
}

func TestStoreCharsAndMaxT1(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(finalSeg(types.SourceMic, 0, 2, "abcd"))
	s.Append(finalSeg(types.SourceSystem, 5, 9, "efg"))

	if got := s.Chars(); got != 7 {
		t.Errorf("Chars = %d, want 7", got)
	}
	if got := s.MaxT1(); got != 9 {
		t.Errorf("MaxT1 = %v, want 9", got)
	}
}
