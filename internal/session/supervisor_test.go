package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetscribe/livelistener/internal/analyzer"
	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/types"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
	"github.com/meetscribe/livelistener/pkg/stt"
)

func testStart() protocol.Start {
	return protocol.Start{
		SessionID:  "standup-42",
		SampleRate: testSpec.SampleRate,
		Channels:   testSpec.Channels,
		Format:     testSpec.Format,
	}
}

func testSupervisorConfig() Config {
	return Config{
		QueueMaxSeconds: 8,
		Worker:          WorkerConfig{ChunkMinSeconds: 0.1, ChunkMaxSeconds: 0.5},
		Scheduler:       fastSchedulerConfig(),
		DrainTimeout:    2 * time.Second,
	}
}

func newTestSupervisor(t *testing.T, tr stt.Transcriber, an analyzer.Analyzer) (*Supervisor, *metrics.Registry) {
	t.Helper()
	mets := metrics.NewRegistry()
	s := New(testStart(), testSupervisorConfig(), Deps{
		Gate:        passGate{},
		Transcriber: tr,
		Analyzer:    an,
		Metrics:     mets,
		Logger:      Logger.Nop(),
	})
	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return s, mets
}

func nextEvent(t *testing.T, s *Supervisor) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ev, err := s.NextEvent(ctx)
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	return ev
}

// nextEventOf skips interleaved events (entity passes run on their own
// clock) until one of the wanted type shows up.
func nextEventOf(t *testing.T, s *Supervisor, want protocol.EventType) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		ev, err := s.NextEvent(ctx)
		cancel()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.EventType() == want {
			return ev
		}
	}
}

func audioMsg(source types.Source, seconds float64) protocol.Message {
	pcm := make([]byte, testSpec.BytesForSeconds(seconds))
	return protocol.Message{Kind: protocol.KindAudio, Audio: &protocol.Audio{Source: source, PCM: pcm}}
}

func TestSupervisorLifecycle(t *testing.T) {
	tr := &scriptTranscriber{segs: []stt.Segment{
		{T0: 0, T1: 0.2, Text: "we shipped it", Confidence: 0.9, Stable: true},
	}}
	an := &stubAnalyzer{res: analyzer.Result{SummaryMarkdown: "# Recap\n\nShipped."}}
	s, mets := newTestSupervisor(t, tr, an)

	if got := s.State(); got != StateStream {
		t.Fatalf("state after Begin = %s, want streaming", got)
	}
	if v := mets.Gauge(metrics.ActiveSessions, nil).Value(); v != 1 {
		t.Errorf("active_sessions = %v, want 1", v)
	}

	first := nextEvent(t, s)
	status, ok := first.(protocol.StatusEvent)
	if !ok || status.State != protocol.StateStreaming {
		t.Fatalf("first event = %#v, want streaming status", first)
	}

	if err := s.HandleMessage(audioMsg(types.SourceMic, 0.2)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	nextEventOf(t, s, protocol.EventASRFinal)

	if err := s.HandleMessage(protocol.Message{Kind: protocol.KindStop, Stop: &protocol.Stop{SessionID: "standup-42"}}); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var last protocol.Event
	sawDraining, sawSummary := false, false
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ev, err := s.NextEvent(ctx)
		cancel()
		if errors.Is(err, ErrOutboxClosed) {
			break
		}
		if err != nil {
			t.Fatalf("draining events: %v", err)
		}
		last = ev
		switch e := ev.(type) {
		case protocol.StatusEvent:
			if e.State == protocol.StateDraining {
				sawDraining = true
			}
		case protocol.FinalSummary:
			sawSummary = true
			if e.Markdown != "# Recap\n\nShipped." {
				t.Errorf("summary markdown = %q", e.Markdown)
			}
		}
	}
	if !sawDraining {
		t.Error("no draining status before close")
	}
	if !sawSummary {
		t.Fatal("no final_summary before close")
	}
	if last.EventType() != protocol.EventFinalSummary {
		t.Errorf("last event = %s, want final_summary", last.EventType())
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never finished closing")
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if v := mets.Gauge(metrics.ActiveSessions, nil).Value(); v != 0 {
		t.Errorf("active_sessions = %v, want 0", v)
	}
}

func TestSupervisorRejectsMisalignedFrame(t *testing.T) {
	tr := &scriptTranscriber{}
	s, _ := newTestSupervisor(t, tr, &stubAnalyzer{})
	defer s.Abort("test over")

	nextEvent(t, s) // streaming status

	msg := protocol.Message{Kind: protocol.KindAudio, Audio: &protocol.Audio{
		Source: types.SourceMic,
		PCM:    make([]byte, 321), // odd byte count for 16-bit samples
	}}
	if err := s.HandleMessage(msg); err != nil {
		t.Fatalf("misaligned frame should not be fatal: %v", err)
	}
	ev := nextEvent(t, s)
	errEv, ok := ev.(protocol.ErrorEvent)
	if !ok || errEv.Kind != protocol.ErrProtocol || !errEv.Recoverable {
		t.Fatalf("event = %#v, want recoverable protocol error", ev)
	}
}

func TestSupervisorDuplicateStart(t *testing.T) {
	s, _ := newTestSupervisor(t, &scriptTranscriber{}, &stubAnalyzer{})
	defer s.Abort("test over")

	nextEvent(t, s) // streaming status
	if err := s.HandleMessage(protocol.Message{Kind: protocol.KindStart, Start: &protocol.Start{}}); err != nil {
		t.Fatalf("duplicate start should not be fatal: %v", err)
	}
	ev := nextEvent(t, s)
	if errEv, ok := ev.(protocol.ErrorEvent); !ok || errEv.Kind != protocol.ErrProtocol {
		t.Fatalf("event = %#v, want protocol error", ev)
	}
}

func TestSupervisorVoiceNoteFlow(t *testing.T) {
	tr := &scriptTranscriber{segs: []stt.Segment{
		{T0: 0, T1: 0.2, Text: "remember to follow up", Confidence: 0.9, Stable: true},
	}}
	s, _ := newTestSupervisor(t, tr, &stubAnalyzer{})
	defer s.Abort("test over")

	nextEvent(t, s) // streaming status

	if err := s.HandleMessage(protocol.Message{Kind: protocol.KindVoiceNoteStart}); err != nil {
		t.Fatalf("voice_note_start: %v", err)
	}
	note := protocol.Message{Kind: protocol.KindVoiceNoteAudio, Audio: &protocol.Audio{
		Source: types.SourceNote,
		PCM:    make([]byte, testSpec.BytesForSeconds(0.2)),
	}}
	if err := s.HandleMessage(note); err != nil {
		t.Fatalf("voice_note_audio: %v", err)
	}
	if err := s.HandleMessage(protocol.Message{Kind: protocol.KindVoiceNoteStop}); err != nil {
		t.Fatalf("voice_note_stop: %v", err)
	}

	ev := nextEventOf(t, s, protocol.EventASRFinal)
	if seg := ev.(protocol.SegmentEvent); seg.Source != types.SourceNote {
		t.Fatalf("event = %#v, want note segment", ev)
	}
	if s.Store().Len() != 1 {
		t.Errorf("store holds %d segments, want the note final", s.Store().Len())
	}
}

func TestSupervisorOCRInjection(t *testing.T) {
	s, _ := newTestSupervisor(t, &scriptTranscriber{}, &stubAnalyzer{})
	defer s.Abort("test over")

	nextEvent(t, s) // streaming status
	msg := protocol.Message{Kind: protocol.KindOCRText, OCR: &protocol.OCRText{Text: "Q3 roadmap slide"}}
	if err := s.HandleMessage(msg); err != nil {
		t.Fatalf("ocr_text: %v", err)
	}

	segs := s.Store().All()
	if len(segs) != 1 {
		t.Fatalf("store holds %d segments, want 1", len(segs))
	}
	if segs[0].Source != types.SourceOCR || segs[0].Confidence != 1.0 || !segs[0].IsFinal {
		t.Errorf("ocr segment = %+v", segs[0])
	}
}

func TestSupervisorIdleStatus(t *testing.T) {
	old := idleCheckInterval
	idleCheckInterval = 10 * time.Millisecond
	defer func() { idleCheckInterval = old }()

	mets := metrics.NewRegistry()
	cfg := testSupervisorConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	s := New(testStart(), cfg, Deps{
		Gate:        passGate{},
		Transcriber: &scriptTranscriber{},
		Analyzer:    &stubAnalyzer{},
		Metrics:     mets,
		Logger:      Logger.Nop(),
	})
	if err := s.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer s.Abort("test over")

	nextEvent(t, s) // streaming status
	ev := nextEvent(t, s)
	status, ok := ev.(protocol.StatusEvent)
	if !ok || status.State != protocol.StateIdle {
		t.Fatalf("event = %#v, want idle status", ev)
	}
}

func TestSupervisorStopRequiresMatchingSessionID(t *testing.T) {
	an := &stubAnalyzer{res: analyzer.Result{SummaryMarkdown: "# Recap"}}
	s, _ := newTestSupervisor(t, &scriptTranscriber{}, an)

	nextEvent(t, s) // streaming status

	wrong := protocol.Message{Kind: protocol.KindStop, Stop: &protocol.Stop{SessionID: "someone-elses"}}
	if err := s.HandleMessage(wrong); err != nil {
		t.Fatalf("mismatched stop should not be fatal: %v", err)
	}
	ev := nextEventOf(t, s, protocol.EventError)
	errEv := ev.(protocol.ErrorEvent)
	if errEv.Kind != protocol.ErrProtocol || !errEv.Recoverable {
		t.Fatalf("event = %#v, want recoverable protocol error", ev)
	}
	if got := s.State(); got != StateStream {
		t.Fatalf("state after mismatched stop = %s, want streaming", got)
	}

	right := protocol.Message{Kind: protocol.KindStop, Stop: &protocol.Stop{SessionID: "standup-42"}}
	if err := s.HandleMessage(right); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never closed after matching stop")
	}
}

func TestSupervisorLateMessagesAfterStopIgnored(t *testing.T) {
	an := &stubAnalyzer{res: analyzer.Result{SummaryMarkdown: "# Recap"}}
	s, _ := newTestSupervisor(t, &scriptTranscriber{}, an)

	_ = s.HandleMessage(protocol.Message{Kind: protocol.KindStop, Stop: &protocol.Stop{SessionID: "standup-42"}})
	if err := s.HandleMessage(audioMsg(types.SourceMic, 0.2)); err != nil {
		t.Fatalf("late audio after stop should be dropped, got %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never closed after stop")
	}
}
