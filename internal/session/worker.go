package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/livelistener/internal/audio"
	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/types"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
	"github.com/meetscribe/livelistener/pkg/stt"
	"github.com/meetscribe/livelistener/pkg/stt/gate"
)

const (
	// dedupWindowSeconds bounds how far back a worker looks when
	// suppressing re-emitted segments from overlapping chunks.
	dedupWindowSeconds = 10.0

	// asrErrorStreak and asrErrorWindow define the escalation rule:
	// this many consecutive failures inside the window kills the source.
	asrErrorStreak = 3
	asrErrorWindow = 30 * time.Second

	workerPollInterval = 200 * time.Millisecond
)

// WorkerConfig carries the chunking bounds and language hint.
type WorkerConfig struct {
	ChunkMinSeconds float64
	ChunkMaxSeconds float64
	Language        string
}

type emittedSeg struct {
	t0   float64
	text string
}

// Worker drains one source queue, gates the audio, transcribes it and
// publishes segments. Timestamps are rebased from chunk-relative onto
// the session timeline using the running byte offset, so they stay
// correct even after queue overflow drops frames.
type Worker struct {
	source   types.Source
	spec     audio.Spec
	monoSpec audio.Spec
	queue    *audio.SourceQueue
	gate     gate.SpeechGate
	stt      stt.Transcriber
	store    *TranscriptStore
	out      *Outbox
	mets     *metrics.Registry
	log      *Logger.Logger
	cfg      WorkerConfig

	// onFatal reports an unrecoverable source failure to the supervisor.
	onFatal func(types.Source)

	flushOnce sync.Once
	flush     chan struct{}
	done      chan struct{}

	offset   float64
	acc      []byte
	lastCut  time.Time
	recent   []emittedSeg
	streak   int
	firstErr time.Time
}

func NewWorker(source types.Source, spec audio.Spec, queue *audio.SourceQueue, g gate.SpeechGate, transcriber stt.Transcriber, store *TranscriptStore, out *Outbox, mets *metrics.Registry, log *Logger.Logger, cfg WorkerConfig, onFatal func(types.Source)) *Worker {
	return &Worker{
		source:   source,
		spec:     spec,
		monoSpec: spec.Mono16(),
		queue:    queue,
		gate:     g,
		stt:      transcriber,
		store:    store,
		out:      out,
		mets:     mets,
		log:      log.Named(fmt.Sprintf("worker.%s", source)),
		cfg:      cfg,
		onFatal:  onFatal,
		flush:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Flush asks the worker to process whatever it has buffered and exit.
// Used during session drain; safe to call more than once.
func (w *Worker) Flush() {
	w.flushOnce.Do(func() { close(w.flush) })
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run is the worker loop. It returns nil on a clean drain, the context
// error on cancellation, or the fatal transcription error.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	w.lastCut = time.Now()

	minBytes := w.spec.BytesForSeconds(w.cfg.ChunkMinSeconds)
	maxBytes := w.spec.BytesForSeconds(w.cfg.ChunkMaxSeconds)
	maxWait := time.Duration(w.cfg.ChunkMaxSeconds * float64(time.Second))

	for {
		for {
			f, ok := w.queue.Dequeue()
			if !ok {
				break
			}
			w.acc = append(w.acc, f.PCM...)
		}
		w.mets.Gauge(metrics.ProcessingLagSeconds, metrics.Labels{"source": string(w.source)}).
			Set(w.spec.SecondsForBytes(len(w.acc)) + w.queue.BufferedSeconds())

		flushing := w.flushRequested()
		var cut int
		switch {
		case len(w.acc) >= maxBytes:
			cut = maxBytes
		case len(w.acc) >= minBytes:
			cut = len(w.acc)
		case flushing && len(w.acc) > 0:
			// Drain tails may be shorter than the minimum chunk.
			cut = len(w.acc)
		case flushing:
			return nil
		case len(w.acc) > 0 && time.Since(w.lastCut) >= maxWait:
			cut = len(w.acc)
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.queue.Notify():
			case <-w.flush:
			case <-time.After(workerPollInterval):
			}
			continue
		}

		chunk := make([]byte, cut)
		copy(chunk, w.acc)
		w.acc = w.acc[cut:]
		w.lastCut = time.Now()

		if err := w.processChunk(ctx, chunk); err != nil {
			return err
		}
	}
}

func (w *Worker) flushRequested() bool {
	select {
	case <-w.flush:
		return true
	default:
		return false
	}
}

// processChunk advances the timeline by the chunk duration regardless
// of outcome; dropped or gated-out audio still occupies its span.
func (w *Worker) processChunk(ctx context.Context, chunk []byte) error {
	start := w.offset
	dur := w.spec.SecondsForBytes(len(chunk))
	w.offset += dur

	// The gates and the transcriber only speak mono s16le; slice offsets
	// come back in seconds so the timeline math survives the conversion.
	chunk = w.spec.Normalize(chunk)

	labels := metrics.Labels{"source": string(w.source)}
	w.mets.Counter(metrics.ASRChunksProcessed, labels).Inc()
	began := time.Now()
	defer func() {
		w.mets.Histogram(metrics.ProcessingTimeMS, labels, metrics.DefaultTimeBuckets).
			Observe(float64(time.Since(began).Milliseconds()))
	}()

	slices, err := w.gateChunk(chunk)
	if err == nil && len(slices) == 0 {
		return nil
	}

	for _, sl := range slices {
		if err := w.transcribeSlice(ctx, start+sl.Offset, sl.PCM); err != nil {
			return err
		}
	}
	return nil
}

// gateChunk runs VAD over the chunk. Any gate failure fails open: the
// whole chunk is treated as speech rather than silently lost.
func (w *Worker) gateChunk(chunk []byte) ([]gate.Slice, error) {
	wholeChunk := []gate.Slice{{PCM: chunk, Offset: 0}}

	speech, err := w.gate.HasSpeech(chunk, w.spec.SampleRate)
	if err != nil {
		w.mets.Counter(metrics.GateFailOpenTotal, metrics.Labels{"source": string(w.source)}).Inc()
		w.log.Warnf("speech probe failed, treating chunk as speech: %v", err)
		return wholeChunk, nil
	}
	if !speech {
		return nil, nil
	}

	slices, err := w.gate.Filter(chunk, w.spec.SampleRate)
	if err != nil {
		w.mets.Counter(metrics.GateFailOpenTotal, metrics.Labels{"source": string(w.source)}).Inc()
		w.log.Warnf("speech filter failed, treating chunk as speech: %v", err)
		return wholeChunk, nil
	}
	return slices, nil
}

func (w *Worker) transcribeSlice(ctx context.Context, sliceT0 float64, pcm []byte) error {
	dur := w.monoSpec.SecondsForBytes(len(pcm))
	timeout := time.Duration(2 * dur * float64(time.Second))
	if timeout < time.Second {
		timeout = time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	labels := metrics.Labels{"source": string(w.source)}
	began := time.Now()
	segs, err := w.stt.Transcribe(tctx, stt.Request{
		PCM:        pcm,
		SampleRate: w.spec.SampleRate,
		Language:   w.cfg.Language,
	})
	w.mets.Histogram(metrics.InferenceTimeMS, labels, metrics.DefaultTimeBuckets).
		Observe(float64(time.Since(began).Milliseconds()))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return w.onTranscribeError(err)
	}

	w.streak = 0
	for _, s := range segs {
		w.emitSegment(sliceT0, dur, s)
	}
	return nil
}

// onTranscribeError applies the escalation rule. A single failure is
// recoverable and the chunk's audio is lost; the streak crossing the
// threshold inside the window retires the source.
func (w *Worker) onTranscribeError(err error) error {
	labels := metrics.Labels{"source": string(w.source)}
	w.mets.Counter(metrics.ASRErrors, labels).Inc()

	now := time.Now()
	if w.streak == 0 || now.Sub(w.firstErr) > asrErrorWindow {
		w.streak = 0
		w.firstErr = now
	}
	w.streak++
	w.log.Warnf("transcription failed (streak %d): %v", w.streak, err)

	if w.streak >= asrErrorStreak {
		w.out.Push(protocol.NewError(protocol.ErrASR, false,
			fmt.Sprintf("transcription for source %q failed repeatedly: %v", w.source, err)))
		if w.onFatal != nil {
			w.onFatal(w.source)
		}
		return fmt.Errorf("source %s: repeated transcription failures: %w", w.source, err)
	}

	w.out.Push(protocol.NewError(protocol.ErrASR, true,
		fmt.Sprintf("transcription failed, audio span skipped: %v", err)))
	return nil
}

// emitSegment rebases an engine segment onto the session timeline,
// suppresses recent duplicates, and publishes it. Finals also land in
// the transcript store.
func (w *Worker) emitSegment(sliceT0, sliceDur float64, s stt.Segment) {
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return
	}
	t0 := sliceT0 + s.T0
	t1 := sliceT0 + s.T1
	if t1 <= t0 {
		t1 = sliceT0 + sliceDur
	}

	if w.isDuplicate(t0, text) {
		return
	}
	w.remember(t0, text)

	seg := types.TranscriptSegment{
		T0:         t0,
		T1:         t1,
		Text:       text,
		Source:     w.source,
		Confidence: s.Confidence,
		Stable:     s.Stable,
		IsFinal:    s.Stable,
	}
	if seg.IsFinal {
		if !w.store.Append(seg) {
			return
		}
	}
	w.out.Push(protocol.NewSegment(seg))
}

func (w *Worker) isDuplicate(t0 float64, text string) bool {
	key := math.Round(t0 * 10)
	for _, e := range w.recent {
		if e.text == text && math.Round(e.t0*10) == key {
			return true
		}
	}
	return false
}

func (w *Worker) remember(t0 float64, text string) {
	cutoff := w.offset - dedupWindowSeconds
	kept := w.recent[:0]
	for _, e := range w.recent {
		if e.t0 >= cutoff {
			kept = append(kept, e)
		}
	}
	w.recent = append(kept, emittedSeg{t0: t0, text: text})
}
