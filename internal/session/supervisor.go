package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/meetscribe/livelistener/internal/analyzer"
	"github.com/meetscribe/livelistener/internal/audio"
	"github.com/meetscribe/livelistener/internal/config"
	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/types"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
	"github.com/meetscribe/livelistener/pkg/stt"
	"github.com/meetscribe/livelistener/pkg/stt/gate"
)

// Session lifecycle states.
const (
	StateOpening = "opening"
	StateStream  = "streaming"
	StateDrain   = "draining"
	StateClosed  = "closed"
)

const (
	defaultDrainTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

var idleCheckInterval = 5 * time.Second

// Config bundles the per-session tuning derived from server settings.
type Config struct {
	QueueMaxSeconds float64
	Worker          WorkerConfig
	Scheduler       SchedulerConfig
	DrainTimeout    time.Duration
	IdleTimeout     time.Duration
}

// ConfigFromSettings maps loaded server settings onto a session config.
func ConfigFromSettings(s *config.Settings) Config {
	return Config{
		QueueMaxSeconds: s.Queue.MaxSeconds,
		Worker: WorkerConfig{
			ChunkMinSeconds: s.Chunk.MinSeconds,
			ChunkMaxSeconds: s.Chunk.MaxSeconds,
			Language:        s.STT.Language,
		},
		Scheduler: SchedulerConfig{
			EntitiesInterval:    time.Duration(s.Analyzer.EntitiesIntervalS * float64(time.Second)),
			CardsInterval:       time.Duration(s.Analyzer.CardsIntervalS * float64(time.Second)),
			Timeout:             time.Duration(s.Analyzer.TimeoutS * float64(time.Second)),
			EntitiesMinNewChars: s.Analyzer.EntitiesMinNewChars,
		},
		DrainTimeout: defaultDrainTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}

// Deps are the external collaborators a session talks to.
type Deps struct {
	Gate        gate.SpeechGate
	Transcriber stt.Transcriber
	Analyzer    analyzer.Analyzer
	Metrics     *metrics.Registry
	Logger      *Logger.Logger
}

// Supervisor owns one client session: the microphone and system audio
// pipelines, lazily the voice-note pipeline, the transcript store, the
// analyzer scheduler and the outbound event box. All client messages
// after the handshake flow through HandleMessage.
type Supervisor struct {
	ID     string
	ConnID string

	spec audio.Spec
	cfg  Config
	deps Deps
	log  *Logger.Logger

	machine *fsm.FSM
	out     *Outbox
	store   *TranscriptStore
	sched   *Scheduler

	ctx         context.Context
	cancel      context.CancelFunc
	schedCancel context.CancelFunc
	schedDone   chan struct{}

	mu          sync.Mutex
	queues      map[types.Source]*audio.SourceQueue
	workers     map[types.Source]*Worker
	dead        map[types.Source]bool
	lastAudio   time.Time
	idleFlagged bool

	workerWg  sync.WaitGroup
	drainOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	startedAt time.Time
}

// New builds a supervisor from a validated start message. Begin must be
// called before any other message is handled.
func New(start protocol.Start, cfg Config, deps Deps) *Supervisor {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Worker.Language == "" {
		cfg.Worker.Language = start.Language
	}

	connID := uuid.NewString()
	log := deps.Logger.Named("session").With("session_id", start.SessionID, "conn_id", connID)

	s := &Supervisor{
		ID:      start.SessionID,
		ConnID:  connID,
		spec:    start.Spec(),
		cfg:     cfg,
		deps:    deps,
		log:     log,
		out:     NewOutbox(defaultOutboxCapacity),
		store:   NewTranscriptStore(),
		queues:  make(map[types.Source]*audio.SourceQueue),
		workers: make(map[types.Source]*Worker),
		dead:    make(map[types.Source]bool),
		closed:  make(chan struct{}),
	}
	s.sched = NewScheduler(s.store, s.out, deps.Analyzer, deps.Metrics, log, cfg.Scheduler)

	s.machine = fsm.NewFSM(
		StateOpening,
		fsm.Events{
			{Name: "begin", Src: []string{StateOpening}, Dst: StateStream},
			{Name: "stop", Src: []string{StateStream}, Dst: StateDrain},
			{Name: "drained", Src: []string{StateDrain}, Dst: StateClosed},
			{Name: "fail", Src: []string{StateOpening, StateStream, StateDrain}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Infow("session state change", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return s
}

// Begin transitions into streaming and starts the pipelines. The
// microphone and system sources are eager; voice notes spawn on first
// use.
func (s *Supervisor) Begin(ctx context.Context) error {
	if err := s.machine.Event(ctx, "begin"); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()
	s.lastAudio = s.startedAt

	s.mu.Lock()
	s.spawnSourceLocked(types.SourceMic)
	s.spawnSourceLocked(types.SourceSystem)
	s.mu.Unlock()

	var schedCtx context.Context
	schedCtx, s.schedCancel = context.WithCancel(s.ctx)
	s.schedDone = make(chan struct{})
	go func() {
		defer close(s.schedDone)
		s.sched.Run(schedCtx)
	}()
	go s.watchIdle()

	s.deps.Metrics.Gauge(metrics.ActiveSessions, nil).Add(1)
	s.out.Push(protocol.NewStatus(protocol.StateStreaming, "session started"))
	return nil
}

// spawnSourceLocked wires a queue and worker for one source. The note
// worker starts its timeline at the current session offset so note
// segments interleave correctly with speech.
func (s *Supervisor) spawnSourceLocked(source types.Source) {
	src := source
	q := audio.NewSourceQueue(src, s.spec, s.cfg.QueueMaxSeconds,
		func(frames, _ int) {
			s.deps.Metrics.Counter(metrics.AudioFramesDropped, metrics.Labels{"source": string(src)}).
				Add(float64(frames))
		},
		func() {
			s.out.Push(protocol.NewStatus(protocol.StateBackpressure,
				fmt.Sprintf("audio for %q is arriving faster than it can be transcribed; oldest frames were dropped", src)))
		})
	w := NewWorker(src, s.spec, q, s.deps.Gate, s.deps.Transcriber, s.store, s.out,
		s.deps.Metrics, s.log, s.cfg.Worker, s.onSourceFatal)
	if src == types.SourceNote {
		w.offset = time.Since(s.startedAt).Seconds()
	}
	s.queues[src] = q
	s.workers[src] = w

	s.workerWg.Add(1)
	go func() {
		defer s.workerWg.Done()
		if err := w.Run(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Errorw("worker exited", "source", src, "error", err)
		}
	}()
}

// HandleMessage processes one decoded client message. Returned errors
// are fatal to the session; recoverable problems surface as error
// events instead.
func (s *Supervisor) HandleMessage(msg protocol.Message) error {
	state := s.machine.Current()
	if state == StateDrain || state == StateClosed {
		// Late messages after stop are dropped rather than failed.
		return nil
	}
	if state != StateStream {
		return fmt.Errorf("message %q before session start", msg.Kind)
	}

	switch msg.Kind {
	case protocol.KindStart:
		s.out.Push(protocol.NewError(protocol.ErrProtocol, true, "session already started"))
		return nil

	case protocol.KindAudio:
		return s.acceptAudio(msg.Audio.Source, msg.Audio.PCM)

	case protocol.KindVoiceNoteStart:
		s.ensureNotePipeline()
		return nil

	case protocol.KindVoiceNoteAudio:
		s.ensureNotePipeline()
		return s.acceptAudio(types.SourceNote, msg.Audio.PCM)

	case protocol.KindVoiceNoteStop:
		s.finishNotePipeline()
		return nil

	case protocol.KindOCRText:
		s.injectOCR(msg.OCR.Text)
		return nil

	case protocol.KindStop:
		// The decoder guarantees a session_id on wire stops; a mismatch
		// means the client is stopping the wrong session.
		if msg.Stop != nil && msg.Stop.SessionID != "" && msg.Stop.SessionID != s.ID {
			s.out.Push(protocol.NewError(protocol.ErrProtocol, true,
				fmt.Sprintf("stop names session %q, this connection is session %q", msg.Stop.SessionID, s.ID)))
			return nil
		}
		s.Drain()
		return nil
	}
	s.out.Push(protocol.NewError(protocol.ErrProtocol, true, fmt.Sprintf("unsupported message %q", msg.Kind)))
	return nil
}

func (s *Supervisor) acceptAudio(source types.Source, pcm []byte) error {
	if !s.spec.FrameAligned(len(pcm)) {
		s.out.Push(protocol.NewError(protocol.ErrProtocol, true,
			fmt.Sprintf("audio frame of %d bytes is not sample-aligned for the declared format", len(pcm))))
		return nil
	}

	s.mu.Lock()
	q, ok := s.queues[source]
	dead := s.dead[source]
	s.lastAudio = time.Now()
	s.idleFlagged = false
	s.mu.Unlock()

	if dead {
		// The source was retired after repeated ASR failures.
		return nil
	}
	if !ok {
		s.out.Push(protocol.NewError(protocol.ErrProtocol, true,
			fmt.Sprintf("no active pipeline for source %q", source)))
		return nil
	}

	labels := metrics.Labels{"source": string(source)}
	s.deps.Metrics.Counter(metrics.AudioBytesReceived, labels).Add(float64(len(pcm)))
	if err := q.Enqueue(audio.Frame{
		Source:  source,
		PCM:     pcm,
		Arrival: time.Since(s.startedAt).Seconds(),
	}); err != nil {
		s.out.Push(protocol.NewError(protocol.ErrProtocol, true, err.Error()))
		return nil
	}
	s.deps.Metrics.Gauge(metrics.QueueDepth, labels).Set(q.BufferedSeconds())
	return nil
}

func (s *Supervisor) ensureNotePipeline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[types.SourceNote]; ok {
		return
	}
	s.spawnSourceLocked(types.SourceNote)
}

// finishNotePipeline flushes the note worker and forgets it; a later
// voice_note_start spawns a fresh one at the then-current offset.
func (s *Supervisor) finishNotePipeline() {
	s.mu.Lock()
	w := s.workers[types.SourceNote]
	delete(s.workers, types.SourceNote)
	delete(s.queues, types.SourceNote)
	s.mu.Unlock()
	if w != nil {
		w.Flush()
	}
}

// injectOCR records screen text as a synthetic final segment at the
// current session offset so analyzer passes pick it up with the speech
// around it.
func (s *Supervisor) injectOCR(text string) {
	at := time.Since(s.startedAt).Seconds()
	s.store.Append(types.TranscriptSegment{
		T0:         at,
		T1:         at,
		Text:       text,
		Source:     types.SourceOCR,
		Confidence: 1.0,
		Stable:     true,
		IsFinal:    true,
	})
}

// onSourceFatal retires one source. The session keeps running on the
// remaining sources; when both live-audio sources are gone it drains.
func (s *Supervisor) onSourceFatal(source types.Source) {
	s.mu.Lock()
	s.dead[source] = true
	allDown := s.dead[types.SourceMic] && s.dead[types.SourceSystem]
	s.mu.Unlock()

	s.log.Warnw("source retired after repeated failures", "source", source)
	if allDown {
		s.Drain()
	}
}

func (s *Supervisor) watchIdle() {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.machine.Current() != StateStream {
			continue
		}
		s.mu.Lock()
		idle := !s.idleFlagged && time.Since(s.lastAudio) >= s.cfg.IdleTimeout
		if idle {
			s.idleFlagged = true
		}
		s.mu.Unlock()
		if idle {
			s.out.Push(protocol.NewStatus(protocol.StateIdle, "no audio received recently"))
		}
	}
}

// Drain begins the graceful shutdown: flush workers, run the final
// summary pass, emit final_summary, then close. Safe to call more than
// once; later calls are no-ops.
func (s *Supervisor) Drain() {
	s.drainOnce.Do(func() {
		if err := s.machine.Event(context.Background(), "stop"); err != nil {
			return
		}
		s.out.Push(protocol.NewStatus(protocol.StateDraining, "finishing buffered audio"))
		go s.drainAndClose()
	})
}

func (s *Supervisor) drainAndClose() {
	deadline := time.Now().Add(s.cfg.DrainTimeout)

	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()
	for _, w := range workers {
		w.Flush()
	}

	flushed := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(time.Until(deadline)):
		s.log.Warnw("drain deadline hit, abandoning buffered audio")
		s.cancel()
		<-flushed
	}

	// Stop periodic passes before the closing one; the scheduler state
	// is not safe for concurrent passes.
	if s.schedCancel != nil {
		s.schedCancel()
		<-s.schedDone
	}

	summary := s.sched.FinalSummary(context.Background())
	s.out.Push(protocol.NewFinalSummary(summary))

	_ = s.machine.Event(context.Background(), "drained")
	s.finalize()
}

// Abort tears the session down without a summary, used for transport
// failures where the client is already gone.
func (s *Supervisor) Abort(reason string) {
	if s.machine.Current() != StateClosed {
		_ = s.machine.Event(context.Background(), "fail")
	}
	s.log.Infow("session aborted", "reason", reason)
	s.finalize()
}

func (s *Supervisor) finalize() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.out.Close()
		s.deps.Metrics.Gauge(metrics.ActiveSessions, nil).Sub(1)
		close(s.closed)
	})
}

// ReportProtocolError surfaces a malformed client message through the
// event stream.
func (s *Supervisor) ReportProtocolError(msg string) {
	s.out.Push(protocol.NewError(protocol.ErrProtocol, true, msg))
}

// NextEvent blocks for the next outbound event; ErrOutboxClosed means
// the session is finished and fully drained.
func (s *Supervisor) NextEvent(ctx context.Context) (protocol.Event, error) {
	return s.out.Pop(ctx)
}

// Done is closed once the session has fully shut down.
func (s *Supervisor) Done() <-chan struct{} { return s.closed }

// State reports the current lifecycle state.
func (s *Supervisor) State() string { return s.machine.Current() }

// Store exposes the transcript for inspection endpoints.
func (s *Supervisor) Store() *TranscriptStore { return s.store }
