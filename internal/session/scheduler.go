package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/meetscribe/livelistener/internal/analyzer"
	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/types"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
)

const (
	// analyzerFailureLimit is the consecutive-failure count that emits a
	// client-visible analyzer error and doubles the pass intervals.
	analyzerFailureLimit = 5

	// cardsMinNewFinals triggers a cards pass early when this many new
	// final segments landed since the last one.
	cardsMinNewFinals = 3

	// contextSpanSeconds of already-analyzed transcript handed to the
	// provider as read-only context ahead of the tail.
	contextSpanSeconds = 30.0

	schedulerTick = time.Second
)

// SchedulerConfig carries the pass cadences.
type SchedulerConfig struct {
	EntitiesInterval    time.Duration
	CardsInterval       time.Duration
	Timeout             time.Duration
	EntitiesMinNewChars int
}

type passKind int

const (
	passEntities passKind = iota
	passCards
)

// Scheduler drives periodic analyzer passes over the transcript tail.
// Each pass kind keeps its own cursor (the last t1 it has analyzed) so
// an analyzer failure never loses transcript: the cursor only advances
// on success and the same tail is retried on the next tick.
type Scheduler struct {
	store *TranscriptStore
	out   *Outbox
	an    analyzer.Analyzer
	mets  *metrics.Registry
	log   *Logger.Logger
	cfg   SchedulerConfig

	entCursor  float64
	cardCursor float64
	lastEnt    time.Time
	lastCards  time.Time
	charsAtEnt int
	finalsAt   int

	failures int
	scale    float64

	acc analyzer.Result
}

func NewScheduler(store *TranscriptStore, out *Outbox, an analyzer.Analyzer, mets *metrics.Registry, log *Logger.Logger, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		store: store,
		out:   out,
		an:    an,
		mets:  mets,
		log:   log.Named("scheduler"),
		cfg:   cfg,
		scale: 1,
	}
}

// Run ticks until the context ends. Pass cadence stretches by the
// backoff scale after repeated failures and snaps back on success.
func (s *Scheduler) Run(ctx context.Context) {
	now := time.Now()
	s.lastEnt, s.lastCards = now, now

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.entitiesDue() {
				s.runPass(ctx, passEntities)
			}
			if s.cardsDue() {
				s.runPass(ctx, passCards)
			}
		}
	}
}

func (s *Scheduler) entitiesDue() bool {
	if time.Since(s.lastEnt) >= time.Duration(float64(s.cfg.EntitiesInterval)*s.scale) {
		return true
	}
	return s.cfg.EntitiesMinNewChars > 0 && s.store.Chars()-s.charsAtEnt >= s.cfg.EntitiesMinNewChars
}

func (s *Scheduler) cardsDue() bool {
	if time.Since(s.lastCards) >= time.Duration(float64(s.cfg.CardsInterval)*s.scale) {
		return true
	}
	return s.store.Len()-s.finalsAt >= cardsMinNewFinals
}

func (s *Scheduler) runPass(ctx context.Context, kind passKind) {
	cursor := s.entCursor
	if kind == passCards {
		cursor = s.cardCursor
	}

	tail := s.store.TailSince(cursor)
	if len(tail) == 0 {
		s.touch(kind)
		return
	}

	req := analyzer.Request{
		Tail:         tail,
		Context:      s.store.ContextBefore(cursor, contextSpanSeconds),
		WantEntities: kind == passEntities,
		WantCards:    kind == passCards,
		Prior:        &s.acc,
	}

	s.mets.Counter(metrics.AnalyzerCallsTotal, nil).Inc()
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	res, err := s.an.Extract(cctx, req)
	cancel()
	if err != nil {
		s.onFailure(err)
		s.touch(kind)
		return
	}

	s.failures = 0
	s.scale = 1

	maxT1 := cursor
	for _, seg := range tail {
		if seg.T1 > maxT1 {
			maxT1 = seg.T1
		}
	}

	switch kind {
	case passEntities:
		s.entCursor = maxT1
		s.acc.Entities.People = mergeEntities(s.acc.Entities.People, res.Entities.People)
		s.acc.Entities.Orgs = mergeEntities(s.acc.Entities.Orgs, res.Entities.Orgs)
		s.acc.Entities.Topics = mergeEntities(s.acc.Entities.Topics, res.Entities.Topics)
		s.out.Push(protocol.NewEntitiesUpdate(s.acc.Entities, s.entCursor))
	case passCards:
		s.cardCursor = maxT1
		s.acc.Cards.Actions = mergeCards(s.acc.Cards.Actions, res.Cards.Actions)
		s.acc.Cards.Decisions = mergeCards(s.acc.Cards.Decisions, res.Cards.Decisions)
		s.acc.Cards.Risks = mergeCards(s.acc.Cards.Risks, res.Cards.Risks)
		s.out.Push(protocol.NewCardsUpdate(s.acc.Cards, s.cardCursor))
	}
	s.touch(kind)
}

func (s *Scheduler) touch(kind passKind) {
	switch kind {
	case passEntities:
		s.lastEnt = time.Now()
		s.charsAtEnt = s.store.Chars()
	case passCards:
		s.lastCards = time.Now()
		s.finalsAt = s.store.Len()
	}
}

func (s *Scheduler) onFailure(err error) {
	s.mets.Counter(metrics.AnalyzerErrors, nil).Inc()
	s.failures++
	s.log.Warnf("analyzer pass failed (%d consecutive): %v", s.failures, err)
	if s.failures == analyzerFailureLimit {
		s.scale *= 2
		s.out.Push(protocol.NewError(protocol.ErrAnalyzer, true,
			"insight extraction is degraded, retrying at a reduced rate"))
	}
}

// FinalSummary runs the closing pass over the whole transcript. It
// never fails the drain: on analyzer error it falls back to the
// insights accumulated so far with a minimal markdown body.
func (s *Scheduler) FinalSummary(ctx context.Context) types.Summary {
	all := s.store.All()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	s.mets.Counter(metrics.AnalyzerCallsTotal, nil).Inc()
	res, err := s.an.Extract(cctx, analyzer.Request{
		Tail:        all,
		WantCards:   true,
		WantSummary: true,
		Prior:       &s.acc,
	})
	if err != nil {
		s.mets.Counter(metrics.AnalyzerErrors, nil).Inc()
		s.log.Warnf("final summary pass failed, using accumulated insights: %v", err)
		return types.Summary{
			Markdown: fallbackSummary(all),
			Cards:    s.acc.Cards,
		}
	}

	s.acc.Cards.Actions = mergeCards(s.acc.Cards.Actions, res.Cards.Actions)
	s.acc.Cards.Decisions = mergeCards(s.acc.Cards.Decisions, res.Cards.Decisions)
	s.acc.Cards.Risks = mergeCards(s.acc.Cards.Risks, res.Cards.Risks)

	md := res.SummaryMarkdown
	if strings.TrimSpace(md) == "" {
		md = fallbackSummary(all)
	}
	return types.Summary{Markdown: md, Cards: s.acc.Cards}
}

// Cards exposes the accumulated card state, used when a session closes
// without a final pass.
func (s *Scheduler) Cards() types.Cards { return s.acc.Cards }

func fallbackSummary(segs []types.TranscriptSegment) string {
	var b strings.Builder
	b.WriteString("# Meeting summary\n\n")
	if len(segs) == 0 {
		b.WriteString("No speech was transcribed in this session.\n")
		return b.String()
	}
	var maxT1 float64
	for _, seg := range segs {
		if seg.T1 > maxT1 {
			maxT1 = seg.T1
		}
	}
	b.WriteString("Summary generation was unavailable; the transcript was captured in full.\n\n")
	b.WriteString("- Segments: ")
	b.WriteString(strconv.Itoa(len(segs)))
	b.WriteString("\n- Covered: ")
	b.WriteString(formatSeconds(maxT1))
	b.WriteString("\n")
	return b.String()
}

func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	return d.String()
}

// mergeEntities folds new mentions into the accumulated list. The same
// text over an overlapping time range is one mention and keeps the
// higher confidence; the same text elsewhere in the meeting is a new
// mention.
func mergeEntities(dst, in []types.Entity) []types.Entity {
	for _, e := range in {
		merged := false
		for i := range dst {
			if strings.EqualFold(dst[i].Text, e.Text) && types.Overlaps(dst[i].T0, dst[i].T1, e.T0, e.T1) {
				if e.Confidence > dst[i].Confidence {
					dst[i] = e
				}
				merged = true
				break
			}
		}
		if !merged {
			dst = append(dst, e)
		}
	}
	return dst
}

func mergeCards(dst, in []types.Card) []types.Card {
	for _, c := range in {
		merged := false
		for i := range dst {
			if strings.EqualFold(dst[i].Text, c.Text) && types.Overlaps(dst[i].T0, dst[i].T1, c.T0, c.T1) {
				if c.Confidence > dst[i].Confidence {
					dst[i] = c
				}
				merged = true
				break
			}
		}
		if !merged {
			dst = append(dst, c)
		}
	}
	return dst
}
