package protocol

import (
	"github.com/meetscribe/livelistener/internal/types"
)

// EventType tags the outbound event union.
type EventType string

const (
	EventStatus         EventType = "status"
	EventASRPartial     EventType = "asr_partial"
	EventASRFinal       EventType = "asr_final"
	EventEntitiesUpdate EventType = "entities_update"
	EventCardsUpdate    EventType = "cards_update"
	EventFinalSummary   EventType = "final_summary"
	EventError          EventType = "error"
)

// Status states reported to the client.
const (
	StateStreaming    = "streaming"
	StateBackpressure = "backpressure"
	StateIdle         = "idle"
	StateDraining     = "draining"
)

// ErrKind classifies outbound errors per the recovery tiers.
type ErrKind string

const (
	ErrProtocol  ErrKind = "protocol"
	ErrASR       ErrKind = "asr"
	ErrAnalyzer  ErrKind = "analyzer"
	ErrTransport ErrKind = "transport"
)

// Event is one outbound wire message. Critical events are never shed
// by the out-box overflow policy.
type Event interface {
	EventType() EventType
	Critical() bool
}

type StatusEvent struct {
	Type    EventType `json:"type"`
	State   string    `json:"state"`
	Message string    `json:"message,omitempty"`
}

func NewStatus(state, message string) StatusEvent {
	return StatusEvent{Type: EventStatus, State: state, Message: message}
}

func (e StatusEvent) EventType() EventType { return EventStatus }
func (e StatusEvent) Critical() bool       { return true }

// SegmentEvent carries a partial or final transcript segment.
type SegmentEvent struct {
	Type       EventType    `json:"type"`
	T0         float64      `json:"t0"`
	T1         float64      `json:"t1"`
	Text       string       `json:"text"`
	Stable     bool         `json:"stable"`
	Source     types.Source `json:"source"`
	Confidence float64      `json:"confidence"`
}

func NewSegment(seg types.TranscriptSegment) SegmentEvent {
	t := EventASRPartial
	if seg.IsFinal {
		t = EventASRFinal
	}
	return SegmentEvent{
		Type:       t,
		T0:         seg.T0,
		T1:         seg.T1,
		Text:       seg.Text,
		Stable:     seg.Stable,
		Source:     seg.Source,
		Confidence: seg.Confidence,
	}
}

func (e SegmentEvent) EventType() EventType { return e.Type }
func (e SegmentEvent) Critical() bool       { return e.Type == EventASRFinal }

type EntitiesUpdate struct {
	Type     EventType      `json:"type"`
	People   []types.Entity `json:"people"`
	Orgs     []types.Entity `json:"orgs"`
	Topics   []types.Entity `json:"topics"`
	CursorT1 float64        `json:"cursor_t1"`
}

func NewEntitiesUpdate(e types.Entities, cursor float64) EntitiesUpdate {
	return EntitiesUpdate{
		Type:     EventEntitiesUpdate,
		People:   emptyIfNilEntities(e.People),
		Orgs:     emptyIfNilEntities(e.Orgs),
		Topics:   emptyIfNilEntities(e.Topics),
		CursorT1: cursor,
	}
}

func (e EntitiesUpdate) EventType() EventType { return EventEntitiesUpdate }
func (e EntitiesUpdate) Critical() bool       { return false }

type CardsUpdate struct {
	Type      EventType    `json:"type"`
	Actions   []types.Card `json:"actions"`
	Decisions []types.Card `json:"decisions"`
	Risks     []types.Card `json:"risks"`
	CursorT1  float64      `json:"cursor_t1"`
}

func NewCardsUpdate(c types.Cards, cursor float64) CardsUpdate {
	return CardsUpdate{
		Type:      EventCardsUpdate,
		Actions:   emptyIfNilCards(c.Actions),
		Decisions: emptyIfNilCards(c.Decisions),
		Risks:     emptyIfNilCards(c.Risks),
		CursorT1:  cursor,
	}
}

func (e CardsUpdate) EventType() EventType { return EventCardsUpdate }
func (e CardsUpdate) Critical() bool       { return false }

type FinalSummary struct {
	Type     EventType   `json:"type"`
	Markdown string      `json:"markdown"`
	JSON     types.Cards `json:"json"`
}

func NewFinalSummary(s types.Summary) FinalSummary {
	return FinalSummary{
		Type:     EventFinalSummary,
		Markdown: s.Markdown,
		JSON: types.Cards{
			Actions:   emptyIfNilCards(s.Cards.Actions),
			Decisions: emptyIfNilCards(s.Cards.Decisions),
			Risks:     emptyIfNilCards(s.Cards.Risks),
		},
	}
}

func (e FinalSummary) EventType() EventType { return EventFinalSummary }
func (e FinalSummary) Critical() bool       { return true }

type ErrorEvent struct {
	Type        EventType `json:"type"`
	Kind        ErrKind   `json:"kind"`
	Recoverable bool      `json:"recoverable"`
	Message     string    `json:"message"`
}

func NewError(kind ErrKind, recoverable bool, message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Kind: kind, Recoverable: recoverable, Message: message}
}

func (e ErrorEvent) EventType() EventType { return EventError }
func (e ErrorEvent) Critical() bool       { return true }

func emptyIfNilEntities(in []types.Entity) []types.Entity {
	if in == nil {
		return []types.Entity{}
	}
	return in
}

func emptyIfNilCards(in []types.Card) []types.Card {
	if in == nil {
		return []types.Card{}
	}
	return in
}
