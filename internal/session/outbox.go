// Package session owns the per-connection pipeline: supervisor state
// machine, ASR workers, transcript store, analyzer scheduler and the
// bounded event out-box.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/meetscribe/livelistener/internal/protocol"
)

// ErrOutboxClosed is returned by Pop once the out-box is closed and
// fully drained.
var ErrOutboxClosed = errors.New("outbox closed")

const defaultOutboxCapacity = 256

// Outbox is the single outbound event channel of a session. All
// components publish into it; the gateway writer drains it. It is
// bounded: overflow sheds the oldest non-critical event, partials
// before entity/card updates. Critical events are never shed, even if
// that temporarily exceeds the bound.
type Outbox struct {
	mu     sync.Mutex
	items  []protocol.Event
	max    int
	closed bool
	notify chan struct{}
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = defaultOutboxCapacity
	}
	return &Outbox{
		max:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues an event, applying the overflow policy when full.
// Returns false if the event was shed or the out-box already closed.
func (o *Outbox) Push(ev protocol.Event) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}

	accepted := true
	if len(o.items) >= o.max {
		if !o.shedOneLocked() && !ev.Critical() {
			accepted = false
		}
	}
	if accepted {
		o.items = append(o.items, ev)
	}
	o.mu.Unlock()

	if accepted {
		select {
		case o.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

// shedOneLocked removes the oldest partial, or failing that the oldest
// entities/cards update. Returns false when everything queued is
// critical.
func (o *Outbox) shedOneLocked() bool {
	for i, ev := range o.items {
		if ev.EventType() == protocol.EventASRPartial {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return true
		}
	}
	for i, ev := range o.items {
		t := ev.EventType()
		if t == protocol.EventEntitiesUpdate || t == protocol.EventCardsUpdate {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return true
		}
	}
	return false
}

// Pop blocks for the next event. After Close it keeps returning queued
// events until empty, then ErrOutboxClosed.
func (o *Outbox) Pop(ctx context.Context) (protocol.Event, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			ev := o.items[0]
			o.items = o.items[1:]
			o.mu.Unlock()
			return ev, nil
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return nil, ErrOutboxClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.notify:
		}
	}
}

// Close stops accepting events; queued ones remain poppable.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
