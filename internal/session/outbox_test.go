package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/types"
)

func partialEvent(text string) protocol.SegmentEvent {
	return protocol.NewSegment(types.TranscriptSegment{
		T0: 0, T1: 1, Text: text, Source: types.SourceMic,
	})
}

func finalEvent(text string) protocol.SegmentEvent {
	return protocol.NewSegment(types.TranscriptSegment{
		T0: 0, T1: 1, Text: text, Source: types.SourceMic, Stable: true, IsFinal: true,
	})
}

func TestOutboxFIFO(t *testing.T) {
	o := NewOutbox(8)
	o.Push(partialEvent("one"))
	o.Push(partialEvent("two"))

	ctx := context.Background()
	for _, want := range []string{"one", "two"} {
		ev, err := o.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got := ev.(protocol.SegmentEvent).Text; got != want {
			t.Errorf("Pop text = %q, want %q", got, want)
		}
	}
}

func TestOutboxShedsPartialsFirst(t *testing.T) {
	o := NewOutbox(3)
	o.Push(finalEvent("final-a"))
	o.Push(partialEvent("partial"))
	o.Push(protocol.NewEntitiesUpdate(types.Entities{}, 10))

	// Full: the oldest partial goes first.
	if !o.Push(finalEvent("final-b")) {
		t.Fatal("push into full outbox with sheddable items rejected")
	}
	if o.Len() != 3 {
		t.Fatalf("Len = %d, want 3", o.Len())
	}

	// Full again with no partials left: the entities update goes next.
	if !o.Push(finalEvent("final-c")) {
		t.Fatal("push rejected with entity update still sheddable")
	}

	ctx := context.Background()
	var kinds []protocol.EventType
	for i := 0; i < 3; i++ {
		ev, err := o.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		kinds = append(kinds, ev.EventType())
	}
	for i, k := range kinds {
		if k != protocol.EventASRFinal {
			t.Errorf("event %d = %s, want only finals to survive shedding", i, k)
		}
	}
}

func TestOutboxNeverShedsCritical(t *testing.T) {
	o := NewOutbox(2)
	o.Push(finalEvent("a"))
	o.Push(protocol.NewError(protocol.ErrASR, true, "transient"))

	// Everything queued is critical; a non-critical push is refused.
	if o.Push(partialEvent("late partial")) {
		t.Error("non-critical event accepted over a full critical queue")
	}
	// A critical push is accepted even past the bound.
	if !o.Push(protocol.NewFinalSummary(types.Summary{Markdown: "# done"})) {
		t.Error("critical event rejected by full queue")
	}
	if o.Len() != 3 {
		t.Errorf("Len = %d, want 3", o.Len())
	}
}

func TestOutboxPopBlocksUntilPush(t *testing.T) {
	o := NewOutbox(4)
	done := make(chan protocol.Event, 1)
	go func() {
		ev, err := o.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop: %v", err)
			return
		}
		done <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	o.Push(finalEvent("arrived"))

	select {
	case ev := <-done:
		if ev.(protocol.SegmentEvent).Text != "arrived" {
			t.Errorf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on push")
	}
}

func TestOutboxCloseDrainsThenErrors(t *testing.T) {
	o := NewOutbox(4)
	o.Push(finalEvent("queued"))
	o.Close()

	if o.Push(finalEvent("late")) {
		t.Error("push accepted after close")
	}

	ctx := context.Background()
	if _, err := o.Pop(ctx); err != nil {
		t.Fatalf("Pop of queued event after close: %v", err)
	}
	if _, err := o.Pop(ctx); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("Pop after drain = %v, want ErrOutboxClosed", err)
	}
}

func TestOutboxPopHonorsContext(t *testing.T) {
	o := NewOutbox(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := o.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pop = %v, want deadline exceeded", err)
	}
}
