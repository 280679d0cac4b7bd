package session

import (
	"fmt"
	"testing"
	"time"

	"gridtown/internal/clock"
	"gridtown/internal/wire"
)

func collectBatcher(fake *clock.Fake, window time.Duration, max int) (*Batcher, *[]wire.Action) {
	emitted := &[]wire.Action{}
	b := NewBatcher(fake, window, max, func(a wire.Action) {
		*emitted = append(*emitted, a)
	})
	return b, emitted
}

func TestBatcherCoalescesWithinWindow(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 64)

	for i := 0; i < 50; i++ {
		b.Add(wire.Placement{X: i, Y: i, Tool: "residential"})
	}
	if len(*emitted) != 0 {
		t.Fatalf("nothing should be emitted before the window elapses, got %d", len(*emitted))
	}

	fake.Advance(100 * time.Millisecond)
	if len(*emitted) != 1 {
		t.Fatalf("expected exactly one coalesced message, got %d", len(*emitted))
	}
	batch := (*emitted)[0]
	if batch.Type != wire.ActionPlaceBatch {
		t.Fatalf("expected placeBatch, got %s", batch.Type)
	}
	if len(batch.Items) != 50 {
		t.Fatalf("expected 50 items, got %d", len(batch.Items))
	}
	for i, item := range batch.Items {
		if item.X != i {
			t.Fatalf("item %d out of order: got x=%d", i, item.X)
		}
	}
}

func TestBatcherSingleItemStaysUnwrapped(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 64)

	b.Add(wire.Placement{X: 3, Y: 4, Tool: "park"})
	fake.Advance(100 * time.Millisecond)

	if len(*emitted) != 1 {
		t.Fatalf("expected one message, got %d", len(*emitted))
	}
	got := (*emitted)[0]
	if got.Type != wire.ActionPlace {
		t.Fatalf("a single item must go out as place, got %s", got.Type)
	}
	if got.X != 3 || got.Y != 4 || got.Tool != "park" {
		t.Fatalf("unexpected emitted action: %+v", got)
	}
}

func TestBatcherTimerIsNotRearmedPerItem(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 64)

	b.Add(wire.Placement{X: 0, Y: 0, Tool: "road"})
	fake.Advance(60 * time.Millisecond)
	b.Add(wire.Placement{X: 1, Y: 1, Tool: "road"})
	// The window runs from the first item, so 40ms later both flush.
	fake.Advance(40 * time.Millisecond)

	if len(*emitted) != 1 {
		t.Fatalf("expected one flush bounded by the first item's window, got %d", len(*emitted))
	}
	if got := len((*emitted)[0].Items); got != 2 {
		t.Fatalf("expected both items in the flush, got %d", got)
	}
}

func TestBatcherFullBufferFlushesImmediately(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 10)

	for i := 0; i < 10; i++ {
		b.Add(wire.Placement{X: i, Tool: "wire"})
	}
	if len(*emitted) != 1 {
		t.Fatalf("expected a full buffer to flush without waiting, got %d messages", len(*emitted))
	}
	if got := len((*emitted)[0].Items); got != 10 {
		t.Fatalf("expected 10 items, got %d", got)
	}
	if got := fake.PendingTimers(); got != 0 {
		t.Fatalf("expected the flush timer to be cancelled, got %d pending", got)
	}
}

func TestBatcherCloseFlushesAndStops(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 64)

	b.Add(wire.Placement{X: 7, Tool: "rail"})
	b.Close()

	if len(*emitted) != 1 {
		t.Fatalf("expected close to flush the pending item, got %d messages", len(*emitted))
	}
	b.Add(wire.Placement{X: 8, Tool: "rail"})
	fake.Advance(time.Second)
	if len(*emitted) != 1 {
		t.Fatalf("adds after close must be dropped, got %d messages", len(*emitted))
	}
	if got := fake.PendingTimers(); got != 0 {
		t.Fatalf("expected no timers after close, got %d", got)
	}
}

func TestBatcherEmissionOrderAcrossFlushes(t *testing.T) {
	fake := clock.NewFake()
	b, emitted := collectBatcher(fake, 100*time.Millisecond, 3)

	for i := 0; i < 7; i++ {
		b.Add(wire.Placement{X: i, Tool: fmt.Sprintf("tool-%d", i)})
	}
	fake.Advance(100 * time.Millisecond)

	// 7 items with max 3: two full flushes plus one timer flush.
	if len(*emitted) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(*emitted))
	}
	next := 0
	for _, action := range *emitted {
		items := action.Items
		if action.Type == wire.ActionPlace {
			items = []wire.Placement{{X: action.X, Y: action.Y, Tool: action.Tool}}
		}
		for _, item := range items {
			if item.X != next {
				t.Fatalf("expected item %d next, got %d", next, item.X)
			}
			next++
		}
	}
	if next != 7 {
		t.Fatalf("expected 7 items across flushes, got %d", next)
	}
}
