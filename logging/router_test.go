package logging

import (
	"context"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, sink *MemorySink, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := sink.Events()
		if len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, len(sink.Events()))
	return nil
}

func TestRouterForwardsToSinks(t *testing.T) {
	sink := NewMemorySink()
	router := NewRouter(nil, DefaultConfig(), []NamedSink{{Name: "memory", Sink: sink}})
	defer router.Close(context.Background())

	router.Publish(context.Background(), Event{
		Type:     EventRoomCreated,
		Room:     "ABCDE",
		Severity: SeverityInfo,
	})

	events := waitForEvents(t, sink, 1)
	if events[0].Type != EventRoomCreated {
		t.Fatalf("expected %s, got %s", EventRoomCreated, events[0].Type)
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected router to stamp event time")
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := NewMemorySink()
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	router := NewRouter(nil, cfg, []NamedSink{{Name: "memory", Sink: sink}})

	router.Publish(context.Background(), Event{Type: EventPeerJoined, Severity: SeverityInfo})
	router.Publish(context.Background(), Event{Type: EventSnapshotFailed, Severity: SeverityWarn})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event after filtering, got %d", len(events))
	}
	if events[0].Type != EventSnapshotFailed {
		t.Fatalf("expected %s to pass the filter, got %s", EventSnapshotFailed, events[0].Type)
	}
}

func TestRouterAttachesConfiguredFields(t *testing.T) {
	sink := NewMemorySink()
	cfg := DefaultConfig()
	cfg.Fields = map[string]any{"instance": "relay-1"}
	router := NewRouter(nil, cfg, []NamedSink{{Name: "memory", Sink: sink}})
	defer router.Close(context.Background())

	router.Publish(context.Background(), Event{Type: EventBroadcastSent, Severity: SeverityInfo})

	events := waitForEvents(t, sink, 1)
	if got := events[0].Extra["instance"]; got != "relay-1" {
		t.Fatalf("expected instance field relay-1, got %v", got)
	}
}

func TestRouterIgnoresEventsAfterClose(t *testing.T) {
	sink := NewMemorySink()
	router := NewRouter(nil, DefaultConfig(), []NamedSink{{Name: "memory", Sink: sink}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	router.Publish(context.Background(), Event{Type: EventRoomLeft, Severity: SeverityInfo})
	if got := len(sink.Events()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}
