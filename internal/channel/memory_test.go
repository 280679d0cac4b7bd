package channel

import (
	"context"
	"testing"
)

type recorder struct {
	events  []string
	joins   []Member
	leaves  []Member
	syncs   [][]Member
	payload [][]byte
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnEvent: func(event string, payload []byte) {
			r.events = append(r.events, event)
			r.payload = append(r.payload, payload)
		},
		OnJoin:  func(m Member) { r.joins = append(r.joins, m) },
		OnLeave: func(m Member) { r.leaves = append(r.leaves, m) },
		OnSync:  func(ms []Member) { r.syncs = append(r.syncs, ms) },
	}
}

func TestMemoryNetworkNoSelfDelivery(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()

	var recA, recB recorder
	chA, err := network.Open(ctx, "room:ABCDE", Member{ID: "a"}, recA.handlers())
	if err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	if _, err := network.Open(ctx, "room:ABCDE", Member{ID: "b"}, recB.handlers()); err != nil {
		t.Fatalf("open b failed: %v", err)
	}

	if err := chA.Broadcast(ctx, "action", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	if len(recA.events) != 0 {
		t.Fatalf("sender must not receive its own broadcast, got %d events", len(recA.events))
	}
	if len(recB.events) != 1 || recB.events[0] != "action" {
		t.Fatalf("expected b to receive one action event, got %v", recB.events)
	}
}

func TestMemoryNetworkPerSenderOrdering(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()

	var recB recorder
	chA, err := network.Open(ctx, "room:ABCDE", Member{ID: "a"}, Handlers{})
	if err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	if _, err := network.Open(ctx, "room:ABCDE", Member{ID: "b"}, recB.handlers()); err != nil {
		t.Fatalf("open b failed: %v", err)
	}

	want := []string{`1`, `2`, `3`, `4`, `5`}
	for _, p := range want {
		if err := chA.Broadcast(ctx, "action", []byte(p)); err != nil {
			t.Fatalf("broadcast failed: %v", err)
		}
	}
	if len(recB.payload) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(recB.payload))
	}
	for i, p := range want {
		if string(recB.payload[i]) != p {
			t.Fatalf("delivery %d out of order: got %s, want %s", i, recB.payload[i], p)
		}
	}
}

func TestMemoryNetworkPresence(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()

	var recA, recB recorder
	if _, err := network.Open(ctx, "room:ABCDE", Member{ID: "a"}, recA.handlers()); err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	if len(recA.syncs) != 1 || len(recA.syncs[0]) != 1 {
		t.Fatalf("expected initial sync with just the local member, got %v", recA.syncs)
	}

	chB, err := network.Open(ctx, "room:ABCDE", Member{ID: "b"}, recB.handlers())
	if err != nil {
		t.Fatalf("open b failed: %v", err)
	}
	if len(recA.joins) != 1 || recA.joins[0].ID != "b" {
		t.Fatalf("expected a to observe b joining, got %v", recA.joins)
	}
	if len(recB.syncs) != 1 || len(recB.syncs[0]) != 2 {
		t.Fatalf("expected b's sync to list both members, got %v", recB.syncs)
	}

	if err := chB.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(recA.leaves) != 1 || recA.leaves[0].ID != "b" {
		t.Fatalf("expected a to observe b leaving, got %v", recA.leaves)
	}
}

func TestMemoryNetworkRejectsDuplicateMember(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()
	if _, err := network.Open(ctx, "room:ABCDE", Member{ID: "a"}, Handlers{}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := network.Open(ctx, "room:ABCDE", Member{ID: "a"}, Handlers{}); err == nil {
		t.Fatalf("expected duplicate member id to be rejected")
	}
}
