package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridtown/internal/channel"
)

func startRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	hub := NewHub(HubConfig{})
	server := NewServer(hub, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestRealtimeRoundTrip(t *testing.T) {
	_, wsURL := startRelay(t)
	transport := &channel.Realtime{URL: wsURL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan string, 4)
	joins := make(chan channel.Member, 4)
	syncs := make(chan []channel.Member, 4)

	a, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "a", Name: "Ann"}, channel.Handlers{
		OnJoin: func(m channel.Member) { joins <- m },
	})
	if err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	defer a.Close(context.Background())

	b, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "b", Name: "Bea"}, channel.Handlers{
		OnEvent: func(event string, payload []byte) { events <- event + ":" + string(payload) },
		OnSync:  func(members []channel.Member) { syncs <- members },
	})
	if err != nil {
		t.Fatalf("open b failed: %v", err)
	}
	defer b.Close(context.Background())

	select {
	case members := <-syncs:
		if len(members) != 2 {
			t.Fatalf("expected 2 members in the join ack, got %d", len(members))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the join ack sync")
	}

	select {
	case m := <-joins:
		if m.ID != "b" {
			t.Fatalf("expected a to see b join, got %q", m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the presence join")
	}

	payload, _ := json.Marshal(map[string]string{"type": "remove", "senderId": "a"})
	if err := a.Broadcast(ctx, "action", payload); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	select {
	case got := <-events:
		if !strings.HasPrefix(got, "action:") || !strings.Contains(got, `"remove"`) {
			t.Fatalf("unexpected event %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the broadcast")
	}
}

func TestRealtimeLeaveAnnounced(t *testing.T) {
	_, wsURL := startRelay(t)
	transport := &channel.Realtime{URL: wsURL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leaves := make(chan channel.Member, 4)
	a, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "a"}, channel.Handlers{
		OnLeave: func(m channel.Member) { leaves <- m },
	})
	if err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	defer a.Close(context.Background())

	b, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "b"}, channel.Handlers{})
	if err != nil {
		t.Fatalf("open b failed: %v", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close b failed: %v", err)
	}

	select {
	case m := <-leaves:
		if m.ID != "b" {
			t.Fatalf("expected b's departure, got %q", m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the presence leave")
	}
}

func TestRealtimeDuplicateJoinRejected(t *testing.T) {
	_, wsURL := startRelay(t)
	transport := &channel.Realtime{URL: wsURL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "a"}, channel.Handlers{})
	if err != nil {
		t.Fatalf("open a failed: %v", err)
	}
	defer a.Close(context.Background())

	if _, err := transport.Open(ctx, "room:AAAAA", channel.Member{ID: "a"}, channel.Handlers{}); err == nil {
		t.Fatalf("expected the second join with the same id to be rejected")
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	ts, _ := startRelay(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
		Topics int    `json:"topics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("healthz payload malformed: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("expected status ok, got %q", health.Status)
	}

	resp2, err := http.Get(ts.URL + "/telemetryz")
	if err != nil {
		t.Fatalf("telemetryz request failed: %v", err)
	}
	defer resp2.Body.Close()
	var snap TelemetrySnapshot
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("telemetryz payload malformed: %v", err)
	}
}
