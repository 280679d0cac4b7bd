package session

import (
	"math/rand"
	"sync"
	"time"

	"gridtown/internal/clock"
	"gridtown/internal/wire"
)

// Role is the peer's explicit authority over its room. The creator's state
// is always authoritative and is never replaced by a handshake message.
type Role int

const (
	RoleJoiner Role = iota
	RoleCreator
)

func (r Role) String() string {
	if r == RoleCreator {
		return "creator"
	}
	return "joiner"
}

// DefaultJitterMax bounds the random delay before answering a newcomer, to
// desynchronize simultaneous responders. The jitter is a probabilistic
// mitigation against redundant responses, not a correctness guarantee; the
// accept-once guard below is what prevents a second overwrite.
const DefaultJitterMax = 200 * time.Millisecond

// Handshake tracks the reconciliation state for one session: whether this
// peer may still accept a targeted state sync, and the jitter timers armed
// to answer newcomers.
type Handshake struct {
	clock     clock.Clock
	jitterMax time.Duration
	jitter    func(limit time.Duration) time.Duration

	mu       sync.Mutex
	role     Role
	received bool
	timers   []clock.Timer
	closed   bool
}

func NewHandshake(role Role, clk clock.Clock, jitterMax time.Duration) *Handshake {
	if clk == nil {
		clk = clock.System()
	}
	if jitterMax <= 0 {
		jitterMax = DefaultJitterMax
	}
	return &Handshake{
		clock:     clk,
		jitterMax: jitterMax,
		jitter: func(limit time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(limit)))
		},
		role: role,
		// The creator's own state is the room's first state; it never
		// waits for, or accepts, a sync from anyone else.
		received: role == RoleCreator,
	}
}

// ScheduleResponse arms a jittered one-shot that broadcasts this peer's
// state to a newcomer. The timer is tracked so teardown can cancel it.
func (h *Handshake) ScheduleResponse(respond func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	delay := h.jitter(h.jitterMax)
	h.timers = append(h.timers, h.clock.AfterFunc(delay, respond))
}

// Accept decides whether an inbound targeted sync replaces local state.
// Only the first sync addressed to a non-creator peer is accepted; every
// later one is a no-op.
func (h *Handshake) Accept(sync wire.StateSync, selfID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sync.To != selfID {
		return false
	}
	if h.role == RoleCreator || h.received {
		return false
	}
	h.received = true
	return true
}

// Received reports whether this peer holds a reconciled (or authoritative)
// state.
func (h *Handshake) Received() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

// Role returns the peer's room role.
func (h *Handshake) Role() Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

// Close cancels all pending jitter timers.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}
