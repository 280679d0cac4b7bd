package session

import (
	"sync"
	"time"

	"gridtown/internal/clock"
	"gridtown/internal/wire"
)

const (
	// DefaultFlushWindow is the idle window before a pending batch is sent.
	DefaultFlushWindow = 100 * time.Millisecond
	// DefaultMaxBatch caps how many placements coalesce into one message.
	DefaultMaxBatch = 64
)

// Batcher coalesces rapid placement edits into one outgoing message. The
// flush timer is armed once per batch, not reset per item, so worst-case
// latency under continuous input stays bounded to a single window.
type Batcher struct {
	clock  clock.Clock
	window time.Duration
	max    int
	emit   func(wire.Action)

	mu     sync.Mutex
	items  []wire.Placement
	timer  clock.Timer
	closed bool
}

func NewBatcher(clk clock.Clock, window time.Duration, max int, emit func(wire.Action)) *Batcher {
	if clk == nil {
		clk = clock.System()
	}
	if window <= 0 {
		window = DefaultFlushWindow
	}
	if max <= 0 {
		max = DefaultMaxBatch
	}
	return &Batcher{clock: clk, window: window, max: max, emit: emit}
}

// Add appends one placement. A full buffer flushes immediately, bypassing
// the timer.
func (b *Batcher) Add(item wire.Placement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, item)
	if len(b.items) >= b.max {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.window, b.timerFlush)
	}
}

// Flush sends any pending batch now. Immediate-class actions call this
// before their own broadcast so placements keep their causal position.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Len reports the number of buffered placements.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close flushes pending items and cancels the timer. Further Adds are
// dropped.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	b.closed = true
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	// The timer handle is cleared by flushLocked; a flush that raced this
	// callback leaves nothing to send.
	b.flushLocked()
}

// flushLocked emits the batch while holding the mutex so flushes and the
// immediate sends that follow them cannot interleave.
func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = nil

	var action wire.Action
	if len(items) == 1 {
		action = wire.Place(items[0].X, items[0].Y, items[0].Tool)
	} else {
		action = wire.PlaceBatch(items)
	}
	if b.emit != nil {
		b.emit(action)
	}
}
