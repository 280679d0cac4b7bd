package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives routed events. Implementations own their write medium and
// must tolerate concurrent Close while a Write is in flight.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router buffers published events and fans them out to sink workers. A full
// queue drops the event rather than stalling a broadcast or timer handler.
type Router struct {
	cfg         Config
	queue       chan Event
	sinks       []*sinkWorker
	now         func() time.Time
	fallback    *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	closed      atomic.Bool
	minSeverity Severity
	fields      map[string]any
	wg          sync.WaitGroup

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	lastDropLog  atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

func NewRouter(now func() time.Time, cfg Config, namedSinks []NamedSink) *Router {
	if now == nil {
		now = time.Now
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:         cfg,
		queue:       make(chan Event, bufferSize),
		now:         now,
		fallback:    log.New(os.Stderr, "[logging] ", log.LstdFlags),
		ctx:         ctx,
		cancel:      cancel,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
	}

	sinkBuffer := bufferSize
	if sinkBuffer > 1024 {
		sinkBuffer = 1024
	}
	if sinkBuffer < 32 {
		sinkBuffer = 32
	}

	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, newSinkWorker(named.Name, named.Sink, sinkBuffer, r.fallback))
	}

	r.start()
	return r
}

func (r *Router) start() {
	r.wg.Add(1)
	go func() {
		defer func() {
			for _, worker := range r.sinks {
				close(worker.events)
			}
			r.wg.Done()
		}()
		for {
			select {
			case <-r.ctx.Done():
				r.drain()
				return
			case event := <-r.queue:
				r.forward(event)
			}
		}
	}()

	for _, worker := range r.sinks {
		r.wg.Add(1)
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
}

func (r *Router) drain() {
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		default:
			return
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.now()
	}
	if len(r.fields) > 0 {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}
	r.eventsTotal.Add(1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" {
		return
	}
	if r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.handleDrop(event)
	}
}

func (r *Router) handleDrop(event Event) {
	r.droppedTotal.Add(1)
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now().UnixNano()
	next := r.lastDropLog.Load()
	if next == 0 || now >= next {
		if r.lastDropLog.CompareAndSwap(next, now+interval.Nanoseconds()) {
			r.fallback.Printf("dropping event type=%s room=%s", event.Type, event.Room)
		}
	}
}

// Close stops accepting events, drains what is queued, and closes every
// sink. It is safe to call once; subsequent calls wait on the context.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
}

func newSinkWorker(name string, sink Sink, buffer int, fallback *log.Logger) *sinkWorker {
	if buffer <= 0 {
		buffer = 32
	}
	return &sinkWorker{
		name:     name,
		sink:     sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
	}
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.fallback.Printf("sink %s backlog full dropping event type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if err := w.sink.Write(event); err != nil {
			w.fallback.Printf("sink %s failed: %v", w.name, err)
		}
	}
}
