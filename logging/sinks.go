package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ConsoleSink renders events as single human-readable lines.
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event Event) error {
	if s.logger == nil {
		return nil
	}
	s.logger.Printf("[%s] severity=%s%s%s%s", event.Type, severityLabel(event.Severity), formatScope(event), formatPayload(event.Payload), formatExtra(event.Extra))
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func severityLabel(sev Severity) string {
	switch sev {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

func formatScope(event Event) string {
	out := ""
	if event.Room != "" {
		out += fmt.Sprintf(" room=%s", event.Room)
	}
	if event.Peer != "" {
		out += fmt.Sprintf(" peer=%s", event.Peer)
	}
	return out
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" extra=%s", data)
}

// JSONSink emits newline-delimited structured events.
type JSONSink struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	encoder *json.Encoder
	closer  io.Closer
}

func NewJSONSink(w io.Writer) *JSONSink {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	sink := &JSONSink{writer: buf, encoder: json.NewEncoder(buf)}
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}
	return sink
}

func (s *JSONSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wire := map[string]any{
		"type":     event.Type,
		"time":     event.Time.Format(time.RFC3339Nano),
		"severity": event.Severity,
		"category": event.Category,
		"room":     event.Room,
		"peer":     event.Peer,
		"payload":  event.Payload,
		"extra":    event.Extra,
	}
	if err := s.encoder.Encode(wire); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *JSONSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// MemorySink captures events for assertions in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
