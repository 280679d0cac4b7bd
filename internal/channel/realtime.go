package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const realtimeWriteWait = 10 * time.Second

// Realtime is the websocket transport. Each Open dials the relay, joins a
// topic, and runs a read pump that feeds the subscription handlers.
type Realtime struct {
	// URL is the relay websocket endpoint, e.g. ws://host:8090/ws.
	URL    string
	Dialer *websocket.Dialer
	Logger *log.Logger
}

type realtimeChannel struct {
	conn     *websocket.Conn
	topic    string
	self     Member
	handlers Handlers
	logger   *log.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func (r *Realtime) Open(ctx context.Context, topic string, self Member, handlers Handlers) (Channel, error) {
	if self.ID == "" {
		return nil, fmt.Errorf("open %s: member id required", topic)
	}
	dialer := r.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	conn, _, err := dialer.DialContext(ctx, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", r.URL, err)
	}

	ch := &realtimeChannel{conn: conn, topic: topic, self: self, handlers: handlers, logger: logger}

	join := Frame{Type: FrameJoin, Topic: topic, Member: &self}
	if err := ch.writeFrame(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}

	// The relay answers the join with either an ack carrying the current
	// member list or an error frame.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(realtimeWriteWait))
	}
	ack, err := ch.readFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}
	conn.SetReadDeadline(time.Time{})

	switch ack.Type {
	case FrameJoined:
		if handlers.OnSync != nil {
			handlers.OnSync(ack.Members)
		}
	case FrameError:
		conn.Close()
		return nil, fmt.Errorf("join %s: relay rejected: %s", topic, ack.Reason)
	default:
		conn.Close()
		return nil, fmt.Errorf("join %s: unexpected frame %q", topic, ack.Type)
	}

	go ch.readPump()
	return ch, nil
}

func (c *realtimeChannel) Broadcast(_ context.Context, event string, payload []byte) error {
	frame := Frame{Type: FrameBroadcast, Event: event, Payload: json.RawMessage(payload)}
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("broadcast %s on %s: %w", event, c.topic, err)
	}
	return nil
}

func (c *realtimeChannel) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Best effort; the relay also treats a plain disconnect as a leave.
	if err := c.writeFrame(Frame{Type: FrameLeave}); err != nil {
		c.logger.Printf("leave frame for %s not sent: %v", c.topic, err)
	}
	return c.conn.Close()
}

func (c *realtimeChannel) readPump() {
	for {
		frame, err := c.readFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			c.conn.Close()
			if !closed && c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("relay connection lost on %s: %w", c.topic, err))
			}
			return
		}

		switch frame.Type {
		case FrameEvent:
			if c.handlers.OnEvent != nil {
				c.handlers.OnEvent(frame.Event, frame.Payload)
			}
		case FramePresenceJoin:
			if frame.Member != nil && c.handlers.OnJoin != nil {
				c.handlers.OnJoin(*frame.Member)
			}
		case FramePresenceLeave:
			if frame.Member != nil && c.handlers.OnLeave != nil {
				c.handlers.OnLeave(*frame.Member)
			}
		case FramePresenceSync:
			if c.handlers.OnSync != nil {
				c.handlers.OnSync(frame.Members)
			}
		default:
			c.logger.Printf("discarding unknown frame type %q on %s", frame.Type, c.topic)
		}
	}
}

func (c *realtimeChannel) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *realtimeChannel) readFrame() (Frame, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}
