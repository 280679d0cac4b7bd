package relay

import (
	"context"
	"fmt"
	"sync"

	"gridtown/internal/channel"
	"gridtown/logging"
)

const defaultQueueSize = 64

// Subscriber is one member's seat on a topic. Frames queued for the member
// come out of Frames() in the order they were enqueued; the websocket layer
// drains them in a single writer goroutine, so per-sender ordering holds
// end to end.
type Subscriber struct {
	member channel.Member
	topic  string

	mu     sync.Mutex
	frames chan channel.Frame
	closed bool
}

func (s *Subscriber) Member() channel.Member { return s.member }

func (s *Subscriber) Frames() <-chan channel.Frame { return s.frames }

// enqueue appends a frame to the subscriber's queue. It reports false when
// the queue is full or the subscriber is gone, in which case the hub evicts.
func (s *Subscriber) enqueue(frame channel.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}

// HubConfig carries the hub's collaborators. Zero values get working
// defaults from normalized.
type HubConfig struct {
	QueueSize int
	Telemetry *Telemetry
	Publisher logging.Publisher
	Bridge    Bridge
}

func (c HubConfig) normalized() HubConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Telemetry == nil {
		c.Telemetry = NewTelemetry()
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}

// Hub owns every live topic and its subscribers. All topic state sits
// behind one mutex; frame delivery happens through per-subscriber queues so
// a slow connection never blocks the rest of the room.
type Hub struct {
	cfg HubConfig

	mu     sync.Mutex
	topics map[string]map[string]*Subscriber
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:    cfg.normalized(),
		topics: make(map[string]map[string]*Subscriber),
	}
}

func (h *Hub) Telemetry() *Telemetry { return h.cfg.Telemetry }

// Join registers a member on a topic and announces it to everyone already
// there. The returned member list includes the joiner, matching what the
// joined ack carries.
func (h *Hub) Join(topic string, member channel.Member) (*Subscriber, []channel.Member, error) {
	if member.ID == "" {
		return nil, nil, fmt.Errorf("join %s: member id required", topic)
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.topics[topic] = subs
	}
	if _, exists := subs[member.ID]; exists {
		h.mu.Unlock()
		return nil, nil, fmt.Errorf("join %s: member %s already subscribed", topic, member.ID)
	}

	sub := &Subscriber{
		member: member,
		topic:  topic,
		frames: make(chan channel.Frame, h.cfg.QueueSize),
	}
	subs[member.ID] = sub

	members := make([]channel.Member, 0, len(subs))
	others := make([]*Subscriber, 0, len(subs)-1)
	for _, s := range subs {
		members = append(members, s.member)
		if s.member.ID != member.ID {
			others = append(others, s)
		}
	}
	h.mu.Unlock()

	announce := channel.Frame{Type: channel.FramePresenceJoin, Member: &member}
	for _, other := range others {
		h.deliver(other, announce)
	}

	h.cfg.Telemetry.RecordJoin()
	logging.Lifecycle(context.Background(), h.cfg.Publisher, logging.EventPeerJoined, topic, member.ID, nil)
	return sub, members, nil
}

// Leave removes a member from a topic and announces the departure. It is a
// no-op for unknown members, so disconnect paths can call it freely.
func (h *Hub) Leave(topic, memberID string) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	sub, ok := subs[memberID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, memberID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	others := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		others = append(others, s)
	}
	h.mu.Unlock()

	sub.close()
	member := sub.member
	announce := channel.Frame{Type: channel.FramePresenceLeave, Member: &member}
	for _, other := range others {
		h.deliver(other, announce)
	}

	h.cfg.Telemetry.RecordLeave()
	logging.Lifecycle(context.Background(), h.cfg.Publisher, logging.EventPeerLeft, topic, memberID, nil)
}

// Broadcast fans an event out to every subscriber on the topic except the
// sender, then hands it to the bridge for other relay instances.
func (h *Hub) Broadcast(topic, senderID, event string, payload []byte) {
	h.fanOut(topic, senderID, event, payload)

	if h.cfg.Bridge != nil {
		if err := h.cfg.Bridge.Publish(context.Background(), topic, senderID, event, payload); err != nil {
			logging.Network(context.Background(), h.cfg.Publisher, logging.EventBroadcastDropped,
				logging.SeverityWarn, topic, senderID, map[string]string{"bridge": err.Error()})
		} else {
			h.cfg.Telemetry.RecordBridgePublish()
		}
	}
}

// Inject delivers a frame that arrived over the bridge from another relay
// instance to local subscribers only.
func (h *Hub) Inject(topic, senderID, event string, payload []byte) {
	h.cfg.Telemetry.RecordBridgeReceive()
	h.fanOut(topic, senderID, event, payload)
}

func (h *Hub) fanOut(topic, senderID, event string, payload []byte) {
	h.mu.Lock()
	subs := h.topics[topic]
	targets := make([]*Subscriber, 0, len(subs))
	for id, s := range subs {
		if id != senderID {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	frame := channel.Frame{Type: channel.FrameEvent, Event: event, Payload: payload}
	for _, target := range targets {
		h.deliver(target, frame)
	}
	h.cfg.Telemetry.RecordRelay(len(payload), len(targets))
}

// deliver enqueues a frame; a full queue means the subscriber has stopped
// draining and gets evicted rather than stalling the topic.
func (h *Hub) deliver(sub *Subscriber, frame channel.Frame) {
	if sub.enqueue(frame) {
		return
	}
	h.cfg.Telemetry.RecordDrop()
	h.cfg.Telemetry.RecordEviction()
	logging.Network(context.Background(), h.cfg.Publisher, logging.EventSubscriberEvict,
		logging.SeverityWarn, sub.topic, sub.member.ID, nil)
	h.Leave(sub.topic, sub.member.ID)
}

// Members returns the current roster of a topic.
func (h *Hub) Members(topic string) []channel.Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	members := make([]channel.Member, 0, len(subs))
	for _, s := range subs {
		members = append(members, s.member)
	}
	return members
}

// TopicCount reports how many topics currently have subscribers.
func (h *Hub) TopicCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
