package channel

import (
	"context"
	"fmt"
	"sync"
)

// MemoryNetwork is an in-process transport. Broadcasts are delivered
// synchronously on the sender's goroutine, which preserves per-sender order
// exactly and makes multi-peer protocol tests deterministic.
type MemoryNetwork struct {
	mu     sync.Mutex
	topics map[string]map[string]*memoryChannel
}

type memoryChannel struct {
	network  *MemoryNetwork
	topic    string
	self     Member
	handlers Handlers
	closed   bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{topics: make(map[string]map[string]*memoryChannel)}
}

func (n *MemoryNetwork) Open(_ context.Context, topic string, self Member, handlers Handlers) (Channel, error) {
	if self.ID == "" {
		return nil, fmt.Errorf("open %s: member id required", topic)
	}

	ch := &memoryChannel{network: n, topic: topic, self: self, handlers: handlers}

	n.mu.Lock()
	subs, ok := n.topics[topic]
	if !ok {
		subs = make(map[string]*memoryChannel)
		n.topics[topic] = subs
	}
	if _, exists := subs[self.ID]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("open %s: member %s already subscribed", topic, self.ID)
	}
	subs[self.ID] = ch
	others := make([]*memoryChannel, 0, len(subs))
	members := make([]Member, 0, len(subs))
	for _, sub := range subs {
		members = append(members, sub.self)
		if sub.self.ID != self.ID {
			others = append(others, sub)
		}
	}
	n.mu.Unlock()

	for _, other := range others {
		if other.handlers.OnJoin != nil {
			other.handlers.OnJoin(self)
		}
	}
	if handlers.OnSync != nil {
		handlers.OnSync(members)
	}
	return ch, nil
}

// Members returns the current subscribers of a topic (test helper).
func (n *MemoryNetwork) Members(topic string) []Member {
	n.mu.Lock()
	defer n.mu.Unlock()
	members := make([]Member, 0, len(n.topics[topic]))
	for _, sub := range n.topics[topic] {
		members = append(members, sub.self)
	}
	return members
}

func (c *memoryChannel) Broadcast(_ context.Context, event string, payload []byte) error {
	c.network.mu.Lock()
	if c.closed {
		c.network.mu.Unlock()
		return fmt.Errorf("broadcast on %s: channel closed", c.topic)
	}
	others := make([]*memoryChannel, 0)
	for _, sub := range c.network.topics[c.topic] {
		if sub.self.ID != c.self.ID {
			others = append(others, sub)
		}
	}
	c.network.mu.Unlock()

	data := append([]byte(nil), payload...)
	for _, other := range others {
		if other.handlers.OnEvent != nil {
			other.handlers.OnEvent(event, data)
		}
	}
	return nil
}

func (c *memoryChannel) Close(context.Context) error {
	c.network.mu.Lock()
	if c.closed {
		c.network.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.network.topics[c.topic]
	delete(subs, c.self.ID)
	if len(subs) == 0 {
		delete(c.network.topics, c.topic)
	}
	others := make([]*memoryChannel, 0, len(subs))
	for _, sub := range subs {
		others = append(others, sub)
	}
	c.network.mu.Unlock()

	for _, other := range others {
		if other.handlers.OnLeave != nil {
			other.handlers.OnLeave(c.self)
		}
	}
	return nil
}
