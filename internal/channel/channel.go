// Package channel abstracts the publish/subscribe substrate a room session
// runs on: best-effort broadcast to every other subscriber of a topic plus
// presence join/leave/sync events. Delivery is at-most-once, unordered
// across senders, FIFO per sender, and never echoes to the sender.
package channel

import "context"

// Member identifies one presence entry on a topic.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
}

// Handlers receive traffic for one subscription. Callbacks for a single
// channel are invoked sequentially, never concurrently with each other.
type Handlers struct {
	// OnEvent delivers another subscriber's broadcast.
	OnEvent func(event string, payload []byte)
	// OnJoin and OnLeave patch presence incrementally.
	OnJoin  func(member Member)
	OnLeave func(member Member)
	// OnSync replaces the full member list, including the local member.
	OnSync func(members []Member)
	// OnError reports a transport failure that ended the subscription.
	OnError func(err error)
}

// Channel is one live subscription to a topic.
type Channel interface {
	// Broadcast publishes to every other current subscriber. There is no
	// acknowledgement; a peer that is offline never sees the message.
	Broadcast(ctx context.Context, event string, payload []byte) error
	Close(ctx context.Context) error
}

// Transport opens channels on topics. Implementations: the websocket
// realtime client and the in-process memory network used in tests.
type Transport interface {
	Open(ctx context.Context, topic string, self Member, handlers Handlers) (Channel, error)
}
