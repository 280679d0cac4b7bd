package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge carries broadcasts between relay instances so rooms span more than
// one process. Publish sends a local broadcast outward; Run feeds remote
// broadcasts back through the handler until the context ends.
type Bridge interface {
	Publish(ctx context.Context, topic, senderID, event string, payload []byte) error
	Run(ctx context.Context, handler func(topic, senderID, event string, payload []byte)) error
}

// bridgeEnvelope is the message exchanged over the redis channel. Origin
// lets an instance skip its own publications.
type bridgeEnvelope struct {
	Origin   string          `json:"origin"`
	Topic    string          `json:"topic"`
	SenderID string          `json:"senderId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
}

const bridgeChannel = "gridtown:frames"

// RedisBridge fans broadcasts across relay instances via redis pub/sub. All
// topics share one redis channel; the envelope carries the topic.
type RedisBridge struct {
	client   *redis.Client
	instance string
}

func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{client: client, instance: uuid.NewString()}
}

func (b *RedisBridge) Publish(ctx context.Context, topic, senderID, event string, payload []byte) error {
	data, err := json.Marshal(bridgeEnvelope{
		Origin:   b.instance,
		Topic:    topic,
		SenderID: senderID,
		Event:    event,
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("bridge publish %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, bridgeChannel, data).Err(); err != nil {
		return fmt.Errorf("bridge publish %s: %w", topic, err)
	}
	return nil
}

// Run subscribes to the shared channel and forwards remote envelopes to the
// handler. It returns when the context is cancelled or the subscription
// breaks.
func (b *RedisBridge) Run(ctx context.Context, handler func(topic, senderID, event string, payload []byte)) error {
	pubsub := b.client.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("bridge subscription closed")
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("discarding malformed bridge envelope: %v", err)
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			handler(env.Topic, env.SenderID, env.Event, env.Payload)
		}
	}
}
