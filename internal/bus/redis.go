package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// relayed is the wire form of a message on the Redis channel.
type relayed struct {
	Topic   string `json:"topic"`
	Key     string `json:"key,omitempty"`
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// RedisBridge relays local bus topics over a Redis pub/sub channel.
type RedisBridge struct {
	bus     *Bus
	client  *redis.Client
	channel string
	topics  []string

	mu     sync.Mutex
	subs   []*Subscription
	pubsub *redis.PubSub
}

func NewRedisBridge(b *Bus, client *redis.Client, channel string, topics ...string) *RedisBridge {
	return &RedisBridge{
		bus:     b,
		client:  client,
		channel: channel,
		topics:  topics,
	}
}

// Start returns once the Redis subscription is confirmed, so nothing
// published afterwards is missed.
func (r *RedisBridge) Start(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	r.mu.Lock()
	r.pubsub = ps
	r.mu.Unlock()

	for _, topic := range r.topics {
		sub, err := r.bus.Subscribe(topic, r.forward)
		if err != nil {
			_ = r.Close()
			return fmt.Errorf("subscribe %s failed: %w", topic, err)
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}

	go r.consume(ctx, ps.Channel())
	return nil
}

func (r *RedisBridge) forward(ctx context.Context, msg Message) {
	if msg.Origin != r.bus.ID() {
		return
	}
	data, err := json.Marshal(relayed{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Origin:  msg.Origin,
		Payload: msg.Payload,
	})
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Msg("redis relay marshal failed")
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Msg("redis relay publish failed")
	}
}

func (r *RedisBridge) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			r.inject(ctx, m)
		}
	}
}

func (r *RedisBridge) inject(ctx context.Context, m *redis.Message) {
	var in relayed
	if err := json.Unmarshal([]byte(m.Payload), &in); err != nil {
		log.Warn().Err(err).Str("channel", m.Channel).Msg("redis relay: invalid message")
		return
	}
	if in.Origin == r.bus.ID() || !slices.Contains(r.topics, in.Topic) {
		return
	}
	if _, err := r.bus.Publish(ctx, Message{
		Topic:   in.Topic,
		Key:     in.Key,
		Payload: in.Payload,
		Origin:  in.Origin,
	}); err != nil {
		log.Warn().Err(err).Str("topic", in.Topic).Msg("redis relay inject failed")
	}
}

func (r *RedisBridge) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		s.Release()
	}
	r.subs = nil
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
