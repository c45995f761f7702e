package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	headerTopic  = "bus_topic"
	headerOrigin = "bus_origin"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// StartOffset for a fresh consumer group; kafka.LastOffset by default so
	// a joining process does not replay old intents.
	StartOffset int64
}

// KafkaBridge relays local bus topics through a Kafka topic so that every
// bridged process sees every message.
type KafkaBridge struct {
	bus    *Bus
	topics []string
	writer *kafka.Writer
	reader *kafka.Reader

	mu   sync.Mutex
	subs []*Subscription
}

func NewKafkaBridge(b *Bus, cfg KafkaConfig, topics ...string) *KafkaBridge {
	start := cfg.StartOffset
	if start == 0 {
		start = kafka.LastOffset
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "cpq-cart-" + b.ID(),
		StartOffset: start,
		MaxBytes:    10e6, // 10MB
	})
	return &KafkaBridge{
		bus:    b,
		topics: topics,
		writer: w,
		reader: r,
	}
}

// Start subscribes to the local topics and begins consuming relayed messages.
func (k *KafkaBridge) Start(ctx context.Context) error {
	for _, topic := range k.topics {
		sub, err := k.bus.Subscribe(topic, k.forward)
		if err != nil {
			k.releaseAll()
			return fmt.Errorf("subscribe %s failed: %w", topic, err)
		}
		k.mu.Lock()
		k.subs = append(k.subs, sub)
		k.mu.Unlock()
	}
	go k.consume(ctx)
	return nil
}

func (k *KafkaBridge) forward(ctx context.Context, msg Message) {
	// relayed messages already went through the broker once
	if msg.Origin != k.bus.ID() {
		return
	}
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: headerTopic, Value: []byte(msg.Topic)},
			{Key: headerOrigin, Value: []byte(msg.Origin)},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Msg("kafka relay write failed")
	}
}

func (k *KafkaBridge) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Error().Err(err).Msg("kafka relay read failed")
			continue
		}
		k.inject(ctx, m)
	}
}

func (k *KafkaBridge) inject(ctx context.Context, m kafka.Message) {
	var topic, origin string
	for _, h := range m.Headers {
		switch h.Key {
		case headerTopic:
			topic = string(h.Value)
		case headerOrigin:
			origin = string(h.Value)
		}
	}
	if origin == k.bus.ID() || !slices.Contains(k.topics, topic) {
		return
	}
	if _, err := k.bus.Publish(ctx, Message{
		Topic:   topic,
		Key:     string(m.Key),
		Payload: m.Value,
		Origin:  origin,
	}); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("kafka relay inject failed")
	}
}

func (k *KafkaBridge) releaseAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, s := range k.subs {
		s.Release()
	}
	k.subs = nil
}

func (k *KafkaBridge) Close() error {
	k.releaseAll()
	return errors.Join(k.reader.Close(), k.writer.Close())
}
