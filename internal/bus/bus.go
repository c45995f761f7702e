package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fjod/cpqcart/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// TopicAddProduct carries AddProductIntent messages from catalog to cart.
	TopicAddProduct = "cpq.product-to-add"
	// TopicCartChanged carries a cart snapshot after every committed mutation.
	TopicCartChanged = "cpq.cart-changed"

	DefaultQueueSize = 64
)

var ErrClosed = errors.New("bus is closed")

type Message struct {
	Topic   string
	Key     string
	Payload []byte
	// Origin is the id of the bus the message was first published on.
	Origin string
}

type Handler func(ctx context.Context, msg Message)

type delivery struct {
	ctx context.Context
	msg Message
}

// Bus is an in-process publish/subscribe registry keyed by topic. Every
// subscription owns an ordered queue drained by its own goroutine; publishers
// never block, a full queue drops the message for that subscriber.
type Bus struct {
	id        string
	queueSize int

	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	closed bool

	wg sync.WaitGroup
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		id:        uuid.New().String(),
		queueSize: DefaultQueueSize,
		subs:      make(map[string]map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ID identifies this bus instance across bridged processes.
func (b *Bus) ID() string {
	return b.id
}

func (b *Bus) Subscribe(topic string, h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &Subscription{
		id:      uuid.New().String(),
		topic:   topic,
		bus:     b,
		handler: h,
		queue:   make(chan delivery, b.queueSize),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*Subscription)
	}
	b.subs[topic][s.id] = s

	b.wg.Add(1)
	go s.run()
	return s, nil
}

// Publish enqueues msg for every current subscriber of its topic and returns
// how many accepted it. Handlers run on a context detached from ctx
// cancellation.
func (b *Bus) Publish(ctx context.Context, msg Message) (int, error) {
	if msg.Origin == "" {
		msg.Origin = b.id
	}
	dctx := context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}

	delivered := 0
	for _, s := range b.subs[msg.Topic] {
		select {
		case s.queue <- delivery{ctx: dctx, msg: msg}:
			delivered++
		default:
			metrics.RecordBusDrop(msg.Topic)
			log.Warn().Str("topic", msg.Topic).Str("subscription", s.id).Msg("subscriber queue full, message dropped")
		}
	}
	return delivered, nil
}

func (b *Bus) PublishJSON(ctx context.Context, topic, key string, v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload failed: %w", topic, err)
	}
	return b.Publish(ctx, Message{Topic: topic, Key: key, Payload: payload})
}

// Subscribers reports the live subscription count of a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close releases every subscription and waits for running handlers to return.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, byID := range b.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Release()
	}
	b.wg.Wait()
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.topic], s.id)
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
	close(s.queue)
}

// Subscription is a disposable token returned by Subscribe.
type Subscription struct {
	id       string
	topic    string
	bus      *Bus
	handler  Handler
	queue    chan delivery
	released atomic.Bool
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Release unregisters the subscription. Only the first call has an effect and
// returns true. Messages still queued are discarded.
func (s *Subscription) Release() bool {
	if !s.released.CompareAndSwap(false, true) {
		return false
	}
	s.bus.remove(s)
	return true
}

func (s *Subscription) Released() bool {
	return s.released.Load()
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	for d := range s.queue {
		if s.released.Load() {
			continue
		}
		s.dispatch(d)
	}
}

func (s *Subscription) dispatch(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", s.topic).Msg("bus handler panicked")
		}
	}()
	s.handler(d.ctx, d.msg)
}
