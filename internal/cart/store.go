package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/metrics"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/rs/zerolog/log"
)

var ErrNoAddAction = errors.New("intent carries no add-to-cart action")

// AddFailurePolicy decides what a failed insert does to lines already in the cart.
type AddFailurePolicy int

const (
	// DiscardOnAddFailure empties the cart.
	DiscardOnAddFailure AddFailurePolicy = iota
	// KeepOnAddFailure only records the error.
	KeepOnAddFailure
)

func ParseAddFailurePolicy(s string) (AddFailurePolicy, error) {
	switch s {
	case "", "discard":
		return DiscardOnAddFailure, nil
	case "keep":
		return KeepOnAddFailure, nil
	default:
		return 0, fmt.Errorf("unknown add failure policy %q", s)
	}
}

// Invoker is the remote cart service as the store uses it.
type Invoker interface {
	Invoke(ctx context.Context, input remote.InputMap) (*domain.Envelope, error)
}

// Store owns the cart state of one cart. It turns add intents into remote
// calls and merges the responses; nothing else mutates the state.
type Store struct {
	cartID string
	client Invoker
	bus    *bus.Bus
	fields domain.FieldMap
	policy AddFailurePolicy
	keys   *keyLock

	mu          sync.RWMutex
	items       []domain.CartItem
	err         error
	initialized bool
	pending     int
	version     uint64

	subMu      sync.Mutex
	sub        *bus.Subscription
	subscribed bool

	wg sync.WaitGroup
}

type Option func(*Store)

func WithFieldMap(m domain.FieldMap) Option {
	return func(s *Store) {
		s.fields = m.WithDefaults()
	}
}

func WithAddFailurePolicy(p AddFailurePolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

func NewStore(cartID string, client Invoker, b *bus.Bus, opts ...Option) *Store {
	s := &Store{
		cartID: cartID,
		client: client,
		bus:    b,
		fields: domain.DefaultFieldMap(),
		policy: DiscardOnAddFailure,
		keys:   newKeyLock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CartID() string {
	return s.cartID
}

// Start fetches the cart and subscribes to add intents. A fetch failure is
// recorded on the state and returned, but the subscription is made anyway.
func (s *Store) Start(ctx context.Context) error {
	loadErr := s.Load(ctx)
	if err := s.subscribe(); err != nil {
		return errors.Join(loadErr, err)
	}
	return loadErr
}

// Load replaces the whole cart with the service's current lines.
func (s *Store) Load(ctx context.Context) error {
	s.begin()

	env, err := s.client.Invoke(ctx, remote.GetCartsItems(s.cartID))
	var items []domain.CartItem
	if err == nil {
		items, err = s.fields.ParseCartItems(env.Records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	s.initialized = true
	if err != nil {
		s.items = nil
		s.err = err
		s.commitLocked()
		log.Warn().Err(err).Str("cart_id", s.cartID).Msg("cart fetch failed")
		return err
	}
	s.items = items
	s.err = nil
	s.commitLocked()
	return nil
}

// Close releases the intent subscription. Calls already in flight are not
// cancelled and may still commit.
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if !s.subscribed {
		return
	}
	s.sub.Release()
	s.sub = nil
	s.subscribed = false
}

// Wait blocks until every intent received from the bus has been handled.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) subscribe() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribed {
		return nil
	}
	sub, err := s.bus.Subscribe(bus.TopicAddProduct, s.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe to add intents failed: %w", err)
	}
	s.sub = sub
	s.subscribed = true
	return nil
}

func (s *Store) onMessage(ctx context.Context, msg bus.Message) {
	intent, err := domain.DecodeIntent(msg.Payload)
	if err != nil {
		metrics.RecordIntent("rejected", err)
		log.Warn().Err(err).Str("cart_id", s.cartID).Msg("dropping malformed intent")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.HandleIntent(ctx, intent)
	}()
}

// HandleIntent applies one add intent: insert when the entry is not in the
// cart yet, otherwise bump its quantity by one. Intents for the same entry
// are handled one at a time.
func (s *Store) HandleIntent(ctx context.Context, intent domain.AddProductIntent) error {
	unlock := s.keys.Lock(intent.PriceBookEntryID)
	defer unlock()

	s.mu.RLock()
	idx := s.indexLocked(intent.PriceBookEntryID)
	s.mu.RUnlock()

	if idx < 0 {
		err := s.insert(ctx, intent)
		metrics.RecordIntent("insert", err)
		return err
	}
	err := s.update(ctx, intent)
	metrics.RecordIntent("update", err)
	return err
}

func (s *Store) insert(ctx context.Context, intent domain.AddProductIntent) error {
	params, ok := intent.Actions.AddToCartParams()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoAddAction, intent.PriceBookEntryID)
		s.reject(err)
		return err
	}

	s.begin()
	env, err := s.client.Invoke(ctx, remote.InputMap(params))
	var added []domain.CartItem
	if err == nil {
		added, err = s.fields.ParseCartItems(env.Records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if err != nil {
		s.err = err
		if s.policy == DiscardOnAddFailure {
			s.items = nil
		}
		s.commitLocked()
		log.Warn().Err(err).Str("cart_id", s.cartID).Str("price_book_entry_id", intent.PriceBookEntryID).Msg("add to cart failed")
		return err
	}
	s.items = append(s.items, added...)
	s.err = nil
	s.commitLocked()
	return nil
}

func (s *Store) update(ctx context.Context, intent domain.AddProductIntent) error {
	id := intent.PriceBookEntryID

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		// discarded by a failed insert since the lookup
		s.mu.Unlock()
		return s.insert(ctx, intent)
	}
	fields := s.items[idx].RawFields.Clone()
	if fields == nil {
		fields = domain.FieldBag{}
	}
	qty, err := fields.IncrementInt(s.fields.Quantity, 1)
	if err != nil {
		s.err = err
		s.commitLocked()
		s.mu.Unlock()
		return err
	}
	// optimistic: visible before the call goes out, kept if the call fails
	s.items[idx].RawFields = fields
	s.items[idx].Quantity = qty
	s.pending++
	s.commitLocked()
	req := remote.PutCartsItems(s.cartID, fields.Clone())
	s.mu.Unlock()

	env, err := s.client.Invoke(ctx, req)
	var updated []domain.CartItem
	if err == nil {
		updated, err = s.fields.ParseCartItems(env.Records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if err != nil {
		s.err = err
		s.commitLocked()
		log.Warn().Err(err).Str("cart_id", s.cartID).Str("price_book_entry_id", id).Msg("cart line update failed")
		return err
	}
	if idx = s.indexLocked(id); idx < 0 {
		s.items = append(s.items, updated...)
	} else {
		s.items = slices.Replace(s.items, idx, idx+1, updated...)
	}
	s.err = nil
	s.commitLocked()
	return nil
}

func (s *Store) reject(err error) {
	metrics.RecordIntent("rejected", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.commitLocked()
	log.Warn().Err(err).Str("cart_id", s.cartID).Msg("intent rejected")
}

func (s *Store) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending++
	s.commitLocked()
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(it domain.CartItem) bool {
		return it.PriceBookEntryID == id
	})
}

// commitLocked bumps the version and notifies views with a fresh snapshot.
func (s *Store) commitLocked() {
	s.version++
	snap := s.snapshotLocked()
	if _, err := s.bus.PublishJSON(context.Background(), bus.TopicCartChanged, s.cartID, snap); err != nil {
		log.Debug().Err(err).Str("cart_id", s.cartID).Msg("change notification not published")
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() domain.Snapshot {
	items := make([]domain.CartItem, len(s.items))
	for i, it := range s.items {
		items[i] = it.Clone()
	}
	return domain.Snapshot{
		CartID:  s.cartID,
		Items:   items,
		Error:   remote.Describe(s.err),
		Loaded:  s.initialized && s.pending == 0,
		Version: s.version,
	}
}

// Err returns the last failure, nil after a success.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
