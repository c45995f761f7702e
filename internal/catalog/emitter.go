package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/cache"
	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const ActionAdd = "add"

var ErrEntryNotFound = errors.New("catalog entry not found")

type Invoker interface {
	Invoke(ctx context.Context, input remote.InputMap) (*domain.Envelope, error)
}

// Emitter holds the product list of a cart and turns row actions into add
// intents on the bus. It never touches cart state.
type Emitter struct {
	cartID string
	client Invoker
	bus    *bus.Bus
	cache  cache.CatalogCache
	fields domain.FieldMap
	sfg    singleflight.Group // collapses concurrent loads

	mu      sync.RWMutex
	entries []domain.CatalogEntry
	err     error
	loaded  bool
}

type Option func(*Emitter)

func WithCache(c cache.CatalogCache) Option {
	return func(e *Emitter) {
		e.cache = c
	}
}

func WithFieldMap(m domain.FieldMap) Option {
	return func(e *Emitter) {
		e.fields = m.WithDefaults()
	}
}

func NewEmitter(cartID string, client Invoker, b *bus.Bus, opts ...Option) *Emitter {
	e := &Emitter{
		cartID: cartID,
		client: client,
		bus:    b,
		fields: domain.DefaultFieldMap(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load fetches the product list, from the cache when it has one.
func (e *Emitter) Load(ctx context.Context) error {
	return e.load(ctx, true)
}

// Refresh drops the cached list and replaces the catalog with a fresh fetch.
func (e *Emitter) Refresh(ctx context.Context) error {
	if e.cache != nil {
		if err := e.cache.Delete(ctx, e.cartID); err != nil {
			log.Warn().Err(err).Str("cart_id", e.cartID).Msg("catalog cache delete failed")
		}
	}
	return e.load(ctx, false)
}

func (e *Emitter) load(ctx context.Context, useCache bool) error {
	key := "fetch"
	if useCache {
		key = "cached"
	}
	v, err, _ := e.sfg.Do(key, func() (any, error) {
		if useCache && e.cache != nil {
			entries, err := e.cache.Get(ctx, e.cartID)
			if err == nil {
				return entries, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				log.Warn().Err(err).Str("cart_id", e.cartID).Msg("catalog cache get failed")
			}
		}

		env, err := e.client.Invoke(ctx, remote.GetCartsProducts(e.cartID))
		if err != nil {
			return nil, err
		}
		entries, err := e.fields.ParseCatalog(env.Records)
		if err != nil {
			return nil, fmt.Errorf("parse catalog failed: %w", err)
		}

		if e.cache != nil {
			go func() {
				if err := e.cache.Set(context.Background(), e.cartID, entries); err != nil {
					log.Warn().Err(err).Str("cart_id", e.cartID).Msg("catalog cache set failed")
				}
			}()
		}
		return entries, nil
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	if err != nil {
		e.err = err
		log.Warn().Err(err).Str("cart_id", e.cartID).Msg("catalog fetch failed")
		return err
	}
	e.entries = v.([]domain.CatalogEntry)
	e.err = nil
	return nil
}

func (e *Emitter) Entries() []domain.CatalogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.CatalogEntry, len(e.entries))
	for i, entry := range e.entries {
		entry.Actions = entry.Actions.Clone()
		out[i] = entry
	}
	return out
}

func (e *Emitter) Entry(priceBookEntryID string) (domain.CatalogEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := slices.IndexFunc(e.entries, func(entry domain.CatalogEntry) bool {
		return entry.PriceBookEntryID == priceBookEntryID
	})
	if i < 0 {
		return domain.CatalogEntry{}, false
	}
	entry := e.entries[i]
	entry.Actions = entry.Actions.Clone()
	return entry, true
}

func (e *Emitter) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

func (e *Emitter) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Add publishes the add intent of one catalog entry.
func (e *Emitter) Add(ctx context.Context, priceBookEntryID string) error {
	entry, ok := e.Entry(priceBookEntryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, priceBookEntryID)
	}
	n, err := e.bus.PublishJSON(ctx, bus.TopicAddProduct, entry.PriceBookEntryID, entry.Intent())
	if err != nil {
		return fmt.Errorf("publish add intent failed: %w", err)
	}
	log.Debug().Str("cart_id", e.cartID).Str("price_book_entry_id", priceBookEntryID).Int("subscribers", n).Msg("add intent published")
	return nil
}

// HandleRowAction dispatches a catalog row action. Only "add" does anything.
func (e *Emitter) HandleRowAction(ctx context.Context, action, priceBookEntryID string) error {
	switch action {
	case ActionAdd:
		return e.Add(ctx, priceBookEntryID)
	default:
		log.Debug().Str("action", action).Str("price_book_entry_id", priceBookEntryID).Msg("ignoring row action")
		return nil
	}
}
