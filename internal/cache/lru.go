package cache

import (
	"context"
	"time"

	"github.com/fjod/cpqcart/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is the in-process catalog cache used when no Redis is configured.
type LRUCache struct {
	lru *expirable.LRU[string, []domain.CatalogEntry]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRUCache{lru: expirable.NewLRU[string, []domain.CatalogEntry](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, cartID string) ([]domain.CatalogEntry, error) {
	entries, ok := c.lru.Get(cartID)
	if !ok {
		return nil, ErrCacheMiss
	}
	return cloneEntries(entries), nil
}

func (c *LRUCache) Set(_ context.Context, cartID string, entries []domain.CatalogEntry) error {
	c.lru.Add(cartID, cloneEntries(entries))
	return nil
}

func (c *LRUCache) Delete(_ context.Context, cartID string) error {
	c.lru.Remove(cartID)
	return nil
}
