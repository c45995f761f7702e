package cache

import (
	"context"
	"errors"

	"github.com/fjod/cpqcart/internal/domain"
)

// CatalogCache keeps the product list of a cart between fetches.
type CatalogCache interface {
	Get(ctx context.Context, cartID string) ([]domain.CatalogEntry, error)
	Set(ctx context.Context, cartID string, entries []domain.CatalogEntry) error
	Delete(ctx context.Context, cartID string) error
}

var ErrCacheMiss = errors.New("cache miss")

func cloneEntries(entries []domain.CatalogEntry) []domain.CatalogEntry {
	if entries == nil {
		return nil
	}
	out := make([]domain.CatalogEntry, len(entries))
	for i, e := range entries {
		e.Actions = e.Actions.Clone()
		out[i] = e
	}
	return out
}
