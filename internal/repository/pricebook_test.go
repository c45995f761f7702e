package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPriceBook(t *testing.T) *PriceBook {
	pb, err := NewPriceBook(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { pb.Close() })

	require.NoError(t, pb.RunMigrations("./migrations"))
	return pb
}

func TestListEntries_ReturnsActiveSeededEntries(t *testing.T) {
	pb := setupPriceBook(t)

	entries, err := pb.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, "01u000000000001AAA", entries[0].ID)
	assert.Equal(t, "Fiber Internet 1 Gbps", entries[0].Name)
	assert.True(t, decimal.RequireFromString("49.99").Equal(entries[0].RecurringPrice))
	assert.True(t, decimal.Zero.Equal(entries[0].UnitPrice))
	for _, e := range entries {
		assert.NotEqual(t, "DIALUP-56K", e.ProductCode)
	}
}

func TestListEntries_WithContext(t *testing.T) {
	pb := setupPriceBook(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	entries, err := pb.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestGetEntry(t *testing.T) {
	pb := setupPriceBook(t)

	e, err := pb.GetEntry(context.Background(), "01u000000000003AAA")
	require.NoError(t, err)
	assert.Equal(t, "ROUTER-AX", e.ProductCode)
	assert.True(t, decimal.RequireFromString("129").Equal(e.UnitPrice))
}

func TestGetEntry_NotFound(t *testing.T) {
	pb := setupPriceBook(t)

	_, err := pb.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// inactive entries are not sold
	_, err = pb.GetEntry(context.Background(), "01u000000000006AAA")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRunMigrations_Twice(t *testing.T) {
	pb := setupPriceBook(t)
	assert.NoError(t, pb.RunMigrations("./migrations"))
}
