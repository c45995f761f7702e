package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongoRepo(t *testing.T) (LineRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoLineRepository(db)
	require.NoError(t, EnsureIndexes(ctx, repo))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return repo, cleanup
}

func newLine(cartID, entryID string) *Line {
	return &Line{
		CartID:           cartID,
		PriceBookEntryID: entryID,
		Name:             "Line " + entryID,
		Quantity:         1,
		RecurringCharge:  decimal.RequireFromString("49.99"),
		OneTimeCharge:    decimal.Zero,
	}
}

// lineRepositoryContract runs the same checks against every implementation.
func lineRepositoryContract(t *testing.T, repo LineRepository) {
	ctx := context.Background()

	t.Run("empty cart lists nothing", func(t *testing.T) {
		lines, err := repo.ListLines(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("insert keeps order and assigns ids", func(t *testing.T) {
		first, second := newLine("C1", "PBE1"), newLine("C1", "PBE2")
		require.NoError(t, repo.InsertLine(ctx, first))
		require.NoError(t, repo.InsertLine(ctx, second))
		require.NoError(t, repo.InsertLine(ctx, newLine("C2", "PBE1")))

		assert.NotEmpty(t, first.ID)
		assert.NotEqual(t, first.ID, second.ID)

		lines, err := repo.ListLines(ctx, "C1")
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, "PBE1", lines[0].PriceBookEntryID)
		assert.Equal(t, "PBE2", lines[1].PriceBookEntryID)
		assert.True(t, decimal.RequireFromString("49.99").Equal(lines[0].RecurringCharge))
	})

	t.Run("update quantity", func(t *testing.T) {
		line := newLine("C3", "PBE1")
		require.NoError(t, repo.InsertLine(ctx, line))

		updated, err := repo.UpdateQuantity(ctx, "C3", line.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(4), updated.Quantity)

		got, err := repo.GetLine(ctx, "C3", line.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Quantity)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("missing line", func(t *testing.T) {
		_, err := repo.GetLine(ctx, "C1", "nope")
		assert.ErrorIs(t, err, ErrLineNotFound)

		_, err = repo.UpdateQuantity(ctx, "C1", "nope", 2)
		assert.ErrorIs(t, err, ErrLineNotFound)
	})

	t.Run("line of another cart is not visible", func(t *testing.T) {
		line := newLine("C4", "PBE1")
		require.NoError(t, repo.InsertLine(ctx, line))

		_, err := repo.GetLine(ctx, "C5", line.ID)
		assert.ErrorIs(t, err, ErrLineNotFound)
	})

	t.Run("delete cart", func(t *testing.T) {
		require.NoError(t, repo.InsertLine(ctx, newLine("C6", "PBE1")))
		require.NoError(t, repo.DeleteCart(ctx, "C6"))

		lines, err := repo.ListLines(ctx, "C6")
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestMemoryLineRepository(t *testing.T) {
	lineRepositoryContract(t, NewMemoryLineRepository())
}

func TestMemoryLineRepository_ConcurrentInserts(t *testing.T) {
	repo := NewMemoryLineRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.InsertLine(ctx, newLine("C1", "PBE1")))
		}()
	}
	wg.Wait()

	lines, err := repo.ListLines(ctx, "C1")
	require.NoError(t, err)
	assert.Len(t, lines, 50)
	for i := 1; i < len(lines); i++ {
		assert.Less(t, lines[i-1].Position, lines[i].Position)
	}
}

func TestMemoryLineRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryLineRepository()
	ctx := context.Background()
	line := newLine("C1", "PBE1")
	require.NoError(t, repo.InsertLine(ctx, line))

	line.Quantity = 99
	got, err := repo.GetLine(ctx, "C1", line.ID)
	require.NoError(t, err)
	got.Quantity = 42

	again, err := repo.GetLine(ctx, "C1", line.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Quantity)
}

func TestMongoLineRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	repo, cleanup := setupMongoRepo(t)
	defer cleanup()

	lineRepositoryContract(t, repo)
}
