package pricing

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/cart"
	"github.com/fjod/cpqcart/internal/catalog"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func grpcClient(t *testing.T, s *Service) *remote.Client {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	remote.RegisterInvokeServer(srv, s)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return remote.NewClient(remote.NewGRPCTransport(conn))
}

func httpClient(t *testing.T, s *Service) *remote.Client {
	srv := httptest.NewServer(remote.NewHTTPHandler(s))
	t.Cleanup(srv.Close)
	return remote.NewClient(remote.NewHTTPTransport(srv.URL, nil))
}

func TestEndToEnd(t *testing.T) {
	transports := map[string]func(*testing.T, *Service) *remote.Client{
		"grpc": grpcClient,
		"http": httpClient,
	}
	for name, dial := range transports {
		t.Run(name, func(t *testing.T) {
			client := dial(t, setupService(t))
			ctx := context.Background()

			b := bus.New()
			defer b.Close()

			store := cart.NewStore("C1", client, b)
			defer store.Close()
			require.NoError(t, store.Start(ctx))
			assert.True(t, store.Snapshot().Loaded)

			emitter := catalog.NewEmitter("C1", client, b)
			require.NoError(t, emitter.Load(ctx))
			require.Len(t, emitter.Entries(), 5)

			require.NoError(t, emitter.HandleRowAction(ctx, catalog.ActionAdd, fiber1G))
			require.Eventually(t, func() bool {
				snap := store.Snapshot()
				return snap.Loaded && len(snap.Items) == 1
			}, 5*time.Second, 10*time.Millisecond)
			require.NoError(t, emitter.HandleRowAction(ctx, catalog.ActionAdd, router))
			require.Eventually(t, func() bool {
				snap := store.Snapshot()
				return snap.Loaded && len(snap.Items) == 2
			}, 5*time.Second, 10*time.Millisecond)

			require.NoError(t, emitter.HandleRowAction(ctx, catalog.ActionAdd, fiber1G))
			require.Eventually(t, func() bool {
				snap := store.Snapshot()
				return snap.Loaded && len(snap.Items) == 2 && snap.Items[0].Quantity == 2
			}, 5*time.Second, 10*time.Millisecond)
			store.Wait()

			snap := store.Snapshot()
			assert.Empty(t, snap.Error)
			fiber := snap.Items[0]
			assert.Equal(t, fiber1G, fiber.PriceBookEntryID)
			assert.True(t, decimal.RequireFromString("99.98").Equal(fiber.RecurringTotal))

			// a fresh session sees the same cart
			other := cart.NewStore("C1", client, b)
			require.NoError(t, other.Load(ctx))
			assert.Len(t, other.Snapshot().Items, 2)
		})
	}
}

func TestEndToEnd_UnknownEntryDiscardsCart(t *testing.T) {
	client := grpcClient(t, setupService(t))
	ctx := context.Background()
	b := bus.New()
	defer b.Close()

	store := cart.NewStore("C1", client, b)
	defer store.Close()
	require.NoError(t, store.Start(ctx))

	emitter := catalog.NewEmitter("C1", client, b)
	require.NoError(t, emitter.Load(ctx))
	require.NoError(t, emitter.Add(ctx, fiber1G))
	require.Eventually(t, func() bool { return len(store.Snapshot().Items) == 1 }, 5*time.Second, 10*time.Millisecond)
	store.Wait()

	intent := emitter.Entries()[0].Intent()
	intent.PriceBookEntryID = "retired"
	params, _ := intent.Actions.AddToCartParams()
	params["priceBookEntryId"] = "retired"
	intent.Actions["addtocart"] = map[string]any{"remote": map[string]any{"params": map[string]any(params)}}

	err := store.HandleIntent(ctx, intent)
	require.Error(t, err)

	snap := store.Snapshot()
	assert.Empty(t, snap.Items)
	assert.True(t, snap.Loaded)
	assert.Contains(t, snap.Error, "not found")
}
