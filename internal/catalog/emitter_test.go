package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/cache"
	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockInvoker struct {
	m       sync.RWMutex
	records []domain.Record
	err     error
	calls   atomic.Int32
	delay   time.Duration
}

func (m *mockInvoker) Invoke(_ context.Context, input remote.InputMap) (*domain.Envelope, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.m.RLock()
	defer m.m.RUnlock()
	if input.Method() != remote.MethodGetCartsProducts {
		return nil, remote.ErrUnknownMethod
	}
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Envelope{Records: m.records}, nil
}

func (m *mockInvoker) set(records []domain.Record, err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.records = records
	m.err = err
}

func product(id, name, monthly string) domain.Record {
	return domain.Record{
		Fields: domain.FieldBag{
			"Id":                             {"value": id},
			"Name":                           {"value": name},
			"UnitPrice":                      {"value": json.Number("0")},
			"vlocity_cmt__RecurringPrice__c": {"value": json.Number(monthly)},
		},
		Actions: domain.Actions{
			"addtocart": map[string]any{
				"remote": map[string]any{
					"params": map[string]any{
						"methodName":       remote.MethodPostCartsItems,
						"cartId":           "C1",
						"priceBookEntryId": id,
					},
				},
			},
		},
	}
}

func setupEmitter(t *testing.T, inv *mockInvoker, opts ...Option) (*Emitter, *bus.Bus) {
	b := bus.New()
	t.Cleanup(b.Close)
	return NewEmitter("C1", inv, b, opts...), b
}

func TestLoad_MapsRecords(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99"), product("PBE2", "Router", "5")}}
	e, _ := setupEmitter(t, inv)

	require.NoError(t, e.Load(context.Background()))

	entries := e.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "PBE1", entries[0].PriceBookEntryID)
	assert.Equal(t, "Fiber 1G", entries[0].Name)
	assert.True(t, decimal.RequireFromString("39.99").Equal(entries[0].RecurringPrice))
	assert.True(t, e.Loaded())
	assert.NoError(t, e.Err())
}

func TestLoad_FailureRecorded(t *testing.T) {
	inv := &mockInvoker{err: errors.New("down")}
	e, _ := setupEmitter(t, inv)

	require.Error(t, e.Load(context.Background()))
	assert.Error(t, e.Err())
	assert.True(t, e.Loaded())
	assert.Empty(t, e.Entries())
}

func TestLoad_RejectsRecordWithoutID(t *testing.T) {
	rec := product("", "Nameless", "1")
	inv := &mockInvoker{records: []domain.Record{rec}}
	e, _ := setupEmitter(t, inv)

	err := e.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)
}

func TestLoad_ConcurrentCallsShareOneFetch(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99")}, delay: 50 * time.Millisecond}
	e, _ := setupEmitter(t, inv)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Load(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inv.calls.Load())
}

func TestLoad_UsesCache(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99")}}
	c := cache.NewLRUCache(4, time.Minute)
	e, _ := setupEmitter(t, inv, WithCache(c))

	require.NoError(t, e.Load(context.Background()))
	require.Eventually(t, func() bool {
		_, err := c.Get(context.Background(), "C1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	ob := bus.New()
	defer ob.Close()
	other := NewEmitter("C1", inv, ob, WithCache(c))
	require.NoError(t, other.Load(context.Background()))
	assert.Equal(t, int32(1), inv.calls.Load())
	assert.Len(t, other.Entries(), 1)
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99"), product("PBE2", "Router", "5")}}
	c := cache.NewLRUCache(4, time.Minute)
	e, _ := setupEmitter(t, inv, WithCache(c))
	require.NoError(t, e.Load(context.Background()))

	inv.set([]domain.Record{product("PBE3", "TV", "12")}, nil)
	require.NoError(t, e.Refresh(context.Background()))

	entries := e.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "PBE3", entries[0].PriceBookEntryID)
	assert.Equal(t, int32(2), inv.calls.Load())
}

func TestAdd_PublishesIntent(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99")}}
	e, b := setupEmitter(t, inv)
	require.NoError(t, e.Load(context.Background()))

	got := make(chan bus.Message, 1)
	_, err := b.Subscribe(bus.TopicAddProduct, func(_ context.Context, msg bus.Message) {
		got <- msg
	})
	require.NoError(t, err)

	require.NoError(t, e.HandleRowAction(context.Background(), ActionAdd, "PBE1"))

	select {
	case msg := <-got:
		assert.Equal(t, "PBE1", msg.Key)
		intent, err := domain.DecodeIntent(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "PBE1", intent.PriceBookEntryID)
		params, ok := intent.Actions.AddToCartParams()
		require.True(t, ok)
		assert.Equal(t, remote.MethodPostCartsItems, params["methodName"])
		assert.Equal(t, "C1", params["cartId"])
	case <-time.After(time.Second):
		t.Fatal("intent not published")
	}
}

func TestAdd_UnknownEntry(t *testing.T) {
	inv := &mockInvoker{}
	e, _ := setupEmitter(t, inv)
	require.NoError(t, e.Load(context.Background()))

	err := e.Add(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestHandleRowAction_OtherActionsIgnored(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99")}}
	e, b := setupEmitter(t, inv)
	require.NoError(t, e.Load(context.Background()))

	var published atomic.Int32
	_, err := b.Subscribe(bus.TopicAddProduct, func(context.Context, bus.Message) { published.Add(1) })
	require.NoError(t, err)

	require.NoError(t, e.HandleRowAction(context.Background(), "details", "PBE1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), published.Load())
}

func TestEntries_ReturnsCopies(t *testing.T) {
	inv := &mockInvoker{records: []domain.Record{product("PBE1", "Fiber 1G", "39.99")}}
	e, _ := setupEmitter(t, inv)
	require.NoError(t, e.Load(context.Background()))

	entries := e.Entries()
	delete(entries[0].Actions, "addtocart")

	entry, ok := e.Entry("PBE1")
	require.True(t, ok)
	_, ok = entry.Actions.AddToCartParams()
	assert.True(t, ok)
}
