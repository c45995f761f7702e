package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisBridge(t *testing.T, mr *miniredis.Miniredis) (*Bus, *RedisBridge) {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New()
	bridge := NewRedisBridge(b, client, "cpq:bus", TopicAddProduct)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bridge.Start(ctx))

	t.Cleanup(func() {
		cancel()
		_ = bridge.Close()
		b.Close()
		client.Close()
	})
	return b, bridge
}

func TestRedisBridge_RelaysBetweenBuses(t *testing.T) {
	mr := miniredis.RunT(t)
	busA, _ := setupRedisBridge(t, mr)
	busB, _ := setupRedisBridge(t, mr)

	onA, onB := &recorder{}, &recorder{}
	_, err := busA.Subscribe(TopicAddProduct, onA.handle)
	require.NoError(t, err)
	_, err = busB.Subscribe(TopicAddProduct, onB.handle)
	require.NoError(t, err)

	_, err = busA.Publish(context.Background(), Message{Topic: TopicAddProduct, Key: "PBE1", Payload: []byte(`{"priceBookEntryId":"PBE1"}`)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return onB.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	onB.m.RLock()
	relayedMsg := onB.msgs[0]
	onB.m.RUnlock()
	assert.Equal(t, busA.ID(), relayedMsg.Origin)
	assert.Equal(t, "PBE1", relayedMsg.Key)
	assert.JSONEq(t, `{"priceBookEntryId":"PBE1"}`, string(relayedMsg.Payload))

	// neither side sees an echo
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, onA.count())
	assert.Equal(t, 1, onB.count())
}

func TestRedisBridge_IgnoresUnbridgedTopics(t *testing.T) {
	mr := miniredis.RunT(t)
	busA, _ := setupRedisBridge(t, mr)
	busB, _ := setupRedisBridge(t, mr)

	onB := &recorder{}
	_, err := busB.Subscribe(TopicCartChanged, onB.handle)
	require.NoError(t, err)

	_, err = busA.Publish(context.Background(), Message{Topic: TopicCartChanged, Payload: []byte(`{}`)})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, onB.count())
}

func TestRedisBridge_CloseIsSafeTwice(t *testing.T) {
	mr := miniredis.RunT(t)
	_, bridge := setupRedisBridge(t, mr)

	assert.NoError(t, bridge.Close())
	assert.NoError(t, bridge.Close())
}
