package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client)
}

func TestSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ok, err := store.SetIfAbsent(ctx, "slot", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetIfAbsent(ctx, "slot", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second concurrent set-if-absent must lose")

	val, found, err := store.Get(ctx, "slot")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "holder-a", val)
}

func TestIncrDecr(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	n, err := store.Incr(ctx, "quota:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(ctx, "quota:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Decr(ctx, "quota:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPubSubDeliversAfterSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newTestStore(t)

	ch, unsub := store.Subscribe(ctx, "song_changed")
	defer unsub()

	// Give the subscription goroutine a moment to register with Redis.
	time.Sleep(50 * time.Millisecond)
	store.Publish(ctx, "song_changed", `{"hello":"world"}`)

	select {
	case payload := <-ch:
		assert.JSONEq(t, `{"hello":"world"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPubSubMissedBeforeSubscribeIsLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newTestStore(t)

	// Publish with zero subscribers: per spec.md §4.A this is simply lost,
	// not an error.
	store.Publish(ctx, "song_changed", "missed")

	ch, unsub := store.Subscribe(ctx, "song_changed")
	defer unsub()

	select {
	case payload := <-ch:
		t.Fatalf("unexpected delivery of a pre-subscription publish: %q", payload)
	case <-time.After(150 * time.Millisecond):
		// Expected: nothing arrives.
	}
}

func TestExpireAndDel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, "ledger:p1", "120", 0))
	require.NoError(t, store.Expire(ctx, "ledger:p1", 30*24*time.Hour))

	_, found, err := store.Get(ctx, "ledger:p1")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, store.Del(ctx, "ledger:p1"))
	_, found, err = store.Get(ctx, "ledger:p1")
	require.NoError(t, err)
	assert.False(t, found)
}
