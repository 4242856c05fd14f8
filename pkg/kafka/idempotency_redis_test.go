package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotencyStore(client, "saga-events", time.Minute), mr
}

func TestRedisIdempotencyStore_FirstMarkWins(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	fresh, err := store.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestRedisIdempotencyStore_IsProcessed(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	seen, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)

	seen, err = store.IsProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisIdempotencyStore_TTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "evt-3")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := store.IsProcessed(ctx, "evt-3")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisIdempotencyStore_KeyPrefix(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := store.MarkProcessed(context.Background(), "evt-4")
	require.NoError(t, err)

	assert.True(t, mr.Exists("saga-events:processed:evt-4"))
}
