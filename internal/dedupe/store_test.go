package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_MarkExistsClear(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	present, err := store.Exists(ctx, "dedupe:candidate:update:1:abc")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, store.Mark(ctx, "dedupe:candidate:update:1:abc", time.Minute))

	present, err = store.Exists(ctx, "dedupe:candidate:update:1:abc")
	require.NoError(t, err)
	assert.True(t, present)

	require.NoError(t, store.Clear(ctx, "dedupe:candidate:update:1:abc"))

	present, err = store.Exists(ctx, "dedupe:candidate:update:1:abc")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRedisStore_MarkerExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "key", 10*time.Second))
	mr.FastForward(11 * time.Second)

	present, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRedisStore_ClearMissingKeyIsNoop(t *testing.T) {
	store, _ := newRedisStore(t)
	assert.NoError(t, store.Clear(context.Background(), "never-set"))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	present, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, store.Mark(ctx, "key", time.Minute))
	present, err = store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, present)

	require.NoError(t, store.Clear(ctx, "key"))
	present, err = store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestMemoryStore_ExpiredMarkerAbsent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "key", -time.Second))
	present, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestGuardedStore_FallsBackWhenPrimaryDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := breaker.NewRegistry()
	guarded := NewGuardedStore(NewRedisStore(client), registry, breaker.Config{
		Threshold: 1,
		Cooldown:  time.Minute,
	})
	defer guarded.Close()
	ctx := context.Background()

	// Healthy path: marker lands in redis and mirrors to the fallback.
	require.NoError(t, guarded.Mark(ctx, "key", time.Minute))
	present, err := guarded.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, present)

	// Primary down: first failure trips the breaker, fallback still sees the
	// mirrored marker.
	mr.Close()

	present, err = guarded.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, present)

	b, ok := registry.Get("cache")
	require.True(t, ok)
	assert.NotEqual(t, breaker.StateClosed, b.State())

	// Marks during the outage land in the fallback.
	require.NoError(t, guarded.Mark(ctx, "outage-key", time.Minute))
	present, err = guarded.Exists(ctx, "outage-key")
	require.NoError(t, err)
	assert.True(t, present)
}
