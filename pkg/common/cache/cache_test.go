package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(16, time.Minute)
	defer func() { _ = c.Close() }()

	in := payload{Name: "resolver", Count: 3}
	require.NoError(t, c.Set(ctx, "k1", in, 0))

	var out payload
	require.NoError(t, c.Get(ctx, "k1", &out))
	assert.Equal(t, in, out)

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k1"))
	assert.Equal(t, ErrNotFound, c.Get(ctx, "k1", &out))
}

func TestMemoryCacheIsolation(t *testing.T) {
	// Mutating a value after Set must not leak into later reads.
	ctx := context.Background()
	c := NewMemoryCache(16, time.Minute)
	defer func() { _ = c.Close() }()

	in := map[string]any{"a": "one"}
	require.NoError(t, c.Set(ctx, "k", in, 0))
	in["a"] = "mutated"

	var out map[string]any
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, "one", out["a"])
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(16, time.Minute)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	var out string
	assert.Equal(t, ErrNotFound, c.Get(ctx, "short", &out))

	exists, err := c.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	// Oldest entry falls out once the ceiling is exceeded.
	var out int
	assert.Equal(t, ErrNotFound, c.Get(ctx, "a", &out))
	require.NoError(t, c.Get(ctx, "c", &out))
	assert.Equal(t, 3, out)
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisCacheWithClient(client, "hub")
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	in := payload{Name: "delegate", Count: 7}
	require.NoError(t, c.Set(ctx, "k1", in, time.Minute))

	var out payload
	require.NoError(t, c.Get(ctx, "k1", &out))
	assert.Equal(t, in, out)

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	// The prefix namespaces raw keys.
	assert.True(t, srv.Exists("hub:k1"))

	require.NoError(t, c.Delete(ctx, "k1"))
	assert.Equal(t, ErrNotFound, c.Get(ctx, "k1", &out))
}

func TestRedisCacheFlushPrefix(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisCacheWithClient(client, "hub")

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, c.Set(ctx, "k2", "v2", time.Minute))
	require.NoError(t, srv.Set("other:k", "keep"))

	require.NoError(t, c.Flush(ctx))

	var out string
	assert.Equal(t, ErrNotFound, c.Get(ctx, "k1", &out))
	assert.True(t, srv.Exists("other:k"))
}

func TestNoOpCache(t *testing.T) {
	ctx := context.Background()
	c := NewNoOpCache()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	var out string
	assert.Equal(t, ErrNotFound, c.Get(ctx, "k", &out))

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}
