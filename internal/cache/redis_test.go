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

// setupTestRedis creates a mock Redis server for testing
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	c := NewRedisCache(client)

	t.Cleanup(func() {
		c.Close()
		mr.Close()
	})

	return c, mr
}

func TestRedisCache_SetAndGet(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	err := c.Set(ctx, "forecast-London", []byte(`[{"summary":"Mild"}]`), 10*time.Second)
	require.NoError(t, err)

	got, ok, err := c.Get(ctx, "forecast-London")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[{"summary":"Mild"}]`), got)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := setupTestRedis(t)

	got, ok, err := c.Get(context.Background(), "forecast-Nowhere")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisCache_Expiration(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	err := c.Set(ctx, "forecast-London", []byte(`[1]`), 10*time.Second)
	require.NoError(t, err)

	// Just before the deadline the entry is still live.
	mr.FastForward(9 * time.Second)
	_, ok, err := c.Get(ctx, "forecast-London")
	require.NoError(t, err)
	assert.True(t, ok)

	// Fast-forward time in miniredis past the TTL.
	mr.FastForward(2 * time.Second)
	_, ok, err = c.Get(ctx, "forecast-London")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_LastWriteWins(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("first"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", []byte("second"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

func TestRedisCache_SetRefreshesTTL(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), 10*time.Second))
	mr.FastForward(8 * time.Second)
	require.NoError(t, c.Set(ctx, "k", []byte("v2"), 10*time.Second))
	mr.FastForward(8 * time.Second)

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "rewrite should restart the expiration clock")
	assert.Equal(t, []byte("v2"), got)
}

func TestRedisCache_Ping(t *testing.T) {
	c, mr := setupTestRedis(t)

	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
