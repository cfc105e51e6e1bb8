package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client, "withdraw")
	ctx := context.Background()

	key := "user-123:key-001"
	value := []byte(`{"external_id":"wd_01J","status":"pending"}`)

	// Get before set => nil
	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	err = cache.Set(ctx, key, value, 24*time.Hour)
	require.NoError(t, err)

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)
	assert.True(t, s.Exists("idempotency:withdraw:"+key))
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client, "withdraw")
	ctx := context.Background()

	err := cache.Set(ctx, "user-456:key-002", []byte(`{"data":"test"}`), 1*time.Second)
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "user-456:key-002")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_NamespacesAreIsolated(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	ctx := context.Background()

	withdraw := NewIdempotencyCache(client, "withdraw")
	deposit := NewIdempotencyCache(client, "deposit")

	require.NoError(t, withdraw.Set(ctx, "k", []byte("first"), time.Hour))

	result, err := deposit.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestIdempotencyCache_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client, "withdraw")
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
}
