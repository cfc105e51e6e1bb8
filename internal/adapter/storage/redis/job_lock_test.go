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

func TestJobLock_AcquireOnce(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	ctx := context.Background()

	a := NewJobLock(client)
	b := NewJobLock(client)

	ok, err := a.Acquire(ctx, "escrow_release", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "escrow_release", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not run the same job")

	ok, err = b.Acquire(ctx, "payout_poll", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different jobs lock independently")
}

func TestJobLock_ReleaseOnlyByOwner(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	ctx := context.Background()

	a := NewJobLock(client)
	b := NewJobLock(client)

	ok, err := a.Acquire(ctx, "stale_expiry", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx, "stale_expiry"))
	assert.True(t, s.Exists("sweep-lock:stale_expiry"), "non-owner release must not drop the lock")

	require.NoError(t, a.Release(ctx, "stale_expiry"))
	assert.False(t, s.Exists("sweep-lock:stale_expiry"))

	ok, err = b.Acquire(ctx, "stale_expiry", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJobLock_ExpiresAfterTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	ctx := context.Background()

	a := NewJobLock(client)
	b := NewJobLock(client)

	ok, err := a.Acquire(ctx, "escrow_release", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(31 * time.Second)

	ok, err = b.Acquire(ctx, "escrow_release", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's lock expires")
}
