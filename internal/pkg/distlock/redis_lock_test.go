package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockAcquireRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "fleet_scan", time.Minute)
	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "first acquire should succeed")

	// A second holder must not get the lock while it is held.
	l2 := NewRedisLock(client, "fleet_scan", time.Minute)
	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while held")

	require.NoError(t, l1.Release(ctx))

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "acquire should succeed after release")
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "fleet_scan", time.Minute)
	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release is a no-op; the owner still holds the lock.
	l2 := NewRedisLock(client, "fleet_scan", time.Minute)
	require.NoError(t, l2.Release(ctx))

	l3 := NewRedisLock(client, "fleet_scan", time.Minute)
	ok, err = l3.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lock should survive a stranger's release")
}

func TestRedisLockExtend(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "fleet_scan", time.Minute)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, 30*time.Minute))
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()

	ok, _ := l.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = l.Acquire(ctx)
	assert.False(t, ok, "second acquire should fail while held")

	require.NoError(t, l.Release(ctx))
	ok, _ = l.Acquire(ctx)
	assert.True(t, ok)
}
