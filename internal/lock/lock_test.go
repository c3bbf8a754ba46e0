package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexExclusivePerKey(t *testing.T) {
	ctx := context.Background()
	m := NewKeyedMutex()

	token, ok, err := m.TryLock(ctx, "VOUCHER:2601", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "VOUCHER:2601", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "same bucket must not be granted twice")

	_, ok, err = m.TryLock(ctx, "VOUCHER:2602", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "other buckets are independent")

	require.NoError(t, m.Release(ctx, "VOUCHER:2601", "not-the-owner"))
	_, ok, _ = m.TryLock(ctx, "VOUCHER:2601", time.Second)
	assert.False(t, ok, "release with a foreign token is ignored")

	require.NoError(t, m.Release(ctx, "VOUCHER:2601", token))
	_, ok, _ = m.TryLock(ctx, "VOUCHER:2601", time.Second)
	assert.True(t, ok)
}

func TestKeyedMutexLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	m := NewKeyedMutex()
	m.nowFn = func() time.Time { return now }

	_, ok, err := m.TryLock(ctx, "BATCH:2026", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(6 * time.Second)
	_, ok, err = m.TryLock(ctx, "BATCH:2026", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyedMutexRejectsBadInput(t *testing.T) {
	m := NewKeyedMutex()
	_, _, err := m.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = m.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(client, "test:")

	token, ok, err := l.TryLock(ctx, "FORM:2601", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, srv.Exists("test:FORM:2601"))

	_, ok, err = l.TryLock(ctx, "FORM:2601", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "FORM:2601", "other"))
	assert.True(t, srv.Exists("test:FORM:2601"))

	require.NoError(t, l.Release(ctx, "FORM:2601", token))
	assert.False(t, srv.Exists("test:FORM:2601"))

	_, ok, err = l.TryLock(ctx, "FORM:2601", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	srv.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "FORM:2601", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken again")
}
