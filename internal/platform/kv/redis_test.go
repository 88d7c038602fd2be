package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorhub/vendor-portal/internal/platform/kv"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, client := newRedis(t)
	store := kv.NewRedisStore(client)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Set(ctx, "vendors:registered", []byte(`[]`)))
	got, err := store.Get(ctx, "vendors:registered")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	require.NoError(t, store.Delete(ctx, "vendors:registered"))
	require.NoError(t, store.Delete(ctx, "vendors:registered"))
	_, err = store.Get(ctx, "vendors:registered")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRedisStoreSurfacesOutage(t *testing.T) {
	mr, client := newRedis(t)
	store := kv.NewRedisStore(client)
	mr.Close()

	err := store.Set(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrNotFound)
}

func TestNewRedisClientPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := kv.NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = kv.NewRedisClient(context.Background(), mr.Addr())
	assert.Error(t, err)
}

func TestRedisLockerSerialisesWriters(t *testing.T) {
	_, client := newRedis(t)
	locker := kv.NewRedisLocker(client, 200*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "vendors:registered")
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "vendors:registered")
	require.ErrorIs(t, err, kv.ErrLockNotObtained)

	release()
	release2, err := locker.Obtain(ctx, "vendors:registered")
	require.NoError(t, err)
	release2()
}

func TestLocalLockerSerialisesWriters(t *testing.T) {
	locker := kv.NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "vendors:registered")
	require.NoError(t, err)

	other, err := locker.Obtain(ctx, "documents")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "vendors:registered")
	require.ErrorIs(t, err, kv.ErrLockNotObtained)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := locker.Obtain(ctx, "vendors:registered")
	require.NoError(t, err)
	release2()
}
