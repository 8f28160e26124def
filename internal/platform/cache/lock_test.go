package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestLockerExclusive(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "revaluation:USD", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "revaluation:USD", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := locker.Acquire(ctx, "revaluation:USD", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLockerExpires(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestNewPingFailure(t *testing.T) {
	_, err := New(context.Background(), Options{Addr: "127.0.0.1:1", DB: 3, PingTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	require.Contains(t, err.Error(), "127.0.0.1:1 db 3")
}

func TestNewSelectsDatabase(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: srv.Addr(), DB: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := srv.DB(2).Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
	require.False(t, srv.DB(0).Exists("k"))
}
