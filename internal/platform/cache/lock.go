package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held by another process")

// Locker hands out short-lived distributed locks backed by Redis.
type Locker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

// NewLocker wraps a redis client. Obtain attempts do not retry unless
// WithRetry is configured.
func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(rdb), retry: redislock.NoRetry()}
}

// WithRetry polls for the lock at the given interval until the context ends.
func (l *Locker) WithRetry(interval time.Duration) *Locker {
	if l == nil || interval <= 0 {
		return l
	}
	return &Locker{client: l.client, retry: redislock.LinearBackoff(interval)}
}

// Acquire obtains key for ttl. The returned release func is safe to call
// more than once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("platform/cache: locker not initialised")
	}
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}
		return nil, fmt.Errorf("platform/cache: obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
