package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// Options selects the Redis instance shared by revaluation locks and the job
// queue.
type Options struct {
	Addr        string
	DB          int
	PingTimeout time.Duration
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s db %d: %w", opts.Addr, opts.DB, err)
	}
	return client, nil
}
