// Package cache connects to the Redis instance shared by the recipe cache and
// the job queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects the Redis server. Zero timeouts fall back to short defaults
// suited to a cache sitting on the request path.
type Options struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) client() *redis.Options {
	dial, read, write := o.DialTimeout, o.ReadTimeout, o.WriteTimeout
	if dial <= 0 {
		dial = 3 * time.Second
	}
	if read <= 0 {
		read = time.Second
	}
	if write <= 0 {
		write = time.Second
	}
	return &redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
	}
}

// New returns a client that answered PING within five seconds.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(opts.client())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
