// Package redis is the Redis cache backend for multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/featherauth/featherauth/internal/cache"
)

type client struct {
	c      *rdb.Client
	prefix string
}

// New builds a Redis-backed cache client.
func New(cfg cache.Config) cache.Client {
	return &client{
		c: rdb.NewClient(&rdb.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *client) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *client) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return "", cache.ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (r *client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *client) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.key(key)).Err()
}

func (r *client) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *client) Close() error { return r.c.Close() }
