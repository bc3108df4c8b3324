// Package memory is the in-process cache backend, for dev and tests.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/featherauth/featherauth/internal/cache"
)

type client struct{ c *gocache.Cache }

// New builds an in-process cache. defaultTTL applies when Set is called
// with ttl 0.
func New(defaultTTL time.Duration) cache.Client {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &client{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *client) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", cache.ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *client) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *client) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *client) Ping(_ context.Context) error { return nil }

func (m *client) Close() error { return nil }
