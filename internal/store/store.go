// Package store exposes the data access layer and its adapter registry.
// Adapters (postgres, memory) register themselves from init() and main picks
// one by driver name from configuration.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

// DataAccessLayer bundles every repository this server needs.
type DataAccessLayer interface {
	Keys() repository.KeyRepository
	Applications() repository.ApplicationRepository
	Scopes() repository.ScopeRepository
	Consents() repository.ConsentRepository
	Tokens() repository.TokenRepository
	AuthCodes() repository.AuthCodeRepository
	Users() repository.UserRepository

	// Cleanup purges expired/used authorization codes, expired or rotated
	// tokens, and authorization requests older than requestMaxAge.
	Cleanup(ctx context.Context, requestMaxAge time.Duration) (CleanupStats, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// CleanupStats reports how many rows each cleanup pass removed.
type CleanupStats struct {
	AuthCodes     int64
	AccessTokens  int64
	RefreshTokens int64
	AuthRequests  int64
}

// Config selects and configures an adapter.
type Config struct {
	Driver          string // "postgres" | "memory"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Adapter is implemented by storage backends.
type Adapter interface {
	Name() string
	Open(ctx context.Context, cfg Config) (DataAccessLayer, error)
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{}
)

// RegisterAdapter registers a backend under its Name. Called from adapter
// package init(); duplicate names panic early.
func RegisterAdapter(a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	if _, dup := adapters[a.Name()]; dup {
		panic(fmt.Sprintf("store: adapter %q registered twice", a.Name()))
	}
	adapters[a.Name()] = a
}

// Open connects the adapter selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (DataAccessLayer, error) {
	adaptersMu.RLock()
	a, ok := adapters[cfg.Driver]
	adaptersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (registered: %v)", cfg.Driver, registered())
	}
	return a.Open(ctx, cfg)
}

func registered() []string {
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
