// Package memory is an in-process store adapter used by tests and local
// development. It honors the same transactional invariants as the postgres
// adapter (single primary key, atomic consent merge, atomic rotation) via
// a coarse mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Open(_ context.Context, _ store.Config) (store.DataAccessLayer, error) {
	return New(), nil
}

// DAL is the in-memory data access layer. Exported so tests can construct
// it directly without going through the registry.
type DAL struct {
	mu sync.Mutex

	keys         map[string]*repository.SigningKey // by kid
	keyOrder     []string
	apps         map[string]*repository.Application // by client_id
	scopes       map[string]*repository.Scope       // by name
	consents     map[string]*repository.Consent     // by userID+"\x00"+appID
	accessTokens map[string]*repository.AccessToken // by jti
	refresh      map[string]*repository.RefreshToken
	refreshByID  map[string]*repository.RefreshToken
	codes        map[string]*repository.AuthorizationCode // by code hash
	requests     map[string]*repository.AuthorizationRequest
	users        map[string]*repository.User
}

// New builds an empty in-memory DAL.
func New() *DAL {
	return &DAL{
		keys:         map[string]*repository.SigningKey{},
		apps:         map[string]*repository.Application{},
		scopes:       map[string]*repository.Scope{},
		consents:     map[string]*repository.Consent{},
		accessTokens: map[string]*repository.AccessToken{},
		refresh:      map[string]*repository.RefreshToken{},
		refreshByID:  map[string]*repository.RefreshToken{},
		codes:        map[string]*repository.AuthorizationCode{},
		requests:     map[string]*repository.AuthorizationRequest{},
		users:        map[string]*repository.User{},
	}
}

func (d *DAL) Keys() repository.KeyRepository                 { return (*memKeys)(d) }
func (d *DAL) Applications() repository.ApplicationRepository { return (*memApps)(d) }
func (d *DAL) Scopes() repository.ScopeRepository             { return (*memScopes)(d) }
func (d *DAL) Consents() repository.ConsentRepository         { return (*memConsents)(d) }
func (d *DAL) Tokens() repository.TokenRepository             { return (*memTokens)(d) }
func (d *DAL) AuthCodes() repository.AuthCodeRepository       { return (*memAuthCodes)(d) }
func (d *DAL) Users() repository.UserRepository               { return (*memUsers)(d) }

func (d *DAL) Ping(context.Context) error { return nil }

func (d *DAL) Close() error { return nil }

// Cleanup purges expired/used codes, dead tokens and stale requests.
func (d *DAL) Cleanup(_ context.Context, requestMaxAge time.Duration) (store.CleanupStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var stats store.CleanupStats

	for h, c := range d.codes {
		if c.UsedAt != nil || now.After(c.ExpiresAt) {
			delete(d.codes, h)
			stats.AuthCodes++
		}
	}
	for jti, t := range d.accessTokens {
		if now.After(t.ExpiresAt) {
			delete(d.accessTokens, jti)
			stats.AccessTokens++
		}
	}
	for h, t := range d.refresh {
		if now.After(t.ExpiresAt) || t.RotatedAt != nil || t.RevokedAt != nil {
			delete(d.refresh, h)
			delete(d.refreshByID, t.ID)
			stats.RefreshTokens++
		}
	}
	cutoff := now.Add(-requestMaxAge)
	for id, r := range d.requests {
		if r.CreatedAt.Before(cutoff) {
			delete(d.requests, id)
			stats.AuthRequests++
		}
	}
	return stats, nil
}

// SeedUser inserts a user profile; test helper.
func (d *DAL) SeedUser(u *repository.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	d.users[u.ID] = &cp
}

const consentKeySep = "\x00"

func consentKey(userID, appID string) string { return userID + consentKeySep + appID }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
