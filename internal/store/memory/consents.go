package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type memConsents DAL

func (m *memConsents) Merge(_ context.Context, userID, applicationID string, scopes []string) (*repository.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := consentKey(userID, applicationID)
	existing := m.consents[key]

	// A revoked consent is terminal; a new authorization starts fresh.
	if existing == nil || existing.Revoked() {
		c := &repository.Consent{
			ID:            uuid.NewString(),
			UserID:        userID,
			ApplicationID: applicationID,
			GrantedScopes: dedupe(scopes),
			ScopeHistory:  []repository.ScopeGrant{{Scopes: dedupe(scopes), GrantedAt: now}},
			CreatedAt:     now,
		}
		m.consents[key] = c
		return &repository.MergeResult{
			Consent:          cloneConsent(c),
			IsNew:            true,
			NewScopesGranted: cloneStrings(c.GrantedScopes),
		}, nil
	}

	delta := missingScopes(existing.GrantedScopes, scopes)
	if len(delta) == 0 {
		return &repository.MergeResult{
			Consent:          cloneConsent(existing),
			IsNew:            false,
			NewScopesGranted: []string{},
		}, nil
	}

	existing.GrantedScopes = append(existing.GrantedScopes, delta...)
	existing.ScopeHistory = append(existing.ScopeHistory, repository.ScopeGrant{Scopes: delta, GrantedAt: now})
	existing.UpdatedAt = &now
	return &repository.MergeResult{
		Consent:          cloneConsent(existing),
		IsNew:            false,
		NewScopesGranted: delta,
	}, nil
}

func (m *memConsents) Get(_ context.Context, userID, applicationID string) (*repository.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[consentKey(userID, applicationID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConsent(c), nil
}

func (m *memConsents) Revoke(_ context.Context, userID, applicationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[consentKey(userID, applicationID)]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Revoked() {
		return repository.ErrRevoked
	}
	now := time.Now().UTC()
	c.RevokedAt = &now
	return nil
}

func (m *memConsents) ListByUser(_ context.Context, userID string, activeOnly bool) ([]repository.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Consent
	for key, c := range m.consents {
		if !strings.HasPrefix(key, userID+consentKeySep) {
			continue
		}
		if activeOnly && c.Revoked() {
			continue
		}
		out = append(out, *cloneConsent(c))
	}
	return out, nil
}

func cloneConsent(c *repository.Consent) *repository.Consent {
	cp := *c
	cp.GrantedScopes = cloneStrings(c.GrantedScopes)
	cp.ScopeHistory = make([]repository.ScopeGrant, len(c.ScopeHistory))
	for i, g := range c.ScopeHistory {
		cp.ScopeHistory[i] = repository.ScopeGrant{Scopes: cloneStrings(g.Scopes), GrantedAt: g.GrantedAt}
	}
	return &cp
}

// missingScopes returns requested minus granted, preserving request order.
func missingScopes(granted, requested []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var out []string
	for _, s := range requested {
		if !have[s] {
			have[s] = true
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
