package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type memTokens DAL

func (m *memTokens) CreateAccess(_ context.Context, token *repository.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accessTokens[token.JTI]; exists {
		return repository.ErrConflict
	}
	cp := *token
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.accessTokens[cp.JTI] = &cp
	return nil
}

func (m *memTokens) GetAccessByJTI(_ context.Context, jti string) (*repository.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.accessTokens[jti]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) RevokeAccess(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.accessTokens[jti]
	if !ok {
		return nil // unknown jti: revocation is idempotent
	}
	if t.RevokedAt == nil {
		now := time.Now().UTC()
		t.RevokedAt = &now
	}
	return nil
}

func (m *memTokens) IsAccessRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.accessTokens[jti]
	if !ok {
		return false, nil
	}
	return t.RevokedAt != nil, nil
}

func (m *memTokens) CreateRefresh(_ context.Context, input repository.CreateRefreshTokenInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRefreshLocked(input)
}

func (m *memTokens) insertRefreshLocked(input repository.CreateRefreshTokenInput) (string, error) {
	if _, exists := m.refresh[input.TokenHash]; exists {
		return "", repository.ErrConflict
	}
	rt := &repository.RefreshToken{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		ApplicationID: input.ApplicationID,
		TokenHash:     input.TokenHash,
		Scope:         input.Scope,
		IssuedAt:      time.Now().UTC(),
		ExpiresAt:     input.ExpiresAt,
		RotatedFrom:   input.RotatedFrom,
	}
	m.refresh[rt.TokenHash] = rt
	m.refreshByID[rt.ID] = rt
	return rt.ID, nil
}

func (m *memTokens) GetRefreshByHash(_ context.Context, tokenHash string) (*repository.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.refresh[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

// Rotate marks the old token and inserts the replacement under one lock,
// mirroring the single transaction the postgres adapter uses.
func (m *memTokens) Rotate(_ context.Context, oldID string, replacement repository.CreateRefreshTokenInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.refreshByID[oldID]
	if !ok {
		return "", repository.ErrNotFound
	}
	if old.RotatedAt != nil || old.RevokedAt != nil {
		return "", repository.ErrAlreadyUsed
	}

	replacement.RotatedFrom = &oldID
	newID, err := m.insertRefreshLocked(replacement)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	old.RotatedAt = &now
	return newID, nil
}

func (m *memTokens) RevokeRefresh(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.refreshByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rt.RevokedAt == nil {
		now := time.Now().UTC()
		rt.RevokedAt = &now
	}
	return nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID, applicationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, rt := range m.refreshByID {
		if rt.UserID != userID || rt.RevokedAt != nil {
			continue
		}
		if applicationID != "" && rt.ApplicationID != applicationID {
			continue
		}
		rt.RevokedAt = &now
		n++
	}
	for _, at := range m.accessTokens {
		if at.UserID == nil || *at.UserID != userID || at.RevokedAt != nil {
			continue
		}
		if applicationID != "" && at.ApplicationID != applicationID {
			continue
		}
		at.RevokedAt = &now
		n++
	}
	return n, nil
}
