package memory

import (
	"context"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type memAuthCodes DAL

func (m *memAuthCodes) CreateCode(_ context.Context, code *repository.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[code.CodeHash]; exists {
		return repository.ErrConflict
	}
	cp := *code
	if cp.IssuedAt.IsZero() {
		cp.IssuedAt = time.Now().UTC()
	}
	m.codes[cp.CodeHash] = &cp
	return nil
}

// RedeemCode is the single-use gate: it flips UsedAt under the lock so a
// concurrent second exchange observes ErrAlreadyUsed, never a double issue.
func (m *memAuthCodes) RedeemCode(_ context.Context, codeHash string) (*repository.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[codeHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.UsedAt != nil {
		return nil, repository.ErrAlreadyUsed
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, repository.ErrExpired
	}
	now := time.Now().UTC()
	c.UsedAt = &now
	cp := *c
	return &cp, nil
}

func (m *memAuthCodes) CreateRequest(_ context.Context, req *repository.AuthorizationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.ID]; exists {
		return repository.ErrConflict
	}
	cp := *req
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.requests[cp.ID] = &cp
	return nil
}

func (m *memAuthCodes) GetRequest(_ context.Context, id string) (*repository.AuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memAuthCodes) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}
