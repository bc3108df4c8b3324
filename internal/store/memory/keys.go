package memory

import (
	"context"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type memKeys DAL

func (m *memKeys) Create(_ context.Context, key *repository.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key.KID]; exists {
		return repository.ErrConflict
	}
	cp := *key
	if cp.IsPrimary {
		for _, k := range m.keys {
			k.IsPrimary = false
		}
	}
	m.keys[cp.KID] = &cp
	m.keyOrder = append(m.keyOrder, cp.KID)
	return nil
}

func (m *memKeys) GetPrimary(_ context.Context) (*repository.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.IsPrimary && k.IsActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memKeys) GetByKID(_ context.Context, kid string) (*repository.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memKeys) ListActive(_ context.Context) ([]repository.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.SigningKey
	// Primary first, then insertion order.
	for _, kid := range m.keyOrder {
		if k := m.keys[kid]; k != nil && k.IsActive && k.IsPrimary {
			out = append(out, *k)
		}
	}
	for _, kid := range m.keyOrder {
		if k := m.keys[kid]; k != nil && k.IsActive && !k.IsPrimary {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *memKeys) Promote(_ context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.keys[kid]
	if !ok || !target.IsActive {
		return repository.ErrNotFound
	}
	for _, k := range m.keys {
		k.IsPrimary = false
	}
	target.IsPrimary = true
	return nil
}

func (m *memKeys) Deactivate(_ context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return repository.ErrNotFound
	}
	if k.IsPrimary {
		return repository.ErrConflict
	}
	k.IsActive = false
	return nil
}
