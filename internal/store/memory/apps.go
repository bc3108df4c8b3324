package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type memApps DAL

func (m *memApps) Create(_ context.Context, input repository.ApplicationInput) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apps[input.ClientID]; exists {
		return nil, repository.ErrConflict
	}
	app := &repository.Application{
		ID:               uuid.NewString(),
		ClientID:         input.ClientID,
		Name:             input.Name,
		ClientSecretHash: input.ClientSecretHash,
		RedirectURIs:     cloneStrings(input.RedirectURIs),
		AllowedScopes:    cloneStrings(input.AllowedScopes),
		IsPublic:         input.IsPublic,
		IsVerified:       input.IsVerified,
		CreatedAt:        time.Now().UTC(),
	}
	m.apps[app.ClientID] = app
	cp := *app
	return &cp, nil
}

func (m *memApps) GetByClientID(_ context.Context, clientID string) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[clientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *app
	cp.RedirectURIs = cloneStrings(app.RedirectURIs)
	cp.AllowedScopes = cloneStrings(app.AllowedScopes)
	return &cp, nil
}

func (m *memApps) GetByID(_ context.Context, id string) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.ID == id {
			cp := *app
			cp.RedirectURIs = cloneStrings(app.RedirectURIs)
			cp.AllowedScopes = cloneStrings(app.AllowedScopes)
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memApps) UpdateSecretHash(_ context.Context, clientID, secretHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[clientID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	app.ClientSecretHash = secretHash
	app.UpdatedAt = &now
	return nil
}

func (m *memApps) List(_ context.Context) ([]repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.Application, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, *app)
	}
	return out, nil
}

type memScopes DAL

func (m *memScopes) Upsert(_ context.Context, input repository.ScopeInput) (*repository.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scopes[input.Name]
	if !ok {
		sc = &repository.Scope{
			ID:        uuid.NewString(),
			Name:      input.Name,
			CreatedAt: time.Now().UTC(),
		}
		m.scopes[input.Name] = sc
	}
	sc.Description = input.Description
	sc.RequiresVerification = input.RequiresVerification
	cp := *sc
	return &cp, nil
}

func (m *memScopes) GetByName(_ context.Context, name string) (*repository.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scopes[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (m *memScopes) List(_ context.Context) ([]repository.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.Scope, 0, len(m.scopes))
	for _, sc := range m.scopes {
		out = append(out, *sc)
	}
	return out, nil
}

type memUsers DAL

func (m *memUsers) GetByID(_ context.Context, id string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
