package repository

import (
	"context"
	"time"
)

// Application is a registered OAuth client. ClientID is immutable once
// created; the secret may be regenerated, which invalidates the old one.
type Application struct {
	ID               string
	ClientID         string
	Name             string
	ClientSecretHash string // bcrypt; empty for public clients
	RedirectURIs     []string
	AllowedScopes    []string // "*" allows any known scope
	IsPublic         bool
	IsVerified       bool
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// AllowsScope reports whether the application allow-list covers the scope.
func (a *Application) AllowsScope(scope string) bool {
	for _, s := range a.AllowedScopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered.
// Exact match only; no prefix or wildcard matching.
func (a *Application) AllowsRedirectURI(uri string) bool {
	for _, u := range a.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// ApplicationInput carries the mutable fields for create/update.
type ApplicationInput struct {
	ClientID         string
	Name             string
	ClientSecretHash string
	RedirectURIs     []string
	AllowedScopes    []string
	IsPublic         bool
	IsVerified       bool
}

// ApplicationRepository manages OAuth applications.
type ApplicationRepository interface {
	// Create persists a new application.
	// Returns ErrConflict when the client_id already exists.
	Create(ctx context.Context, input ApplicationInput) (*Application, error)

	// GetByClientID returns an application by its public client_id.
	GetByClientID(ctx context.Context, clientID string) (*Application, error)

	// GetByID returns an application by its internal id.
	GetByID(ctx context.Context, id string) (*Application, error)

	// UpdateSecretHash replaces the secret hash, invalidating the old secret.
	UpdateSecretHash(ctx context.Context, clientID, secretHash string) error

	// List returns all applications.
	List(ctx context.Context) ([]Application, error)
}
