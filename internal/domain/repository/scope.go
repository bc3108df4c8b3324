package repository

import (
	"context"
	"time"
)

// Scope is a DB-defined OAuth scope. The fixed OIDC scopes (openid, profile,
// email, offline_access) are recognized without a row; rows exist for
// product-defined scopes.
type Scope struct {
	ID          string
	Name        string
	Description string
	// RequiresVerification restricts the scope to verified applications.
	RequiresVerification bool
	CreatedAt            time.Time
}

// ScopeInput carries the fields for create/upsert.
type ScopeInput struct {
	Name                 string
	Description          string
	RequiresVerification bool
}

// ScopeRepository manages scope definitions.
type ScopeRepository interface {
	// Upsert creates or updates a scope by name.
	Upsert(ctx context.Context, input ScopeInput) (*Scope, error)

	// GetByName returns a scope by name. Returns ErrNotFound if undefined.
	GetByName(ctx context.Context, name string) (*Scope, error)

	// List returns all defined scopes.
	List(ctx context.Context) ([]Scope, error)
}
