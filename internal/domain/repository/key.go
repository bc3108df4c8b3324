package repository

import (
	"context"
	"time"
)

// SigningKey is a persisted RSA signing key pair. Private material never
// leaves the token issuer; JWKS exposure uses the public half only.
type SigningKey struct {
	KID           string
	Algorithm     string // "RS256"
	PublicKeyPEM  string
	PrivateKeyPEM string
	IsPrimary     bool
	IsActive      bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// JWK is a public key in JWK form, as served by the JWKS endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	KID string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyRepository manages signing keys.
//
// Invariant: at most one key has IsPrimary=true. Promote enforces it
// transactionally (clear old primary, set new) so concurrent rotations
// cannot leave two primaries.
type KeyRepository interface {
	// Create persists a new key. The key starts active; whether it is
	// primary is taken from the struct, subject to the invariant above
	// (Create with IsPrimary=true behaves like Create+Promote).
	Create(ctx context.Context, key *SigningKey) error

	// GetPrimary returns the primary active key.
	// Returns ErrNotFound when no primary key exists.
	GetPrimary(ctx context.Context) (*SigningKey, error)

	// GetByKID returns a key by its key id.
	GetByKID(ctx context.Context, kid string) (*SigningKey, error)

	// ListActive returns every active key, primary first.
	ListActive(ctx context.Context) ([]SigningKey, error)

	// Promote makes kid the single primary key in one transaction.
	Promote(ctx context.Context, kid string) error

	// Deactivate removes a key from the verification set. Deactivating the
	// primary key is rejected with ErrConflict; promote a successor first.
	Deactivate(ctx context.Context, kid string) error
}
