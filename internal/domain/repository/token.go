package repository

import (
	"context"
	"time"
)

// AccessToken is the server-side record of an issued access token. The token
// itself is a bearer JWT; the JTI here is the only revocation handle.
// UserID is nil for client-credentials grants.
type AccessToken struct {
	JTI           string
	UserID        *string
	ApplicationID string
	Scope         string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	RevokedAt     *time.Time
}

// RefreshToken is stored hashed; the raw value is never recoverable from
// the datastore. Rotation marks the old row and issues a new one; a rotated
// token must never be accepted again.
type RefreshToken struct {
	ID            string
	UserID        string
	ApplicationID string
	TokenHash     string
	Scope         string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RotatedAt     *time.Time
	RotatedFrom   *string
	RevokedAt     *time.Time
}

// Live reports whether the refresh token is still redeemable.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && t.RotatedAt == nil && now.Before(t.ExpiresAt)
}

// CreateRefreshTokenInput carries the fields to persist a refresh token.
type CreateRefreshTokenInput struct {
	UserID        string
	ApplicationID string
	TokenHash     string
	Scope         string
	ExpiresAt     time.Time
	RotatedFrom   *string
}

// TokenRepository manages the token ledger.
type TokenRepository interface {
	// CreateAccess records an issued access token's JTI.
	// Returns ErrConflict on a duplicate JTI.
	CreateAccess(ctx context.Context, token *AccessToken) error

	// GetAccessByJTI returns the access token record for a JTI.
	GetAccessByJTI(ctx context.Context, jti string) (*AccessToken, error)

	// RevokeAccess marks the JTI revoked. Idempotent.
	RevokeAccess(ctx context.Context, jti string) error

	// IsAccessRevoked reports whether the JTI is revoked. Unknown JTIs are
	// not revoked (the JWT signature and expiry already gate them).
	IsAccessRevoked(ctx context.Context, jti string) (bool, error)

	// CreateRefresh persists a hashed refresh token and returns its id.
	CreateRefresh(ctx context.Context, input CreateRefreshTokenInput) (string, error)

	// GetRefreshByHash returns a refresh token row by hash.
	GetRefreshByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Rotate atomically marks oldID rotated and inserts the replacement.
	// Either both happen or neither: a rotation must not be able to strand
	// the user with the old token dead and no new one persisted.
	Rotate(ctx context.Context, oldID string, replacement CreateRefreshTokenInput) (string, error)

	// RevokeRefresh revokes a refresh token by id.
	RevokeRefresh(ctx context.Context, id string) error

	// RevokeAllForUser revokes every live refresh token and access JTI for
	// a user, optionally limited to one application. Returns counts.
	RevokeAllForUser(ctx context.Context, userID, applicationID string) (int, error)
}
