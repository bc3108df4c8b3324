package repository

import (
	"context"
	"time"
)

// AuthorizationCode is a single-use, short-lived code. Lifecycle:
// issued -> used (terminal) or expired (terminal). The code itself is
// stored hashed.
type AuthorizationCode struct {
	CodeHash            string
	UserID              string
	ApplicationID       string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" | "plain"
	IssuedAt            time.Time
	ExpiresAt           time.Time
	UsedAt              *time.Time
}

// AuthorizationRequest is a pending /authorize request parked while the
// user logs in or reviews the consent screen. Purged after 24h.
type AuthorizationRequest struct {
	ID                  string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
}

// AuthCodeRepository manages authorization codes and pending requests.
type AuthCodeRepository interface {
	// CreateCode persists a new code.
	CreateCode(ctx context.Context, code *AuthorizationCode) error

	// RedeemCode atomically fetches the code and marks it used.
	// Returns ErrNotFound for unknown hashes, ErrAlreadyUsed on replay and
	// ErrExpired past the expiry window. A code is redeemed at most once
	// even under concurrent exchange attempts.
	RedeemCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	// CreateRequest parks a pending authorization request.
	CreateRequest(ctx context.Context, req *AuthorizationRequest) error

	// GetRequest returns a pending request by id.
	GetRequest(ctx context.Context, id string) (*AuthorizationRequest, error)

	// DeleteRequest removes a completed request.
	DeleteRequest(ctx context.Context, id string) error
}
