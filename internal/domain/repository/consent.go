package repository

import (
	"context"
	"time"
)

// ScopeGrant is one entry in a consent's scope history: which scopes were
// added and when. History is append-only.
type ScopeGrant struct {
	Scopes    []string  `json:"scopes"`
	GrantedAt time.Time `json:"granted_at"`
}

// Consent records what a user has authorized for one application.
// Unique per (UserID, ApplicationID). GrantedScopes only grows until the
// consent is revoked; revocation is terminal and a later authorization
// creates a fresh consent.
type Consent struct {
	ID            string
	UserID        string
	ApplicationID string
	GrantedScopes []string
	ScopeHistory  []ScopeGrant
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	RevokedAt     *time.Time
}

// Revoked reports whether the consent has been revoked.
func (c *Consent) Revoked() bool { return c.RevokedAt != nil }

// HasScope reports whether the scope is already granted.
func (c *Consent) HasScope(scope string) bool {
	for _, s := range c.GrantedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// MergeResult describes the outcome of an incremental consent merge.
type MergeResult struct {
	Consent *Consent
	// IsNew is true when the merge created the consent (no prior active one).
	IsNew bool
	// NewScopesGranted is the delta actually added by this merge.
	// Empty when every requested scope was already granted.
	NewScopesGranted []string
}

// ConsentRepository manages user consents.
type ConsentRepository interface {
	// Merge implements incremental authorization atomically: create the
	// consent if no active one exists, otherwise union the new scopes in and
	// append a history entry. A merge whose delta is empty performs no write.
	// The read-merge-write must not lose updates under concurrency; adapters
	// use a transaction with a row lock (or equivalent).
	Merge(ctx context.Context, userID, applicationID string, scopes []string) (*MergeResult, error)

	// Get returns the consent for (userID, applicationID), revoked or not.
	Get(ctx context.Context, userID, applicationID string) (*Consent, error)

	// Revoke terminally revokes the active consent. ErrRevoked when the
	// consent was already revoked, ErrNotFound when none ever existed.
	Revoke(ctx context.Context, userID, applicationID string) error

	// ListByUser returns the user's consents. activeOnly skips revoked ones.
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]Consent, error)
}
