package repository

import (
	"context"
	"time"
)

// User is the profile projection this core needs for OIDC claims.
// Account lifecycle (registration, passwords, sessions) belongs to the
// surrounding product and is out of scope here.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	CreatedAt     time.Time
}

// UserRepository is the read-side user contract.
type UserRepository interface {
	// GetByID returns a user profile by id.
	GetByID(ctx context.Context, id string) (*User, error)
}
