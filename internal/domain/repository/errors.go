package repository

import "errors"

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or constraint violation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates malformed input data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyUsed indicates a single-use resource was already redeemed.
	ErrAlreadyUsed = errors.New("already used")

	// ErrRevoked indicates the resource was revoked.
	ErrRevoked = errors.New("revoked")

	// ErrExpired indicates the resource is past its expiry.
	ErrExpired = errors.New("expired")

	// ErrNoDatabase indicates no datastore is configured.
	ErrNoDatabase = errors.New("no database configured")
)

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
