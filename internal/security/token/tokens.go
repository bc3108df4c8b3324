// Package tokens provides opaque token generation and hashing helpers.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// RefreshTokenBytes is the entropy of a refresh token before encoding.
const RefreshTokenBytes = 48

// GenerateOpaque returns nBytes of randomness, base64url without padding.
func GenerateOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateRefreshToken returns a new opaque refresh token.
// Only the SHA-256 hash of the result is ever persisted.
func GenerateRefreshToken() (string, error) {
	return GenerateOpaque(RefreshTokenBytes)
}

// SHA256Base64URL returns sha256(s) as base64url without padding, the form
// stored in the datastore for refresh tokens and authorization codes.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
