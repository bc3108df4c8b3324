// Package pkce verifies RFC 7636 code challenges.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Challenge methods accepted by Verify.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Verify checks a code_verifier against the stored code_challenge.
//
// S256 compares base64url(sha256(verifier)) with the challenge; plain
// compares the raw strings. Both comparisons are constant time. Any other
// method returns false; there is no fallback.
func Verify(codeVerifier, codeChallenge, method string) bool {
	if codeVerifier == "" || codeChallenge == "" {
		return false
	}
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(codeVerifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return constantTimeEq(derived, codeChallenge)
	case MethodPlain:
		return constantTimeEq(codeVerifier, codeChallenge)
	default:
		return false
	}
}

func constantTimeEq(a, b string) bool {
	// ConstantTimeCompare requires equal lengths; the length check itself
	// leaks nothing useful since challenge lengths are public.
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
