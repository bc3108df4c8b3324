// Package clientcred generates and verifies OAuth client credentials.
//
// Identifiers are prefixed ("fa_" for client ids, "fas_" for secrets) so
// they are recognizable in logs without revealing anything about the
// entropy source. Secrets are bcrypt-hashed at rest.
package clientcred

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	ClientIDPrefix     = "fa_"
	ClientSecretPrefix = "fas_"

	clientIDBytes     = 24
	clientSecretBytes = 32
)

// GenerateClientID returns a new "fa_"-prefixed client identifier.
func GenerateClientID() (string, error) {
	s, err := randomURLSafe(clientIDBytes)
	if err != nil {
		return "", err
	}
	return ClientIDPrefix + s, nil
}

// GenerateClientSecret returns a new "fas_"-prefixed client secret.
// The caller must hash it before persisting; the raw value is shown once.
func GenerateClientSecret() (string, error) {
	s, err := randomURLSafe(clientSecretBytes)
	if err != nil {
		return "", err
	}
	return ClientSecretPrefix + s, nil
}

// HashClientSecret bcrypt-hashes a secret with the given cost.
// cost <= 0 uses bcrypt.DefaultCost.
func HashClientSecret(secret string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyClientSecret reports whether secret matches the stored bcrypt hash.
func VerifyClientSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ParseBasicAuth decodes an HTTP Basic Authorization header into client
// credentials. Malformed input yields ok=false; callers turn that into a
// protocol-correct 401 instead of handling an error.
func ParseBasicAuth(header string) (clientID, clientSecret string, ok bool) {
	const prefix = "basic "
	h := strings.TrimSpace(header)
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	id, secret, found := strings.Cut(string(raw), ":")
	if !found || id == "" {
		return "", "", false
	}
	return id, secret, true
}

func randomURLSafe(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
