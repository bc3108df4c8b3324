// Package scopes implements scope validation and the scope-to-claims
// projection used for ID tokens and the userinfo endpoint.
package scopes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

// Fixed OIDC scopes recognized without a datastore row.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// IsOIDCScope reports whether name is one of the fixed OIDC scopes.
func IsOIDCScope(name string) bool {
	switch name {
	case ScopeOpenID, ScopeProfile, ScopeEmail, ScopeOfflineAccess:
		return true
	}
	return false
}

// Scope name rules:
// - Lowercase only.
// - Start and end with [a-z0-9].
// - Middle chars may include [a-z0-9:_.-].
// - Length 1..64.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidName returns true if the scope name matches the allowed pattern.
func ValidName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// Split breaks a space-delimited scope string into fields.
func Split(scope string) []string {
	return strings.Fields(scope)
}

// Join renders scopes as the wire format (space-delimited).
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ValidationResult carries the outcome of validating a scope request.
// Partial success is representable: Valid holds the accepted subset and
// Errors one message per rejected scope, so callers can report everything
// at once instead of failing on the first problem.
type ValidationResult struct {
	Valid  []string
	Errors []string
}

// OK reports whether every requested scope was accepted.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validator validates scope requests against an application.
type Validator struct {
	scopes repository.ScopeRepository
}

// NewValidator builds a Validator over the scope repository.
func NewValidator(scopes repository.ScopeRepository) *Validator {
	return &Validator{scopes: scopes}
}

// Validate resolves each requested scope and checks it against the
// application's allow-list and verification requirements. A scope passes
// when it is either a fixed OIDC scope or defined in the datastore, the
// allow-list covers it (wildcard "*" honored), and any verification
// requirement is met by the application.
func (v *Validator) Validate(ctx context.Context, requested []string, app *repository.Application) (ValidationResult, error) {
	var res ValidationResult
	seen := make(map[string]bool, len(requested))

	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true

		if !ValidName(name) {
			res.Errors = append(res.Errors, fmt.Sprintf("scope %q is malformed", name))
			continue
		}

		var requiresVerification bool
		if !IsOIDCScope(name) {
			sc, err := v.scopes.GetByName(ctx, name)
			if err != nil {
				if repository.IsNotFound(err) {
					res.Errors = append(res.Errors, fmt.Sprintf("scope %q is not defined", name))
					continue
				}
				return ValidationResult{}, err
			}
			requiresVerification = sc.RequiresVerification
		}

		if !app.AllowsScope(name) {
			res.Errors = append(res.Errors, fmt.Sprintf("scope %q is not allowed for this application", name))
			continue
		}
		if requiresVerification && !app.IsVerified {
			res.Errors = append(res.Errors, fmt.Sprintf("scope %q requires a verified application", name))
			continue
		}

		res.Valid = append(res.Valid, name)
	}

	return res, nil
}
