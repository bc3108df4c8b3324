package scopes

import "github.com/featherauth/featherauth/internal/domain/repository"

// claimProducers maps each scope to the claims it unlocks. Adding a scope
// is a data change here, not new conditionals at every call site. Claims
// with empty values are omitted, never emitted as null.
var claimProducers = map[string]func(u *repository.User, out map[string]any){
	ScopeProfile: func(u *repository.User, out map[string]any) {
		putNonEmpty(out, "name", u.Name)
		putNonEmpty(out, "given_name", u.GivenName)
		putNonEmpty(out, "family_name", u.FamilyName)
		putNonEmpty(out, "picture", u.Picture)
	},
	ScopeEmail: func(u *repository.User, out map[string]any) {
		if u.Email != "" {
			out["email"] = u.Email
			out["email_verified"] = u.EmailVerified
		}
	},
}

// UserClaims projects a user's profile into OIDC claims, strictly gated by
// the granted scopes: openid alone yields only sub.
func UserClaims(u *repository.User, granted []string) map[string]any {
	out := map[string]any{"sub": u.ID}
	for _, scope := range granted {
		if produce, ok := claimProducers[scope]; ok {
			produce(u, out)
		}
	}
	return out
}

func putNonEmpty(out map[string]any, key, val string) {
	if val != "" {
		out[key] = val
	}
}
