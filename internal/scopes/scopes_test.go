package scopes

import (
	"context"
	"strings"
	"testing"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type fakeScopeRepo map[string]*repository.Scope

func (f fakeScopeRepo) Upsert(_ context.Context, in repository.ScopeInput) (*repository.Scope, error) {
	sc := &repository.Scope{Name: in.Name, Description: in.Description, RequiresVerification: in.RequiresVerification}
	f[in.Name] = sc
	return sc, nil
}

func (f fakeScopeRepo) GetByName(_ context.Context, name string) (*repository.Scope, error) {
	if sc, ok := f[name]; ok {
		return sc, nil
	}
	return nil, repository.ErrNotFound
}

func (f fakeScopeRepo) List(_ context.Context) ([]repository.Scope, error) {
	out := make([]repository.Scope, 0, len(f))
	for _, sc := range f {
		out = append(out, *sc)
	}
	return out, nil
}

func TestValidName(t *testing.T) {
	valids := []string{"a", "read", "notes:read", "a_b-c.d:x2", "a" + strings.Repeat("b", 62) + "c"}
	for _, v := range valids {
		if !ValidName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	invalids := []string{"", ":lead", "trail:", "has space", "UPPER", strings.Repeat("a", 65)}
	for _, v := range invalids {
		if ValidName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestValidate_AllowListAndWildcard(t *testing.T) {
	repo := fakeScopeRepo{
		"notes:read":  {Name: "notes:read"},
		"notes:write": {Name: "notes:write"},
	}
	v := NewValidator(repo)

	app := &repository.Application{AllowedScopes: []string{"openid", "notes:read"}}
	res, err := v.Validate(context.Background(), []string{"openid", "notes:read", "notes:write"}, app)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatal("expected notes:write to be rejected")
	}
	if len(res.Valid) != 2 {
		t.Fatalf("expected 2 accepted scopes, got %v", res.Valid)
	}
	// The offending scope is named in the error.
	if !strings.Contains(strings.Join(res.Errors, " "), "notes:write") {
		t.Fatalf("error should name the rejected scope: %v", res.Errors)
	}

	wildcard := &repository.Application{AllowedScopes: []string{"*"}}
	res, err = v.Validate(context.Background(), []string{"openid", "notes:read", "notes:write"}, wildcard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || len(res.Valid) != 3 {
		t.Fatalf("wildcard should allow every known scope: %+v", res)
	}
}

func TestValidate_UndefinedScope(t *testing.T) {
	v := NewValidator(fakeScopeRepo{})
	app := &repository.Application{AllowedScopes: []string{"*"}}

	res, err := v.Validate(context.Background(), []string{"made:up"}, app)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatal("unknown scopes must be rejected even under a wildcard")
	}
}

func TestValidate_VerificationGate(t *testing.T) {
	repo := fakeScopeRepo{
		"payments:charge": {Name: "payments:charge", RequiresVerification: true},
	}
	v := NewValidator(repo)

	unverified := &repository.Application{AllowedScopes: []string{"*"}}
	res, _ := v.Validate(context.Background(), []string{"payments:charge"}, unverified)
	if res.OK() {
		t.Fatal("verification-gated scope must be rejected for unverified apps")
	}

	verified := &repository.Application{AllowedScopes: []string{"*"}, IsVerified: true}
	res, _ = v.Validate(context.Background(), []string{"payments:charge"}, verified)
	if !res.OK() {
		t.Fatalf("verified app should pass: %v", res.Errors)
	}
}

func TestUserClaims_ScopeGating(t *testing.T) {
	u := &repository.User{
		ID:            "u1",
		Email:         "ada@example.com",
		EmailVerified: true,
		Name:          "Ada Lovelace",
		GivenName:     "Ada",
		FamilyName:    "Lovelace",
	}

	got := UserClaims(u, []string{ScopeOpenID})
	if got["sub"] != "u1" {
		t.Fatalf("sub missing: %v", got)
	}
	if _, ok := got["email"]; ok {
		t.Fatal("email must not leak without the email scope")
	}
	if _, ok := got["name"]; ok {
		t.Fatal("name must not leak without the profile scope")
	}

	got = UserClaims(u, []string{ScopeOpenID, ScopeEmail})
	if got["email"] != "ada@example.com" || got["email_verified"] != true {
		t.Fatalf("email claims wrong: %v", got)
	}

	got = UserClaims(u, []string{ScopeOpenID, ScopeProfile})
	if got["name"] != "Ada Lovelace" || got["given_name"] != "Ada" {
		t.Fatalf("profile claims wrong: %v", got)
	}
	// Empty values are omitted, not sent as "".
	if _, ok := got["picture"]; ok {
		t.Fatal("empty picture should be omitted")
	}
}
