package jwt

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/store/memory"
)

// decodeClaims extracts claims without signature checks; for asserting on
// tokens this package just minted.
func decodeClaims(t *testing.T, raw string) jwtv5.MapClaims {
	t.Helper()
	claims := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(raw, claims); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return claims
}

type staticRevocation struct {
	revoked map[string]bool
}

func (s *staticRevocation) IsAccessRevoked(_ context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

func newTestIssuer(t *testing.T, rev RevocationChecker) (*Issuer, repository.KeyRepository) {
	t.Helper()
	dal := memory.New()
	key, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key.IsPrimary = true
	if err := dal.Keys().Create(context.Background(), key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	ks := NewKeystore(dal.Keys(), nil)
	return NewIssuer("https://auth.example.com", "https://api.example.com", ks, rev, 15*time.Minute, 10*time.Minute), dal.Keys()
}

func TestIssueAndVerifyAccess(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t, nil)

	minted, err := iss.IssueAccess(ctx, AccessTokenInput{
		ClientID: "client-1",
		UserID:   "user-1",
		Scope:    "openid profile",
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if minted.JTI == "" {
		t.Fatal("expected a jti")
	}
	if !minted.ExpiresAt.After(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	got := iss.VerifyAccess(ctx, minted.Token)
	if got == nil {
		t.Fatal("expected token to verify")
	}
	if got.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", got.Subject)
	}
	if got.ClientID != "client-1" {
		t.Errorf("client_id = %q, want client-1", got.ClientID)
	}
	if got.Scope != "openid profile" {
		t.Errorf("scope = %q", got.Scope)
	}
	if got.JTI != minted.JTI {
		t.Errorf("jti = %q, want %q", got.JTI, minted.JTI)
	}
}

func TestIssueAccess_ClientCredentialsSubject(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t, nil)

	minted, err := iss.IssueAccess(ctx, AccessTokenInput{ClientID: "client-1", Scope: "notes:read"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	got := iss.VerifyAccess(ctx, minted.Token)
	if got == nil {
		t.Fatal("expected token to verify")
	}
	if got.Subject != "client-1" {
		t.Errorf("sub = %q, want the client id", got.Subject)
	}
}

func TestVerifyAccess_RevokedJTI(t *testing.T) {
	ctx := context.Background()
	rev := &staticRevocation{revoked: map[string]bool{}}
	iss, _ := newTestIssuer(t, rev)

	minted, err := iss.IssueAccess(ctx, AccessTokenInput{ClientID: "client-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if iss.VerifyAccess(ctx, minted.Token) == nil {
		t.Fatal("token should verify before revocation")
	}

	rev.revoked[minted.JTI] = true
	if iss.VerifyAccess(ctx, minted.Token) != nil {
		t.Fatal("revoked token must not verify")
	}
}

func TestVerifyAccess_SurvivesRotation(t *testing.T) {
	ctx := context.Background()
	iss, keys := newTestIssuer(t, nil)

	minted, err := iss.IssueAccess(ctx, AccessTokenInput{ClientID: "client-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	next, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	next.KID = next.KID + "-next"
	next.IsPrimary = true
	if err := keys.Create(ctx, next); err != nil {
		t.Fatalf("create next key: %v", err)
	}
	iss.Keys.Invalidate()

	primaryKID, _, err := iss.Keys.Primary(ctx)
	if err != nil {
		t.Fatalf("Primary: %v", err)
	}
	if primaryKID != next.KID {
		t.Errorf("primary kid = %q, want %q", primaryKID, next.KID)
	}

	// Tokens signed by the previous primary stay valid while that key is
	// still active.
	if iss.VerifyAccess(ctx, minted.Token) == nil {
		t.Fatal("token signed by the previous key must still verify")
	}
}

func TestVerifyAccess_DeactivatedKeyRejected(t *testing.T) {
	ctx := context.Background()
	iss, keys := newTestIssuer(t, nil)

	minted, err := iss.IssueAccess(ctx, AccessTokenInput{ClientID: "client-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	oldKID, _, err := iss.Keys.Primary(ctx)
	if err != nil {
		t.Fatalf("Primary: %v", err)
	}

	next, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	next.KID = next.KID + "-next"
	next.IsPrimary = true
	if err := keys.Create(ctx, next); err != nil {
		t.Fatalf("create next key: %v", err)
	}
	if err := keys.Deactivate(ctx, oldKID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	iss.Keys.Invalidate()

	if iss.VerifyAccess(ctx, minted.Token) != nil {
		t.Fatal("token signed by a retired key must not verify")
	}
}

func TestIssueAccess_NoSigningKey(t *testing.T) {
	ctx := context.Background()
	dal := memory.New()
	ks := NewKeystore(dal.Keys(), nil)
	iss := NewIssuer("https://auth.example.com", "", ks, nil, time.Minute, time.Minute)

	_, err := iss.IssueAccess(ctx, AccessTokenInput{ClientID: "client-1"})
	if !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("err = %v, want ErrNoSigningKey", err)
	}
	if iss.VerifyAccess(ctx, "not-a-token") != nil {
		t.Fatal("expected nil result with no keys")
	}
}

func TestIssueID_NonceAndAudience(t *testing.T) {
	ctx := context.Background()
	iss, _ := newTestIssuer(t, nil)

	signed, exp, err := iss.IssueID(ctx, IDTokenInput{
		ClientID: "client-1",
		UserID:   "user-1",
		Nonce:    "n-abc",
		AuthTime: time.Now().Add(-time.Minute),
		Claims:   map[string]any{"email": "u@example.com"},
	})
	if err != nil {
		t.Fatalf("IssueID: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	claims := decodeClaims(t, signed)
	if claims["aud"] != "client-1" {
		t.Errorf("aud = %v, want the client id", claims["aud"])
	}
	if claims["nonce"] != "n-abc" {
		t.Errorf("nonce = %v", claims["nonce"])
	}
	if claims["email"] != "u@example.com" {
		t.Errorf("email claim = %v", claims["email"])
	}
	if _, ok := claims["auth_time"]; !ok {
		t.Error("expected auth_time claim")
	}
}
