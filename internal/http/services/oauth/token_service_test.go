package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/security/clientcred"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store/memory"
)

const (
	testClientSecret = "super-secret"
	testRedirectURI  = "https://app.example.com/callback"
	testVerifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type tokenFixture struct {
	dal    *memory.DAL
	svc    TokenService
	issuer *jwtx.Issuer
	app    *repository.Application
	public *repository.Application
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	ctx := context.Background()
	dal := memory.New()

	key, err := jwtx.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key.IsPrimary = true
	if err := dal.Keys().Create(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	ks := jwtx.NewKeystore(dal.Keys(), nil)
	issuer := jwtx.NewIssuer("https://auth.example.com", "https://api.example.com", ks, dal.Tokens(), 15*time.Minute, 10*time.Minute)

	if _, err := dal.Scopes().Upsert(ctx, repository.ScopeInput{Name: "notes:read", Description: "Read notes"}); err != nil {
		t.Fatalf("upsert scope: %v", err)
	}

	hash, err := clientcred.HashClientSecret(testClientSecret, 4)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	app, err := dal.Applications().Create(ctx, repository.ApplicationInput{
		ClientID:         "fa_test_client",
		Name:             "Test App",
		ClientSecretHash: hash,
		RedirectURIs:     []string{testRedirectURI},
		AllowedScopes:    []string{"*"},
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	public, err := dal.Applications().Create(ctx, repository.ApplicationInput{
		ClientID:      "fa_public_client",
		Name:          "Public App",
		RedirectURIs:  []string{testRedirectURI},
		AllowedScopes: []string{"*"},
		IsPublic:      true,
	})
	if err != nil {
		t.Fatalf("create public app: %v", err)
	}

	dal.SeedUser(&repository.User{
		ID:            "user-1",
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice Example",
	})

	svc := NewTokenService(TokenDeps{
		DAL:       dal,
		Issuer:    issuer,
		Validator: scopes.NewValidator(dal.Scopes()),
	})
	return &tokenFixture{dal: dal, svc: svc, issuer: issuer, app: app, public: public}
}

// seedAuthCode parks a redeemed-ready authorization code and returns the
// raw code the client would have received on the redirect.
func (f *tokenFixture) seedAuthCode(t *testing.T, scope string) string {
	t.Helper()
	raw, err := tokens.GenerateOpaque(32)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	err = f.dal.AuthCodes().CreateCode(context.Background(), &repository.AuthorizationCode{
		CodeHash:            tokens.SHA256Base64URL(raw),
		UserID:              "user-1",
		ApplicationID:       f.app.ID,
		RedirectURI:         testRedirectURI,
		Scope:               scope,
		Nonce:               "n-123",
		CodeChallenge:       s256Challenge(testVerifier),
		CodeChallengeMethod: "S256",
		IssuedAt:            time.Now().UTC(),
		ExpiresAt:           time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	return raw
}

func exchangeReq() *dto.TokenRequest {
	return &dto.TokenRequest{
		ClientID:     "fa_test_client",
		ClientSecret: testClientSecret,
	}
}

func oauthCode(t *testing.T, err error) string {
	t.Helper()
	var oe *httperrors.OAuthError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want *OAuthError", err)
	}
	return oe.Code
}

func TestExchange_AuthorizationCode(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	code := f.seedAuthCode(t, "openid profile offline_access")

	req := exchangeReq()
	req.GrantType = GrantAuthorizationCode
	req.Code = code
	req.RedirectURI = testRedirectURI
	req.CodeVerifier = testVerifier

	resp, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q", resp.TokenType)
	}
	if resp.RefreshToken == "" {
		t.Error("offline_access grant must return a refresh token")
	}
	if resp.IDToken == "" {
		t.Error("openid grant must return an ID token")
	}

	at := f.issuer.VerifyAccess(ctx, resp.AccessToken)
	if at == nil {
		t.Fatal("access token must verify")
	}
	if at.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", at.Subject)
	}
	if at.ClientID != "fa_test_client" {
		t.Errorf("client_id = %q", at.ClientID)
	}

	// The code is single use: a replay is invalid_grant.
	if _, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
		t.Errorf("replay err code = %q, want invalid_grant", oauthCode(t, err))
	}
}

func TestExchange_AuthorizationCodeRejections(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	r := httptest.NewRequest("POST", "/oauth2/token", nil)

	base := exchangeReq()
	base.GrantType = GrantAuthorizationCode
	base.RedirectURI = testRedirectURI
	base.CodeVerifier = testVerifier

	t.Run("wrong verifier", func(t *testing.T) {
		req := *base
		req.Code = f.seedAuthCode(t, "openid")
		req.CodeVerifier = "some-other-verifier-that-is-long-enough"
		if _, err := f.svc.Exchange(ctx, r, req); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
			t.Errorf("code = %q, want invalid_grant", oauthCode(t, err))
		}
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		req := *base
		req.Code = f.seedAuthCode(t, "openid")
		req.RedirectURI = "https://evil.example.com/cb"
		if _, err := f.svc.Exchange(ctx, r, req); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
			t.Errorf("code = %q, want invalid_grant", oauthCode(t, err))
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		req := *base
		req.Code = "never-issued"
		if _, err := f.svc.Exchange(ctx, r, req); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
			t.Errorf("code = %q, want invalid_grant", oauthCode(t, err))
		}
	})

	t.Run("wrong client", func(t *testing.T) {
		req := *base
		req.Code = f.seedAuthCode(t, "openid")
		req.ClientID = "fa_public_client"
		req.ClientSecret = ""
		if _, err := f.svc.Exchange(ctx, r, req); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
			t.Errorf("code = %q, want invalid_grant", oauthCode(t, err))
		}
	})
}

func TestExchange_ClientAuthentication(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	t.Run("bad secret", func(t *testing.T) {
		req := exchangeReq()
		req.GrantType = GrantClientCredentials
		req.ClientSecret = "wrong"
		_, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req)
		if oauthCode(t, err) != httperrors.OAuthInvalidClient {
			t.Errorf("code = %q, want invalid_client", oauthCode(t, err))
		}
	})

	t.Run("malformed basic header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/oauth2/token", nil)
		r.Header.Set("Authorization", "Basic not-base64!!!")
		req := exchangeReq()
		req.GrantType = GrantClientCredentials
		_, err := f.svc.Exchange(ctx, r, *req)
		if oauthCode(t, err) != httperrors.OAuthInvalidClient {
			t.Errorf("code = %q, want invalid_client", oauthCode(t, err))
		}
	})

	t.Run("public client barred from client_credentials", func(t *testing.T) {
		req := &dto.TokenRequest{GrantType: GrantClientCredentials, ClientID: "fa_public_client"}
		_, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req)
		if oauthCode(t, err) != httperrors.OAuthUnauthorizedClient {
			t.Errorf("code = %q, want unauthorized_client", oauthCode(t, err))
		}
	})
}

func TestExchange_ClientCredentials(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	req := exchangeReq()
	req.GrantType = GrantClientCredentials
	req.Scope = "notes:read"

	resp, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must not return a refresh token")
	}
	if resp.IDToken != "" {
		t.Error("client_credentials must not return an ID token")
	}

	at := f.issuer.VerifyAccess(ctx, resp.AccessToken)
	if at == nil {
		t.Fatal("access token must verify")
	}
	if at.Subject != "fa_test_client" {
		t.Errorf("sub = %q, want the client id", at.Subject)
	}
	if at.Scope != "notes:read" {
		t.Errorf("scope = %q", at.Scope)
	}
}

func TestExchange_ClientCredentialsUndefinedScope(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)

	req := exchangeReq()
	req.GrantType = GrantClientCredentials
	req.Scope = "notes:write"

	_, err := f.svc.Exchange(ctx, httptest.NewRequest("POST", "/oauth2/token", nil), *req)
	if oauthCode(t, err) != httperrors.OAuthInvalidScope {
		t.Errorf("code = %q, want invalid_scope", oauthCode(t, err))
	}
}

func TestExchange_RefreshRotationAndReplay(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	r := httptest.NewRequest("POST", "/oauth2/token", nil)

	// Bootstrap a refresh token through the code grant.
	req := exchangeReq()
	req.GrantType = GrantAuthorizationCode
	req.Code = f.seedAuthCode(t, "openid profile offline_access")
	req.RedirectURI = testRedirectURI
	req.CodeVerifier = testVerifier
	first, err := f.svc.Exchange(ctx, r, *req)
	if err != nil {
		t.Fatalf("Exchange (code): %v", err)
	}

	// Refresh with a narrowed scope.
	refreshReq := exchangeReq()
	refreshReq.GrantType = GrantRefreshToken
	refreshReq.RefreshToken = first.RefreshToken
	refreshReq.Scope = "openid"
	second, err := f.svc.Exchange(ctx, r, *refreshReq)
	if err != nil {
		t.Fatalf("Exchange (refresh): %v", err)
	}
	if second.Scope != "openid" {
		t.Errorf("scope = %q, want openid", second.Scope)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Error("rotation must return a new refresh token")
	}
	if second.IDToken == "" {
		t.Error("openid refresh must return an ID token")
	}

	// Scope widening is rejected.
	widen := exchangeReq()
	widen.GrantType = GrantRefreshToken
	widen.RefreshToken = second.RefreshToken
	widen.Scope = "openid profile email"
	if _, err := f.svc.Exchange(ctx, r, *widen); oauthCode(t, err) != httperrors.OAuthInvalidScope {
		t.Errorf("widen code = %q, want invalid_scope", oauthCode(t, err))
	}

	// Replaying the already-rotated token revokes the whole family, even
	// though the rotation itself happened long before this request.
	replay := exchangeReq()
	replay.GrantType = GrantRefreshToken
	replay.RefreshToken = first.RefreshToken
	if _, err := f.svc.Exchange(ctx, r, *replay); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
		t.Errorf("replay code = %q, want invalid_grant", oauthCode(t, err))
	}
	fresh := exchangeReq()
	fresh.GrantType = GrantRefreshToken
	fresh.RefreshToken = second.RefreshToken
	if _, err := f.svc.Exchange(ctx, r, *fresh); oauthCode(t, err) != httperrors.OAuthInvalidGrant {
		t.Error("descendant refresh token must be dead after a replay")
	}
	if f.issuer.VerifyAccess(ctx, second.AccessToken) != nil {
		t.Error("access tokens of the grant must be revoked after a replay")
	}
}

func TestExchange_UnsupportedGrant(t *testing.T) {
	f := newTokenFixture(t)
	req := exchangeReq()
	req.GrantType = "password"
	_, err := f.svc.Exchange(context.Background(), httptest.NewRequest("POST", "/oauth2/token", nil), *req)
	if oauthCode(t, err) != httperrors.OAuthUnsupportedGrantType {
		t.Errorf("code = %q, want unsupported_grant_type", oauthCode(t, err))
	}
	if !strings.Contains(err.Error(), "authorization_code") {
		t.Errorf("description should list supported grants, got %q", err.Error())
	}
}
