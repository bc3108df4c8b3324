package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/featherauth/featherauth/internal/cache"
	cachememory "github.com/featherauth/featherauth/internal/cache/memory"
	"github.com/featherauth/featherauth/internal/domain/repository"
	oauthctrl "github.com/featherauth/featherauth/internal/http/controllers/oauth"
	oidcctrl "github.com/featherauth/featherauth/internal/http/controllers/oidc"
	oauthsvc "github.com/featherauth/featherauth/internal/http/services/oauth"
	oidcsvc "github.com/featherauth/featherauth/internal/http/services/oidc"
	"github.com/featherauth/featherauth/internal/http/router"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/security/clientcred"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store/memory"
)

const (
	clientID     = "fa_e2e_client"
	clientSecret = "e2e-secret"
	redirectURI  = "https://app.example.com/callback"
	verifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type testEnv struct {
	srv   *httptest.Server
	dal   *memory.DAL
	cache cache.Client
	app   *repository.Application
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dal := memory.New()

	key, err := jwtx.GenerateSigningKeyPair()
	require.NoError(t, err)
	key.IsPrimary = true
	require.NoError(t, dal.Keys().Create(ctx, key))

	ks := jwtx.NewKeystore(dal.Keys(), nil)
	issuer := jwtx.NewIssuer("https://auth.example.com", "https://api.example.com", ks, dal.Tokens(), 15*time.Minute, 10*time.Minute)

	hash, err := clientcred.HashClientSecret(clientSecret, 4)
	require.NoError(t, err)
	app, err := dal.Applications().Create(ctx, repository.ApplicationInput{
		ClientID:         clientID,
		Name:             "E2E App",
		ClientSecretHash: hash,
		RedirectURIs:     []string{redirectURI},
		AllowedScopes:    []string{"*"},
	})
	require.NoError(t, err)
	_, err = dal.Scopes().Upsert(ctx, repository.ScopeInput{Name: "notes:read", Description: "Read notes"})
	require.NoError(t, err)
	dal.SeedUser(&repository.User{
		ID:            "user-1",
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice Example",
	})

	cacheClient := cachememory.New(time.Minute)
	validator := scopes.NewValidator(dal.Scopes())

	authorize := oauthsvc.NewAuthorizeService(oauthsvc.AuthorizeDeps{
		DAL:        dal,
		Cache:      cacheClient,
		Validator:  validator,
		CookieName: "fa_session",
		LoginURL:   "https://auth.example.com/login",
		ConsentURL: "https://auth.example.com/consent",
	})
	token := oauthsvc.NewTokenService(oauthsvc.TokenDeps{DAL: dal, Issuer: issuer, Validator: validator})
	revoke := oauthsvc.NewRevokeService(oauthsvc.RevokeDeps{DAL: dal, Issuer: issuer})
	introspect := oauthsvc.NewIntrospectService(oauthsvc.IntrospectDeps{DAL: dal, Issuer: issuer})
	discovery := oidcsvc.NewDiscoveryService(oidcsvc.DiscoveryDeps{DAL: dal, Cache: cacheClient, Issuer: "https://auth.example.com"})
	userinfo := oidcsvc.NewUserinfoService(oidcsvc.UserinfoDeps{DAL: dal, Issuer: issuer})

	handler := router.New(router.Deps{
		DAL:       dal,
		Authorize: oauthctrl.NewAuthorizeController(authorize),
		Tokens:    oauthctrl.NewTokenController(token, revoke, introspect),
		Discovery: oidcctrl.NewDiscoveryController(discovery, ks),
		Userinfo:  oidcctrl.NewUserinfoController(userinfo),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, dal: dal, cache: cacheClient, app: app}
}

// login seeds a session in the cache and returns the matching cookie, the
// way the login UI would after authenticating the user.
func (e *testEnv) login(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	raw, err := tokens.GenerateOpaque(24)
	require.NoError(t, err)
	payload, err := json.Marshal(oauthsvc.SessionPayload{UserID: userID, Expires: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), "sid:"+tokens.SHA256Base64URL(raw), string(payload), time.Hour))
	return &http.Cookie{Name: "fa_session", Value: raw}
}

// seedCode plants an authorization code as if the user had just approved
// the consent screen. Returns the raw code.
func (e *testEnv) seedCode(t *testing.T, scope string) string {
	t.Helper()
	raw, err := tokens.GenerateOpaque(32)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte(verifier))
	require.NoError(t, e.dal.AuthCodes().CreateCode(context.Background(), &repository.AuthorizationCode{
		CodeHash:            tokens.SHA256Base64URL(raw),
		UserID:              "user-1",
		ApplicationID:       e.app.ID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
		IssuedAt:            time.Now().UTC(),
		ExpiresAt:           time.Now().Add(time.Minute),
	}))
	return raw
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values, basicAuth bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth {
		req.SetBasicAuth(clientID, clientSecret)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// Revocation answers 200 with no body per RFC 7009.
	var body map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func TestDiscoveryAndJWKS(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.srv.Client().Get(env.srv.URL + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Equal(t, "https://auth.example.com", doc["issuer"])
	require.Equal(t, "https://auth.example.com/oauth2/token", doc["token_endpoint"])
	require.Equal(t, "https://auth.example.com/.well-known/jwks.json", doc["jwks_uri"])
	require.Equal(t, []any{"S256"}, doc["code_challenge_methods_supported"])
	require.Contains(t, doc["scopes_supported"], "notes:read")

	jresp, err := env.srv.Client().Get(env.srv.URL + "/.well-known/jwks.json")
	require.NoError(t, err)
	defer jresp.Body.Close()
	require.Equal(t, http.StatusOK, jresp.StatusCode)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(jresp.Body).Decode(&jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0]["kty"])
	require.NotEmpty(t, jwks.Keys[0]["kid"])
	require.NotContains(t, jwks.Keys[0], "d", "private material must never reach the JWKS")
}

func TestAuthorizeRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t)
	client := env.srv.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {"openid"},
		"state":                 {"xyz"},
		"code_challenge":        {"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"},
		"code_challenge_method": {"S256"},
	}
	resp, err := client.Get(env.srv.URL + "/oauth2/authorize?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "auth.example.com", loc.Host)
	require.Equal(t, "/login", loc.Path)
	require.NotEmpty(t, loc.Query().Get("request_id"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestCodeExchangeUserinfoIntrospectRevoke(t *testing.T) {
	env := newTestEnv(t)
	code := env.seedCode(t, "openid email offline_access")

	resp, body := env.postForm(t, "/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	accessToken, _ := body["access_token"].(string)
	require.NotEmpty(t, accessToken)
	require.Equal(t, "Bearer", body["token_type"])
	require.NotEmpty(t, body["refresh_token"])
	require.NotEmpty(t, body["id_token"])

	// userinfo with the fresh token
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/oauth2/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	uresp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer uresp.Body.Close()
	require.Equal(t, http.StatusOK, uresp.StatusCode)
	var claims map[string]any
	require.NoError(t, json.NewDecoder(uresp.Body).Decode(&claims))
	require.Equal(t, "user-1", claims["sub"])
	require.Equal(t, "alice@example.com", claims["email"])
	require.Equal(t, true, claims["email_verified"])
	require.NotContains(t, claims, "name", "profile scope was not granted")

	// introspect says active
	iresp, ibody := env.postForm(t, "/oauth2/introspect", url.Values{"token": {accessToken}}, true)
	require.Equal(t, http.StatusOK, iresp.StatusCode)
	require.Equal(t, true, ibody["active"])
	require.Equal(t, "user-1", ibody["sub"])

	// revoke, then the token is dead everywhere
	rresp, _ := env.postForm(t, "/oauth2/revoke", url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
	}, true)
	require.Equal(t, http.StatusOK, rresp.StatusCode)

	iresp2, ibody2 := env.postForm(t, "/oauth2/introspect", url.Values{"token": {accessToken}}, true)
	require.Equal(t, http.StatusOK, iresp2.StatusCode)
	require.Equal(t, false, ibody2["active"])

	req2, err := http.NewRequest(http.MethodGet, env.srv.URL+"/oauth2/userinfo", nil)
	require.NoError(t, err)
	req2.Header.Set("Authorization", "Bearer "+accessToken)
	uresp2, err := env.srv.Client().Do(req2)
	require.NoError(t, err)
	uresp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, uresp2.StatusCode)
	require.Contains(t, uresp2.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestResumeRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	client := env.srv.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// Anyone can park a request; that step is unauthenticated by design.
	sum := sha256.Sum256([]byte(verifier))
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {"openid"},
		"state":                 {"st"},
		"code_challenge":        {base64.RawURLEncoding.EncodeToString(sum[:])},
		"code_challenge_method": {"S256"},
	}
	aresp, err := client.Get(env.srv.URL + "/oauth2/authorize?" + q.Encode())
	require.NoError(t, err)
	aresp.Body.Close()
	require.Equal(t, http.StatusFound, aresp.StatusCode)
	loc, err := url.Parse(aresp.Header.Get("Location"))
	require.NoError(t, err)
	requestID := loc.Query().Get("request_id")
	require.NotEmpty(t, requestID)

	form := url.Values{"request_id": {requestID}, "approved": {"true"}}
	resume := func(cookie *http.Cookie) *http.Response {
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/oauth2/authorize/resume", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if cookie != nil {
			req.AddCookie(cookie)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// No session: no code, regardless of what the form claims about the user.
	anon := resume(nil)
	require.Equal(t, http.StatusUnauthorized, anon.StatusCode)
	require.Empty(t, anon.Header.Get("Location"))

	form.Set("user_id", "user-1")
	forged := resume(nil)
	require.Equal(t, http.StatusUnauthorized, forged.StatusCode)

	// With a live session the resume succeeds for the session's user.
	ok := resume(env.login(t, "user-1"))
	require.Equal(t, http.StatusFound, ok.StatusCode)
	cb, err := url.Parse(ok.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "st", cb.Query().Get("state"))
	code := cb.Query().Get("code")
	require.NotEmpty(t, code)

	tresp, tbody := env.postForm(t, "/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}, true)
	require.Equal(t, http.StatusOK, tresp.StatusCode)
	accessToken, _ := tbody["access_token"].(string)
	require.NotEmpty(t, accessToken)

	_, ibody := env.postForm(t, "/oauth2/introspect", url.Values{"token": {accessToken}}, true)
	require.Equal(t, true, ibody["active"])
	require.Equal(t, "user-1", ibody["sub"], "the code must bind to the session user")
}

func TestTokenEndpointErrors(t *testing.T) {
	env := newTestEnv(t)

	// unauthenticated client
	resp, body := env.postForm(t, "/oauth2/token", url.Values{
		"grant_type": {"client_credentials"},
	}, false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_client", body["error"])
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	// replayed code
	code := env.seedCode(t, "openid")
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	first, _ := env.postForm(t, "/oauth2/token", form, true)
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, sbody := env.postForm(t, "/oauth2/token", form, true)
	require.Equal(t, http.StatusBadRequest, second.StatusCode)
	require.Equal(t, "invalid_grant", sbody["error"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.srv.Client().Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
