package oauth

import (
	"encoding/json"
	"net/http"
	"strings"

	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	svc "github.com/featherauth/featherauth/internal/http/services/oauth"
	"github.com/featherauth/featherauth/internal/observability/logger"
)

// TokenController handles the token, revocation and introspection endpoints.
type TokenController struct {
	tokens     svc.TokenService
	revoke     svc.RevokeService
	introspect svc.IntrospectService
}

// NewTokenController creates the controller.
func NewTokenController(t svc.TokenService, r svc.RevokeService, i svc.IntrospectService) *TokenController {
	return &TokenController{tokens: t, revoke: r, introspect: i}
}

// Token handles POST /oauth2/token.
func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TokenController.Token"))

	if err := r.ParseForm(); err != nil {
		httperrors.WriteOAuthError(w, httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "malformed form body"))
		return
	}
	req := dto.TokenRequest{
		GrantType:    strings.TrimSpace(r.PostFormValue("grant_type")),
		Code:         strings.TrimSpace(r.PostFormValue("code")),
		RedirectURI:  strings.TrimSpace(r.PostFormValue("redirect_uri")),
		CodeVerifier: strings.TrimSpace(r.PostFormValue("code_verifier")),
		RefreshToken: strings.TrimSpace(r.PostFormValue("refresh_token")),
		Scope:        strings.TrimSpace(r.PostFormValue("scope")),
		ClientID:     strings.TrimSpace(r.PostFormValue("client_id")),
		ClientSecret: r.PostFormValue("client_secret"),
	}

	log.Debug("token request", logger.GrantType(req.GrantType), logger.ClientID(req.ClientID))

	resp, err := c.tokens.Exchange(ctx, r, req)
	if err != nil {
		httperrors.WriteOAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// Revoke handles POST /oauth2/revoke.
func (c *TokenController) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.WriteOAuthError(w, httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "malformed form body"))
		return
	}
	req := dto.RevokeRequest{
		Token:         strings.TrimSpace(r.PostFormValue("token")),
		TokenTypeHint: strings.TrimSpace(r.PostFormValue("token_type_hint")),
	}
	if err := c.revoke.Revoke(r.Context(), r, req); err != nil {
		httperrors.WriteOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Introspect handles POST /oauth2/introspect.
func (c *TokenController) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.WriteOAuthError(w, httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "malformed form body"))
		return
	}
	req := dto.IntrospectRequest{
		Token:         strings.TrimSpace(r.PostFormValue("token")),
		TokenTypeHint: strings.TrimSpace(r.PostFormValue("token_type_hint")),
	}
	resp, err := c.introspect.Introspect(r.Context(), r, req)
	if err != nil {
		httperrors.WriteOAuthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
