// Package oidc holds the controllers for discovery, JWKS and userinfo.
package oidc

import (
	"encoding/json"
	"net/http"

	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	svc "github.com/featherauth/featherauth/internal/http/services/oidc"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/observability/logger"
)

// DiscoveryController serves the provider metadata documents.
type DiscoveryController struct {
	discovery svc.DiscoveryService
	keystore  *jwtx.Keystore
}

// NewDiscoveryController creates the controller.
func NewDiscoveryController(d svc.DiscoveryService, ks *jwtx.Keystore) *DiscoveryController {
	return &DiscoveryController{discovery: d, keystore: ks}
}

// Discovery handles GET /.well-known/openid-configuration.
func (c *DiscoveryController) Discovery(w http.ResponseWriter, r *http.Request) {
	raw, err := c.discovery.Metadata(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("discovery document build failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServer.WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(raw)
}

// JWKS handles GET /.well-known/jwks.json. Public keys only.
func (c *DiscoveryController) JWKS(w http.ResponseWriter, r *http.Request) {
	raw, err := c.keystore.JWKSJSON(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("jwks build failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServer.WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(raw)
}

// UserinfoController serves the OIDC userinfo endpoint.
type UserinfoController struct {
	service svc.UserinfoService
}

// NewUserinfoController creates the controller.
func NewUserinfoController(s svc.UserinfoService) *UserinfoController {
	return &UserinfoController{service: s}
}

// Userinfo handles GET /oauth2/userinfo.
func (c *UserinfoController) Userinfo(w http.ResponseWriter, r *http.Request) {
	claims, err := c.service.Userinfo(r.Context(), r)
	if err != nil {
		switch err {
		case svc.ErrInvalidToken:
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httperrors.WriteError(w, httperrors.ErrUnauthorized)
		case svc.ErrInsufficientScope:
			w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
			httperrors.WriteError(w, httperrors.ErrForbidden)
		default:
			httperrors.WriteError(w, httperrors.ErrInternalServer.WithCause(err))
		}
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(claims)
}
