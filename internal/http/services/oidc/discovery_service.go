// Package oidc contains services for the OIDC discovery, JWKS and
// userinfo endpoints.
package oidc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/featherauth/featherauth/internal/cache"
	dto "github.com/featherauth/featherauth/internal/http/dto/oidc"
	"github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/store"
)

const (
	cacheKeyDiscovery = "discovery:metadata"
	discoveryCacheTTL = 5 * time.Minute
)

// DiscoveryService builds the OpenID Provider configuration document.
type DiscoveryService interface {
	Metadata(ctx context.Context) ([]byte, error)
}

// DiscoveryDeps contains dependencies for DiscoveryService.
type DiscoveryDeps struct {
	DAL    store.DataAccessLayer
	Cache  cache.Client
	Issuer string // external base URL, no trailing slash
}

type discoveryService struct {
	dal    store.DataAccessLayer
	cache  cache.Client
	issuer string
}

// NewDiscoveryService creates a new DiscoveryService.
func NewDiscoveryService(d DiscoveryDeps) DiscoveryService {
	return &discoveryService{
		dal:    d.DAL,
		cache:  d.Cache,
		issuer: strings.TrimRight(d.Issuer, "/"),
	}
}

// Metadata returns the serialized discovery document, cached briefly so the
// scope list query does not run on every fetch.
func (s *discoveryService) Metadata(ctx context.Context) ([]byte, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKeyDiscovery); err == nil {
			return []byte(raw), nil
		}
	}

	supported := []string{scopes.ScopeOpenID, scopes.ScopeProfile, scopes.ScopeEmail, scopes.ScopeOfflineAccess}
	defined, err := s.dal.Scopes().List(ctx)
	if err != nil {
		logger.From(ctx).Warn("scope list for discovery failed", logger.Err(err))
	} else {
		for _, sc := range defined {
			supported = append(supported, sc.Name)
		}
	}

	md := dto.OIDCMetadata{
		Issuer:                s.issuer,
		AuthorizationEndpoint: s.issuer + "/oauth2/authorize",
		TokenEndpoint:         s.issuer + "/oauth2/token",
		UserinfoEndpoint:      s.issuer + "/oauth2/userinfo",
		JWKSURI:               s.issuer + "/.well-known/jwks.json",
		RevocationEndpoint:    s.issuer + "/oauth2/revoke",
		IntrospectionEndpoint: s.issuer + "/oauth2/introspect",

		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token", "client_credentials"},
		SubjectTypesSupported:  []string{"public"},

		IDTokenSigningAlgValuesSupported:  []string{jwt.AlgRS256},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		// plain is accepted on legacy codes but never advertised.
		CodeChallengeMethodsSupported: []string{"S256"},
		ScopesSupported:               supported,
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"name", "given_name", "family_name", "picture", "email", "email_verified",
		},
	}

	raw, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKeyDiscovery, string(raw), discoveryCacheTTL)
	}
	return raw, nil
}
