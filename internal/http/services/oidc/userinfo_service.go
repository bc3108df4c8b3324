package oidc

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/store"
)

// Errors for the userinfo endpoint.
var (
	ErrInvalidToken      = errors.New("invalid or expired access token")
	ErrInsufficientScope = errors.New("token lacks the openid scope")
)

// UserinfoService handles GET /oauth2/userinfo.
type UserinfoService interface {
	// Userinfo resolves the bearer token to the scope-gated claims map.
	Userinfo(ctx context.Context, r *http.Request) (map[string]any, error)
}

// UserinfoDeps contains dependencies for UserinfoService.
type UserinfoDeps struct {
	DAL    store.DataAccessLayer
	Issuer *jwtx.Issuer
}

type userinfoService struct {
	dal    store.DataAccessLayer
	issuer *jwtx.Issuer
}

// NewUserinfoService creates a new UserinfoService.
func NewUserinfoService(d UserinfoDeps) UserinfoService {
	return &userinfoService{dal: d.DAL, issuer: d.Issuer}
}

func (s *userinfoService) Userinfo(ctx context.Context, r *http.Request) (map[string]any, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("UserinfoService.Userinfo"))

	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	verified := s.issuer.VerifyAccess(ctx, raw)
	if verified == nil {
		return nil, ErrInvalidToken
	}

	granted := scopes.Split(verified.Scope)
	if !containsScope(granted, scopes.ScopeOpenID) {
		return nil, ErrInsufficientScope
	}
	// Client-credentials tokens have no user behind them.
	if verified.Subject == "" || verified.Subject == verified.ClientID {
		return nil, ErrInsufficientScope
	}

	u, err := s.dal.Users().GetByID(ctx, verified.Subject)
	if err != nil {
		log.Warn("userinfo subject lookup failed", logger.UserID(verified.Subject), logger.Err(err))
		return nil, ErrInvalidToken
	}
	return scopes.UserClaims(u, granted), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func containsScope(granted []string, name string) bool {
	for _, s := range granted {
		if s == name {
			return true
		}
	}
	return false
}
