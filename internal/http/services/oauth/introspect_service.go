package oauth

import (
	"context"
	"net/http"
	"time"

	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/metrics"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store"
)

// IntrospectService handles POST /oauth2/introspect (RFC 7662).
type IntrospectService interface {
	// Introspect reports the state of the presented token. Any failure maps
	// to {"active": false}; introspection is never an oracle.
	Introspect(ctx context.Context, r *http.Request, req dto.IntrospectRequest) (*dto.IntrospectResponse, error)
}

// IntrospectDeps contains dependencies for IntrospectService.
type IntrospectDeps struct {
	DAL    store.DataAccessLayer
	Issuer *jwtx.Issuer
}

type introspectService struct {
	dal    store.DataAccessLayer
	issuer *jwtx.Issuer
	auth   *revokeService // reuses the client authentication check
}

// NewIntrospectService creates a new IntrospectService.
func NewIntrospectService(d IntrospectDeps) IntrospectService {
	return &introspectService{
		dal:    d.DAL,
		issuer: d.Issuer,
		auth:   &revokeService{dal: d.DAL, issuer: d.Issuer},
	}
}

func (s *introspectService) Introspect(ctx context.Context, r *http.Request, req dto.IntrospectRequest) (*dto.IntrospectResponse, error) {
	if _, err := s.auth.authenticateClient(ctx, r); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return &dto.IntrospectResponse{Active: false}, nil
	}

	if req.TokenTypeHint != "refresh_token" {
		if resp := s.introspectAccess(ctx, req.Token); resp != nil {
			return resp, nil
		}
	}
	if resp := s.introspectRefresh(ctx, req.Token); resp != nil {
		return resp, nil
	}
	if req.TokenTypeHint == "refresh_token" {
		if resp := s.introspectAccess(ctx, req.Token); resp != nil {
			return resp, nil
		}
	}

	metrics.TokenVerifications.WithLabelValues("inactive").Inc()
	return &dto.IntrospectResponse{Active: false}, nil
}

func (s *introspectService) introspectAccess(ctx context.Context, raw string) *dto.IntrospectResponse {
	verified := s.issuer.VerifyAccess(ctx, raw)
	if verified == nil {
		return nil
	}
	metrics.TokenVerifications.WithLabelValues("active").Inc()
	return &dto.IntrospectResponse{
		Active:    true,
		TokenType: "access_token",
		Sub:       verified.Subject,
		ClientID:  verified.ClientID,
		Scope:     verified.Scope,
		Exp:       verified.Expires.Unix(),
		Iss:       s.issuer.Iss,
		Jti:       verified.JTI,
	}
}

func (s *introspectService) introspectRefresh(ctx context.Context, raw string) *dto.IntrospectResponse {
	row, err := s.dal.Tokens().GetRefreshByHash(ctx, tokens.SHA256Base64URL(raw))
	if err != nil || !row.Live(time.Now()) {
		return nil
	}
	app, err := s.dal.Applications().GetByID(ctx, row.ApplicationID)
	clientID := ""
	if err == nil {
		clientID = app.ClientID
	}
	return &dto.IntrospectResponse{
		Active:    true,
		TokenType: "refresh_token",
		Sub:       row.UserID,
		ClientID:  clientID,
		Scope:     row.Scope,
		Exp:       row.ExpiresAt.Unix(),
		Iat:       row.IssuedAt.Unix(),
		Iss:       s.issuer.Iss,
	}
}
