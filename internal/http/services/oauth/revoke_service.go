package oauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/featherauth/featherauth/internal/audit"
	"github.com/featherauth/featherauth/internal/domain/repository"
	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/security/clientcred"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store"
)

// RevokeService handles POST /oauth2/revoke (RFC 7009).
type RevokeService interface {
	// Revoke invalidates the presented token. Per RFC 7009 an unknown token
	// is not an error; only client authentication failures surface.
	Revoke(ctx context.Context, r *http.Request, req dto.RevokeRequest) error
}

// RevokeDeps contains dependencies for RevokeService.
type RevokeDeps struct {
	DAL    store.DataAccessLayer
	Issuer *jwtx.Issuer
}

type revokeService struct {
	dal    store.DataAccessLayer
	issuer *jwtx.Issuer
}

// NewRevokeService creates a new RevokeService.
func NewRevokeService(d RevokeDeps) RevokeService {
	return &revokeService{dal: d.DAL, issuer: d.Issuer}
}

func (s *revokeService) Revoke(ctx context.Context, r *http.Request, req dto.RevokeRequest) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("RevokeService.Revoke"))

	app, err := s.authenticateClient(ctx, r)
	if err != nil {
		return err
	}
	if req.Token == "" {
		return httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "token is required")
	}

	// The hint orders the lookups, it never restricts them.
	if req.TokenTypeHint != "access_token" {
		if done := s.revokeRefresh(ctx, app, req.Token); done {
			log.Info("refresh token revoked", logger.ClientID(app.ClientID))
			s.auditRevoked(ctx, r, app, "refresh_token")
			return nil
		}
	}
	if s.revokeAccess(ctx, app, req.Token) {
		log.Info("access token revoked", logger.ClientID(app.ClientID))
		s.auditRevoked(ctx, r, app, "access_token")
		return nil
	}
	if req.TokenTypeHint == "access_token" {
		if s.revokeRefresh(ctx, app, req.Token) {
			log.Info("refresh token revoked", logger.ClientID(app.ClientID))
			s.auditRevoked(ctx, r, app, "refresh_token")
		}
	}
	// Unknown tokens fall through to a silent 200.
	return nil
}

// revokeRefresh revokes a refresh token owned by the calling client.
func (s *revokeService) revokeRefresh(ctx context.Context, app *repository.Application, raw string) bool {
	row, err := s.dal.Tokens().GetRefreshByHash(ctx, tokens.SHA256Base64URL(raw))
	if err != nil || row.ApplicationID != app.ID {
		return false
	}
	return s.dal.Tokens().RevokeRefresh(ctx, row.ID) == nil
}

// revokeAccess revokes an access token by its jti after verifying the JWT
// and checking the caller owns it.
func (s *revokeService) revokeAccess(ctx context.Context, app *repository.Application, raw string) bool {
	verified := s.issuer.VerifyAccess(ctx, raw)
	if verified == nil || verified.ClientID != app.ClientID {
		return false
	}
	return s.dal.Tokens().RevokeAccess(ctx, verified.JTI) == nil
}

func (s *revokeService) auditRevoked(ctx context.Context, r *http.Request, app *repository.Application, kind string) {
	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventTokenRevoked,
		ClientID:  app.ClientID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"token_type": kind},
	})
}

// authenticateClient is the shared client check for the management
// endpoints: Basic auth or form credentials, secret required for
// confidential clients.
func (s *revokeService) authenticateClient(ctx context.Context, r *http.Request) (*repository.Application, error) {
	clientID, clientSecret := r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	if header := r.Header.Get("Authorization"); header != "" && strings.HasPrefix(strings.ToLower(header), "basic ") {
		id, secret, ok := clientcred.ParseBasicAuth(header)
		if !ok {
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "malformed Authorization header")
		}
		clientID, clientSecret = id, secret
	}
	if clientID == "" {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication required")
	}
	app, err := s.dal.Applications().GetByClientID(ctx, clientID)
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication failed")
	}
	if !app.IsPublic {
		if clientSecret == "" || !clientcred.VerifyClientSecret(clientSecret, app.ClientSecretHash) {
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication failed")
		}
	}
	return app, nil
}
