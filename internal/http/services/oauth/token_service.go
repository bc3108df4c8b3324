package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/featherauth/featherauth/internal/audit"
	"github.com/featherauth/featherauth/internal/domain/repository"
	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	jwtx "github.com/featherauth/featherauth/internal/jwt"
	"github.com/featherauth/featherauth/internal/metrics"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/scopes"
	"github.com/featherauth/featherauth/internal/security/clientcred"
	"github.com/featherauth/featherauth/internal/security/pkce"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store"
)

// Grant types supported by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// TokenService handles POST /oauth2/token.
type TokenService interface {
	Exchange(ctx context.Context, r *http.Request, req dto.TokenRequest) (*dto.TokenResponse, error)
}

// TokenDeps contains dependencies for TokenService.
type TokenDeps struct {
	DAL        store.DataAccessLayer
	Issuer     *jwtx.Issuer
	Validator  *scopes.Validator
	RefreshTTL time.Duration
}

type tokenService struct {
	dal        store.DataAccessLayer
	issuer     *jwtx.Issuer
	validator  *scopes.Validator
	refreshTTL time.Duration
}

// NewTokenService creates a new TokenService.
func NewTokenService(d TokenDeps) TokenService {
	ttl := d.RefreshTTL
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	return &tokenService{
		dal:        d.DAL,
		issuer:     d.Issuer,
		validator:  d.Validator,
		refreshTTL: ttl,
	}
}

func (s *tokenService) Exchange(ctx context.Context, r *http.Request, req dto.TokenRequest) (*dto.TokenResponse, error) {
	timer := time.Now()
	defer func() {
		metrics.GrantDuration.WithLabelValues(req.GrantType).Observe(time.Since(timer).Seconds())
	}()

	app, err := s.authenticateClient(ctx, r, &req)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, r, app, req)
	case GrantRefreshToken:
		return s.exchangeRefreshToken(ctx, r, app, req)
	case GrantClientCredentials:
		return s.exchangeClientCredentials(ctx, r, app, req)
	default:
		return nil, httperrors.NewOAuth(httperrors.OAuthUnsupportedGrantType,
			"supported grant types: authorization_code, refresh_token, client_credentials")
	}
}

// authenticateClient resolves and authenticates the calling client. The
// Authorization header wins over form credentials; a malformed Basic header
// is invalid_client, never a fallthrough to the form. Public clients
// authenticate by client_id alone and are limited to PKCE-protected grants.
func (s *tokenService) authenticateClient(ctx context.Context, r *http.Request, req *dto.TokenRequest) (*repository.Application, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("TokenService.authenticateClient"))

	clientID, clientSecret := req.ClientID, req.ClientSecret
	if header := r.Header.Get("Authorization"); header != "" && strings.HasPrefix(strings.ToLower(header), "basic ") {
		id, secret, ok := clientcred.ParseBasicAuth(header)
		if !ok {
			s.auditAuthFailure(ctx, r, "", "malformed basic auth")
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "malformed Authorization header")
		}
		clientID, clientSecret = id, secret
	}
	if clientID == "" {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication required")
	}

	app, err := s.dal.Applications().GetByClientID(ctx, clientID)
	if err != nil {
		if repository.IsNotFound(err) {
			s.auditAuthFailure(ctx, r, clientID, "unknown client")
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication failed")
		}
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}

	if app.IsPublic {
		if req.GrantType == GrantClientCredentials {
			return nil, httperrors.NewOAuth(httperrors.OAuthUnauthorizedClient,
				"public clients cannot use the client_credentials grant")
		}
		return app, nil
	}

	if clientSecret == "" || !clientcred.VerifyClientSecret(clientSecret, app.ClientSecretHash) {
		log.Debug("secret verification failed", logger.ClientID(clientID))
		s.auditAuthFailure(ctx, r, clientID, "bad secret")
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidClient, "client authentication failed")
	}
	return app, nil
}

func (s *tokenService) exchangeAuthorizationCode(ctx context.Context, r *http.Request, app *repository.Application, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("TokenService.exchangeAuthorizationCode"))

	if req.Code == "" || req.RedirectURI == "" {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "code and redirect_uri are required")
	}

	code, err := s.dal.AuthCodes().RedeemCode(ctx, tokens.SHA256Base64URL(req.Code))
	if err != nil {
		log.Warn("code redemption failed", logger.ClientID(app.ClientID), logger.Err(err))
		// One wire error for unknown, replayed and expired codes.
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid authorization code")
	}

	if code.ApplicationID != app.ID {
		log.Warn("code client mismatch", logger.ClientID(app.ClientID))
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid authorization code")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "redirect_uri mismatch")
	}
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" || !pkce.Verify(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			log.Warn("pkce verification failed", logger.ClientID(app.ClientID))
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "PKCE verification failed")
		}
	}

	granted := scopes.Split(code.Scope)
	resp, err := s.mintTokens(ctx, app, code.UserID, granted, code.Nonce, code.IssuedAt, GrantAuthorizationCode)
	if err != nil {
		return nil, err
	}

	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventTokenIssued,
		ClientID:  app.ClientID,
		UserID:    code.UserID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"grant_type": GrantAuthorizationCode, "scope": code.Scope},
	})
	return resp, nil
}

func (s *tokenService) exchangeRefreshToken(ctx context.Context, r *http.Request, app *repository.Application, req dto.TokenRequest) (*dto.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("TokenService.exchangeRefreshToken"))

	if req.RefreshToken == "" {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidRequest, "refresh_token is required")
	}

	row, err := s.dal.Tokens().GetRefreshByHash(ctx, tokens.SHA256Base64URL(req.RefreshToken))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid refresh token")
		}
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	if row.ApplicationID != app.ID {
		log.Warn("refresh token rejected", logger.ClientID(app.ClientID))
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid refresh token")
	}
	// Presenting an already-rotated token means the rotation chain forked:
	// either the legitimate client or a thief holds the successor. Kill the
	// whole family.
	if row.RotatedAt != nil {
		return nil, s.revokeReplayedFamily(ctx, r, app, row)
	}
	if !row.Live(time.Now()) {
		log.Warn("refresh token rejected", logger.ClientID(app.ClientID))
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid refresh token")
	}

	// Scope may only narrow on refresh.
	granted := scopes.Split(row.Scope)
	if req.Scope != "" {
		requested := scopes.Split(req.Scope)
		if !subset(requested, granted) {
			return nil, httperrors.NewOAuth(httperrors.OAuthInvalidScope, "scope exceeds the original grant")
		}
		granted = requested
	}

	newRaw, err := tokens.GenerateRefreshToken()
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	_, err = s.dal.Tokens().Rotate(ctx, row.ID, repository.CreateRefreshTokenInput{
		UserID:        row.UserID,
		ApplicationID: row.ApplicationID,
		TokenHash:     tokens.SHA256Base64URL(newRaw),
		Scope:         scopes.Join(granted),
		ExpiresAt:     time.Now().UTC().Add(s.refreshTTL),
	})
	if err != nil {
		// A concurrent exchange won the rotation between our read and the
		// conditional update; same theft treatment as the sequential case.
		if errors.Is(err, repository.ErrAlreadyUsed) {
			return nil, s.revokeReplayedFamily(ctx, r, app, row)
		}
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}

	access, err := s.issuer.IssueAccess(ctx, jwtx.AccessTokenInput{
		ClientID: app.ClientID,
		UserID:   row.UserID,
		Scope:    scopes.Join(granted),
	})
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	if err := s.recordAccess(ctx, access, app.ID, row.UserID, scopes.Join(granted)); err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}

	resp := &dto.TokenResponse{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(access.ExpiresAt).Seconds()),
		RefreshToken: newRaw,
		Scope:        scopes.Join(granted),
	}
	if hasScope(granted, scopes.ScopeOpenID) {
		idToken, err := s.issueIDToken(ctx, app, row.UserID, granted, "", time.Time{})
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	metrics.TokensIssued.WithLabelValues(GrantRefreshToken, "access").Inc()
	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventTokenRefreshed,
		ClientID:  app.ClientID,
		UserID:    row.UserID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"scope": resp.Scope},
	})
	return resp, nil
}

func (s *tokenService) exchangeClientCredentials(ctx context.Context, r *http.Request, app *repository.Application, req dto.TokenRequest) (*dto.TokenResponse, error) {
	requested := scopes.Split(req.Scope)
	res, err := s.validator.Validate(ctx, requested, app)
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	if !res.OK() {
		return nil, httperrors.NewOAuth(httperrors.OAuthInvalidScope, strings.Join(res.Errors, "; "))
	}

	scope := scopes.Join(res.Valid)
	access, err := s.issuer.IssueAccess(ctx, jwtx.AccessTokenInput{
		ClientID: app.ClientID,
		Scope:    scope,
	})
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	// No user behind this grant; the subject is the client itself.
	if err := s.recordAccess(ctx, access, app.ID, "", scope); err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}

	metrics.TokensIssued.WithLabelValues(GrantClientCredentials, "access").Inc()
	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventTokenIssued,
		ClientID:  app.ClientID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"grant_type": GrantClientCredentials, "scope": scope},
	})

	return &dto.TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       scope,
	}, nil
}

// mintTokens issues the full token set for a user-backed grant: access
// token always, refresh token when offline_access was granted, ID token
// when openid was granted.
func (s *tokenService) mintTokens(ctx context.Context, app *repository.Application, userID string, granted []string, nonce string, authTime time.Time, grantType string) (*dto.TokenResponse, error) {
	scope := scopes.Join(granted)

	access, err := s.issuer.IssueAccess(ctx, jwtx.AccessTokenInput{
		ClientID: app.ClientID,
		UserID:   userID,
		Scope:    scope,
	})
	if err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	if err := s.recordAccess(ctx, access, app.ID, userID, scope); err != nil {
		return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	metrics.TokensIssued.WithLabelValues(grantType, "access").Inc()

	resp := &dto.TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       scope,
	}

	if hasScope(granted, scopes.ScopeOfflineAccess) {
		raw, err := tokens.GenerateRefreshToken()
		if err != nil {
			return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
		}
		_, err = s.dal.Tokens().CreateRefresh(ctx, repository.CreateRefreshTokenInput{
			UserID:        userID,
			ApplicationID: app.ID,
			TokenHash:     tokens.SHA256Base64URL(raw),
			Scope:         scope,
			ExpiresAt:     time.Now().UTC().Add(s.refreshTTL),
		})
		if err != nil {
			return nil, httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
		}
		resp.RefreshToken = raw
		metrics.TokensIssued.WithLabelValues(grantType, "refresh").Inc()
	}

	if hasScope(granted, scopes.ScopeOpenID) {
		idToken, err := s.issueIDToken(ctx, app, userID, granted, nonce, authTime)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
		metrics.TokensIssued.WithLabelValues(grantType, "id").Inc()
	}
	return resp, nil
}

// issueIDToken mints an ID token whose profile claims are gated by the
// granted scopes. Unknown users still get a bare sub token; the account
// may have been deleted between consent and exchange.
func (s *tokenService) issueIDToken(ctx context.Context, app *repository.Application, userID string, granted []string, nonce string, authTime time.Time) (string, error) {
	var claims map[string]any
	if u, err := s.dal.Users().GetByID(ctx, userID); err == nil {
		claims = scopes.UserClaims(u, granted)
	}
	idToken, _, err := s.issuer.IssueID(ctx, jwtx.IDTokenInput{
		ClientID: app.ClientID,
		UserID:   userID,
		Nonce:    nonce,
		AuthTime: authTime,
		Claims:   claims,
	})
	if err != nil {
		return "", httperrors.NewOAuth(httperrors.OAuthServerError, "").WithCause(err)
	}
	return idToken, nil
}

func (s *tokenService) recordAccess(ctx context.Context, access *jwtx.IssuedAccessToken, appID, userID, scope string) error {
	record := &repository.AccessToken{
		JTI:           access.JTI,
		ApplicationID: appID,
		Scope:         scope,
		ExpiresAt:     access.ExpiresAt,
	}
	if userID != "" {
		record.UserID = &userID
	}
	return s.dal.Tokens().CreateAccess(ctx, record)
}

// revokeReplayedFamily is the theft response for refresh-token replay: it
// revokes every live refresh token and access JTI of the grant, audits the
// event, and returns the uniform invalid_grant the caller hands to the wire.
func (s *tokenService) revokeReplayedFamily(ctx context.Context, r *http.Request, app *repository.Application, row *repository.RefreshToken) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("TokenService.revokeReplayedFamily"))

	n, err := s.dal.Tokens().RevokeAllForUser(ctx, row.UserID, row.ApplicationID)
	log.Warn("refresh token replay detected, revoking grant",
		logger.ClientID(app.ClientID), logger.UserID(row.UserID), logger.Int("revoked", n), logger.Err(err))
	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventTokenRevoked,
		ClientID:  app.ClientID,
		UserID:    row.UserID,
		IPAddress: r.RemoteAddr,
		Metadata:  map[string]any{"reason": "refresh_replay"},
	})
	return httperrors.NewOAuth(httperrors.OAuthInvalidGrant, "invalid refresh token")
}

func (s *tokenService) auditAuthFailure(ctx context.Context, r *http.Request, clientID, reason string) {
	audit.LogOAuthEvent(ctx, audit.Event{
		EventType: audit.EventClientAuthFailed,
		ClientID:  clientID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"reason": reason},
	})
}

func hasScope(granted []string, name string) bool {
	for _, s := range granted {
		if s == name {
			return true
		}
	}
	return false
}

func subset(requested, granted []string) bool {
	for _, s := range requested {
		if !hasScope(granted, s) {
			return false
		}
	}
	return true
}
