// Package oauth contains services for the OAuth2 endpoints.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/featherauth/featherauth/internal/audit"
	"github.com/featherauth/featherauth/internal/cache"
	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/email"
	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/scopes"
	tokens "github.com/featherauth/featherauth/internal/security/token"
	"github.com/featherauth/featherauth/internal/store"
)

// Cache key prefixes
const (
	cacheKeyPrefixSID = "sid:"
)

const defaultCodeTTL = 60 * time.Second

// Errors for the authorize flow
var (
	ErrMissingParams    = errors.New("missing required parameters")
	ErrInvalidClient    = errors.New("invalid client")
	ErrInvalidRedirect  = errors.New("redirect_uri not allowed")
	ErrUnknownRequest   = errors.New("unknown authorization request")
	ErrNotAuthenticated = errors.New("login session required")
	ErrCodeGenFailed    = errors.New("failed to generate auth code")
)

// AuthorizeService handles the authorization code flow front channel.
type AuthorizeService interface {
	// Authorize processes GET /oauth2/authorize.
	Authorize(ctx context.Context, r *http.Request, req dto.AuthorizeRequest) (dto.AuthResult, error)

	// Resume continues a parked request after login or consent. The user
	// is resolved from the login session, never from the caller; approved
	// false means the user denied the consent screen.
	Resume(ctx context.Context, r *http.Request, requestID string, approved bool) (dto.AuthResult, error)
}

// SessionPayload is the cached login session, keyed by the hashed cookie.
type SessionPayload struct {
	UserID  string    `json:"user_id"`
	Expires time.Time `json:"expires"`
}

// AuthorizeDeps contains dependencies for AuthorizeService.
type AuthorizeDeps struct {
	DAL        store.DataAccessLayer
	Cache      cache.Client
	Validator  *scopes.Validator
	Notifier   *email.Notifier
	CookieName string
	LoginURL   string // login UI, receives ?request_id=
	ConsentURL string // consent UI, receives ?request_id=
	CodeTTL    time.Duration
}

type authorizeService struct {
	dal        store.DataAccessLayer
	cache      cache.Client
	validator  *scopes.Validator
	notifier   *email.Notifier
	cookieName string
	loginURL   string
	consentURL string
	codeTTL    time.Duration
}

// NewAuthorizeService creates a new AuthorizeService.
func NewAuthorizeService(d AuthorizeDeps) AuthorizeService {
	ttl := d.CodeTTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &authorizeService{
		dal:        d.DAL,
		cache:      d.Cache,
		validator:  d.Validator,
		notifier:   d.Notifier,
		cookieName: d.CookieName,
		loginURL:   d.LoginURL,
		consentURL: d.ConsentURL,
		codeTTL:    ttl,
	}
}

func (s *authorizeService) Authorize(ctx context.Context, r *http.Request, req dto.AuthorizeRequest) (dto.AuthResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("AuthorizeService.Authorize"))

	if err := s.validateRequest(req); err != nil {
		return dto.AuthResult{}, err
	}

	app, err := s.dal.Applications().GetByClientID(ctx, req.ClientID)
	if err != nil {
		log.Debug("client resolution failed", logger.Err(err), logger.ClientID(req.ClientID))
		return dto.AuthResult{}, ErrInvalidClient
	}
	if !app.AllowsRedirectURI(req.RedirectURI) {
		log.Debug("redirect validation failed", logger.ClientID(req.ClientID))
		return dto.AuthResult{}, ErrInvalidRedirect
	}

	// From here on errors go back to the validated redirect URI.
	requested := scopes.Split(req.Scope)
	res, err := s.validator.Validate(ctx, requested, app)
	if err != nil {
		return dto.AuthResult{}, err
	}
	if !res.OK() {
		log.Debug("scope validation failed", logger.Scope(req.Scope))
		return dto.AuthResult{
			Type:             dto.AuthResultError,
			RedirectURI:      req.RedirectURI,
			State:            req.State,
			ErrorCode:        "invalid_scope",
			ErrorDescription: strings.Join(res.Errors, "; "),
		}, nil
	}
	req.Scope = scopes.Join(res.Valid)

	userID, authenticated := s.authenticate(ctx, r)
	if !authenticated {
		if strings.Contains(req.Prompt, "none") {
			return dto.AuthResult{
				Type:             dto.AuthResultError,
				RedirectURI:      req.RedirectURI,
				State:            req.State,
				ErrorCode:        "login_required",
				ErrorDescription: "login required",
			}, nil
		}
		requestID, err := s.parkRequest(ctx, req)
		if err != nil {
			return dto.AuthResult{}, err
		}
		return dto.AuthResult{
			Type:        dto.AuthResultNeedLogin,
			ContinueURL: appendRequestID(s.loginURL, requestID),
		}, nil
	}

	consent, err := s.dal.Consents().Get(ctx, userID, app.ID)
	if err != nil && !repository.IsNotFound(err) {
		return dto.AuthResult{}, err
	}
	if needsConsent(consent, res.Valid) || strings.Contains(req.Prompt, "consent") {
		if strings.Contains(req.Prompt, "none") {
			return dto.AuthResult{
				Type:             dto.AuthResultError,
				RedirectURI:      req.RedirectURI,
				State:            req.State,
				ErrorCode:        "consent_required",
				ErrorDescription: "consent required",
			}, nil
		}
		requestID, err := s.parkRequest(ctx, req)
		if err != nil {
			return dto.AuthResult{}, err
		}
		return dto.AuthResult{
			Type:        dto.AuthResultNeedConsent,
			ContinueURL: appendRequestID(s.consentURL, requestID),
		}, nil
	}

	return s.issueCode(ctx, r, userID, app, req)
}

func (s *authorizeService) Resume(ctx context.Context, r *http.Request, requestID string, approved bool) (dto.AuthResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("AuthorizeService.Resume"))

	// A code is only ever issued on behalf of the session's user. Without
	// a live session the caller has no business resuming anything, denial
	// included.
	userID, authenticated := s.authenticate(ctx, r)
	if !authenticated {
		return dto.AuthResult{}, ErrNotAuthenticated
	}

	parked, err := s.dal.AuthCodes().GetRequest(ctx, requestID)
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.AuthResult{}, ErrUnknownRequest
		}
		return dto.AuthResult{}, err
	}
	req := dto.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            parked.ClientID,
		RedirectURI:         parked.RedirectURI,
		Scope:               parked.Scope,
		State:               parked.State,
		Nonce:               parked.Nonce,
		CodeChallenge:       parked.CodeChallenge,
		CodeChallengeMethod: parked.CodeChallengeMethod,
	}

	if !approved {
		_ = s.dal.AuthCodes().DeleteRequest(ctx, requestID)
		return dto.AuthResult{
			Type:             dto.AuthResultError,
			RedirectURI:      req.RedirectURI,
			State:            req.State,
			ErrorCode:        "access_denied",
			ErrorDescription: "the resource owner denied the request",
		}, nil
	}

	app, err := s.dal.Applications().GetByClientID(ctx, req.ClientID)
	if err != nil {
		log.Warn("parked request references unknown client", logger.ClientID(req.ClientID))
		return dto.AuthResult{}, ErrInvalidClient
	}

	granted := scopes.Split(req.Scope)
	merge, err := s.dal.Consents().Merge(ctx, userID, app.ID, granted)
	if err != nil {
		return dto.AuthResult{}, err
	}
	if len(merge.NewScopesGranted) > 0 {
		audit.LogOAuthEvent(ctx, audit.Event{
			EventType: audit.EventConsentGranted,
			ClientID:  req.ClientID,
			UserID:    userID,
			Metadata:  map[string]any{"scopes": merge.NewScopesGranted, "is_new": merge.IsNew},
		})
	}
	if merge.IsNew {
		s.notifyFirstAuthorization(ctx, userID, app.Name, granted)
	}

	_ = s.dal.AuthCodes().DeleteRequest(ctx, requestID)
	return s.issueCode(ctx, r, userID, app, req)
}

func (s *authorizeService) issueCode(ctx context.Context, r *http.Request, userID string, app *repository.Application, req dto.AuthorizeRequest) (dto.AuthResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("AuthorizeService.issueCode"))

	code, err := tokens.GenerateOpaque(32)
	if err != nil {
		log.Error("code generation failed", logger.Err(err))
		return dto.AuthResult{}, ErrCodeGenFailed
	}

	now := time.Now().UTC()
	record := &repository.AuthorizationCode{
		CodeHash:            tokens.SHA256Base64URL(code),
		UserID:              userID,
		ApplicationID:       app.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.codeTTL),
	}
	if err := s.dal.AuthCodes().CreateCode(ctx, record); err != nil {
		return dto.AuthResult{}, fmt.Errorf("persist auth code: %w", err)
	}

	ev := audit.Event{
		EventType: audit.EventAuthorizationCodeIssued,
		ClientID:  req.ClientID,
		UserID:    userID,
		Metadata:  map[string]any{"scope": req.Scope},
	}
	if r != nil {
		ev.IPAddress = r.RemoteAddr
		ev.UserAgent = r.UserAgent()
	}
	audit.LogOAuthEvent(ctx, ev)

	log.Info("auth code issued", logger.UserID(userID), logger.ClientID(req.ClientID))
	return dto.AuthResult{
		Type:        dto.AuthResultSuccess,
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// validateRequest checks required params for authorize. PKCE S256 is
// mandatory for the front channel; plain is only honored on codes minted
// elsewhere (native migration paths).
func (s *authorizeService) validateRequest(req dto.AuthorizeRequest) error {
	if req.ResponseType != "code" || req.ClientID == "" || req.RedirectURI == "" || req.Scope == "" {
		return ErrMissingParams
	}
	if req.CodeChallenge == "" || !strings.EqualFold(req.CodeChallengeMethod, "S256") {
		return ErrMissingParams
	}
	return nil
}

// authenticate resolves the login session cookie through the cache.
func (s *authorizeService) authenticate(ctx context.Context, r *http.Request) (string, bool) {
	ck, err := r.Cookie(s.cookieName)
	if err != nil || strings.TrimSpace(ck.Value) == "" {
		return "", false
	}
	raw, err := s.cache.Get(ctx, cacheKeyPrefixSID+tokens.SHA256Base64URL(ck.Value))
	if err != nil {
		return "", false
	}
	var sp SessionPayload
	if json.Unmarshal([]byte(raw), &sp) != nil {
		return "", false
	}
	if sp.UserID == "" || !time.Now().Before(sp.Expires) {
		return "", false
	}
	return sp.UserID, true
}

func (s *authorizeService) parkRequest(ctx context.Context, req dto.AuthorizeRequest) (string, error) {
	parked := &repository.AuthorizationRequest{
		ID:                  uuid.New().String(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}
	if err := s.dal.AuthCodes().CreateRequest(ctx, parked); err != nil {
		return "", fmt.Errorf("park authorization request: %w", err)
	}
	return parked.ID, nil
}

func (s *authorizeService) notifyFirstAuthorization(ctx context.Context, userID, appName string, granted []string) {
	u, err := s.dal.Users().GetByID(ctx, userID)
	if err != nil {
		return
	}
	s.notifier.FirstAuthorization(u.Email, appName, granted)
}

// needsConsent reports whether any requested scope is outside the active
// consent. Revoked consents never satisfy a request.
func needsConsent(c *repository.Consent, requested []string) bool {
	if c == nil || c.Revoked() {
		return true
	}
	for _, sc := range requested {
		if !c.HasScope(sc) {
			return true
		}
	}
	return false
}

func appendRequestID(base, requestID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("request_id", requestID)
	u.RawQuery = q.Encode()
	return u.String()
}
