// Package oauth holds the controllers for the OAuth2 endpoints.
package oauth

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	dto "github.com/featherauth/featherauth/internal/http/dto/oauth"
	httperrors "github.com/featherauth/featherauth/internal/http/errors"
	svc "github.com/featherauth/featherauth/internal/http/services/oauth"
	"github.com/featherauth/featherauth/internal/observability/logger"
)

// AuthorizeController handles the authorization endpoint front channel.
type AuthorizeController struct {
	service svc.AuthorizeService
}

// NewAuthorizeController creates the controller.
func NewAuthorizeController(s svc.AuthorizeService) *AuthorizeController {
	return &AuthorizeController{service: s}
}

// Authorize handles GET /oauth2/authorize.
func (c *AuthorizeController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthorizeController.Authorize"))

	w.Header().Add("Vary", "Cookie")

	q := r.URL.Query()
	req := dto.AuthorizeRequest{
		ResponseType:        strings.TrimSpace(q.Get("response_type")),
		ClientID:            strings.TrimSpace(q.Get("client_id")),
		RedirectURI:         strings.TrimSpace(q.Get("redirect_uri")),
		Scope:               strings.TrimSpace(q.Get("scope")),
		State:               strings.TrimSpace(q.Get("state")),
		Nonce:               strings.TrimSpace(q.Get("nonce")),
		CodeChallenge:       strings.TrimSpace(q.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(q.Get("code_challenge_method")),
		Prompt:              strings.TrimSpace(q.Get("prompt")),
	}

	log.Debug("authorize request", logger.ClientID(req.ClientID), logger.Scope(req.Scope))

	result, err := c.service.Authorize(ctx, r, req)
	if err != nil {
		c.writeError(w, log, err)
		return
	}
	c.respond(w, r, result)
}

// Resume handles POST /oauth2/authorize/resume, the callback from the login
// and consent UIs. The login session cookie identifies the user; the form
// only carries the request id and the decision.
func (c *AuthorizeController) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthorizeController.Resume"))

	if err := r.ParseForm(); err != nil {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("malformed form body"))
		return
	}
	requestID := strings.TrimSpace(r.PostFormValue("request_id"))
	approved := r.PostFormValue("approved") == "true"
	if requestID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("request_id is required"))
		return
	}

	result, err := c.service.Resume(ctx, r, requestID, approved)
	if err != nil {
		c.writeError(w, log, err)
		return
	}
	c.respond(w, r, result)
}

func (c *AuthorizeController) respond(w http.ResponseWriter, r *http.Request, result dto.AuthResult) {
	switch result.Type {
	case dto.AuthResultSuccess:
		u, err := url.Parse(result.RedirectURI)
		if err != nil {
			// The URI passed registration validation; a parse failure here
			// means corrupted state, not client error.
			httperrors.WriteError(w, httperrors.ErrInternalServer)
			return
		}
		q := u.Query()
		q.Set("code", result.Code)
		if result.State != "" {
			q.Set("state", result.State)
		}
		u.RawQuery = q.Encode()
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, u.String(), http.StatusFound)

	case dto.AuthResultNeedLogin, dto.AuthResultNeedConsent:
		http.Redirect(w, r, result.ContinueURL, http.StatusFound)

	case dto.AuthResultError:
		w.Header().Set("Cache-Control", "no-store")
		httperrors.RedirectOAuthError(w, r, result.RedirectURI, result.State,
			httperrors.NewOAuth(result.ErrorCode, result.ErrorDescription))
	}
}

// writeError maps pre-redirect-validation failures to JSON; these must not
// bounce the user agent to an unvalidated URI.
func (c *AuthorizeController) writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch err {
	case svc.ErrMissingParams:
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("missing or invalid authorization parameters"))
	case svc.ErrInvalidClient:
		httperrors.WriteError(w, httperrors.New(http.StatusBadRequest, "INVALID_CLIENT", "client not found"))
	case svc.ErrInvalidRedirect:
		httperrors.WriteError(w, httperrors.New(http.StatusBadRequest, "INVALID_REDIRECT_URI", "redirect_uri not allowed"))
	case svc.ErrUnknownRequest:
		httperrors.WriteError(w, httperrors.ErrNotFound.WithDetail("authorization request not found or expired"))
	case svc.ErrNotAuthenticated:
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithDetail("login session required"))
	default:
		log.Error("authorize failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServer.WithCause(err))
	}
}
