package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// RFC 6749 error codes used on the token and authorization endpoints.
const (
	OAuthInvalidRequest          = "invalid_request"
	OAuthInvalidClient           = "invalid_client"
	OAuthInvalidGrant            = "invalid_grant"
	OAuthUnauthorizedClient      = "unauthorized_client"
	OAuthUnsupportedGrantType    = "unsupported_grant_type"
	OAuthUnsupportedResponseType = "unsupported_response_type"
	OAuthInvalidScope            = "invalid_scope"
	OAuthAccessDenied            = "access_denied"
	OAuthServerError             = "server_error"
)

// OAuthError is the wire error for the OAuth endpoints. Unlike AppError it
// serializes in the RFC 6749 error/error_description shape.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
	Err         error  `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// NewOAuth builds an OAuthError. The status defaults per RFC 6749:
// invalid_client maps to 401, server_error to 500, everything else 400.
func NewOAuth(code, description string) *OAuthError {
	status := http.StatusBadRequest
	switch code {
	case OAuthInvalidClient:
		status = http.StatusUnauthorized
	case OAuthServerError:
		status = http.StatusInternalServerError
	}
	return &OAuthError{Code: code, Description: description, Status: status}
}

// WithCause returns a copy carrying the original error.
func (e *OAuthError) WithCause(err error) *OAuthError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// WriteOAuthError writes the RFC 6749 JSON error body. invalid_client
// additionally advertises Basic auth as required by section 5.2.
func WriteOAuthError(w http.ResponseWriter, err error) {
	oe, ok := err.(*OAuthError)
	if !ok {
		oe = NewOAuth(OAuthServerError, "").WithCause(err)
	}
	if oe.Code == OAuthInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oe.Status)
	_ = json.NewEncoder(w).Encode(oe)
}

// RedirectOAuthError sends the error back to the client's redirect URI as
// query parameters, per RFC 6749 section 4.1.2.1. Only call this after the
// redirect URI has been validated against the client registration.
func RedirectOAuthError(w http.ResponseWriter, r *http.Request, redirectURI, state string, err error) {
	oe, ok := err.(*OAuthError)
	if !ok {
		oe = NewOAuth(OAuthServerError, "").WithCause(err)
	}
	u, perr := url.Parse(redirectURI)
	if perr != nil {
		WriteOAuthError(w, oe)
		return
	}
	q := u.Query()
	q.Set("error", oe.Code)
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
