// Package oauth contains DTOs for the OAuth2 endpoints.
package oauth

// AuthorizeRequest contains the parsed query params for GET /oauth2/authorize.
type AuthorizeRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Prompt              string `json:"prompt"` // e.g. "none", "consent"
}

// AuthResultType indicates the outcome of the authorization request.
type AuthResultType int

const (
	// AuthResultSuccess issues a code and redirects back to the client.
	AuthResultSuccess AuthResultType = iota
	// AuthResultNeedLogin redirects to the login UI.
	AuthResultNeedLogin
	// AuthResultNeedConsent redirects to the consent UI.
	AuthResultNeedConsent
	// AuthResultError redirects back with error params.
	AuthResultError
)

// AuthResult is the outcome from AuthorizeService.Authorize.
type AuthResult struct {
	Type AuthResultType

	// For Success
	Code  string
	State string

	// For NeedLogin / NeedConsent
	ContinueURL string

	// For Error
	ErrorCode        string
	ErrorDescription string

	// Common
	RedirectURI string
}

// ConsentDecision is the form posted back from the consent UI.
type ConsentDecision struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}
