package oauth

// IntrospectRequest holds the form data for POST /oauth2/introspect.
type IntrospectRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
}

// IntrospectResponse is the RFC 7662 introspection body. All fields except
// Active are omitted for inactive tokens.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	TokenType string `json:"token_type,omitempty"` // "access_token" or "refresh_token"
	Sub       string `json:"sub,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
}
