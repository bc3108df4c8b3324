package jwt

import (
	"context"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/featherauth/featherauth/internal/observability/logger"
)

// Header typ values per RFC 9068 / OIDC core.
const (
	typAccessToken = "at+jwt"
	typIDToken     = "JWT"
)

// RevocationChecker answers whether a jti has been revoked. Implemented by
// the token repository; kept as a small interface so verification does not
// depend on the whole store.
type RevocationChecker interface {
	IsAccessRevoked(ctx context.Context, jti string) (bool, error)
}

// Issuer mints and verifies tokens using the keystore's primary key.
type Issuer struct {
	Iss        string
	Audience   string
	Keys       *Keystore
	Revocation RevocationChecker
	AccessTTL  time.Duration
	IDTokenTTL time.Duration
}

// NewIssuer builds an Issuer with the given TTLs.
func NewIssuer(iss, audience string, ks *Keystore, rev RevocationChecker, accessTTL, idTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if idTTL <= 0 {
		idTTL = accessTTL
	}
	return &Issuer{
		Iss:        iss,
		Audience:   audience,
		Keys:       ks,
		Revocation: rev,
		AccessTTL:  accessTTL,
		IDTokenTTL: idTTL,
	}
}

// AccessTokenInput carries the variable claims of an access token.
// UserID empty means a client-credentials grant; sub falls back to the
// client id as RFC 9068 requires a subject.
type AccessTokenInput struct {
	ClientID string
	UserID   string
	Scope    string
	Audience string // overrides the issuer default when set
}

// IssuedAccessToken is the mint result the caller persists.
type IssuedAccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// IssueAccess mints a signed access token (typ at+jwt) with the standard
// claim set: iss, sub, aud, exp, iat, jti, scope, client_id. Expiry is
// fixed at issuance from the configured TTL.
func (i *Issuer) IssueAccess(ctx context.Context, in AccessTokenInput) (*IssuedAccessToken, error) {
	kid, priv, err := i.Keys.Primary(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	exp := now.Add(i.AccessTTL)
	jti := uuid.NewString()

	sub := in.UserID
	if sub == "" {
		sub = in.ClientID
	}
	aud := in.Audience
	if aud == "" {
		aud = i.Audience
	}

	claims := jwtv5.MapClaims{
		"iss":       i.Iss,
		"sub":       sub,
		"aud":       aud,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
		"scope":     in.Scope,
		"client_id": in.ClientID,
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = typAccessToken

	signed, err := tk.SignedString(priv)
	if err != nil {
		return nil, fmt.Errorf("jwt: sign access token: %w", err)
	}
	return &IssuedAccessToken{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// IDTokenInput carries the variable claims of an ID token. Claims holds the
// scope-gated profile projection; absent values must already be omitted.
type IDTokenInput struct {
	ClientID string
	UserID   string
	Nonce    string
	AuthTime time.Time
	Claims   map[string]any
}

// IssueID mints a signed OIDC ID token. aud is the client id per OIDC core.
func (i *Issuer) IssueID(ctx context.Context, in IDTokenInput) (string, time.Time, error) {
	kid, priv, err := i.Keys.Primary(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	exp := now.Add(i.IDTokenTTL)

	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": in.UserID,
		"aud": in.ClientID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	if in.Nonce != "" {
		claims["nonce"] = in.Nonce
	}
	if !in.AuthTime.IsZero() {
		claims["auth_time"] = in.AuthTime.Unix()
	}
	for k, v := range in.Claims {
		claims[k] = v
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = typIDToken

	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign id token: %w", err)
	}
	return signed, exp, nil
}

// VerifiedAccessToken is the typed result of a successful verification.
type VerifiedAccessToken struct {
	JTI      string
	Subject  string
	ClientID string
	Scope    string
	KID      string
	Expires  time.Time
}

// VerifyAccess verifies a bearer access token: it iterates every active
// verification key (kid-matching candidate first) until one validates the
// signature and issuer, then cross-checks the jti against the revocation
// ledger. Returns nil on any failure; the reason is logged at warn without
// distinguishing key mismatch, expiry or revocation, so responses cannot be
// used as an oracle.
func (i *Issuer) VerifyAccess(ctx context.Context, raw string) *VerifiedAccessToken {
	log := logger.From(ctx).With(logger.Layer("issuer"), logger.Op("VerifyAccess"))

	keys, err := i.Keys.VerificationKeys(ctx)
	if err != nil || len(keys) == 0 {
		log.Warn("access token rejected", logger.Err(err))
		return nil
	}

	// Prefer the candidate whose kid matches the token header.
	ordered := orderByKID(keys, peekKID(raw))

	var verified *VerifiedAccessToken
	for _, cand := range ordered {
		res, perr := i.verifyWithKey(raw, cand)
		if perr == nil {
			verified = res
			break
		}
	}
	if verified == nil {
		log.Warn("access token rejected")
		return nil
	}

	if i.Revocation != nil {
		revoked, rerr := i.Revocation.IsAccessRevoked(ctx, verified.JTI)
		if rerr != nil || revoked {
			log.Warn("access token rejected", logger.JTI(verified.JTI))
			return nil
		}
	}
	return verified
}

func (i *Issuer) verifyWithKey(raw string, cand VerificationKey) (*VerifiedAccessToken, error) {
	tk, err := jwtv5.Parse(raw,
		func(t *jwtv5.Token) (any, error) { return cand.Public, nil },
		jwtv5.WithValidMethods([]string{AlgRS256}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tk.Valid {
		if err == nil {
			err = fmt.Errorf("jwt: token invalid")
		}
		return nil, err
	}
	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, fmt.Errorf("jwt: unexpected claims type")
	}

	out := &VerifiedAccessToken{KID: cand.KID}
	out.JTI, _ = claims["jti"].(string)
	out.Subject, _ = claims["sub"].(string)
	out.ClientID, _ = claims["client_id"].(string)
	out.Scope, _ = claims["scope"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expires = exp.Time
	}
	if out.JTI == "" {
		return nil, fmt.Errorf("jwt: missing jti")
	}
	return out, nil
}

// peekKID extracts the kid header without verifying the signature.
func peekKID(raw string) string {
	parser := jwtv5.NewParser()
	tk, _, err := parser.ParseUnverified(raw, jwtv5.MapClaims{})
	if err != nil || tk == nil {
		return ""
	}
	kid, _ := tk.Header["kid"].(string)
	return kid
}

func orderByKID(keys []VerificationKey, kid string) []VerificationKey {
	if kid == "" {
		return keys
	}
	ordered := make([]VerificationKey, 0, len(keys))
	for _, k := range keys {
		if k.KID == kid {
			ordered = append(ordered, k)
		}
	}
	for _, k := range keys {
		if k.KID != kid {
			ordered = append(ordered, k)
		}
	}
	return ordered
}
