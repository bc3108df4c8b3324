// Package jwt holds the signing key manager and the token issuer.
package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

const (
	// AlgRS256 is the only signing algorithm this server issues.
	AlgRS256 = "RS256"

	rsaKeyBits = 2048
)

// GenerateSigningKeyPair creates a 2048-bit RSA key pair with a time-based
// key id. The caller persists the result; generation has no side effects.
func GenerateSigningKeyPair() (*repository.SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("jwt: generate rsa key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwt: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	now := time.Now().UTC()
	return &repository.SigningKey{
		KID:           fmt.Sprintf("fa-%d", now.UnixMilli()),
		Algorithm:     AlgRS256,
		PrivateKeyPEM: string(privPEM),
		PublicKeyPEM:  string(pubPEM),
		IsActive:      true,
		CreatedAt:     now,
	}, nil
}

// ParsePrivateKeyPEM decodes a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("jwt: no PEM block in private key")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	any, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse private key: %w", err)
	}
	rk, ok := any.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("jwt: private key is not RSA")
	}
	return rk, nil
}

// ParsePublicKeyPEM decodes a PKIX or PKCS#1 RSA public key.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("jwt: no PEM block in public key")
	}
	if any, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if pk, ok := any.(*rsa.PublicKey); ok {
			return pk, nil
		}
		return nil, fmt.Errorf("jwt: public key is not RSA")
	}
	pk, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse public key: %w", err)
	}
	return pk, nil
}

// ToJWK converts a signing key's public half to JWK form (modulus and
// exponent only; private material never reaches the JWKS).
func ToJWK(key *repository.SigningKey) (repository.JWK, error) {
	pub, err := ParsePublicKeyPEM(key.PublicKeyPEM)
	if err != nil {
		return repository.JWK{}, err
	}
	return repository.JWK{
		Kty: "RSA",
		Use: "sig",
		KID: key.KID,
		Alg: key.Algorithm,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(bigIntBytes(big.NewInt(int64(pub.E)))),
	}, nil
}

// encodePublicPEM renders an RSA public key as PKIX PEM.
func encodePublicPEM(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func bigIntBytes(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}
