package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/observability/logger"
)

// ErrNoSigningKey is returned when neither the datastore nor the bootstrap
// configuration can provide a key. This is an ops problem, not a client
// error: callers must refuse to issue tokens.
var ErrNoSigningKey = errors.New("jwt: no signing key available")

// BootstrapKey is a config-provided key pair used before the first database
// key exists. PublicOnly bootstrap (private PEM empty) still supports
// verification fallback.
type BootstrapKey struct {
	KID        string
	PrivatePEM string
	PublicPEM  string
}

// signingKey is a parsed, ready-to-use key.
type signingKey struct {
	kid     string
	private *rsa.PrivateKey // nil for verification-only candidates
	public  *rsa.PublicKey
}

// Keystore resolves signing and verification keys from the repository with
// a short-lived in-process snapshot, so token issuance does not hit the
// datastore on every request and rotation propagates within TTL.
type Keystore struct {
	repo      repository.KeyRepository
	bootstrap *BootstrapKey

	mu       sync.RWMutex
	snapshot keySnapshot
	ttl      time.Duration
}

type keySnapshot struct {
	primary   *signingKey
	verifiers []signingKey
	jwks      []byte
	takenAt   time.Time
}

// NewKeystore builds a Keystore. bootstrap may be nil.
func NewKeystore(repo repository.KeyRepository, bootstrap *BootstrapKey) *Keystore {
	return &Keystore{repo: repo, bootstrap: bootstrap, ttl: time.Minute}
}

// Invalidate drops the snapshot, forcing the next call to re-read.
// Called after rotation so the new primary takes effect immediately.
func (k *Keystore) Invalidate() {
	k.mu.Lock()
	k.snapshot = keySnapshot{}
	k.mu.Unlock()
}

// Primary returns the key used for new signatures: the database primary,
// or the bootstrap key when the database holds none. ErrNoSigningKey when
// neither exists.
func (k *Keystore) Primary(ctx context.Context) (kid string, key *rsa.PrivateKey, err error) {
	snap, err := k.current(ctx)
	if err != nil {
		return "", nil, err
	}
	if snap.primary == nil || snap.primary.private == nil {
		return "", nil, ErrNoSigningKey
	}
	return snap.primary.kid, snap.primary.private, nil
}

// VerificationKeys returns every verification candidate, primary first.
// During a rotation window this includes both the new primary and the
// still-active previous keys, so verification never blocks on one key.
func (k *Keystore) VerificationKeys(ctx context.Context) ([]VerificationKey, error) {
	snap, err := k.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]VerificationKey, 0, len(snap.verifiers))
	for _, v := range snap.verifiers {
		out = append(out, VerificationKey{KID: v.kid, Public: v.public})
	}
	return out, nil
}

// VerificationKey is one candidate in the try-every-key loop.
type VerificationKey struct {
	KID    string
	Public *rsa.PublicKey
}

// JWKSJSON returns the serialized JWKS for all active keys.
func (k *Keystore) JWKSJSON(ctx context.Context) ([]byte, error) {
	snap, err := k.current(ctx)
	if err != nil {
		return nil, err
	}
	if snap.jwks == nil {
		return nil, ErrNoSigningKey
	}
	return snap.jwks, nil
}

func (k *Keystore) current(ctx context.Context) (keySnapshot, error) {
	k.mu.RLock()
	snap := k.snapshot
	k.mu.RUnlock()
	if snap.takenAt.After(time.Now().Add(-k.ttl)) && (snap.primary != nil || len(snap.verifiers) > 0) {
		return snap, nil
	}

	fresh, err := k.load(ctx)
	if err != nil {
		return keySnapshot{}, err
	}
	k.mu.Lock()
	k.snapshot = fresh
	k.mu.Unlock()
	return fresh, nil
}

func (k *Keystore) load(ctx context.Context) (keySnapshot, error) {
	log := logger.From(ctx).With(logger.Layer("keystore"))

	active, err := k.repo.ListActive(ctx)
	if err != nil && !repository.IsNotFound(err) && !errors.Is(err, repository.ErrNoDatabase) {
		return keySnapshot{}, err
	}

	snap := keySnapshot{takenAt: time.Now()}
	jwksKeys := make([]repository.JWK, 0, len(active))

	for i := range active {
		key := &active[i]
		pub, perr := ParsePublicKeyPEM(key.PublicKeyPEM)
		if perr != nil {
			log.Warn("skipping unparseable signing key", logger.KID(key.KID), logger.Err(perr))
			continue
		}
		sk := signingKey{kid: key.KID, public: pub}
		if key.PrivateKeyPEM != "" {
			if priv, perr := ParsePrivateKeyPEM(key.PrivateKeyPEM); perr == nil {
				sk.private = priv
			}
		}
		if key.IsPrimary && sk.private != nil {
			primary := sk
			snap.primary = &primary
			// Primary goes first in the verifier order.
			snap.verifiers = append([]signingKey{sk}, snap.verifiers...)
		} else {
			snap.verifiers = append(snap.verifiers, sk)
		}
		if jwk, jerr := ToJWK(key); jerr == nil {
			jwksKeys = append(jwksKeys, jwk)
		}
	}

	// First-run bootstrap: no database keys at all.
	if snap.primary == nil && len(snap.verifiers) == 0 && k.bootstrap != nil {
		if bk, berr := k.bootstrapKey(); berr == nil {
			if bk.private != nil {
				snap.primary = bk
			}
			snap.verifiers = []signingKey{*bk}
			jwksKeys = append(jwksKeys, publicJWK(bk.kid, bk.public))
		} else {
			log.Warn("bootstrap key unusable", logger.Err(berr))
		}
	}

	if snap.primary == nil && len(snap.verifiers) == 0 {
		return keySnapshot{}, ErrNoSigningKey
	}

	b, _ := json.Marshal(repository.JWKS{Keys: jwksKeys})
	snap.jwks = b
	return snap, nil
}

func (k *Keystore) bootstrapKey() (*signingKey, error) {
	sk := &signingKey{kid: k.bootstrap.KID}
	if k.bootstrap.PrivatePEM != "" {
		priv, err := ParsePrivateKeyPEM(k.bootstrap.PrivatePEM)
		if err != nil {
			return nil, err
		}
		sk.private = priv
		sk.public = &priv.PublicKey
	}
	if k.bootstrap.PublicPEM != "" {
		pub, err := ParsePublicKeyPEM(k.bootstrap.PublicPEM)
		if err != nil {
			return nil, err
		}
		sk.public = pub
	}
	if sk.public == nil {
		return nil, ErrNoSigningKey
	}
	return sk, nil
}

func publicJWK(kid string, pub *rsa.PublicKey) repository.JWK {
	jwk, err := ToJWK(&repository.SigningKey{KID: kid, Algorithm: AlgRS256, PublicKeyPEM: encodePublicPEM(pub)})
	if err != nil {
		return repository.JWK{Kty: "RSA", Use: "sig", KID: kid, Alg: AlgRS256}
	}
	return jwk
}
