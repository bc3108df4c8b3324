package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type pgAuthCodes struct {
	pool *pgxpool.Pool
}

func (r *pgAuthCodes) CreateCode(ctx context.Context, code *repository.AuthorizationCode) error {
	const q = `
		INSERT INTO auth_code (code_hash, user_id, application_id, redirect_uri, scope, nonce,
			code_challenge, code_challenge_method, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, q,
		code.CodeHash, code.UserID, code.ApplicationID, code.RedirectURI, code.Scope,
		nullIfEmpty(code.Nonce), nullIfEmpty(code.CodeChallenge), nullIfEmpty(code.CodeChallengeMethod),
		code.IssuedAt, code.ExpiresAt)
	return mapErr(err)
}

// RedeemCode flips used_at with a conditional update, so exactly one of any
// number of concurrent exchange attempts wins the row.
func (r *pgAuthCodes) RedeemCode(ctx context.Context, codeHash string) (*repository.AuthorizationCode, error) {
	const q = `
		UPDATE auth_code SET used_at = NOW()
		WHERE code_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING code_hash, user_id, application_id, redirect_uri, scope,
			COALESCE(nonce, ''), COALESCE(code_challenge, ''), COALESCE(code_challenge_method, ''),
			issued_at, expires_at, used_at`
	var c repository.AuthorizationCode
	err := r.pool.QueryRow(ctx, q, codeHash).Scan(&c.CodeHash, &c.UserID, &c.ApplicationID,
		&c.RedirectURI, &c.Scope, &c.Nonce, &c.CodeChallenge, &c.CodeChallengeMethod,
		&c.IssuedAt, &c.ExpiresAt, &c.UsedAt)
	if err == nil {
		return &c, nil
	}
	if mapped := mapErr(err); !errors.Is(mapped, repository.ErrNotFound) {
		return nil, mapped
	}

	// Lost the update. Tell replay apart from expiry and unknown codes.
	const lookup = `SELECT used_at, expires_at FROM auth_code WHERE code_hash = $1`
	var (
		usedAt    *time.Time
		expiresAt time.Time
	)
	if perr := r.pool.QueryRow(ctx, lookup, codeHash).Scan(&usedAt, &expiresAt); perr != nil {
		return nil, mapErr(perr)
	}
	if usedAt != nil {
		return nil, repository.ErrAlreadyUsed
	}
	if !time.Now().Before(expiresAt) {
		return nil, repository.ErrExpired
	}
	return nil, repository.ErrNotFound
}

func (r *pgAuthCodes) CreateRequest(ctx context.Context, req *repository.AuthorizationRequest) error {
	const q = `
		INSERT INTO auth_request (id, client_id, redirect_uri, scope, state, nonce,
			code_challenge, code_challenge_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q,
		req.ID, req.ClientID, req.RedirectURI, req.Scope, nullIfEmpty(req.State),
		nullIfEmpty(req.Nonce), nullIfEmpty(req.CodeChallenge), nullIfEmpty(req.CodeChallengeMethod),
	).Scan(&req.CreatedAt)
	return mapErr(err)
}

func (r *pgAuthCodes) GetRequest(ctx context.Context, id string) (*repository.AuthorizationRequest, error) {
	const q = `
		SELECT id, client_id, redirect_uri, scope, COALESCE(state, ''), COALESCE(nonce, ''),
			COALESCE(code_challenge, ''), COALESCE(code_challenge_method, ''), created_at
		FROM auth_request WHERE id = $1`
	var req repository.AuthorizationRequest
	err := r.pool.QueryRow(ctx, q, id).Scan(&req.ID, &req.ClientID, &req.RedirectURI,
		&req.Scope, &req.State, &req.Nonce, &req.CodeChallenge, &req.CodeChallengeMethod, &req.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &req, nil
}

func (r *pgAuthCodes) DeleteRequest(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auth_request WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pg: delete auth request: %w", err)
	}
	return nil
}
