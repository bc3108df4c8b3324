package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type pgTokens struct {
	pool *pgxpool.Pool
}

func (r *pgTokens) CreateAccess(ctx context.Context, token *repository.AccessToken) error {
	const q = `
		INSERT INTO access_token (jti, user_id, application_id, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q,
		token.JTI, token.UserID, token.ApplicationID, token.Scope, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	return mapErr(err)
}

func (r *pgTokens) GetAccessByJTI(ctx context.Context, jti string) (*repository.AccessToken, error) {
	const q = `
		SELECT jti, user_id, application_id, scope, expires_at, created_at, revoked_at
		FROM access_token WHERE jti = $1`
	var t repository.AccessToken
	err := r.pool.QueryRow(ctx, q, jti).Scan(&t.JTI, &t.UserID, &t.ApplicationID,
		&t.Scope, &t.ExpiresAt, &t.CreatedAt, &t.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *pgTokens) RevokeAccess(ctx context.Context, jti string) error {
	// Idempotent; revoking an unknown or already revoked JTI is not an error.
	const q = `UPDATE access_token SET revoked_at = NOW() WHERE jti = $1 AND revoked_at IS NULL`
	if _, err := r.pool.Exec(ctx, q, jti); err != nil {
		return fmt.Errorf("pg: revoke access: %w", err)
	}
	return nil
}

func (r *pgTokens) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	const q = `SELECT revoked_at IS NOT NULL FROM access_token WHERE jti = $1`
	var revoked bool
	err := r.pool.QueryRow(ctx, q, jti).Scan(&revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg: check revocation: %w", err)
	}
	return revoked, nil
}

const insertRefresh = `
	INSERT INTO refresh_token (id, user_id, application_id, token_hash, scope, expires_at, rotated_from)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *pgTokens) CreateRefresh(ctx context.Context, input repository.CreateRefreshTokenInput) (string, error) {
	id := uuid.New().String()
	_, err := r.pool.Exec(ctx, insertRefresh,
		id, input.UserID, input.ApplicationID, input.TokenHash, input.Scope, input.ExpiresAt, input.RotatedFrom)
	if err != nil {
		return "", mapErr(err)
	}
	return id, nil
}

func (r *pgTokens) GetRefreshByHash(ctx context.Context, tokenHash string) (*repository.RefreshToken, error) {
	const q = `
		SELECT id, user_id, application_id, token_hash, scope, issued_at, expires_at, rotated_at, rotated_from, revoked_at
		FROM refresh_token WHERE token_hash = $1`
	var t repository.RefreshToken
	err := r.pool.QueryRow(ctx, q, tokenHash).Scan(&t.ID, &t.UserID, &t.ApplicationID,
		&t.TokenHash, &t.Scope, &t.IssuedAt, &t.ExpiresAt, &t.RotatedAt, &t.RotatedFrom, &t.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// Rotate marks the old row rotated and inserts the replacement in one
// transaction. The conditional update is the rotation lock: a second
// concurrent rotation of the same token matches zero rows and fails with
// ErrAlreadyUsed instead of minting a second replacement.
func (r *pgTokens) Rotate(ctx context.Context, oldID string, replacement repository.CreateRefreshTokenInput) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const mark = `UPDATE refresh_token SET rotated_at = NOW()
		WHERE id = $1 AND rotated_at IS NULL AND revoked_at IS NULL`
	ct, err := tx.Exec(ctx, mark, oldID)
	if err != nil {
		return "", fmt.Errorf("pg: mark rotated: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return "", repository.ErrAlreadyUsed
	}

	newID := uuid.New().String()
	replacement.RotatedFrom = &oldID
	_, err = tx.Exec(ctx, insertRefresh,
		newID, replacement.UserID, replacement.ApplicationID, replacement.TokenHash,
		replacement.Scope, replacement.ExpiresAt, replacement.RotatedFrom)
	if err != nil {
		return "", mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("pg: commit: %w", err)
	}
	return newID, nil
}

func (r *pgTokens) RevokeRefresh(ctx context.Context, id string) error {
	const q = `UPDATE refresh_token SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("pg: revoke refresh: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgTokens) RevokeAllForUser(ctx context.Context, userID, applicationID string) (int, error) {
	refreshQ := `UPDATE refresh_token SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL AND rotated_at IS NULL`
	accessQ := `UPDATE access_token SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()`
	args := []any{userID}
	if applicationID != "" {
		refreshQ += ` AND application_id = $2`
		accessQ += ` AND application_id = $2`
		args = append(args, applicationID)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rct, err := tx.Exec(ctx, refreshQ, args...)
	if err != nil {
		return 0, fmt.Errorf("pg: revoke user refresh tokens: %w", err)
	}
	act, err := tx.Exec(ctx, accessQ, args...)
	if err != nil {
		return 0, fmt.Errorf("pg: revoke user access tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pg: commit: %w", err)
	}
	return int(rct.RowsAffected() + act.RowsAffected()), nil
}
