package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type pgKeys struct {
	pool *pgxpool.Pool
}

func (r *pgKeys) Create(ctx context.Context, key *repository.SigningKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if key.IsPrimary {
		if _, err := tx.Exec(ctx, `UPDATE signing_key SET is_primary = FALSE WHERE is_primary`); err != nil {
			return fmt.Errorf("pg: clear primary: %w", err)
		}
	}

	const q = `
		INSERT INTO signing_key (kid, algorithm, public_key_pem, private_key_pem, is_primary, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at`
	err = tx.QueryRow(ctx, q,
		key.KID, key.Algorithm, key.PublicKeyPEM, key.PrivateKeyPEM, key.IsPrimary,
	).Scan(&key.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	key.IsActive = true
	return tx.Commit(ctx)
}

const keyColumns = `kid, algorithm, public_key_pem, private_key_pem, is_primary, is_active, created_at, deactivated_at`

func scanKey(row pgx.Row) (*repository.SigningKey, error) {
	var k repository.SigningKey
	err := row.Scan(&k.KID, &k.Algorithm, &k.PublicKeyPEM, &k.PrivateKeyPEM,
		&k.IsPrimary, &k.IsActive, &k.CreatedAt, &k.DeactivatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (r *pgKeys) GetPrimary(ctx context.Context) (*repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_key WHERE is_primary AND is_active`
	return scanKey(r.pool.QueryRow(ctx, q))
}

func (r *pgKeys) GetByKID(ctx context.Context, kid string) (*repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_key WHERE kid = $1`
	return scanKey(r.pool.QueryRow(ctx, q, kid))
}

func (r *pgKeys) ListActive(ctx context.Context) ([]repository.SigningKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM signing_key
		WHERE is_active ORDER BY is_primary DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg: list keys: %w", err)
	}
	defer rows.Close()

	var keys []repository.SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Promote makes kid the single primary in one transaction so concurrent
// rotations cannot leave two primaries.
func (r *pgKeys) Promote(ctx context.Context, kid string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE signing_key SET is_primary = FALSE WHERE is_primary`); err != nil {
		return fmt.Errorf("pg: clear primary: %w", err)
	}
	ct, err := tx.Exec(ctx, `UPDATE signing_key SET is_primary = TRUE WHERE kid = $1 AND is_active`, kid)
	if err != nil {
		return fmt.Errorf("pg: set primary: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *pgKeys) Deactivate(ctx context.Context, kid string) error {
	const q = `UPDATE signing_key
		SET is_active = FALSE, deactivated_at = NOW()
		WHERE kid = $1 AND is_active AND NOT is_primary`
	ct, err := r.pool.Exec(ctx, q, kid)
	if err != nil {
		return fmt.Errorf("pg: deactivate key: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Distinguish a missing key from an attempt to drop the primary.
		k, gerr := r.GetByKID(ctx, kid)
		if gerr != nil {
			if errors.Is(gerr, repository.ErrNotFound) {
				return repository.ErrNotFound
			}
			return gerr
		}
		if k.IsPrimary {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}
	return nil
}
