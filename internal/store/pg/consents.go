package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type pgConsents struct {
	pool *pgxpool.Pool
}

const consentColumns = `id, user_id, application_id, granted_scopes, scope_history, created_at, updated_at, revoked_at`

func scanConsent(row pgx.Row) (*repository.Consent, error) {
	var (
		c       repository.Consent
		history []byte
	)
	err := row.Scan(&c.ID, &c.UserID, &c.ApplicationID, &c.GrantedScopes, &history,
		&c.CreatedAt, &c.UpdatedAt, &c.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.ScopeHistory); err != nil {
			return nil, fmt.Errorf("pg: decode scope history: %w", err)
		}
	}
	return &c, nil
}

// Merge implements incremental authorization inside one transaction. The
// active consent row is locked FOR UPDATE so concurrent merges serialize
// instead of losing scopes.
func (r *pgConsents) Merge(ctx context.Context, userID, applicationID string, scopes []string) (*repository.MergeResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const sel = `SELECT ` + consentColumns + ` FROM consent
		WHERE user_id = $1 AND application_id = $2 AND revoked_at IS NULL
		FOR UPDATE`
	existing, err := scanConsent(tx.QueryRow(ctx, sel, userID, applicationID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	if existing == nil {
		grant := repository.ScopeGrant{Scopes: dedupe(scopes), GrantedAt: now}
		history, err := json.Marshal([]repository.ScopeGrant{grant})
		if err != nil {
			return nil, fmt.Errorf("pg: encode scope history: %w", err)
		}
		c := &repository.Consent{
			ID:            uuid.New().String(),
			UserID:        userID,
			ApplicationID: applicationID,
			GrantedScopes: grant.Scopes,
			ScopeHistory:  []repository.ScopeGrant{grant},
		}
		const ins = `
			INSERT INTO consent (id, user_id, application_id, granted_scopes, scope_history)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at`
		if err := tx.QueryRow(ctx, ins, c.ID, c.UserID, c.ApplicationID, c.GrantedScopes, history).Scan(&c.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("pg: commit: %w", err)
		}
		return &repository.MergeResult{Consent: c, IsNew: true, NewScopesGranted: grant.Scopes}, nil
	}

	delta := missingScopes(existing.GrantedScopes, scopes)
	if len(delta) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("pg: commit: %w", err)
		}
		return &repository.MergeResult{Consent: existing, NewScopesGranted: []string{}}, nil
	}

	existing.GrantedScopes = append(existing.GrantedScopes, delta...)
	existing.ScopeHistory = append(existing.ScopeHistory, repository.ScopeGrant{Scopes: delta, GrantedAt: now})
	existing.UpdatedAt = &now
	history, err := json.Marshal(existing.ScopeHistory)
	if err != nil {
		return nil, fmt.Errorf("pg: encode scope history: %w", err)
	}

	const upd = `UPDATE consent SET granted_scopes = $2, scope_history = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.Exec(ctx, upd, existing.ID, existing.GrantedScopes, history, now); err != nil {
		return nil, fmt.Errorf("pg: update consent: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pg: commit: %w", err)
	}
	return &repository.MergeResult{Consent: existing, NewScopesGranted: delta}, nil
}

func (r *pgConsents) Get(ctx context.Context, userID, applicationID string) (*repository.Consent, error) {
	const q = `SELECT ` + consentColumns + ` FROM consent
		WHERE user_id = $1 AND application_id = $2
		ORDER BY revoked_at IS NOT NULL, created_at DESC
		LIMIT 1`
	return scanConsent(r.pool.QueryRow(ctx, q, userID, applicationID))
}

func (r *pgConsents) Revoke(ctx context.Context, userID, applicationID string) error {
	const q = `UPDATE consent SET revoked_at = NOW()
		WHERE user_id = $1 AND application_id = $2 AND revoked_at IS NULL`
	ct, err := r.pool.Exec(ctx, q, userID, applicationID)
	if err != nil {
		return fmt.Errorf("pg: revoke consent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Distinguish a repeat revocation from a consent that never was.
		const lookup = `SELECT 1 FROM consent
			WHERE user_id = $1 AND application_id = $2 AND revoked_at IS NOT NULL`
		var one int
		if perr := r.pool.QueryRow(ctx, lookup, userID, applicationID).Scan(&one); perr == nil {
			return repository.ErrRevoked
		}
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgConsents) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]repository.Consent, error) {
	q := `SELECT ` + consentColumns + ` FROM consent WHERE user_id = $1`
	if activeOnly {
		q += ` AND revoked_at IS NULL`
	}
	q += ` ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("pg: list consents: %w", err)
	}
	defer rows.Close()

	var consents []repository.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		consents = append(consents, *c)
	}
	return consents, rows.Err()
}

func missingScopes(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	var delta []string
	for _, s := range want {
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			delta = append(delta, s)
		}
	}
	return delta
}

func dedupe(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
