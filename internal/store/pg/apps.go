package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

type pgApps struct {
	pool *pgxpool.Pool
}

const appColumns = `id, client_id, name, client_secret_hash, redirect_uris, allowed_scopes,
	is_public, is_verified, created_at, updated_at`

func scanApp(row pgx.Row) (*repository.Application, error) {
	var (
		a    repository.Application
		hash *string
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.Name, &hash, &a.RedirectURIs, &a.AllowedScopes,
		&a.IsPublic, &a.IsVerified, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	a.ClientSecretHash = deref(hash)
	return &a, nil
}

func (r *pgApps) Create(ctx context.Context, input repository.ApplicationInput) (*repository.Application, error) {
	const q = `
		INSERT INTO application (id, client_id, name, client_secret_hash, redirect_uris, allowed_scopes, is_public, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	app := &repository.Application{
		ID:               uuid.New().String(),
		ClientID:         input.ClientID,
		Name:             input.Name,
		ClientSecretHash: input.ClientSecretHash,
		RedirectURIs:     input.RedirectURIs,
		AllowedScopes:    input.AllowedScopes,
		IsPublic:         input.IsPublic,
		IsVerified:       input.IsVerified,
	}
	err := r.pool.QueryRow(ctx, q,
		app.ID, app.ClientID, app.Name, nullIfEmpty(app.ClientSecretHash),
		app.RedirectURIs, app.AllowedScopes, app.IsPublic, app.IsVerified,
	).Scan(&app.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return app, nil
}

func (r *pgApps) GetByClientID(ctx context.Context, clientID string) (*repository.Application, error) {
	const q = `SELECT ` + appColumns + ` FROM application WHERE client_id = $1`
	return scanApp(r.pool.QueryRow(ctx, q, clientID))
}

func (r *pgApps) GetByID(ctx context.Context, id string) (*repository.Application, error) {
	const q = `SELECT ` + appColumns + ` FROM application WHERE id = $1`
	return scanApp(r.pool.QueryRow(ctx, q, id))
}

func (r *pgApps) UpdateSecretHash(ctx context.Context, clientID, secretHash string) error {
	const q = `UPDATE application SET client_secret_hash = $2, updated_at = NOW() WHERE client_id = $1`
	ct, err := r.pool.Exec(ctx, q, clientID, nullIfEmpty(secretHash))
	if err != nil {
		return fmt.Errorf("pg: update secret: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgApps) List(ctx context.Context) ([]repository.Application, error) {
	const q = `SELECT ` + appColumns + ` FROM application ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg: list applications: %w", err)
	}
	defer rows.Close()

	var apps []repository.Application
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

type pgScopes struct {
	pool *pgxpool.Pool
}

const scopeColumns = `id, name, description, requires_verification, created_at`

func scanScope(row pgx.Row) (*repository.Scope, error) {
	var s repository.Scope
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.RequiresVerification, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *pgScopes) Upsert(ctx context.Context, input repository.ScopeInput) (*repository.Scope, error) {
	const q = `
		INSERT INTO scope (id, name, description, requires_verification)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    requires_verification = EXCLUDED.requires_verification
		RETURNING ` + scopeColumns
	return scanScope(r.pool.QueryRow(ctx, q,
		uuid.New().String(), input.Name, input.Description, input.RequiresVerification))
}

func (r *pgScopes) GetByName(ctx context.Context, name string) (*repository.Scope, error) {
	const q = `SELECT ` + scopeColumns + ` FROM scope WHERE name = $1`
	return scanScope(r.pool.QueryRow(ctx, q, name))
}

func (r *pgScopes) List(ctx context.Context) ([]repository.Scope, error) {
	const q = `SELECT ` + scopeColumns + ` FROM scope ORDER BY name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg: list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []repository.Scope
	for rows.Next() {
		s, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, *s)
	}
	return scopes, rows.Err()
}

type pgUsers struct {
	pool *pgxpool.Pool
}

func (r *pgUsers) GetByID(ctx context.Context, id string) (*repository.User, error) {
	const q = `
		SELECT id, email, email_verified, name, given_name, family_name, picture, created_at
		FROM app_user WHERE id = $1`
	var u repository.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.EmailVerified,
		&u.Name, &u.GivenName, &u.FamilyName, &u.Picture, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}
