// Package pg is the PostgreSQL store adapter, built directly on pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/metrics"
	"github.com/featherauth/featherauth/internal/store"
)

func init() {
	store.RegisterAdapter(&pgAdapter{})
}

type pgAdapter struct{}

func (a *pgAdapter) Name() string { return "postgres" }

func (a *pgAdapter) Open(ctx context.Context, cfg store.Config) (store.DataAccessLayer, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		pcfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &DAL{pool: pool}, nil
}

// DAL is the postgres data access layer.
type DAL struct {
	pool *pgxpool.Pool
}

func (d *DAL) Keys() repository.KeyRepository                 { return &pgKeys{pool: d.pool} }
func (d *DAL) Applications() repository.ApplicationRepository { return &pgApps{pool: d.pool} }
func (d *DAL) Scopes() repository.ScopeRepository             { return &pgScopes{pool: d.pool} }
func (d *DAL) Consents() repository.ConsentRepository         { return &pgConsents{pool: d.pool} }
func (d *DAL) Tokens() repository.TokenRepository             { return &pgTokens{pool: d.pool} }
func (d *DAL) AuthCodes() repository.AuthCodeRepository       { return &pgAuthCodes{pool: d.pool} }
func (d *DAL) Users() repository.UserRepository               { return &pgUsers{pool: d.pool} }

func (d *DAL) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *DAL) Close() error {
	d.pool.Close()
	return nil
}

// Cleanup is routine garbage collection: expired/used codes, dead tokens,
// stale pending authorization requests.
func (d *DAL) Cleanup(ctx context.Context, requestMaxAge time.Duration) (store.CleanupStats, error) {
	var stats store.CleanupStats

	steps := []struct {
		table string
		query string
		args  []any
		dst   *int64
	}{
		{"auth_code", `DELETE FROM auth_code WHERE used_at IS NOT NULL OR expires_at < NOW()`, nil, &stats.AuthCodes},
		{"access_token", `DELETE FROM access_token WHERE expires_at < NOW()`, nil, &stats.AccessTokens},
		{"refresh_token", `DELETE FROM refresh_token WHERE expires_at < NOW() OR rotated_at IS NOT NULL OR revoked_at IS NOT NULL`, nil, &stats.RefreshTokens},
		{"auth_request", `DELETE FROM auth_request WHERE created_at < NOW() - $1::interval`, []any{requestMaxAge.String()}, &stats.AuthRequests},
	}
	for _, s := range steps {
		ct, err := d.pool.Exec(ctx, s.query, s.args...)
		if err != nil {
			return stats, fmt.Errorf("pg: cleanup %s: %w", s.table, err)
		}
		*s.dst = ct.RowsAffected()
		metrics.CleanupRemoved.WithLabelValues(s.table).Add(float64(ct.RowsAffected()))
	}
	return stats, nil
}

// mapErr translates pgx errors to domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
