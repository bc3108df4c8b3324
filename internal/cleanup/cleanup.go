// Package cleanup runs the periodic datastore garbage collection.
package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/featherauth/featherauth/internal/observability/logger"
	"github.com/featherauth/featherauth/internal/store"
)

const (
	defaultInterval = time.Hour
	// Pending authorization requests older than this are abandoned.
	requestMaxAge = 24 * time.Hour
)

// Worker periodically purges expired codes, dead tokens and stale
// authorization requests.
type Worker struct {
	DAL      store.DataAccessLayer
	Interval time.Duration
}

// New builds a Worker with the given interval; zero means hourly.
func New(dal store.DataAccessLayer, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{DAL: dal, Interval: interval}
}

// Run blocks until ctx is done, sweeping once per interval. The first sweep
// happens one interval after start, not at startup, so a restarting fleet
// does not stampede the datastore.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.Named("cleanup").With(zap.Duration("interval", w.Interval))
	log.Info("cleanup worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx, log)
		}
	}
}

// Sweep runs a single pass. Used by the one-shot CLI command.
func (w *Worker) Sweep(ctx context.Context) (store.CleanupStats, error) {
	return w.DAL.Cleanup(ctx, requestMaxAge)
}

func (w *Worker) sweep(ctx context.Context, log *zap.Logger) {
	start := time.Now()
	stats, err := w.DAL.Cleanup(ctx, requestMaxAge)
	if err != nil {
		log.Error("cleanup sweep failed", logger.Err(err))
		return
	}
	log.Info("cleanup sweep done",
		zap.Int64("auth_codes", stats.AuthCodes),
		zap.Int64("access_tokens", stats.AccessTokens),
		zap.Int64("refresh_tokens", stats.RefreshTokens),
		zap.Int64("auth_requests", stats.AuthRequests),
		logger.Duration(time.Since(start)),
	)
}
