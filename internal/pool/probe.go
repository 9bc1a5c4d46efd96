package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgmove/pgmove/internal/config"
	"github.com/pgmove/pgmove/internal/logging"
)

// DialFunc opens and verifies a connection pool for one DSN. It exists as a
// seam so tests can substitute a double that records attempt order.
type DialFunc func(ctx context.Context, dsn string) (*pgxpool.Pool, error)

// Probe tries each candidate DSN in order with a bounded per-attempt
// timeout and returns the pool from the first endpoint that answers.
// Candidates are never raced in parallel; the order in the config is the
// order of attempts.
func Probe(ctx context.Context, cfg *config.ConnConfig, dial DialFunc) (*pgxpool.Pool, string, error) {
	candidates := cfg.CandidateDSNs()
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second

	var lastErr error
	for i, dsn := range candidates {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		p, err := dial(attemptCtx, dsn)
		cancel()

		if err == nil {
			if i > 0 {
				logging.Info("connected via candidate endpoint %d of %d", i+1, len(candidates))
			}
			return p, dsn, nil
		}

		lastErr = err
		logging.Debug("candidate %d/%d unreachable: %v", i+1, len(candidates), err)
	}

	return nil, "", fmt.Errorf("all %d connection candidates failed: %w", len(candidates), lastErr)
}
