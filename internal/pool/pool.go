// Package pool provides explicit connection providers for the source and
// target databases. Pools are constructed once, passed by parameter into
// every component that needs a connection, and closed by the caller; there
// are no package-level connection singletons.
package pool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgmove/pgmove/internal/config"
	"github.com/pgmove/pgmove/internal/logging"
)

// Pool wraps a pgx connection pool for one database side.
type Pool struct {
	pool *pgxpool.Pool
	desc string // redacted connection description for logging
}

// Connect establishes a pool for the given connection config, probing the
// ordered candidate list and stopping at the first endpoint that answers.
func Connect(ctx context.Context, cfg *config.ConnConfig) (*Pool, error) {
	pgxPool, _, err := Probe(ctx, cfg, dialPgx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Redacted(), err)
	}

	logging.Debug("connected to %s", cfg.Redacted())
	return &Pool{pool: pgxPool, desc: cfg.Redacted()}, nil
}

// dialPgx opens and pings a pgx pool for one DSN.
func dialPgx(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return p, nil
}

// Close releases all connections in the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Pool returns the underlying pgx pool.
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// Desc returns a redacted description of the connection for logging.
func (p *Pool) Desc() string {
	return p.desc
}

// WithConn checks out one connection, runs fn, and releases the connection
// on every exit path, including when fn returns an error.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}
