// Package apply replays SQL documents against a target, one statement at a
// time, with duplicate-object errors counted as successes so re-runs are
// idempotent.
package apply

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgmove/pgmove/internal/logging"
	"github.com/pgmove/pgmove/internal/sqlsplit"
	"github.com/pgmove/pgmove/internal/util"
)

// Execer is the write surface the applier needs; pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Result counts statement outcomes for one document.
type Result struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"` // duplicates classified as success
	Failed    int `json:"failed"`
}

// Total returns the number of statements attempted.
func (r Result) Total() int {
	return r.Succeeded + r.Skipped + r.Failed
}

// Applier executes segmented SQL against one target.
type Applier struct {
	dst Execer
}

// New creates an applier over the given target.
func New(dst Execer) *Applier {
	return &Applier{dst: dst}
}

// ApplyScript segments a SQL document and executes each statement in order.
// Per-statement failures are logged with a short preview and counted;
// execution continues. Only a fatal connection error stops the document.
func (a *Applier) ApplyScript(ctx context.Context, script string) (Result, error) {
	return a.ApplyStatements(ctx, sqlsplit.Split(script))
}

// ApplyStatements executes pre-segmented statements with the same policy as
// ApplyScript.
func (a *Applier) ApplyStatements(ctx context.Context, stmts []string) (Result, error) {
	var res Result
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := a.dst.Exec(ctx, stmt)
		if err == nil {
			res.Succeeded++
			continue
		}
		switch Classify(err) {
		case Ignorable:
			res.Skipped++
			logging.Debug("object already exists, continuing: %s", util.Truncate(stmt, 80))
		case Fatal:
			res.Failed++
			return res, fmt.Errorf("applying %q: %w", util.Truncate(stmt, 80), err)
		default:
			res.Failed++
			logging.Error("statement failed: %v (%s)", err, util.Truncate(stmt, 80))
		}
	}
	return res, nil
}
