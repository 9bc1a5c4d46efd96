// Package transfer moves table rows from source to target in fixed-size
// pages. Tables are transferred one at a time and pages within a table
// sequentially, so at most one page of rows is in memory at once. A failing
// table never aborts the run; its result is marked failed and the next
// table proceeds.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgmove/pgmove/internal/catalog"
	"github.com/pgmove/pgmove/internal/logging"
)

// Source is the read side of a transfer.
type Source interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Target is the write side of a transfer.
type Target interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Status classifies one table's transfer outcome.
type Status string

const (
	StatusMigrated Status = "migrated"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// TableResult reports one table's transfer outcome.
type TableResult struct {
	Table        string        `json:"table"`
	Status       Status        `json:"status"`
	RowsMigrated int64         `json:"rows_migrated"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Stats aggregates a multi-table transfer.
type Stats struct {
	TablesMigrated int   `json:"tables_migrated"`
	TablesFailed   int   `json:"tables_failed"`
	TablesSkipped  int   `json:"tables_skipped"`
	RowsMigrated   int64 `json:"rows_migrated"`
}

// Engine pages rows between a source and a target.
type Engine struct {
	src      Source
	dst      Target
	pageSize int
	onRows   func(int64)
}

// New creates an engine with the given page size.
func New(src Source, dst Target, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Engine{src: src, dst: dst, pageSize: pageSize}
}

// WithProgress registers a callback invoked with the row count of each
// successfully inserted page.
func (e *Engine) WithProgress(fn func(int64)) *Engine {
	e.onRows = fn
	return e
}

// TransferAll moves every table in the given order, suspending target-side
// trigger firing for the duration. Trigger firing is restored on every exit
// path, including a panic inside a table transfer.
func (e *Engine) TransferAll(ctx context.Context, tables []catalog.Table, order []string) ([]TableResult, Stats, error) {
	byName := make(map[string]*catalog.Table, len(tables))
	for i := range tables {
		byName[tables[i].FullName()] = &tables[i]
	}

	var results []TableResult
	var stats Stats

	err := e.withTriggersSuspended(ctx, func() error {
		for _, name := range order {
			t, ok := byName[name]
			if !ok {
				continue
			}
			res := e.transferTable(ctx, t)
			results = append(results, res)
			switch res.Status {
			case StatusMigrated:
				stats.TablesMigrated++
				stats.RowsMigrated += res.RowsMigrated
			case StatusFailed:
				stats.TablesFailed++
			case StatusSkipped:
				stats.TablesSkipped++
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	return results, stats, err
}

func (e *Engine) withTriggersSuspended(ctx context.Context, fn func() error) error {
	if _, err := e.dst.Exec(ctx, "SET session_replication_role = replica"); err != nil {
		return fmt.Errorf("suspending trigger firing: %w", err)
	}
	defer func() {
		// The restore must still reach the target when the run context was
		// cancelled mid-transfer.
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, err := e.dst.Exec(restoreCtx, "SET session_replication_role = origin"); err != nil {
			logging.Error("restoring trigger firing: %v", err)
		}
	}()
	return fn()
}

// transferTable moves one table's rows. Any error marks this table failed
// and stops its paging; it never propagates.
func (e *Engine) transferTable(ctx context.Context, t *catalog.Table) TableResult {
	start := time.Now()
	res := TableResult{Table: t.FullName()}

	if t.RowCount == 0 {
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		logging.Debug("skipping empty table %s", t.FullName())
		return res
	}

	if err := e.clearTarget(ctx, t); err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	var migrated int64
	for offset := int64(0); ; offset += int64(e.pageSize) {
		page, err := e.fetchPage(ctx, t, offset)
		if err != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("fetching page at offset %d: %v", offset, err)
			res.RowsMigrated = migrated
			res.Duration = time.Since(start)
			return res
		}
		if len(page) == 0 {
			break
		}
		if err := e.insertPage(ctx, t, page); err != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("inserting page at offset %d: %v", offset, err)
			res.RowsMigrated = migrated
			res.Duration = time.Since(start)
			return res
		}
		migrated += int64(len(page))
		if e.onRows != nil {
			e.onRows(int64(len(page)))
		}
		if len(page) < e.pageSize || migrated >= t.RowCount {
			break
		}
	}

	res.Status = StatusMigrated
	res.RowsMigrated = migrated
	res.Duration = time.Since(start)
	logging.Info("transferred %d rows for %s", migrated, t.FullName())
	return res
}

// clearTarget removes existing target rows, cascading to dependents so a
// re-run starts clean.
func (e *Engine) clearTarget(ctx context.Context, t *catalog.Table) error {
	stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", catalog.QuoteQualified(t.Schema, t.Name))
	if _, err := e.dst.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("clearing target rows: %w", err)
	}
	return nil
}

func (e *Engine) fetchPage(ctx context.Context, t *catalog.Table, offset int64) ([][]any, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columnList(t))
	b.WriteString(" FROM ")
	b.WriteString(catalog.QuoteQualified(t.Schema, t.Name))
	if t.HasPK() {
		b.WriteString(" ORDER BY ")
		for i, col := range t.PrimaryKey {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(catalog.QuoteIdent(col))
		}
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", e.pageSize, offset)

	rows, err := e.src.Query(ctx, b.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		page = append(page, vals)
	}
	return page, rows.Err()
}

// insertPage executes one parameterized multi-row insert for the page.
func (e *Engine) insertPage(ctx context.Context, t *catalog.Table, page [][]any) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(catalog.QuoteQualified(t.Schema, t.Name))
	b.WriteString(" (")
	b.WriteString(columnList(t))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(page)*len(t.Columns))
	n := 1
	for i, row := range page {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	_, err := e.dst.Exec(ctx, b.String(), args...)
	return err
}

func columnList(t *catalog.Table) string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = catalog.QuoteIdent(c.Name)
	}
	return strings.Join(parts, ", ")
}
