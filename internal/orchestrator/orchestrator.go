// Package orchestrator sequences the migration stages and aggregates run
// statistics. Stages always execute in one fixed order regardless of how
// the selection was written; per-object failures are counted and the run
// continues, and only a lost connection aborts it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgmove/pgmove/internal/apply"
	"github.com/pgmove/pgmove/internal/catalog"
	"github.com/pgmove/pgmove/internal/config"
	"github.com/pgmove/pgmove/internal/depgraph"
	"github.com/pgmove/pgmove/internal/export"
	"github.com/pgmove/pgmove/internal/logging"
	"github.com/pgmove/pgmove/internal/notify"
	"github.com/pgmove/pgmove/internal/progress"
	"github.com/pgmove/pgmove/internal/storage"
	"github.com/pgmove/pgmove/internal/transfer"
)

// Stage names in canonical execution order.
const (
	StageSchema      = "schema"
	StageFunctions   = "functions"
	StageTriggers    = "triggers"
	StageData        = "data"
	StageRowSecurity = "row-security"
	StageGrants      = "grants"
	StageStorage     = "storage"
	StageVerify      = "verify"
)

var stageOrder = []string{
	StageSchema, StageFunctions, StageTriggers, StageData,
	StageRowSecurity, StageGrants, StageStorage, StageVerify,
}

// DB is the connection surface each side must provide; pgxpool.Pool
// satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// StageResult reports one stage's outcome.
type StageResult struct {
	Name      string        `json:"name"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Rows      int64         `json:"rows,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RunStats aggregates a whole run. Read-only once Run returns.
type RunStats struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Stages    []StageResult          `json:"stages"`
	Tables    []transfer.TableResult `json:"tables,omitempty"`
}

// Failed reports whether any stage recorded a failure.
func (s *RunStats) Failed() bool {
	for _, st := range s.Stages {
		if st.Failed > 0 || st.Error != "" {
			return true
		}
	}
	return false
}

// MirrorFunc copies the object-storage area; replaceable in tests.
type MirrorFunc func(ctx context.Context, cfg *config.StorageConfig) (storage.Stats, error)

// Orchestrator drives one migration run.
type Orchestrator struct {
	cfg      *config.Config
	src      DB
	dst      DB
	notifier *notify.Notifier
	mirror   MirrorFunc
	showBar  bool
}

// New creates an orchestrator over established source and target
// connections.
func New(cfg *config.Config, src, dst DB) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		src:      src,
		dst:      dst,
		notifier: notify.New(cfg.Slack),
		mirror:   storage.Mirror,
	}
}

// WithMirror replaces the storage mirror implementation.
func (o *Orchestrator) WithMirror(m MirrorFunc) *Orchestrator {
	o.mirror = m
	return o
}

// WithProgressBar enables terminal progress rendering for the data stage.
func (o *Orchestrator) WithProgressBar(enabled bool) *Orchestrator {
	o.showBar = enabled
	return o
}

// SelectStages returns the requested stages in canonical order. An empty
// request selects every stage. Unknown names are an error.
func SelectStages(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return stageOrder, nil
	}
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		found := false
		for _, s := range stageOrder {
			if r == s {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown stage %q", r)
		}
		want[r] = true
	}
	var out []string
	for _, s := range stageOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Run executes the selected stages and returns run statistics. Only a
// connection-level failure returns a non-nil error; everything else is
// reported through the statistics.
func (o *Orchestrator) Run(ctx context.Context) (*RunStats, error) {
	stages, err := SelectStages(o.cfg.Migration.Stages)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{
		RunID:     uuid.New().String()[:8],
		StartedAt: time.Now(),
	}
	logging.Info("run %s starting: stages %v", stats.RunID, stages)

	snap, err := o.extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("extracting source metadata: %w", err)
	}
	order := depgraph.Build(snap.Tables, snap.ForeignKeys).Resolve()
	orderTables(snap, order)

	if err := o.notifier.MigrationStarted(stats.RunID, o.cfg.Source.Host, o.cfg.Target.Host, len(snap.Tables)); err != nil {
		logging.Warn("start notification failed: %v", err)
	}

	for _, stage := range stages {
		res, fatal := o.runStage(ctx, stage, snap, order, stats)
		stats.Stages = append(stats.Stages, res)
		if fatal != nil {
			stats.Duration = time.Since(stats.StartedAt)
			if nerr := o.notifier.MigrationFailed(stats.RunID, fatal, stats.Duration); nerr != nil {
				logging.Warn("failure notification failed: %v", nerr)
			}
			return stats, fatal
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	o.notifyCompleted(stats)
	return stats, nil
}

func (o *Orchestrator) notifyCompleted(stats *RunStats) {
	var rows int64
	tables := 0
	for _, st := range stats.Stages {
		if st.Name == StageData {
			rows = st.Rows
			tables = st.Succeeded
		}
	}
	perSec := 0.0
	if s := stats.Duration.Seconds(); s > 0 {
		perSec = float64(rows) / s
	}
	if err := o.notifier.MigrationCompleted(stats.RunID, stats.StartedAt, stats.Duration, tables, rows, perSec); err != nil {
		logging.Warn("completion notification failed: %v", err)
	}
}

func (o *Orchestrator) extract(ctx context.Context) (*catalog.Snapshot, error) {
	return catalog.New(o.src, &o.cfg.Migration).Snapshot(ctx)
}

// orderTables rearranges snapshot tables to match the dependency order so
// rendered DDL and data transfer both respect parent-before-child.
func orderTables(snap *catalog.Snapshot, order []string) {
	byName := make(map[string]catalog.Table, len(snap.Tables))
	for _, t := range snap.Tables {
		byName[t.FullName()] = t
	}
	ordered := make([]catalog.Table, 0, len(snap.Tables))
	for _, name := range order {
		if t, ok := byName[name]; ok {
			ordered = append(ordered, t)
		}
	}
	snap.Tables = ordered
}

func (o *Orchestrator) runStage(ctx context.Context, stage string, snap *catalog.Snapshot, order []string, stats *RunStats) (StageResult, error) {
	start := time.Now()
	res := StageResult{Name: stage}
	logging.Info("stage %s starting", stage)

	var err error
	switch stage {
	case StageSchema:
		err = o.applyDoc(ctx, &res, export.New().SchemaSQL(snap))
	case StageFunctions:
		sub := &catalog.Snapshot{Functions: snap.Functions}
		err = o.applyDoc(ctx, &res, export.New().RoutinesSQL(sub))
	case StageTriggers:
		sub := &catalog.Snapshot{Triggers: snap.Triggers}
		err = o.applyDoc(ctx, &res, export.New().RoutinesSQL(sub))
	case StageData:
		err = o.runData(ctx, &res, snap, order, stats)
	case StageRowSecurity:
		err = o.applyDoc(ctx, &res, export.New().SecuritySQL(snap))
	case StageGrants:
		err = o.applyDoc(ctx, &res, export.New().GrantsSQL(snap))
	case StageStorage:
		err = o.runStorage(ctx, &res)
	case StageVerify:
		err = o.runVerify(ctx, &res, snap)
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		logging.Error("stage %s aborted: %v", stage, err)
		return res, err
	}
	logging.Info("stage %s done: %d ok, %d skipped, %d failed in %s",
		stage, res.Succeeded, res.Skipped, res.Failed, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) applyDoc(ctx context.Context, res *StageResult, doc string) error {
	r, err := apply.New(o.dst).ApplyScript(ctx, doc)
	res.Succeeded = r.Succeeded + r.Skipped
	res.Skipped = r.Skipped
	res.Failed = r.Failed
	return err
}

func (o *Orchestrator) runData(ctx context.Context, res *StageResult, snap *catalog.Snapshot, order []string, stats *RunStats) error {
	tracker := progress.New(o.showBar)
	var total int64
	for _, t := range snap.Tables {
		total += t.RowCount
	}
	tracker.SetTotal(total)

	eng := transfer.New(o.src, o.dst, o.cfg.Migration.PageSize).
		WithProgress(tracker.Add)
	results, tstats, err := eng.TransferAll(ctx, snap.Tables, order)
	stats.Tables = results
	res.Succeeded = tstats.TablesMigrated
	res.Skipped = tstats.TablesSkipped
	res.Failed = tstats.TablesFailed
	res.Rows = tstats.RowsMigrated
	tracker.Finish()
	return err
}

func (o *Orchestrator) runStorage(ctx context.Context, res *StageResult) error {
	s, err := o.mirror(ctx, &o.cfg.Storage)
	if errors.Is(err, storage.ErrMissingCredentials) {
		logging.Warn("storage stage skipped: credentials not configured")
		res.Skipped = 1
		return nil
	}
	if err != nil {
		res.Failed++
		logging.Error("storage stage failed: %v", err)
		return nil
	}
	res.Succeeded = s.BucketsMigrated + s.FilesMigrated
	res.Failed = s.BucketsFailed + s.FilesFailed
	return nil
}

// runVerify compares per-table row counts between source and target. A
// mismatch or count failure marks the table failed; verification never
// aborts the run.
func (o *Orchestrator) runVerify(ctx context.Context, res *StageResult, snap *catalog.Snapshot) error {
	for _, t := range snap.Tables {
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s", catalog.QuoteQualified(t.Schema, t.Name))

		var srcCount, dstCount int64
		if err := o.src.QueryRow(ctx, q).Scan(&srcCount); err != nil {
			res.Failed++
			logging.Error("verify %s: counting source rows: %v", t.FullName(), err)
			continue
		}
		if err := o.dst.QueryRow(ctx, q).Scan(&dstCount); err != nil {
			res.Failed++
			logging.Error("verify %s: counting target rows: %v", t.FullName(), err)
			continue
		}
		if srcCount != dstCount {
			res.Failed++
			logging.Error("verify %s: source has %d rows, target has %d", t.FullName(), srcCount, dstCount)
			continue
		}
		res.Succeeded++
	}
	return nil
}

// Plan prints the stages and objects a run would touch without mutating
// anything. Extraction is the only database activity.
func (o *Orchestrator) Plan(ctx context.Context) error {
	stages, err := SelectStages(o.cfg.Migration.Stages)
	if err != nil {
		return err
	}
	snap, err := o.extract(ctx)
	if err != nil {
		return fmt.Errorf("extracting source metadata: %w", err)
	}
	order := depgraph.Build(snap.Tables, snap.ForeignKeys).Resolve()

	fmt.Printf("Stages: %v\n\n", stages)
	fmt.Printf("Tables (%d, in dependency order):\n", len(order))
	for _, name := range order {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("Sequences: %d\nEnums: %d\nIndexes: %d\nConstraints: %d\nViews: %d\n",
		len(snap.Sequences), len(snap.Enums), len(snap.Indexes), len(snap.Constraints), len(snap.Views))
	fmt.Printf("Functions: %d\nTriggers: %d\nPolicies: %d\nGrants: %d\n",
		len(snap.Functions), len(snap.Triggers), len(snap.Policies), len(snap.Grants))
	return nil
}

// Export renders all documents for the source catalog and writes them under
// dir, one file per category plus a combined script.
func (o *Orchestrator) Export(ctx context.Context, dir string) error {
	snap, err := o.extract(ctx)
	if err != nil {
		return fmt.Errorf("extracting source metadata: %w", err)
	}
	order := depgraph.Build(snap.Tables, snap.ForeignKeys).Resolve()
	orderTables(snap, order)

	docs := export.New().Render(snap)
	files := map[string]string{
		"schema.sql":   docs.Schema,
		"routines.sql": docs.Routines,
		"security.sql": docs.Security,
		"grants.sql":   docs.Grants,
		"combined.sql": docs.Combined(),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		logging.Info("wrote %s", path)
	}
	return nil
}

// Apply replays a SQL file against the target with the standard
// classification policy.
func (o *Orchestrator) Apply(ctx context.Context, path string) (apply.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apply.Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return apply.New(o.dst).ApplyScript(ctx, string(data))
}

// PrintSummary writes a human-readable run summary to stdout.
func PrintSummary(stats *RunStats) {
	fmt.Printf("\nRun %s finished in %s\n", stats.RunID, stats.Duration.Round(time.Millisecond))
	for _, st := range stats.Stages {
		line := fmt.Sprintf("  %-13s %d ok, %d skipped, %d failed", st.Name, st.Succeeded, st.Skipped, st.Failed)
		if st.Rows > 0 {
			line += fmt.Sprintf(", %d rows", st.Rows)
		}
		if st.Error != "" {
			line += " (aborted: " + st.Error + ")"
		}
		fmt.Println(line)
	}
	for _, t := range stats.Tables {
		if t.Status == transfer.StatusFailed {
			fmt.Printf("  table %s failed: %s\n", t.Table, t.Error)
		}
	}
}
