package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgmove/pgmove/internal/config"
)

// Querier is the subset of pgxpool.Pool the extractor needs. Tests and the
// applier can substitute any implementation.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Extractor reads object descriptors from the source catalog for a
// configured allow-list of schemas, excluding a configured deny-list of
// tables. A catalog query failure is fatal to the extraction call and
// propagates to the caller; nothing is retried.
type Extractor struct {
	db  Querier
	cfg *config.MigrationConfig
}

// New creates an extractor over the given catalog connection.
func New(db Querier, cfg *config.MigrationConfig) *Extractor {
	return &Extractor{db: db, cfg: cfg}
}

// Schemas returns the configured schema allow-list, in configuration order.
func (e *Extractor) Schemas() []string {
	out := make([]string, len(e.cfg.Schemas))
	copy(out, e.cfg.Schemas)
	return out
}

// Extensions returns installed extensions, excluding the built-in plpgsql.
func (e *Extractor) Extensions(ctx context.Context) ([]Extension, error) {
	rows, err := e.db.Query(ctx, `
		SELECT e.extname, n.nspname
		FROM pg_extension e
		JOIN pg_namespace n ON n.oid = e.extnamespace
		WHERE e.extname <> 'plpgsql'
		ORDER BY e.extname`)
	if err != nil {
		return nil, fmt.Errorf("querying extensions: %w", err)
	}
	defer rows.Close()

	var out []Extension
	for rows.Next() {
		var ext Extension
		if err := rows.Scan(&ext.Name, &ext.Schema); err != nil {
			return nil, fmt.Errorf("scanning extension: %w", err)
		}
		out = append(out, ext)
	}
	return out, rows.Err()
}

// Tables returns table descriptors with ordered columns, primary key
// columns, and row counts, excluding deny-listed tables.
func (e *Extractor) Tables(ctx context.Context) ([]Table, error) {
	rows, err := e.db.Query(ctx, `
		SELECT schemaname, tablename
		FROM pg_tables
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, tablename`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		if e.cfg.IsExcluded(t.Name) {
			continue
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if err := e.loadColumns(ctx, t); err != nil {
			return nil, fmt.Errorf("loading columns for %s: %w", t.FullName(), err)
		}
		if err := e.loadPrimaryKey(ctx, t); err != nil {
			return nil, fmt.Errorf("loading primary key for %s: %w", t.FullName(), err)
		}
		if err := e.loadRowCount(ctx, t); err != nil {
			return nil, fmt.Errorf("loading row count for %s: %w", t.FullName(), err)
		}
	}

	return tables, nil
}

func (e *Extractor) loadColumns(ctx context.Context, t *Table) error {
	rows, err := e.db.Query(ctx, `
		SELECT a.attname,
		       pg_catalog.format_type(a.atttypid, a.atttypmod),
		       a.attnotnull,
		       COALESCE(pg_get_expr(ad.adbin, ad.adrelid), ''),
		       a.attnum
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_attrdef ad ON a.attrelid = ad.adrelid AND a.attnum = ad.adnum
		WHERE n.nspname = $1 AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.NotNull, &c.Default, &c.OrdinalPos); err != nil {
			return err
		}
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (e *Extractor) loadPrimaryKey(ctx context.Context, t *Table) error {
	rows, err := e.db.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = $1 AND c.relname = $2
		  AND i.indisprimary
		ORDER BY a.attnum`, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	return rows.Err()
}

func (e *Extractor) loadRowCount(ctx context.Context, t *Table) error {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, QuoteQualified(t.Schema, t.Name))
	return e.db.QueryRow(ctx, query).Scan(&t.RowCount)
}

// Sequences returns sequence descriptors including the current value, used
// to restore sequence positions on the target.
func (e *Extractor) Sequences(ctx context.Context) ([]Sequence, error) {
	rows, err := e.db.Query(ctx, `
		SELECT schemaname, sequencename,
		       COALESCE(data_type::text, ''),
		       start_value, min_value, max_value, increment_by,
		       COALESCE(cache_size, 1), cycle,
		       COALESCE(last_value, start_value)
		FROM pg_sequences
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, sequencename`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying sequences: %w", err)
	}
	defer rows.Close()

	var out []Sequence
	for rows.Next() {
		var s Sequence
		if err := rows.Scan(&s.Schema, &s.Name, &s.DataType,
			&s.Start, &s.Min, &s.Max, &s.Increment, &s.Cache, &s.Cycle, &s.LastValue); err != nil {
			return nil, fmt.Errorf("scanning sequence: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Enums returns enum types with labels in their declared sort order.
func (e *Extractor) Enums(ctx context.Context) ([]Enum, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname, t.typname, en.enumlabel
		FROM pg_type t
		JOIN pg_enum en ON t.oid = en.enumtypid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = ANY($1)
		ORDER BY n.nspname, t.typname, en.enumsortorder`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying enum types: %w", err)
	}
	defer rows.Close()

	var out []Enum
	for rows.Next() {
		var schema, name, label string
		if err := rows.Scan(&schema, &name, &label); err != nil {
			return nil, fmt.Errorf("scanning enum label: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Schema == schema && out[n-1].Name == name {
			out[n-1].Labels = append(out[n-1].Labels, label)
		} else {
			out = append(out, Enum{Schema: schema, Name: name, Labels: []string{label}})
		}
	}
	return out, rows.Err()
}

// Indexes returns non-primary-key indexes that do not back a constraint.
// Constraint-backed indexes are recreated by their constraints instead.
func (e *Extractor) Indexes(ctx context.Context) ([]Index, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname, t.relname, ic.relname, pg_get_indexdef(i.indexrelid)
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = ANY($1)
		  AND t.relkind = 'r'
		  AND NOT i.indisprimary
		  AND NOT EXISTS (
			SELECT 1 FROM pg_constraint con WHERE con.conindid = i.indexrelid
		  )
		ORDER BY n.nspname, t.relname, ic.relname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var out []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Schema, &idx.Table, &idx.Name, &idx.Definition); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		if e.cfg.IsExcluded(idx.Table) {
			continue
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// Constraints returns all table constraints with their rendered definitions.
func (e *Extractor) Constraints(ctx context.Context) ([]Constraint, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname, t.relname, c.conname, c.contype::text,
		       pg_get_constraintdef(c.oid)
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = ANY($1)
		  AND c.contype IN ('p', 'u', 'c', 'f')
		ORDER BY n.nspname, t.relname, c.conname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying constraints: %w", err)
	}
	defer rows.Close()

	var out []Constraint
	for rows.Next() {
		var con Constraint
		var contype string
		if err := rows.Scan(&con.Schema, &con.Table, &con.Name, &contype, &con.Definition); err != nil {
			return nil, fmt.Errorf("scanning constraint: %w", err)
		}
		if e.cfg.IsExcluded(con.Table) {
			continue
		}
		switch contype {
		case "p":
			con.Kind = ConstraintPrimary
		case "u":
			con.Kind = ConstraintUnique
		case "c":
			con.Kind = ConstraintCheck
		case "f":
			con.Kind = ConstraintForeign
		}
		out = append(out, con)
	}
	return out, rows.Err()
}

// Views returns view descriptors with their SELECT bodies.
func (e *Extractor) Views(ctx context.Context) ([]View, error) {
	rows, err := e.db.Query(ctx, `
		SELECT schemaname, viewname, definition
		FROM pg_views
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, viewname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying views: %w", err)
	}
	defer rows.Close()

	var out []View
	for rows.Next() {
		var v View
		if err := rows.Scan(&v.Schema, &v.Name, &v.Definition); err != nil {
			return nil, fmt.Errorf("scanning view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Functions returns plain functions and procedures with their complete
// definitions as the catalog renders them, dollar-quoted bodies included.
func (e *Extractor) Functions(ctx context.Context) ([]Function, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname, p.proname, p.prokind::text,
		       pg_get_function_identity_arguments(p.oid),
		       pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = ANY($1)
		  AND p.prokind IN ('f', 'p')
		ORDER BY n.nspname, p.proname, p.oid`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()

	var out []Function
	for rows.Next() {
		var f Function
		if err := rows.Scan(&f.Schema, &f.Name, &f.Kind, &f.IdentityArgs, &f.Definition); err != nil {
			return nil, fmt.Errorf("scanning function: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Triggers returns user triggers with their complete definitions.
func (e *Extractor) Triggers(ctx context.Context) ([]Trigger, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname, c.relname, t.tgname, pg_get_triggerdef(t.oid)
		FROM pg_trigger t
		JOIN pg_class c ON c.oid = t.tgrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = ANY($1)
		  AND NOT t.tgisinternal
		ORDER BY n.nspname, c.relname, t.tgname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		var tr Trigger
		if err := rows.Scan(&tr.Schema, &tr.Table, &tr.Name, &tr.Definition); err != nil {
			return nil, fmt.Errorf("scanning trigger: %w", err)
		}
		if e.cfg.IsExcluded(tr.Table) {
			continue
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Policies returns row-level security policies. The roles aggregate may
// arrive from the driver as a native list or an array literal; it is
// normalized here and never escapes raw.
func (e *Extractor) Policies(ctx context.Context) ([]Policy, error) {
	rows, err := e.db.Query(ctx, `
		SELECT schemaname, tablename, policyname,
		       permissive, roles, COALESCE(cmd, 'ALL'),
		       COALESCE(qual, ''), COALESCE(with_check, '')
		FROM pg_policies
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, tablename, policyname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		var permissive string
		var roles any
		if err := rows.Scan(&p.Schema, &p.Table, &p.Name,
			&permissive, &roles, &p.Command, &p.Using, &p.WithCheck); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		if e.cfg.IsExcluded(p.Table) {
			continue
		}
		p.Permissive = permissive == "PERMISSIVE"
		p.Roles = NormalizeList(roles)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Grants returns per-grantee privilege sets on tables, excluding grants to
// the table owner and to the implicit superuser role. The privilege
// aggregate is normalized like the policy roles.
func (e *Extractor) Grants(ctx context.Context) ([]Grant, error) {
	rows, err := e.db.Query(ctx, `
		SELECT grantee, table_schema, table_name,
		       array_agg(privilege_type ORDER BY privilege_type)
		FROM information_schema.role_table_grants
		WHERE table_schema = ANY($1)
		  AND grantee NOT IN ('postgres')
		  AND grantee <> CURRENT_USER
		GROUP BY grantee, table_schema, table_name
		ORDER BY table_schema, table_name, grantee`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		var privs any
		if err := rows.Scan(&g.Grantee, &g.Schema, &g.Table, &privs); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		if e.cfg.IsExcluded(g.Table) {
			continue
		}
		g.Privileges = NormalizeList(privs)
		out = append(out, g)
	}
	return out, rows.Err()
}

// RLSEnabledTables returns tables that have row-level security enabled,
// whether or not they carry policies.
func (e *Extractor) RLSEnabledTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.Query(ctx, `
		SELECT n.nspname || '.' || c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = ANY($1)
		  AND c.relkind = 'r'
		  AND c.relrowsecurity
		ORDER BY 1`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying row security flags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning row security flag: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ForeignKeys returns child→parent table references for the dependency
// graph. References to excluded tables are dropped here so the graph never
// sees them.
func (e *Extractor) ForeignKeys(ctx context.Context) ([]ForeignKeyRef, error) {
	rows, err := e.db.Query(ctx, `
		SELECT cn.nspname, cl.relname, pn.nspname, pl.relname
		FROM pg_constraint c
		JOIN pg_class cl ON cl.oid = c.conrelid
		JOIN pg_namespace cn ON cn.oid = cl.relnamespace
		JOIN pg_class pl ON pl.oid = c.confrelid
		JOIN pg_namespace pn ON pn.oid = pl.relnamespace
		WHERE c.contype = 'f'
		  AND cn.nspname = ANY($1)
		ORDER BY cn.nspname, cl.relname`, e.cfg.Schemas)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var out []ForeignKeyRef
	for rows.Next() {
		var fk ForeignKeyRef
		if err := rows.Scan(&fk.ChildSchema, &fk.ChildTable, &fk.ParentSchema, &fk.ParentTable); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		if e.cfg.IsExcluded(fk.ChildTable) || e.cfg.IsExcluded(fk.ParentTable) {
			continue
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}
