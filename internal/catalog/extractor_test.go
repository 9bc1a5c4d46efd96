package catalog

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgmove/pgmove/internal/config"
)

// fakeRows implements pgx.Rows over an in-memory result set.
type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.rows[r.idx-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

func assign(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan mismatch: %d values, %d targets", len(vals), len(dest))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *any:
			*d = v
		default:
			return fmt.Errorf("unsupported scan target %T", dest[i])
		}
	}
	return nil
}

// fakeDB routes queries to canned result sets by SQL fragment.
type fakeDB struct {
	results map[string][][]any
}

func (db *fakeDB) lookup(sql string) [][]any {
	for frag, rows := range db.results {
		if strings.Contains(sql, frag) {
			return rows
		}
	}
	return nil
}

func (db *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return &fakeRows{rows: db.lookup(sql)}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	rows := db.lookup(sql)
	if len(rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: rows[0]}
}

func testConfig(excluded ...string) *config.MigrationConfig {
	return &config.MigrationConfig{
		Schemas:       []string{"public"},
		ExcludeTables: excluded,
		PageSize:      1000,
	}
}

func TestSchemasReturnsCopy(t *testing.T) {
	cfg := testConfig()
	ex := New(&fakeDB{}, cfg)
	got := ex.Schemas()
	got[0] = "mutated"
	if cfg.Schemas[0] != "public" {
		t.Fatal("Schemas() leaked the configured slice")
	}
}

func TestTablesLoadsColumnsAndPK(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_tables":    {{"public", "users"}},
		"FROM pg_attribute": {{"id", "bigint", true, "", 1}, {"email", "text", true, "", 2}},
		"FROM pg_index":     {{"id"}},
		"SELECT COUNT(*)":   {{int64(42)}},
	}}
	ex := New(db, testConfig())

	tables, err := ex.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	tab := tables[0]
	if tab.FullName() != "public.users" {
		t.Errorf("full name = %q", tab.FullName())
	}
	if len(tab.Columns) != 2 || tab.Columns[0].Name != "id" || tab.Columns[1].Name != "email" {
		t.Errorf("columns = %+v", tab.Columns)
	}
	if !tab.HasPK() || tab.PrimaryKey[0] != "id" {
		t.Errorf("primary key = %v", tab.PrimaryKey)
	}
	if tab.RowCount != 42 {
		t.Errorf("row count = %d, want 42", tab.RowCount)
	}
}

func TestTablesSkipsExcluded(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_tables": {{"public", "users"}, {"public", "audit_log"}},
		"FROM pg_index":  {},
		"SELECT COUNT(*)": {
			{int64(0)},
		},
	}}
	ex := New(db, testConfig("audit_log"))

	tables, err := ex.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "users" {
		t.Fatalf("exclusion not applied: %+v", tables)
	}
}

func TestEnumsGroupLabelsInOrder(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_type": {
			{"public", "mood", "sad"},
			{"public", "mood", "ok"},
			{"public", "mood", "happy"},
			{"public", "status", "active"},
		},
	}}
	ex := New(db, testConfig())

	enums, err := ex.Enums(context.Background())
	if err != nil {
		t.Fatalf("Enums: %v", err)
	}
	if len(enums) != 2 {
		t.Fatalf("got %d enums, want 2", len(enums))
	}
	if !reflect.DeepEqual(enums[0].Labels, []string{"sad", "ok", "happy"}) {
		t.Errorf("mood labels = %v, order must match catalog sort order", enums[0].Labels)
	}
	if enums[1].Name != "status" || len(enums[1].Labels) != 1 {
		t.Errorf("status enum = %+v", enums[1])
	}
}

func TestPoliciesNormalizeRolesFromLiteral(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_policies": {
			{"public", "docs", "tenant_read", "PERMISSIVE", "{admin,app_user}", "SELECT", "tenant_id = current_tenant()", ""},
		},
	}}
	ex := New(db, testConfig())

	pols, err := ex.Policies(context.Background())
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	if len(pols) != 1 {
		t.Fatalf("got %d policies, want 1", len(pols))
	}
	p := pols[0]
	if !p.Permissive {
		t.Error("expected permissive policy")
	}
	if !reflect.DeepEqual(p.Roles, []string{"admin", "app_user"}) {
		t.Errorf("roles = %v, want [admin app_user]", p.Roles)
	}
}

func TestPoliciesNormalizeRolesFromSlice(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_policies": {
			{"public", "docs", "tenant_write", "RESTRICTIVE", []any{"admin"}, "ALL", "", "tenant_id = current_tenant()"},
		},
	}}
	ex := New(db, testConfig())

	pols, err := ex.Policies(context.Background())
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	p := pols[0]
	if p.Permissive {
		t.Error("expected restrictive policy")
	}
	if !reflect.DeepEqual(p.Roles, []string{"admin"}) {
		t.Errorf("roles = %v, want [admin]", p.Roles)
	}
}

func TestGrantsNormalizePrivileges(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"role_table_grants": {
			{"app_reader", "public", "users", "{SELECT}"},
			{"app_writer", "public", "users", []any{"INSERT", "SELECT", "UPDATE"}},
		},
	}}
	ex := New(db, testConfig())

	grants, err := ex.Grants(context.Background())
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
	if !reflect.DeepEqual(grants[0].Privileges, []string{"SELECT"}) {
		t.Errorf("reader privileges = %v", grants[0].Privileges)
	}
	if !reflect.DeepEqual(grants[1].Privileges, []string{"INSERT", "SELECT", "UPDATE"}) {
		t.Errorf("writer privileges = %v", grants[1].Privileges)
	}
}

func TestTriggersSkipExcludedTables(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"FROM pg_trigger": {
			{"public", "users", "users_audit", "CREATE TRIGGER users_audit ..."},
			{"public", "scratch", "scratch_audit", "CREATE TRIGGER scratch_audit ..."},
		},
	}}
	ex := New(db, testConfig("scratch"))

	trs, err := ex.Triggers(context.Background())
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if len(trs) != 1 || trs[0].Name != "users_audit" {
		t.Fatalf("exclusion not applied: %+v", trs)
	}
}

func TestForeignKeysDropEdgesTouchingExcluded(t *testing.T) {
	db := &fakeDB{results: map[string][][]any{
		"contype = 'f'": {
			{"public", "orders", "public", "users"},
			{"public", "orders", "public", "scratch"},
			{"public", "scratch", "public", "users"},
		},
	}}
	ex := New(db, testConfig("scratch"))

	fks, err := ex.ForeignKeys(context.Background())
	if err != nil {
		t.Fatalf("ForeignKeys: %v", err)
	}
	if len(fks) != 1 {
		t.Fatalf("got %d edges, want 1: %+v", len(fks), fks)
	}
	if fks[0].ChildTable != "orders" || fks[0].ParentTable != "users" {
		t.Errorf("edge = %+v", fks[0])
	}
}

func TestQuoteQualified(t *testing.T) {
	if got := QuoteQualified("public", "users"); got != `"public"."users"` {
		t.Errorf("QuoteQualified = %q", got)
	}
	if got := QuoteIdent(`odd"name`); got != `"odd""name"` {
		t.Errorf("QuoteIdent = %q", got)
	}
}
