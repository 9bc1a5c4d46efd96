// Package export renders catalog snapshots to SQL documents. Section order
// is fixed so repeated exports of the same snapshot are byte-identical
// apart from the banner timestamp, and so applying the schema document top
// to bottom never references an object before it exists.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pgmove/pgmove/internal/catalog"
)

// Documents holds the rendered output, one document per category.
type Documents struct {
	Schema   string `json:"schema"`
	Routines string `json:"routines"`
	Security string `json:"security"`
	Grants   string `json:"grants"`
}

// Combined joins all documents into one script in apply order.
func (d Documents) Combined() string {
	return d.Schema + "\n" + d.Routines + "\n" + d.Security + "\n" + d.Grants
}

// Exporter renders snapshots. The clock is injectable for tests.
type Exporter struct {
	now func() time.Time
}

// New creates an exporter using the wall clock.
func New() *Exporter {
	return &Exporter{now: time.Now}
}

// NewAt creates an exporter with a fixed clock.
func NewAt(now func() time.Time) *Exporter {
	return &Exporter{now: now}
}

// Render produces all documents for a snapshot.
func (e *Exporter) Render(s *catalog.Snapshot) Documents {
	return Documents{
		Schema:   e.SchemaSQL(s),
		Routines: e.RoutinesSQL(s),
		Security: e.SecuritySQL(s),
		Grants:   e.GrantsSQL(s),
	}
}

func (e *Exporter) banner(title string) string {
	return fmt.Sprintf("-- pgmove: %s\n-- generated %s\n\n", title, e.now().UTC().Format(time.RFC3339))
}

// SchemaSQL renders structural objects: schemas, extensions, enum types,
// sequences with value restores, tables, non-foreign-key constraints,
// indexes, foreign-key constraints, and views, in that order.
func (e *Exporter) SchemaSQL(s *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString(e.banner("schema"))

	for _, schema := range s.Schemas {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", catalog.QuoteIdent(schema))
	}

	for _, ext := range s.Extensions {
		fmt.Fprintf(&b, "CREATE EXTENSION IF NOT EXISTS %s", catalog.QuoteIdent(ext.Name))
		if ext.Schema != "" {
			fmt.Fprintf(&b, " SCHEMA %s", catalog.QuoteIdent(ext.Schema))
		}
		b.WriteString(";\n")
	}

	for _, en := range s.Enums {
		labels := make([]string, len(en.Labels))
		for i, l := range en.Labels {
			labels[i] = quoteLiteral(l)
		}
		fmt.Fprintf(&b, "CREATE TYPE %s AS ENUM (%s);\n",
			catalog.QuoteQualified(en.Schema, en.Name), strings.Join(labels, ", "))
	}

	for _, seq := range s.Sequences {
		writeSequence(&b, &seq)
	}

	for _, t := range s.Tables {
		writeTable(&b, &t)
	}

	for _, c := range s.Constraints {
		if c.Kind != catalog.ConstraintForeign {
			writeConstraint(&b, &c)
		}
	}

	for _, idx := range s.Indexes {
		fmt.Fprintf(&b, "%s;\n", strings.TrimRight(idx.Definition, "; \n"))
	}

	for _, c := range s.Constraints {
		if c.Kind == catalog.ConstraintForeign {
			writeConstraint(&b, &c)
		}
	}

	for _, v := range s.Views {
		fmt.Fprintf(&b, "DROP VIEW IF EXISTS %s;\n", catalog.QuoteQualified(v.Schema, v.Name))
		def := strings.TrimRight(strings.TrimSpace(v.Definition), ";")
		fmt.Fprintf(&b, "CREATE VIEW %s AS\n%s;\n", catalog.QuoteQualified(v.Schema, v.Name), def)
	}

	return b.String()
}

// RoutinesSQL renders functions and triggers, each dropped before
// recreation because its form may have changed. CREATE OR REPLACE alone is
// not enough for functions: it errors when the return type changed.
func (e *Exporter) RoutinesSQL(s *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString(e.banner("functions and triggers"))

	for _, f := range s.Functions {
		keyword := "FUNCTION"
		if f.Kind == "p" {
			keyword = "PROCEDURE"
		}
		fmt.Fprintf(&b, "DROP %s IF EXISTS %s(%s);\n",
			keyword, catalog.QuoteQualified(f.Schema, f.Name), f.IdentityArgs)
		def := strings.TrimRight(strings.TrimSpace(f.Definition), ";")
		fmt.Fprintf(&b, "%s;\n", def)
	}

	for _, tr := range s.Triggers {
		fmt.Fprintf(&b, "DROP TRIGGER IF EXISTS %s ON %s;\n",
			catalog.QuoteIdent(tr.Name), catalog.QuoteQualified(tr.Schema, tr.Table))
		def := strings.TrimRight(strings.TrimSpace(tr.Definition), ";")
		fmt.Fprintf(&b, "%s;\n", def)
	}

	return b.String()
}

// SecuritySQL renders row-security enablement and policies.
func (e *Exporter) SecuritySQL(s *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString(e.banner("row security"))

	for _, name := range s.RLSTables {
		schema, table, ok := strings.Cut(name, ".")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n",
			catalog.QuoteQualified(schema, table))
	}

	for _, p := range s.Policies {
		writePolicy(&b, &p)
	}

	return b.String()
}

// GrantsSQL renders schema usage, sequence and function grants, then table
// privilege grants, one grantee at a time.
func (e *Exporter) GrantsSQL(s *catalog.Snapshot) string {
	var b strings.Builder
	b.WriteString(e.banner("grants"))

	// Schema usage first so table grants on those schemas are reachable.
	type usageKey struct{ schema, grantee string }
	seen := make(map[usageKey]bool)
	var usages []usageKey
	for _, g := range s.Grants {
		k := usageKey{g.Schema, g.Grantee}
		if !seen[k] {
			seen[k] = true
			usages = append(usages, k)
		}
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].schema != usages[j].schema {
			return usages[i].schema < usages[j].schema
		}
		return usages[i].grantee < usages[j].grantee
	})
	for _, u := range usages {
		fmt.Fprintf(&b, "GRANT USAGE ON SCHEMA %s TO %s;\n",
			catalog.QuoteIdent(u.schema), catalog.QuoteIdent(u.grantee))
		fmt.Fprintf(&b, "GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA %s TO %s;\n",
			catalog.QuoteIdent(u.schema), catalog.QuoteIdent(u.grantee))
		fmt.Fprintf(&b, "GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA %s TO %s;\n",
			catalog.QuoteIdent(u.schema), catalog.QuoteIdent(u.grantee))
	}

	for _, g := range s.Grants {
		if len(g.Privileges) == 0 {
			continue
		}
		fmt.Fprintf(&b, "GRANT %s ON TABLE %s TO %s;\n",
			strings.Join(g.Privileges, ", "),
			catalog.QuoteQualified(g.Schema, g.Table),
			catalog.QuoteIdent(g.Grantee))
	}

	return b.String()
}

func writeSequence(b *strings.Builder, s *catalog.Sequence) {
	name := catalog.QuoteQualified(s.Schema, s.Name)
	fmt.Fprintf(b, "CREATE SEQUENCE IF NOT EXISTS %s", name)
	if s.DataType != "" {
		fmt.Fprintf(b, " AS %s", s.DataType)
	}
	fmt.Fprintf(b, " INCREMENT BY %d MINVALUE %d MAXVALUE %d START WITH %d CACHE %d",
		s.Increment, s.Min, s.Max, s.Start, s.Cache)
	if s.Cycle {
		b.WriteString(" CYCLE")
	}
	b.WriteString(";\n")
	fmt.Fprintf(b, "SELECT setval('%s', %d, true);\n", name, s.LastValue)
}

func writeTable(b *strings.Builder, t *catalog.Table) {
	fmt.Fprintf(b, "CREATE TABLE IF NOT EXISTS %s (\n", catalog.QuoteQualified(t.Schema, t.Name))
	for i, c := range t.Columns {
		fmt.Fprintf(b, "  %s %s", catalog.QuoteIdent(c.Name), c.DataType)
		if c.Default != "" {
			fmt.Fprintf(b, " DEFAULT %s", c.Default)
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");\n")
}

func writeConstraint(b *strings.Builder, c *catalog.Constraint) {
	fmt.Fprintf(b, "ALTER TABLE %s ADD CONSTRAINT %s %s;\n",
		catalog.QuoteQualified(c.Schema, c.Table),
		catalog.QuoteIdent(c.Name),
		strings.TrimRight(c.Definition, "; \n"))
}

func writePolicy(b *strings.Builder, p *catalog.Policy) {
	target := catalog.QuoteQualified(p.Schema, p.Table)
	fmt.Fprintf(b, "DROP POLICY IF EXISTS %s ON %s;\n", catalog.QuoteIdent(p.Name), target)

	fmt.Fprintf(b, "CREATE POLICY %s ON %s", catalog.QuoteIdent(p.Name), target)
	if !p.Permissive {
		b.WriteString(" AS RESTRICTIVE")
	}
	if p.Command != "" {
		fmt.Fprintf(b, " FOR %s", p.Command)
	}
	if len(p.Roles) > 0 {
		roles := make([]string, len(p.Roles))
		for i, r := range p.Roles {
			if r == "public" || r == "PUBLIC" {
				roles[i] = "PUBLIC"
			} else {
				roles[i] = catalog.QuoteIdent(r)
			}
		}
		fmt.Fprintf(b, " TO %s", strings.Join(roles, ", "))
	}
	if p.Using != "" {
		fmt.Fprintf(b, " USING (%s)", p.Using)
	}
	if p.WithCheck != "" {
		fmt.Fprintf(b, " WITH CHECK (%s)", p.WithCheck)
	}
	b.WriteString(";\n")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
