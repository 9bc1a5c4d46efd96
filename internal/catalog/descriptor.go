// Package catalog extracts typed object descriptors from a source database
// catalog. All queries are read-only; descriptors are created fresh per
// extraction call and never mutated afterward. Ordering carried by the
// catalog (column order, enum label order) is preserved exactly because it
// is semantically significant.
package catalog

// Table describes one base table with its ordered column list.
type Table struct {
	Schema     string   `json:"schema"`
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
	RowCount   int64    `json:"row_count"`
}

// FullName returns schema.table format.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// HasPK returns true if the table has a primary key.
func (t *Table) HasPK() bool {
	return len(t.PrimaryKey) > 0
}

// Column describes a table column in its catalog-declared position.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	NotNull    bool   `json:"not_null"`
	Default    string `json:"default,omitempty"`
	OrdinalPos int    `json:"ordinal_position"`
}

// Sequence describes a sequence with its parameters and current value.
type Sequence struct {
	Schema    string `json:"schema"`
	Name      string `json:"name"`
	DataType  string `json:"data_type,omitempty"`
	Start     int64  `json:"start_value"`
	Min       int64  `json:"min_value"`
	Max       int64  `json:"max_value"`
	Increment int64  `json:"increment_by"`
	Cache     int64  `json:"cache_size"`
	Cycle     bool   `json:"cycle"`
	LastValue int64  `json:"last_value"`
}

// FullName returns schema.sequence format.
func (s *Sequence) FullName() string {
	return s.Schema + "." + s.Name
}

// Enum describes an enum type with its labels in declared order.
type Enum struct {
	Schema string   `json:"schema"`
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// FullName returns schema.type format.
func (e *Enum) FullName() string {
	return e.Schema + "." + e.Name
}

// Index describes a non-primary-key index via its full definition.
type Index struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// ConstraintKind classifies a table constraint.
type ConstraintKind string

const (
	ConstraintPrimary ConstraintKind = "primary"
	ConstraintUnique  ConstraintKind = "unique"
	ConstraintCheck   ConstraintKind = "check"
	ConstraintForeign ConstraintKind = "foreign"
)

// Constraint describes one table constraint with its rendered definition.
type Constraint struct {
	Schema     string         `json:"schema"`
	Table      string         `json:"table"`
	Name       string         `json:"name"`
	Kind       ConstraintKind `json:"kind"`
	Definition string         `json:"definition"`
}

// View describes a view and its SELECT body.
type View struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// FullName returns schema.view format.
func (v *View) FullName() string {
	return v.Schema + "." + v.Name
}

// Function describes a routine via its complete CREATE statement, including
// the dollar-quoted body exactly as the catalog renders it. IdentityArgs is
// the argument list that identifies this overload in a DROP statement; Kind
// distinguishes plain functions ("f") from procedures ("p").
type Function struct {
	Schema       string `json:"schema"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	IdentityArgs string `json:"identity_args,omitempty"`
	Definition   string `json:"definition"`
}

// FullName returns schema.function format.
func (f *Function) FullName() string {
	return f.Schema + "." + f.Name
}

// Trigger describes a user trigger via its complete CREATE statement.
type Trigger struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Policy describes one row-level security policy.
type Policy struct {
	Schema     string   `json:"schema"`
	Table      string   `json:"table"`
	Name       string   `json:"name"`
	Permissive bool     `json:"permissive"`
	Command    string   `json:"command"`
	Roles      []string `json:"roles"`
	Using      string   `json:"using,omitempty"`
	WithCheck  string   `json:"with_check,omitempty"`
}

// Grant associates a grantee role with a set of privileges on one table.
type Grant struct {
	Grantee    string   `json:"grantee"`
	Schema     string   `json:"schema"`
	Table      string   `json:"table"`
	Privileges []string `json:"privileges"`
}

// Extension names an installed extension and the schema holding it.
type Extension struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// ForeignKeyRef is one child→parent table reference used to build the
// dependency graph. Only same-extraction references become graph edges.
type ForeignKeyRef struct {
	ChildSchema  string `json:"child_schema"`
	ChildTable   string `json:"child_table"`
	ParentSchema string `json:"parent_schema"`
	ParentTable  string `json:"parent_table"`
}
