package catalog

import "context"

// Snapshot is one extraction pass over every object class. Descriptors are
// never mutated after the snapshot is built.
type Snapshot struct {
	Schemas     []string        `json:"schemas"`
	Extensions  []Extension     `json:"extensions"`
	Enums       []Enum          `json:"enums"`
	Sequences   []Sequence      `json:"sequences"`
	Tables      []Table         `json:"tables"`
	Constraints []Constraint    `json:"constraints"`
	Indexes     []Index         `json:"indexes"`
	Views       []View          `json:"views"`
	Functions   []Function      `json:"functions"`
	Triggers    []Trigger       `json:"triggers"`
	Policies    []Policy        `json:"policies"`
	Grants      []Grant         `json:"grants"`
	RLSTables   []string        `json:"rls_tables"`
	ForeignKeys []ForeignKeyRef `json:"foreign_keys"`
}

// Snapshot extracts every object class in one pass. The first query failure
// aborts the pass.
func (e *Extractor) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	var err error

	s.Schemas = e.Schemas()
	if s.Extensions, err = e.Extensions(ctx); err != nil {
		return nil, err
	}
	if s.Enums, err = e.Enums(ctx); err != nil {
		return nil, err
	}
	if s.Sequences, err = e.Sequences(ctx); err != nil {
		return nil, err
	}
	if s.Tables, err = e.Tables(ctx); err != nil {
		return nil, err
	}
	if s.Constraints, err = e.Constraints(ctx); err != nil {
		return nil, err
	}
	if s.Indexes, err = e.Indexes(ctx); err != nil {
		return nil, err
	}
	if s.Views, err = e.Views(ctx); err != nil {
		return nil, err
	}
	if s.Functions, err = e.Functions(ctx); err != nil {
		return nil, err
	}
	if s.Triggers, err = e.Triggers(ctx); err != nil {
		return nil, err
	}
	if s.Policies, err = e.Policies(ctx); err != nil {
		return nil, err
	}
	if s.Grants, err = e.Grants(ctx); err != nil {
		return nil, err
	}
	if s.RLSTables, err = e.RLSEnabledTables(ctx); err != nil {
		return nil, err
	}
	if s.ForeignKeys, err = e.ForeignKeys(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}
