// Package depgraph orders tables so that every parent referenced by a
// foreign key loads before its children. Cycles do not fail resolution:
// a table reached while already on the visit stack is emitted at that
// point and its remaining edges are skipped, so mutually referencing
// tables still produce a usable order.
package depgraph

import (
	"sort"

	"github.com/pgmove/pgmove/internal/catalog"
	"github.com/pgmove/pgmove/internal/logging"
)

// Graph holds child→parents adjacency over qualified table names.
type Graph struct {
	nodes   []string
	parents map[string][]string
}

// Build constructs the graph from the extracted table set and foreign key
// references. Edges pointing outside the table set are ignored.
func Build(tables []catalog.Table, refs []catalog.ForeignKeyRef) *Graph {
	g := &Graph{parents: make(map[string][]string)}

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		name := t.FullName()
		g.nodes = append(g.nodes, name)
		known[name] = true
	}

	for _, r := range refs {
		child := r.ChildSchema + "." + r.ChildTable
		parent := r.ParentSchema + "." + r.ParentTable
		if !known[child] || !known[parent] || child == parent {
			continue
		}
		g.parents[child] = append(g.parents[child], parent)
	}

	sort.Strings(g.nodes)
	for _, ps := range g.parents {
		sort.Strings(ps)
	}
	return g
}

// Resolve returns every table exactly once, parents before children
// wherever the reference structure allows it.
func (g *Graph) Resolve() []string {
	visited := make(map[string]bool, len(g.nodes))
	visiting := make(map[string]bool)
	order := make([]string, 0, len(g.nodes))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		if visiting[name] {
			// Cycle: emit now rather than fail. Data load order inside a
			// cycle cannot satisfy both sides anyway.
			logging.Warn("circular table reference involving %s, keeping best-effort order", name)
			visited[name] = true
			order = append(order, name)
			return
		}
		visiting[name] = true
		for _, p := range g.parents[name] {
			visit(p)
		}
		delete(visiting, name)
		if !visited[name] {
			visited[name] = true
			order = append(order, name)
		}
	}

	for _, n := range g.nodes {
		visit(n)
	}
	return order
}

// Parents returns the direct parent tables of the named child, or nil.
func (g *Graph) Parents(name string) []string {
	return g.parents[name]
}
