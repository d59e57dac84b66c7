// Package graph builds the transitive prerequisite DAG over targets and
// variables reachable from a goal, and computes a topological execution
// order from it (spec.md §4.5–§4.6).
//
// The builder and the sort are deliberately decoupled from the resolver
// engine: both operate over a flat index space spanning
// {targets, factvars, dresvars} and a small Catalog interface, so the
// resolver can drive them without an import cycle.
package graph

import (
	"fmt"

	"github.com/kristofer/resolve/pkg/ids"
)

// Index describes the sizes of the three per-type tables that make up the
// flat adjacency index space (spec.md §4.5: "a single adjacency array is
// indexed by {targets, then factvars, then dresvars}").
type Index struct {
	NTarget  int
	NFactVar int
	NDresVar int
}

// Total returns the size of the flat index space.
func (ix Index) Total() int {
	return ix.NTarget + ix.NFactVar + ix.NDresVar
}

// Flat computes an id's slot in the flat index space: index(id) + base(tag).
func (ix Index) Flat(id ids.ID) int {
	switch id.Tag() {
	case ids.TargetTag:
		return id.Index()
	case ids.FactVarTag:
		return ix.NTarget + id.Index()
	case ids.DresVarTag:
		return ix.NTarget + ix.NFactVar + id.Index()
	default:
		panic(fmt.Sprintf("graph: tag %s has no place in the flat index space", id.Tag()))
	}
}

// Catalog is the read-only view the graph builder needs of the registered
// targets and variables (spec.md §6.2 register_target/register_factvar/
// register_dresvar populate the table this reads from).
type Catalog interface {
	TargetByName(name string) (ids.ID, bool)
	Prerequisites(target ids.ID) []ids.ID
	Counts() Index
}

// UndefinedTargetError is returned by Build when the goal names no
// registered target (spec.md §4.5: "If the target is undefined, signal
// error").
type UndefinedTargetError struct {
	Name string
}

func (e *UndefinedTargetError) Error() string {
	return fmt.Sprintf("graph: undefined target %q", e.Name)
}

// Graph is the dependency DAG built from a single goal: which flat slots
// are reachable (InGraph), the adjacency list of dependents for each
// in-graph node (Adj, keyed by source's flat index), and enough identity
// information (Nodes) to translate a flat index back to a tagged ID.
type Graph struct {
	Index  Index
	GoalID ids.ID

	InGraph []bool
	Nodes   []ids.ID
	Adj     [][]ids.ID
}

// addEdge appends dst to src's adjacency list unless it is already there
// (spec.md §4.5: "add an edge p → t ... unless already present (deduplicate
// linearly)").
func (g *Graph) addEdge(src, dst ids.ID) {
	i := g.Index.Flat(src)
	for _, existing := range g.Adj[i] {
		if existing == dst {
			return
		}
	}
	g.Adj[i] = append(g.Adj[i], dst)
}

func (g *Graph) mark(id ids.ID) {
	i := g.Index.Flat(id)
	g.InGraph[i] = true
	g.Nodes[i] = id
}

// Build constructs the dependency graph reachable from goal (spec.md §4.5).
//
// processTarget adds, for every prerequisite p of t, an edge p→t and marks
// p in-graph; if p is itself a target it is recursed into, unless already
// visited (the in-graph flag doubles as the revisit guard described in
// spec.md §9, "do not rely on recursion depth as termination"). Because
// marking only ever happens for a prerequisite, never for the node passed
// in, the root goal itself is never marked by the recursion -- it has
// prerequisites but nothing depends on it, so it never appears as anyone's
// p. The leaf pass below corrects exactly that case, and is applied
// uniformly across the whole flat index space rather than special-cased to
// targets (spec.md §9 Open Questions: the source's leaf pass range looks
// like it conflates ntarget/nfactvar bounds; treating all three ranges
// uniformly sidesteps the ambiguity).
func Build(cat Catalog, goal string) (*Graph, error) {
	goalID, ok := cat.TargetByName(goal)
	if !ok {
		return nil, &UndefinedTargetError{Name: goal}
	}

	ix := cat.Counts()
	total := ix.Total()
	g := &Graph{
		Index:   ix,
		GoalID:  goalID,
		InGraph: make([]bool, total),
		Nodes:   make([]ids.ID, total),
		Adj:     make([][]ids.ID, total),
	}

	var processTarget func(t ids.ID)
	processTarget = func(t ids.ID) {
		for _, p := range cat.Prerequisites(t) {
			g.addEdge(p, t)
			i := g.Index.Flat(p)
			if g.InGraph[i] {
				continue
			}
			g.mark(p)
			if p.Tag() == ids.TargetTag {
				processTarget(p)
			}
		}
	}
	processTarget(goalID)

	for src := 0; src < total; src++ {
		for _, dst := range g.Adj[src] {
			i := g.Index.Flat(dst)
			if !g.InGraph[i] {
				g.mark(dst)
			}
		}
	}

	return g, nil
}
