package graph_test

import (
	"errors"
	"testing"

	"github.com/kristofer/resolve/pkg/graph"
	"github.com/kristofer/resolve/pkg/ids"
)

// fakeCatalog is a minimal, directly-constructed graph.Catalog for testing
// the builder and sort without pulling in the resolver engine.
type fakeCatalog struct {
	targets  *ids.Table
	factvars *ids.Table
	dresvars *ids.Table
	prereqs  map[ids.ID][]ids.ID
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		targets:  ids.NewTable(ids.TargetTag),
		factvars: ids.NewTable(ids.FactVarTag),
		dresvars: ids.NewTable(ids.DresVarTag),
		prereqs:  make(map[ids.ID][]ids.ID),
	}
}

func (c *fakeCatalog) target(name string, prereqs ...ids.ID) ids.ID {
	id := c.targets.Intern(name)
	c.prereqs[id] = prereqs
	return id
}

func (c *fakeCatalog) factvar(name string) ids.ID  { return c.factvars.Intern(name) }
func (c *fakeCatalog) dresvar(name string) ids.ID  { return c.dresvars.Intern(name) }

func (c *fakeCatalog) TargetByName(name string) (ids.ID, bool) { return c.targets.Lookup(name) }
func (c *fakeCatalog) Prerequisites(t ids.ID) []ids.ID          { return c.prereqs[t] }
func (c *fakeCatalog) Counts() graph.Index {
	return graph.Index{
		NTarget:  c.targets.Len(),
		NFactVar: c.factvars.Len(),
		NDresVar: c.dresvars.Len(),
	}
}

func indexOf(order []ids.ID, id ids.ID) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

// TestLinearChain is scenario S1: A<-B<-C, C is the goal.
func TestLinearChain(t *testing.T) {
	c := newFakeCatalog()
	a := c.target("A")
	b := c.target("B", a)
	cc := c.target("C", b)

	g, err := graph.Build(c, "C")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	order, err := graph.TopoSort(g)
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if indexOf(order, a) > indexOf(order, b) || indexOf(order, b) > indexOf(order, cc) {
		t.Fatalf("order = %v, want A before B before C", order)
	}
}

// TestGoalWithNoDependentsIsInGraph exercises the leaf pass: the goal has
// prerequisites but, since nothing depends on it, is never marked in-graph
// by the recursive edge-adding pass alone.
func TestGoalWithNoDependentsIsInGraph(t *testing.T) {
	c := newFakeCatalog()
	a := c.target("A")
	goal := c.target("goal", a)

	g, err := graph.Build(c, "goal")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !g.InGraph[g.Index.Flat(goal)] {
		t.Fatalf("goal target not marked in-graph after leaf pass")
	}
	order, err := graph.TopoSort(g)
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("order = %v, want 2 nodes", order)
	}
}

// TestVariableTrigger is scenario S2's graph half: target T depends on a
// factvar; the variable must precede T with zero in-degree of its own.
func TestVariableTrigger(t *testing.T) {
	c := newFakeCatalog()
	x := c.factvar("x")
	tgt := c.target("T", x)

	g, err := graph.Build(c, "T")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	order, err := graph.TopoSort(g)
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if indexOf(order, x) > indexOf(order, tgt) {
		t.Fatalf("order = %v, want factvar x before T", order)
	}
}

// TestCycleDetected is scenario S3: A->B, B->A.
func TestCycleDetected(t *testing.T) {
	c := newFakeCatalog()
	a := c.targets.Intern("A")
	b := c.targets.Intern("B")
	c.prereqs[a] = []ids.ID{b}
	c.prereqs[b] = []ids.ID{a}

	g, err := graph.Build(c, "A")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = graph.TopoSort(g)
	if err == nil {
		t.Fatalf("TopoSort succeeded on a cyclic graph")
	}
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want *graph.CycleError", err)
	}
	if len(cycleErr.Residual) == 0 {
		t.Fatalf("CycleError.Residual is empty")
	}
}

func TestUndefinedGoalErrors(t *testing.T) {
	c := newFakeCatalog()
	_, err := graph.Build(c, "nonexistent")
	var undef *graph.UndefinedTargetError
	if !errors.As(err, &undef) {
		t.Fatalf("error = %v, want *graph.UndefinedTargetError", err)
	}
}

// TestDiamondDependency: D depends on both B and C, which both depend on A;
// A is reached twice but visited once, and the order must respect all four
// edges (A before B and C, B and C before D).
func TestDiamondDependency(t *testing.T) {
	c := newFakeCatalog()
	a := c.target("A")
	b := c.target("B", a)
	cc := c.target("C", a)
	d := c.target("D", b, cc)

	g, err := graph.Build(c, "D")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	order, err := graph.TopoSort(g)
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	if indexOf(order, a) > indexOf(order, b) || indexOf(order, a) > indexOf(order, cc) || indexOf(order, b) > indexOf(order, d) || indexOf(order, cc) > indexOf(order, d) {
		t.Fatalf("order = %v, violates diamond dependency edges", order)
	}
}
