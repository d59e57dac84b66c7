package vm

import (
	"fmt"

	"github.com/kristofer/resolve/pkg/store"
)

// GlobalKind distinguishes an unresolved name reference from a bound set
// of facts (spec.md §9, "Globals as unresolved names"; this tightens the
// source's single-tag convention into two distinct value kinds).
type GlobalKind byte

const (
	GlobalUnresolved GlobalKind = iota
	GlobalBound
)

// Global is a VM value referencing zero or more facts by a common name
// (spec.md §3.5, GLOSSARY "Global"). A Bound global with a single fact
// whose structure name is store.OrphanStructName is an orphan: newly
// created but not yet stored (GLOSSARY "Orphan global").
type Global struct {
	Kind  GlobalKind
	Name  string
	Facts []*store.Fact
}

// UnresolvedGlobal builds a Global that names a fact pattern which did not
// resolve to any existing facts when pushed.
func UnresolvedGlobal(name string) *Global {
	return &Global{Kind: GlobalUnresolved, Name: name}
}

// BoundGlobal builds a Global over an existing, non-empty set of facts.
func BoundGlobal(name string, facts []*store.Fact) *Global {
	return &Global{Kind: GlobalBound, Name: name, Facts: facts}
}

// OrphanGlobal builds a Global over a single newly allocated, unstored
// fact (produced by CREATE).
func OrphanGlobal(f *store.Fact) *Global {
	return &Global{Kind: GlobalBound, Name: f.Name, Facts: []*store.Fact{f}}
}

// IsOrphan reports whether g holds exactly one fact that has never been
// inserted into the store.
func (g *Global) IsOrphan() bool {
	return g.Kind == GlobalBound && len(g.Facts) == 1 && g.Facts[0].IsOrphan()
}

func (g *Global) String() string {
	switch g.Kind {
	case GlobalUnresolved:
		return fmt.Sprintf("global(unresolved %q)", g.Name)
	default:
		return fmt.Sprintf("global(%q, %d facts)", g.Name, len(g.Facts))
	}
}
