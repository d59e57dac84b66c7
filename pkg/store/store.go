// Package store defines the fact-store adapter contract (spec.md §6.1):
// the minimal set of capabilities the resolver engine needs from an
// external structured-data store — lookup by name, typed field access,
// orphan-fact creation, a change-tracking "view" for staleness detection,
// and a single push/pop transaction scope.
//
// This package defines the contract (FactStore) and a reference adapter
// (MemStore, in memdb.go) built on github.com/hashicorp/go-memdb. A
// production deployment is expected to supply its own adapter against the
// real external store; the resolver core depends only on the interface.
package store

import "fmt"

// ValueKind is the tag of a typed fact-store Value (spec.md §6.1: "Values
// are typed {STRING, INT, DOUBLE}").
type ValueKind byte

const (
	String ValueKind = iota
	Int
	Double
)

// Value is a typed field value. Equality uses value comparison for STRING
// and INT and exact bit comparison for DOUBLE — the spec explicitly does
// not require an epsilon, since policy data stores only round numbers
// (spec.md §6.1).
type Value struct {
	Kind ValueKind
	Str  string
	I    int64
	D    float64
}

// NewString returns a STRING value.
func NewString(s string) Value { return Value{Kind: String, Str: s} }

// NewInt returns an INT value.
func NewInt(i int64) Value { return Value{Kind: Int, I: i} }

// NewDouble returns a DOUBLE value.
func NewDouble(d float64) Value { return Value{Kind: Double, D: d} }

// Equal reports whether v and other have the same kind and value.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case String:
		return v.Str == other.Str
	case Int:
		return v.I == other.I
	case Double:
		return v.D == other.D
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case String:
		return fmt.Sprintf("s:%s", v.Str)
	case Int:
		return fmt.Sprintf("i:%d", v.I)
	case Double:
		return fmt.Sprintf("d:%v", v.D)
	default:
		return "?"
	}
}

// OrphanStructName is the sentinel structure name used by a fact that has
// been allocated (via NewFact) but not yet inserted into the store. A
// global whose single fact has this name is, per spec.md §3.5, an orphan.
const OrphanStructName = "__vm_global"

// Fact is a named structured record with typed fields.
type Fact struct {
	ID     string
	Name   string
	Fields map[string]Value
}

// IsOrphan reports whether f still carries OrphanStructName, the name the
// VM's CREATE allocates a fact under until SET names and inserts it.
func (f *Fact) IsOrphan() bool {
	return f.Name == OrphanStructName
}

// CloneFact returns a new Fact with the same ID and Name and an
// independently-mutable copy of Fields. go-memdb's copy-on-write only
// versions the pointer-to-object mapping in its radix tree, never the
// pointee's contents, so any field mutation reachable from a previously
// committed or externally-visible Fact must happen on a clone, never on f
// itself.
func CloneFact(f *Fact) *Fact {
	fields := make(map[string]Value, len(f.Fields))
	for k, v := range f.Fields {
		fields[k] = v
	}
	return &Fact{ID: f.ID, Name: f.Name, Fields: fields}
}

// Pattern names a class of facts a View should watch for changes. The
// reference adapter matches purely on fact name; a production adapter may
// extend this with field filters.
type Pattern struct {
	Name string
}

// Change records that a fact matching one of a View's patterns was
// inserted, updated, or removed.
type Change struct {
	Pattern Pattern
	FactID  string
}

// View is a change-tracking handle over a set of patterns, used by the
// resolver engine to detect which fact variables have changed since the
// last poll (spec.md §4.7 step 3).
type View interface {
	// Changes returns every change observed against the view's patterns
	// since the view was created or last Reset.
	Changes() []Change
	// Reset clears the recorded changes and begins watching from now.
	Reset()
}

// FactStore is the adapter contract required of an external fact store
// (spec.md §6.1).
type FactStore interface {
	LookupByName(name string) ([]*Fact, error)
	NewFact(name string) (*Fact, error)
	Insert(f *Fact) error
	Remove(f *Fact) error
	RemoveByName(name string) error
	GetField(f *Fact, field string) (Value, bool)
	// SetField never mutates f: it writes field on a clone of f within the
	// active transaction, inserts the clone, and returns it. Callers must
	// use the returned Fact for any further reads or writes; f itself is
	// left exactly as it was.
	SetField(f *Fact, field string, v Value) (*Fact, error)

	TransparentView(patterns []Pattern) (View, error)

	TransactionPush() error
	TransactionPop(rollback bool) error
}
