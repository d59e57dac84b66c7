// Package ids implements the identifier and symbol tables shared by the
// resolver: every named entity (target, fact variable, resolver variable,
// string literal) is referenced by a tagged ID rather than by a pointer or
// a name lookup.
//
// A tagged ID packs a type tag into the high bits of a uint32 and an index
// into a per-type table into the low bits. This keeps IDs small, makes them
// safe to embed directly in bytecode operands, and lets the graph builder
// use a single flat index space across all three kinds of node (see
// pkg/graph).
package ids

import "fmt"

// Tag identifies which table an ID's index refers into.
type Tag uint8

const (
	// TargetTag marks an ID as indexing the target table.
	TargetTag Tag = iota
	// FactVarTag marks an ID as indexing the fact-variable table.
	FactVarTag
	// DresVarTag marks an ID as indexing the in-memory resolver-variable table.
	DresVarTag
	// LiteralTag marks an ID as indexing the interned string-literal table.
	LiteralTag
)

func (t Tag) String() string {
	switch t {
	case TargetTag:
		return "TARGET"
	case FactVarTag:
		return "FACTVAR"
	case DresVarTag:
		return "DRESVAR"
	case LiteralTag:
		return "LITERAL"
	default:
		return "UNKNOWN"
	}
}

const (
	// indexBits is the width of the index field; the remaining high bits
	// hold the tag and the deleted flag.
	indexBits = 24
	indexMask = 1<<indexBits - 1
	tagShift  = indexBits

	// deletedBit marks an ID as removed during a topological sort. It is a
	// transient, in-traversal flag: it is never persisted and never appears
	// on an ID handed back to a caller.
	deletedBit = uint32(1) << 31
)

// ID is a tagged identifier: a type tag plus an index into that type's
// table, packed into a single 32-bit word.
type ID uint32

// None is the sentinel ID meaning "no id".
const None ID = 0xFFFFFFFF

// New builds a tagged ID from a tag and an index.
func New(tag Tag, index int) ID {
	if index < 0 || index > indexMask {
		panic(fmt.Sprintf("ids: index %d out of range for tag %s", index, tag))
	}
	return ID(uint32(tag)<<tagShift | uint32(index))
}

// Tag returns the type tag encoded in id.
func (id ID) Tag() Tag {
	return Tag((uint32(id) &^ deletedBit) >> tagShift)
}

// Index returns the table index encoded in id.
func (id ID) Index() int {
	return int(uint32(id) & indexMask)
}

// IsNone reports whether id is the None sentinel.
func (id ID) IsNone() bool {
	return id == None
}

// Deleted reports whether the high "deleted" bit is set. This bit is used
// only by the topological sort while walking edges; it is never part of a
// persisted ID.
func (id ID) Deleted() bool {
	return uint32(id)&deletedBit != 0
}

// WithDeleted returns a copy of id with the deleted bit set, for use as a
// transient traversal marker.
func (id ID) WithDeleted() ID {
	return ID(uint32(id) | deletedBit)
}

func (id ID) String() string {
	if id.IsNone() {
		return "<none>"
	}
	return fmt.Sprintf("%s#%d", id.Tag(), id.Index())
}

// Table interns names of a single kind and hands out stable tagged IDs.
// Lookup and insertion are both O(1) amortized.
type Table struct {
	tag      Tag
	byName   map[string]ID
	names    []string
}

// NewTable creates an empty symbol table for the given tag.
func NewTable(tag Tag) *Table {
	return &Table{
		tag:    tag,
		byName: make(map[string]ID),
	}
}

// Intern returns the ID for name, creating a new entry if this is the first
// time name has been seen. Interning the same name twice returns the same
// ID both times.
func (t *Table) Intern(name string) ID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := New(t.tag, len(t.names))
	t.names = append(t.names, name)
	t.byName[name] = id
	return id
}

// Lookup returns the ID already assigned to name, if any.
func (t *Table) Lookup(name string) (ID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the name associated with id. It panics if id does not belong
// to this table's tag or is out of range, since that indicates a caller bug
// rather than a recoverable condition.
func (t *Table) Name(id ID) string {
	if id.Tag() != t.tag {
		panic(fmt.Sprintf("ids: table for %s asked to resolve %s", t.tag, id))
	}
	return t.names[id.Index()]
}

// Len returns the number of entries interned so far.
func (t *Table) Len() int {
	return len(t.names)
}
