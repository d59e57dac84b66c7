package vm

import "fmt"

// Kind tags a stack Entry's payload (spec.md §3.5).
type Kind byte

const (
	KindNil Kind = iota
	KindInteger
	KindDouble
	KindString
	KindLocal
	KindGlobal
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "NIL"
	case KindInteger:
		return "INTEGER"
	case KindDouble:
		return "DOUBLE"
	case KindString:
		return "STRING"
	case KindLocal:
		return "LOCAL"
	case KindGlobal:
		return "GLOBAL"
	default:
		return "?"
	}
}

// Entry is a VM stack entry: a tagged union over {NIL, INTEGER, DOUBLE,
// STRING, LOCAL, GLOBAL} (spec.md §3.5).
type Entry struct {
	Kind    Kind
	I       int32
	D       float64
	S       string
	LocalIx int
	Global  *Global
}

func NilEntry() Entry                { return Entry{Kind: KindNil} }
func IntEntry(i int32) Entry         { return Entry{Kind: KindInteger, I: i} }
func DoubleEntry(d float64) Entry    { return Entry{Kind: KindDouble, D: d} }
func StringEntry(s string) Entry     { return Entry{Kind: KindString, S: s} }
func LocalEntry(idx int) Entry       { return Entry{Kind: KindLocal, LocalIx: idx} }
func GlobalEntry(g *Global) Entry    { return Entry{Kind: KindGlobal, Global: g} }

// Truthy applies the VM's boolean coercion used by CMP's AND/OR/NOT and by
// BRANCH's conditional forms: nil and integer zero are false, everything
// else (including an empty global) is true.
func (e Entry) Truthy() bool {
	switch e.Kind {
	case KindNil:
		return false
	case KindInteger:
		return e.I != 0
	default:
		return true
	}
}

func (e Entry) String() string {
	switch e.Kind {
	case KindNil:
		return "nil"
	case KindInteger:
		return fmt.Sprintf("%d", e.I)
	case KindDouble:
		return fmt.Sprintf("%v", e.D)
	case KindString:
		return fmt.Sprintf("%q", e.S)
	case KindLocal:
		return fmt.Sprintf("local#%d", e.LocalIx)
	case KindGlobal:
		return e.Global.String()
	default:
		return "?"
	}
}
