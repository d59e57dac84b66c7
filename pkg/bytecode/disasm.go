package bytecode

import (
	"fmt"
	"math"
)

// Instr is the decoded form of a single instruction: the opcode plus
// whichever typed operand fields it carries. It is the unit that
// Disassemble produces and Assemble consumes, and property 5 of
// spec.md §8 requires that Assemble(Disassemble(chunk)) reproduce chunk
// bit-for-bit (modulo trailing string padding).
type Instr struct {
	Op Opcode

	// PUSH
	PushKind   PushKind
	Int        int32
	Double     float64
	Str        string
	Arity      int

	// POP
	PopKind PopKind

	// FILTER / REPLACE / CREATE / CALL
	N int

	// UPDATE
	Partial bool

	// GET / SET
	GetKind      GetKind
	SetKind      SetKind
	LiteralIndex int
	LocalIndex   int

	// CMP
	Cmp CmpOp

	// BRANCH
	BranchKind BranchKind
	Disp       int

	// DEBUG
	Debug string
}

// DecodeAt decodes a single instruction starting at word offset pos,
// returning the decoded instruction and the word offset immediately after
// it. This is the function both the VM's interpreter loop and Disassemble
// use, so the two can never disagree about the wire format.
func DecodeAt(c *Chunk, pos int) (Instr, int, error) {
	if pos < 0 || pos >= len(c.Words) {
		return Instr{}, pos, fmt.Errorf("bytecode: word offset %d out of range (len=%d)", pos, len(c.Words))
	}
	op, arg := unpackWord(c.Words[pos])
	next := pos + 1

	switch op {
	case OpPush:
		kind := PushKind(arg & pushTypeMask)
		inline := uint16((arg >> pushInlineShift) & pushInlineMask)
		instr := Instr{Op: op, PushKind: kind}
		switch kind {
		case PushNil:
			// no payload
		case PushInt:
			if inline == 0 {
				if next >= len(c.Words) {
					return Instr{}, pos, fmt.Errorf("bytecode: truncated PUSH INTEGER at %d", pos)
				}
				instr.Int = decodeSmallInt(0, c.Words[next])
				next++
			} else {
				instr.Int = decodeSmallInt(inline, 0)
			}
		case PushDouble:
			if next+1 >= len(c.Words) {
				return Instr{}, pos, fmt.Errorf("bytecode: truncated PUSH DOUBLE at %d", pos)
			}
			bits := uint64(c.Words[next]) | uint64(c.Words[next+1])<<32
			instr.Double = math.Float64frombits(bits)
			next += 2
		case PushString, PushGlobal:
			byteLen := int(inline)
			n := wordsForByteLen(byteLen)
			if next+n > len(c.Words) {
				return Instr{}, pos, fmt.Errorf("bytecode: truncated PUSH STRING at %d", pos)
			}
			instr.Str = decodeStringWords(c.Words[next:next+n], byteLen)
			next += n
		case PushLocal:
			if inline == 0 {
				if next >= len(c.Words) {
					return Instr{}, pos, fmt.Errorf("bytecode: truncated PUSH LOCAL at %d", pos)
				}
				instr.Arity = int(decodeSmallInt(0, c.Words[next]))
				next++
			} else {
				instr.Arity = int(decodeSmallInt(inline, 0))
			}
		default:
			return Instr{}, pos, fmt.Errorf("bytecode: unknown PUSH kind %d at %d", kind, pos)
		}
		return instr, next, nil

	case OpPop:
		return Instr{Op: op, PopKind: PopKind(arg)}, next, nil

	case OpFilter:
		return Instr{Op: op, N: int(arg)}, next, nil

	case OpUpdate:
		return Instr{Op: op, N: int(arg >> 1), Partial: arg&1 != 0}, next, nil

	case OpReplace, OpCreate, OpCall:
		return Instr{Op: op, N: int(arg)}, next, nil

	case OpGet:
		kind := GetKind(arg & 1)
		instr := Instr{Op: op, GetKind: kind}
		if kind == GetField {
			instr.LiteralIndex = int(arg >> 1)
		} else {
			instr.LocalIndex = int(arg >> 1)
		}
		return instr, next, nil

	case OpSet:
		kind := SetKind(arg & 1)
		return Instr{Op: op, SetKind: kind, LiteralIndex: int(arg >> 1)}, next, nil

	case OpCmp:
		return Instr{Op: op, Cmp: CmpOp(arg)}, next, nil

	case OpBranch:
		kind, disp := decodeBranchArg(arg)
		return Instr{Op: op, BranchKind: kind, Disp: disp}, next, nil

	case OpDebug:
		byteLen := int(arg)
		n := wordsForByteLen(byteLen)
		if next+n > len(c.Words) {
			return Instr{}, pos, fmt.Errorf("bytecode: truncated DEBUG at %d", pos)
		}
		s := decodeStringWords(c.Words[next:next+n], byteLen)
		next += n
		return Instr{Op: op, Debug: s}, next, nil

	case OpHalt:
		return Instr{Op: op}, next, nil

	default:
		return Instr{}, pos, fmt.Errorf("bytecode: unknown opcode %d at word %d", op, pos)
	}
}

// Disassemble decodes every instruction in c, in order.
func Disassemble(c *Chunk) ([]Instr, error) {
	var out []Instr
	pos := 0
	for pos < len(c.Words) {
		instr, next, err := DecodeAt(c, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
		pos = next
	}
	return out, nil
}

// Assemble rebuilds a Chunk from a fully decoded instruction list. Used to
// verify the round-trip invariant and as a standalone encoder when an
// instruction list is produced directly rather than through Builder.
func Assemble(instrs []Instr) *Chunk {
	b := NewBuilder()
	for _, instr := range instrs {
		switch instr.Op {
		case OpPush:
			switch instr.PushKind {
			case PushNil:
				b.EmitPushNil()
			case PushInt:
				b.EmitPushInt(instr.Int)
			case PushDouble:
				b.EmitPushDouble(instr.Double)
			case PushString:
				b.EmitPushString(instr.Str)
			case PushGlobal:
				b.EmitPushGlobal(instr.Str)
			case PushLocal:
				b.EmitPushLocal(instr.Arity)
			}
		case OpPop:
			b.EmitPop(instr.PopKind)
		case OpFilter:
			b.EmitFilter(instr.N)
		case OpUpdate:
			b.EmitUpdate(instr.N, instr.Partial)
		case OpReplace:
			b.EmitReplace(instr.N)
		case OpCreate:
			b.EmitCreate(instr.N)
		case OpGet:
			if instr.GetKind == GetField {
				b.EmitGetField(instr.LiteralIndex)
			} else {
				b.EmitGetLocal(instr.LocalIndex)
			}
		case OpSet:
			if instr.SetKind == SetGlobal {
				b.EmitSetGlobal(instr.LiteralIndex)
			} else {
				b.EmitSetField(instr.LiteralIndex)
			}
		case OpCall:
			b.EmitCall(instr.N)
		case OpCmp:
			b.EmitCmp(instr.Cmp)
		case OpBranch:
			b.EmitBranch(instr.BranchKind, instr.Disp)
		case OpDebug:
			b.EmitDebug(instr.Debug)
		case OpHalt:
			b.EmitHalt()
		}
	}
	return b.Chunk()
}

// String renders instr the way a disassembler listing would.
func (instr Instr) String() string {
	switch instr.Op {
	case OpPush:
		switch instr.PushKind {
		case PushNil:
			return "PUSH NIL"
		case PushInt:
			return fmt.Sprintf("PUSH INTEGER %d", instr.Int)
		case PushDouble:
			return fmt.Sprintf("PUSH DOUBLE %v", instr.Double)
		case PushString:
			return fmt.Sprintf("PUSH STRING %q", instr.Str)
		case PushGlobal:
			return fmt.Sprintf("PUSH GLOBAL %q", instr.Str)
		case PushLocal:
			return fmt.Sprintf("PUSH LOCAL %d", instr.Arity)
		}
	case OpPop:
		if instr.PopKind == PopLocals {
			return "POP LOCALS"
		}
		return "POP DISCARD"
	case OpFilter:
		return fmt.Sprintf("FILTER %d", instr.N)
	case OpUpdate:
		return fmt.Sprintf("UPDATE %d partial=%v", instr.N, instr.Partial)
	case OpReplace:
		return fmt.Sprintf("REPLACE %d", instr.N)
	case OpCreate:
		return fmt.Sprintf("CREATE %d", instr.N)
	case OpGet:
		if instr.GetKind == GetField {
			return fmt.Sprintf("GET_FIELD lit#%d", instr.LiteralIndex)
		}
		return fmt.Sprintf("GET_LOCAL %d", instr.LocalIndex)
	case OpSet:
		if instr.SetKind == SetGlobal {
			return fmt.Sprintf("SET lit#%d", instr.LiteralIndex)
		}
		return fmt.Sprintf("SET_FIELD lit#%d", instr.LiteralIndex)
	case OpCall:
		return fmt.Sprintf("CALL %d", instr.N)
	case OpCmp:
		return fmt.Sprintf("CMP %s", instr.Cmp)
	case OpBranch:
		return fmt.Sprintf("BRANCH %s %+d", instr.BranchKind, instr.Disp)
	case OpDebug:
		return fmt.Sprintf("DEBUG %q", instr.Debug)
	case OpHalt:
		return "HALT"
	}
	return fmt.Sprintf("UNKNOWN(%d)", instr.Op)
}
