// Package bytecode defines the instruction encoding and the append-only
// chunk buffer executed by the resolver's virtual machine (pkg/vm).
//
// A chunk is a contiguous, word-aligned sequence of uint32 instruction
// words. Each word packs an 8-bit opcode in its low byte and a 24-bit
// argument in the remaining bits; wide operands (out-of-range integers,
// doubles, strings) follow the opcode word as one or more additional words.
// Branch displacements are word offsets, encoded as a sign bit plus 21
// magnitude bits, so that a chunk can be grown and later patched in place
// without ever relocating earlier instructions.
//
// Architecture:
//
//	Source Code -> Lexer -> Parser -> AST -> Compiler -> Bytecode -> VM -> Execution
//
// The lexer/parser/compiler front end that would populate a Builder from a
// textual rule file is out of scope here (see spec.md §1); this package
// only defines the wire format and the primitives ("Builder", "Disassemble",
// "Assemble") that a front end, or a test, uses to produce and inspect it.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Opcode is the operation encoded in the low byte of an instruction word.
type Opcode byte

const (
	OpPush Opcode = iota
	OpPop
	OpFilter
	OpUpdate
	OpSet
	OpGet
	OpCreate
	OpCall
	OpCmp
	OpBranch
	OpDebug
	OpHalt
	OpReplace
)

func (op Opcode) String() string {
	switch op {
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpFilter:
		return "FILTER"
	case OpUpdate:
		return "UPDATE"
	case OpSet:
		return "SET"
	case OpGet:
		return "GET"
	case OpCreate:
		return "CREATE"
	case OpCall:
		return "CALL"
	case OpCmp:
		return "CMP"
	case OpBranch:
		return "BRANCH"
	case OpDebug:
		return "DEBUG"
	case OpHalt:
		return "HALT"
	case OpReplace:
		return "REPLACE"
	default:
		return "UNKNOWN"
	}
}

// PushKind selects which of PUSH's typed-literal sub-forms an instruction
// uses; it is carried in the low byte of PUSH's 24-bit argument.
type PushKind byte

const (
	PushNil PushKind = iota
	PushInt
	PushDouble
	PushString
	PushGlobal
	PushLocal
)

// PopKind distinguishes POP LOCALS (pop the current scope) from POP
// DISCARD (drop the top stack value).
type PopKind byte

const (
	PopDiscard PopKind = iota
	PopLocals
)

// GetKind distinguishes GET_FIELD (read a fact field, by interned literal
// id) from GET_LOCAL (read a scope slot, by raw index).
type GetKind byte

const (
	GetField GetKind = iota
	GetLocal
)

// SetKind distinguishes SET (write a named global) from SET_FIELD (write a
// named field on the top-of-stack fact/global).
type SetKind byte

const (
	SetGlobal SetKind = iota
	SetField
)

// CmpOp enumerates the comparison/boolean operators carried by CMP.
type CmpOp byte

const (
	CmpEQ CmpOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
	CmpNot
	CmpAnd
	CmpOr
)

func (op CmpOp) String() string {
	switch op {
	case CmpEQ:
		return "EQ"
	case CmpNE:
		return "NE"
	case CmpLT:
		return "LT"
	case CmpLE:
		return "LE"
	case CmpGT:
		return "GT"
	case CmpGE:
		return "GE"
	case CmpNot:
		return "NOT"
	case CmpAnd:
		return "AND"
	case CmpOr:
		return "OR"
	default:
		return "?"
	}
}

// BranchKind selects unconditional vs. conditional branch semantics.
type BranchKind byte

const (
	BranchAlways BranchKind = iota
	BranchIfTrue
	BranchIfFalse
)

func (k BranchKind) String() string {
	switch k {
	case BranchAlways:
		return "ALWAYS"
	case BranchIfTrue:
		return "IF_TRUE"
	case BranchIfFalse:
		return "IF_FALSE"
	default:
		return "?"
	}
}

// word layout constants.
const (
	argShift   = 8
	argMask    = 0x00FFFFFF
	pushTypeMask   = 0xFF
	pushInlineMask = 0xFFFF
	pushInlineShift = 8

	// branch displacement: 2 bits of kind, 1 sign bit, 21 magnitude bits,
	// packed into the 24-bit argument.
	branchKindShift = 22
	branchSignShift = 21
	branchMagMask   = (1 << 21) - 1

	// maxInlineInt is the largest integer storable inline (post-bias).
	maxInlineInt = 0xFFFE
)

// Chunk is an append-only buffer of instruction words. Growth and branch
// patching during compilation go through Builder.
type Chunk struct {
	Words []uint32
}

// Len returns the number of words currently in the chunk.
func (c *Chunk) Len() int { return len(c.Words) }

// Placeholder identifies a branch instruction's word position so it can be
// patched once its target is known. It deliberately does not expose the
// raw chunk offset to callers beyond the bytecode package's own patching
// API (see pkg/bytecode.Builder.PatchBranch).
type Placeholder struct {
	pos  int
	kind BranchKind
}

func packWord(op Opcode, arg uint32) uint32 {
	if arg > argMask {
		panic(fmt.Sprintf("bytecode: argument %#x overflows 24 bits", arg))
	}
	return uint32(op) | (arg << argShift)
}

func unpackWord(w uint32) (Opcode, uint32) {
	return Opcode(w & 0xFF), (w >> argShift) & argMask
}

// encodeSmallInt returns the inline field for v plus whether an extended
// (out-of-line) word is required. Values in [0, 0xFFFE] are stored inline
// with a +1 bias, so an inline field of 0 unambiguously means "extended" --
// this is preserved exactly as the source format specifies, including the
// consequence that 0 can never collide with the extended marker (see
// DESIGN.md for the rationale, carried over from the Open Questions in
// spec.md §9).
func encodeSmallInt(v int32) (inline uint16, extended bool) {
	if v >= 0 && v <= maxInlineInt {
		return uint16(v + 1), false
	}
	return 0, true
}

func decodeSmallInt(inline uint16, extra uint32) int32 {
	if inline == 0 {
		return int32(extra)
	}
	return int32(inline) - 1
}

// stringWords returns the NUL-terminated, word-padded encoding of s and its
// unpadded byte length (including the NUL).
func stringWords(s string) (words []uint32, byteLen int) {
	raw := append([]byte(s), 0)
	byteLen = len(raw)
	padded := len(raw)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	buf := make([]byte, padded)
	copy(buf, raw)
	words = make([]uint32, padded/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return words, byteLen
}

func wordsForByteLen(byteLen int) int {
	return (byteLen + 3) / 4
}

func decodeStringWords(words []uint32, byteLen int) string {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	if byteLen == 0 || byteLen > len(buf) {
		panic("bytecode: corrupt string length")
	}
	return string(buf[:byteLen-1]) // drop the NUL terminator
}

// Builder appends instructions to a Chunk. It is the only supported way to
// construct a chunk word-by-word; Assemble (below) rebuilds a chunk from a
// fully decoded instruction list in one pass, which is how the round-trip
// invariant (disassemble then reassemble yields a bit-identical chunk) is
// verified.
type Builder struct {
	chunk Chunk
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Pos returns the word offset the next emitted instruction will occupy.
func (b *Builder) Pos() int { return len(b.chunk.Words) }

// Chunk returns a copy of the chunk built so far. The returned Chunk does
// not share storage with the builder, so later emits and patches do not
// change it.
func (b *Builder) Chunk() *Chunk {
	out := make([]uint32, len(b.chunk.Words))
	copy(out, b.chunk.Words)
	return &Chunk{Words: out}
}

func (b *Builder) emit(op Opcode, arg uint32) int {
	pos := len(b.chunk.Words)
	b.chunk.Words = append(b.chunk.Words, packWord(op, arg))
	return pos
}

func (b *Builder) emitExtra(w uint32) {
	b.chunk.Words = append(b.chunk.Words, w)
}

// EmitPushNil appends PUSH NIL.
func (b *Builder) EmitPushNil() int {
	return b.emit(OpPush, uint32(PushNil))
}

// EmitPushInt appends PUSH INTEGER v, inline when it fits in [0, 0xFFFE].
func (b *Builder) EmitPushInt(v int32) int {
	inline, extended := encodeSmallInt(v)
	pos := b.emit(OpPush, uint32(PushInt)|(uint32(inline)<<pushInlineShift))
	if extended {
		b.emitExtra(uint32(v))
	}
	return pos
}

// EmitPushDouble appends PUSH DOUBLE v; doubles are always out-of-line.
func (b *Builder) EmitPushDouble(v float64) int {
	pos := b.emit(OpPush, uint32(PushDouble))
	bits := math.Float64bits(v)
	b.emitExtra(uint32(bits))
	b.emitExtra(uint32(bits >> 32))
	return pos
}

// EmitPushString appends PUSH STRING s.
func (b *Builder) EmitPushString(s string) int {
	words, byteLen := stringWords(s)
	pos := b.emit(OpPush, uint32(PushString)|(uint32(byteLen)<<pushInlineShift))
	for _, w := range words {
		b.emitExtra(w)
	}
	return pos
}

// EmitPushGlobal appends PUSH GLOBAL name.
func (b *Builder) EmitPushGlobal(name string) int {
	words, byteLen := stringWords(name)
	pos := b.emit(OpPush, uint32(PushGlobal)|(uint32(byteLen)<<pushInlineShift))
	for _, w := range words {
		b.emitExtra(w)
	}
	return pos
}

// EmitPushLocal appends PUSH LOCAL arity, which creates a new scope.
func (b *Builder) EmitPushLocal(arity int) int {
	inline, extended := encodeSmallInt(int32(arity))
	pos := b.emit(OpPush, uint32(PushLocal)|(uint32(inline)<<pushInlineShift))
	if extended {
		b.emitExtra(uint32(arity))
	}
	return pos
}

// EmitPop appends POP <kind>.
func (b *Builder) EmitPop(kind PopKind) int {
	return b.emit(OpPop, uint32(kind))
}

// EmitFilter appends FILTER <n>.
func (b *Builder) EmitFilter(n int) int {
	return b.emit(OpFilter, uint32(n))
}

// EmitUpdate appends UPDATE <n, partial>.
func (b *Builder) EmitUpdate(n int, partial bool) int {
	arg := uint32(n) << 1
	if partial {
		arg |= 1
	}
	return b.emit(OpUpdate, arg)
}

// EmitReplace appends REPLACE <n>.
func (b *Builder) EmitReplace(n int) int {
	return b.emit(OpReplace, uint32(n))
}

// EmitCreate appends CREATE <n>.
func (b *Builder) EmitCreate(n int) int {
	return b.emit(OpCreate, uint32(n))
}

// EmitGetField appends GET_FIELD with a literal-table index naming the
// field. Callers intern the field name via pkg/ids before calling this.
func (b *Builder) EmitGetField(literalIndex int) int {
	return b.emit(OpGet, uint32(literalIndex)<<1 | uint32(GetField))
}

// EmitGetLocal appends GET_LOCAL idx.
func (b *Builder) EmitGetLocal(idx int) int {
	return b.emit(OpGet, uint32(idx)<<1 | uint32(GetLocal))
}

// EmitSetGlobal appends SET, writing the stack value into the named global.
func (b *Builder) EmitSetGlobal(literalIndex int) int {
	return b.emit(OpSet, uint32(literalIndex)<<1 | uint32(SetGlobal))
}

// EmitSetField appends SET_FIELD, writing into the named field.
func (b *Builder) EmitSetField(literalIndex int) int {
	return b.emit(OpSet, uint32(literalIndex)<<1 | uint32(SetField))
}

// EmitCall appends CALL <n>.
func (b *Builder) EmitCall(n int) int {
	return b.emit(OpCall, uint32(n))
}

// EmitCmp appends CMP <op>.
func (b *Builder) EmitCmp(op CmpOp) int {
	return b.emit(OpCmp, uint32(op))
}

// EmitBranch appends BRANCH <kind, disp>, returning a Placeholder so the
// displacement can be patched once the target is known (e.g. for forward
// branches emitted before their target instruction exists).
func (b *Builder) EmitBranch(kind BranchKind, disp int) Placeholder {
	pos := b.emit(OpBranch, encodeBranchArg(kind, disp))
	return Placeholder{pos: pos, kind: kind}
}

func encodeBranchArg(kind BranchKind, disp int) uint32 {
	if disp < -(1<<21) || disp >= (1<<21) {
		panic(fmt.Sprintf("bytecode: branch displacement %d out of range", disp))
	}
	sign := uint32(0)
	mag := uint32(disp)
	if disp < 0 {
		sign = 1
		mag = uint32(-disp)
	}
	return uint32(kind)<<branchKindShift | sign<<branchSignShift | (mag & branchMagMask)
}

func decodeBranchArg(arg uint32) (BranchKind, int) {
	kind := BranchKind(arg >> branchKindShift)
	sign := (arg >> branchSignShift) & 1
	mag := int(arg & branchMagMask)
	if sign != 0 {
		return kind, -mag
	}
	return kind, mag
}

// PatchBranch rewrites the displacement of a previously emitted branch so
// that it targets targetPos (a word offset). The displacement is measured,
// per spec.md §4.1, in words from the instruction immediately after BRANCH.
func (b *Builder) PatchBranch(ph Placeholder, targetPos int) {
	disp := targetPos - (ph.pos + 1)
	b.chunk.Words[ph.pos] = packWord(OpBranch, encodeBranchArg(ph.kind, disp))
}

// EmitDebug appends DEBUG <string>, attaching failure-reporting context.
func (b *Builder) EmitDebug(s string) int {
	words, byteLen := stringWords(s)
	pos := b.emit(OpDebug, uint32(byteLen))
	for _, w := range words {
		b.emitExtra(w)
	}
	return pos
}

// EmitHalt appends HALT.
func (b *Builder) EmitHalt() int {
	return b.emit(OpHalt, 0)
}
