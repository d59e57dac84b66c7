package bytecode

import (
	"reflect"
	"testing"
)

// TestRoundTrip verifies spec.md §8 property 5: disassembling a chunk and
// reassembling it reproduces the original words exactly.
func TestRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.EmitPushInt(42)
	b.EmitPushInt(100000)
	b.EmitPushDouble(3.5)
	b.EmitPushString("hello")
	b.EmitPushGlobal("widget")
	b.EmitPushLocal(2)
	b.EmitFilter(3)
	b.EmitUpdate(2, true)
	b.EmitReplace(1)
	b.EmitCreate(4)
	b.EmitGetField(9)
	b.EmitGetLocal(0)
	b.EmitSetGlobal(1)
	b.EmitSetField(2)
	b.EmitCall(3)
	b.EmitCmp(CmpLE)
	ph := b.EmitBranch(BranchIfFalse, 0)
	b.EmitDebug("checkpoint")
	b.EmitHalt()
	b.PatchBranch(ph, b.Pos())

	chunk := b.Chunk()
	instrs, err := Disassemble(chunk)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	reassembled := Assemble(instrs)

	if !reflect.DeepEqual(chunk.Words, reassembled.Words) {
		t.Fatalf("round trip mismatch:\n  got:  %v\n  want: %v", reassembled.Words, chunk.Words)
	}
}

// TestIntegerInlineVsExtended covers scenario S6 of spec.md §8.
func TestIntegerInlineVsExtended(t *testing.T) {
	b := NewBuilder()
	posSmall := b.EmitPushInt(42)
	posBig := b.EmitPushInt(100000)
	b.EmitHalt()
	chunk := b.Chunk()

	if posBig-posSmall != 1 {
		t.Fatalf("expected inline PUSH to occupy one word, got gap %d", posBig-posSmall)
	}

	instrs, err := Disassemble(chunk)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if instrs[0].Int != 42 {
		t.Fatalf("instrs[0].Int = %d, want 42", instrs[0].Int)
	}
	if instrs[1].Int != 100000 {
		t.Fatalf("instrs[1].Int = %d, want 100000", instrs[1].Int)
	}

	// The big literal must have consumed an extra word.
	nextAfterSmall := posSmall + 1
	if nextAfterSmall != posBig {
		t.Fatalf("small literal should occupy exactly one word")
	}
	nextAfterBig := posBig + 2
	if nextAfterBig >= len(chunk.Words) {
		t.Fatalf("big literal should occupy an opcode word plus one extended word")
	}
}

// TestZeroIsAlwaysExtended documents the Open Question resolution from
// spec.md §9: the +1 bias means the inline field is never 0 for a real
// inline value, so an inline field of 0 is always the extended marker.
// PUSH INTEGER 0 itself is stored inline, as 1.
func TestZeroIsAlwaysExtended(t *testing.T) {
	inline, extended := encodeSmallInt(0)
	if extended {
		t.Fatalf("encodeSmallInt(0) unexpectedly reported extended=true")
	}
	if inline != 1 {
		t.Fatalf("encodeSmallInt(0) inline = %d, want 1 (the +1 bias)", inline)
	}
	if decodeSmallInt(0, 77) != 77 {
		t.Fatalf("an inline field of 0 must always be read as the extended marker")
	}
}

// TestBranchEncoding covers scenario S5 of spec.md §8.
func TestBranchEncoding(t *testing.T) {
	b := NewBuilder()
	b.EmitPushInt(1)
	ph := b.EmitBranch(BranchIfFalse, 0) // placeholder, patched below
	b.EmitPushInt(99)
	b.PatchBranch(ph, b.Pos()) // branch past the PUSH 99, onto HALT, if taken
	b.EmitHalt()

	chunk := b.Chunk()
	instrs, err := Disassemble(chunk)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	branch := instrs[1]
	if branch.Op != OpBranch || branch.BranchKind != BranchIfFalse {
		t.Fatalf("unexpected branch instruction: %+v", branch)
	}
	if branch.Disp != 1 {
		t.Fatalf("Disp = %d, want 1 (skip exactly the PUSH 99 instruction)", branch.Disp)
	}
}

func TestBranchNegativeDisplacement(t *testing.T) {
	b := NewBuilder()
	top := b.Pos()
	b.EmitPushInt(1)
	b.EmitBranch(BranchAlways, top-(b.Pos()+1))
	chunk := b.Chunk()
	instrs, err := Disassemble(chunk)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if instrs[1].Disp >= 0 {
		t.Fatalf("expected a negative (backward) displacement, got %d", instrs[1].Disp)
	}
}
