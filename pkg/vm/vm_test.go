package vm_test

import (
	"errors"
	"testing"

	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/methods"
	"github.com/kristofer/resolve/pkg/store"
	"github.com/kristofer/resolve/pkg/vm"
)

func newHarness(t *testing.T) (*vm.VM, *store.MemStore, *methods.Table, *ids.Table) {
	t.Helper()
	st, err := store.NewMemStore()
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	mt := methods.NewTable()
	lits := ids.NewTable(ids.LiteralTag)
	return vm.New(st, mt, lits), st, mt, lits
}

func run(t *testing.T, v *vm.VM, st *store.MemStore, b *bytecode.Builder) (bool, error) {
	t.Helper()
	if err := st.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	ok, err := v.Run(b.Chunk())
	if popErr := st.TransactionPop(err != nil); popErr != nil {
		t.Fatalf("TransactionPop: %v", popErr)
	}
	return ok, err
}

func TestHaltReturnsSuccess(t *testing.T) {
	v, st, _, _ := newHarness(t)
	b := bytecode.NewBuilder()
	b.EmitPushInt(1)
	b.EmitPop(bytecode.PopDiscard)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if err != nil || !ok {
		t.Fatalf("Run = (%v, %v), want (true, nil)", ok, err)
	}
	if v.StackDepth() != 0 {
		t.Fatalf("StackDepth = %d, want 0", v.StackDepth())
	}
}

func TestCreateThenSetPromotesOrphan(t *testing.T) {
	v, st, _, lits := newHarness(t)
	status := lits.Intern("status")

	b := bytecode.NewBuilder()
	b.EmitPushString("status")
	b.EmitPushString("active")
	b.EmitCreate(1)
	b.EmitSetGlobal(status.Index())
	b.EmitHalt()

	if _, err := run(t, v, st, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	facts, err := st.LookupByName("status")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	got, ok := st.GetField(facts[0], "status")
	if !ok || !got.Equal(store.NewString("active")) {
		t.Fatalf("GetField(status) = (%v, %v), want (active, true)", got, ok)
	}
}

func TestFilterNarrowsToMatchingFacts(t *testing.T) {
	v, st, _, _ := newHarness(t)

	if err := st.TransactionPush(); err != nil {
		t.Fatalf("TransactionPush: %v", err)
	}
	for _, color := range []string{"red", "blue", "red"} {
		f, err := st.NewFact("widget")
		if err != nil {
			t.Fatalf("NewFact: %v", err)
		}
		if _, err := st.SetField(f, "color", store.NewString(color)); err != nil {
			t.Fatalf("SetField: %v", err)
		}
	}
	if err := st.TransactionPop(false); err != nil {
		t.Fatalf("TransactionPop: %v", err)
	}

	b := bytecode.NewBuilder()
	b.EmitPushGlobal("widget")
	b.EmitPushString("color")
	b.EmitPushString("red")
	b.EmitFilter(1)
	b.EmitPop(bytecode.PopDiscard)
	b.EmitHalt()

	if _, err := run(t, v, st, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCallSilentFailureReturnsErrSilentFail(t *testing.T) {
	v, st, mt, _ := newHarness(t)
	if err := mt.Add("deny", func(args []interface{}, userData interface{}) (interface{}, error) {
		return nil, methods.ErrSilentFail
	}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b := bytecode.NewBuilder()
	b.EmitPushString("deny")
	b.EmitCall(0)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if ok {
		t.Fatalf("Run returned ok=true, want false")
	}
	if !errors.Is(err, methods.ErrSilentFail) {
		t.Fatalf("Run error = %v, want ErrSilentFail", err)
	}
	if v.StackDepth() != 0 {
		t.Fatalf("StackDepth after silent fail = %d, want 0 (unwound)", v.StackDepth())
	}
}

func TestCallRaiseProducesRuntimeErrorAndUnwinds(t *testing.T) {
	v, st, mt, _ := newHarness(t)
	if err := mt.Add("boom", func(args []interface{}, userData interface{}) (interface{}, error) {
		return nil, methods.Raise(42, "kaboom")
	}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b := bytecode.NewBuilder()
	b.EmitPushInt(7)
	b.EmitPushString("boom")
	b.EmitCall(0)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if ok || err == nil {
		t.Fatalf("Run = (%v, %v), want (false, non-nil)", ok, err)
	}
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("error is not *vm.RuntimeError: %v", err)
	}
	if re.Code != 42 {
		t.Fatalf("Code = %d, want 42", re.Code)
	}
	if v.StackDepth() != 0 {
		t.Fatalf("StackDepth after raise = %d, want 0 (unwound past the orphan PUSH INTEGER 7)", v.StackDepth())
	}
}

func TestUnknownMethodRaises(t *testing.T) {
	v, st, _, _ := newHarness(t)

	b := bytecode.NewBuilder()
	b.EmitPushString("nonexistent")
	b.EmitCall(0)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if ok || err == nil {
		t.Fatalf("Run = (%v, %v), want (false, non-nil)", ok, err)
	}
}

func TestCmpNumericCoercion(t *testing.T) {
	v, st, _, _ := newHarness(t)

	b := bytecode.NewBuilder()
	b.EmitPushInt(2)
	b.EmitPushDouble(2.0)
	b.EmitCmp(bytecode.CmpEQ)
	ph := b.EmitBranch(bytecode.BranchIfFalse, 0)
	b.EmitPushInt(1)
	b.EmitPop(bytecode.PopDiscard)
	b.EmitHalt()
	failPos := b.Pos()
	b.PatchBranch(ph, failPos)
	// Reached only if 2 == 2.0 compared false: popping the empty stack fails the run.
	b.EmitPop(bytecode.PopDiscard)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if err != nil || !ok {
		t.Fatalf("Run = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestCmpCrossTypeOrderFails(t *testing.T) {
	v, st, _, _ := newHarness(t)

	b := bytecode.NewBuilder()
	b.EmitPushString("abc")
	b.EmitPushInt(1)
	b.EmitCmp(bytecode.CmpLT)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if ok || err == nil {
		t.Fatalf("Run = (%v, %v), want (false, non-nil)", ok, err)
	}
}

func TestScopeLocalsSetAndGet(t *testing.T) {
	v, st, _, _ := newHarness(t)

	b := bytecode.NewBuilder()
	b.EmitPushLocal(2)
	b.EmitGetLocal(0)
	b.EmitPop(bytecode.PopDiscard)
	b.EmitPop(bytecode.PopLocals)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if err != nil || !ok {
		t.Fatalf("Run = (%v, %v), want (true, nil)", ok, err)
	}
	if v.Scope() != nil {
		t.Fatalf("Scope() after POP LOCALS = %v, want nil", v.Scope())
	}
}

func TestStackUnderflowFails(t *testing.T) {
	v, st, _, _ := newHarness(t)

	b := bytecode.NewBuilder()
	b.EmitPop(bytecode.PopDiscard)
	b.EmitHalt()

	ok, err := run(t, v, st, b)
	if ok || err == nil {
		t.Fatalf("Run = (%v, %v), want (false, non-nil)", ok, err)
	}
}
