package vm

// handlerFrame snapshots the state that must be restored on any
// non-local exit from the instructions executed under it: the stack
// height, and the scope pointer, at the moment the frame was entered
// (spec.md §4.3). Frames nest via prev, forming an explicit call stack in
// place of setjmp/longjmp (spec.md §9).
type handlerFrame struct {
	stackDepth int
	scope      *Scope
	prev       *handlerFrame
}

// unwind restores v's stack height and scope chain to what they were when
// the frame was entered. It is called exactly once, when the frame's Run
// call is returning a non-nil error, and is idempotent with respect to
// the invariant it restores: after it returns, v.StackDepth() ==
// f.stackDepth and v.scope == f.scope.
func (f *handlerFrame) unwind(v *VM) {
	if extra := len(v.stack) - f.stackDepth; extra > 0 {
		v.cleanup(extra)
	}
	v.scope = f.scope
}
