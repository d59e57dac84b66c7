// Package vm implements the stack-based bytecode virtual machine that
// executes a target's compiled actions (spec.md §4.1-§4.3).
//
// Execution model:
//
//	Chunk (pkg/bytecode) -> VM.Run -> reads/writes through pkg/store,
//	calls out through pkg/methods, returns Success / Silent failure /
//	Exception (spec.md §4.3).
//
// The VM decodes one instruction word at a time, dispatches it, and
// advances the program counter; BRANCH instructions overwrite it
// directly. Nested failure handlers are explicit Go values (handlerFrame),
// not setjmp/longjmp: each call to Run pushes a frame recording the stack
// depth and scope pointer on entry, and on any failure the frame's
// unwind method restores both before the outcome propagates to the caller
// (spec.md §9, "Structured failure without setjmp/longjmp").
package vm

import (
	"fmt"

	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/methods"
	"github.com/kristofer/resolve/pkg/store"
)

// Literals resolves a LITERAL-tagged id to its interned string. The VM
// never interns names itself; it only resolves ids that a compiler (or
// test) already interned via pkg/ids.
type Literals interface {
	Name(id ids.ID) string
}

// VM is a reusable interpreter: its fact-store handle, method table, and
// literal table persist across Run calls, but its value stack and scope
// chain are local to a single run (and to any nested run started from a
// CALLed handler).
type VM struct {
	Store    store.FactStore
	Methods  *methods.Table
	Literals Literals

	stack []Entry
	scope *Scope

	active  *handlerFrame
	debugCtx string
}

// New creates a VM bound to the given fact store, method table, and
// literal table.
func New(st store.FactStore, methodTable *methods.Table, literals Literals) *VM {
	return &VM{Store: st, Methods: methodTable, Literals: literals}
}

// StackDepth returns the current value-stack height, exported for tests
// that check the unwind invariant (spec.md §8 property 6).
func (v *VM) StackDepth() int { return len(v.stack) }

// Scope returns the current (innermost) scope, or nil at top level.
func (v *VM) Scope() *Scope { return v.scope }

// PushArgScope creates a new innermost scope of arity len(values) and
// fills it from values, for binding a goal's caller-supplied args as
// initial locals before running its chunk (spec.md §6.3).
func (v *VM) PushArgScope(values []Entry) {
	s := NewScope(len(values), v.scope)
	for i, val := range values {
		s.Set(i, val)
	}
	v.scope = s
}

// push appends an entry to the value stack.
func (v *VM) push(e Entry) {
	v.stack = append(v.stack, e)
}

// pop removes and returns the top stack entry.
func (v *VM) pop() (Entry, error) {
	if len(v.stack) == 0 {
		return Entry{}, v.fail(0, "stack underflow")
	}
	e := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return e, nil
}

// top returns the top stack entry without removing it.
func (v *VM) top() (Entry, error) {
	if len(v.stack) == 0 {
		return Entry{}, v.fail(0, "stack underflow")
	}
	return v.stack[len(v.stack)-1], nil
}

// cleanup pops n entries, discarding them. With Go's garbage collector
// there is no manual free step, but cleanup is still the single place
// that releases stack height -- mirroring spec.md §4.2's cleanup(n),
// which in a manually-managed runtime would also release owned strings
// and globals here.
func (v *VM) cleanup(n int) {
	if n > len(v.stack) {
		n = len(v.stack)
	}
	v.stack = v.stack[:len(v.stack)-n]
}

// fail builds a RuntimeError for an interpreter-detected condition (as
// opposed to one raised by a CALLed method).
func (v *VM) fail(code int, format string, args ...interface{}) error {
	return &RuntimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Context: v.debugCtx,
		Locals:  v.localsDump(),
	}
}

// Run executes chunk to completion, returning (true, nil) on HALT,
// (false, methods.ErrSilentFail) on a silent failure, or (false, err) with
// err a *RuntimeError on an exception. It may be called re-entrantly (for
// example from within a CALLed handler that itself drives the VM), in
// which case a new handlerFrame is pushed and only that frame's stack
// height and scope chain are restored on failure.
func (v *VM) Run(chunk *bytecode.Chunk) (bool, error) {
	frame := &handlerFrame{
		stackDepth: len(v.stack),
		scope:      v.scope,
		prev:       v.active,
	}
	v.active = frame
	defer func() { v.active = frame.prev }()

	ok, err := v.dispatchLoop(chunk)
	if err != nil {
		frame.unwind(v)
	}
	return ok, err
}

func (v *VM) dispatchLoop(chunk *bytecode.Chunk) (bool, error) {
	pc := 0
	for {
		if pc < 0 || pc >= len(chunk.Words) {
			return false, v.fail(2, "program counter %d out of range", pc)
		}
		instr, next, err := bytecode.DecodeAt(chunk, pc)
		if err != nil {
			return false, v.fail(2, "%v", err)
		}

		switch instr.Op {
		case bytecode.OpPush:
			if err := v.execPush(instr); err != nil {
				return false, err
			}
		case bytecode.OpPop:
			if err := v.execPop(instr); err != nil {
				return false, err
			}
		case bytecode.OpFilter:
			if err := v.execFilter(instr.N); err != nil {
				return false, err
			}
		case bytecode.OpUpdate:
			if err := v.execUpdate(instr.N, instr.Partial, false); err != nil {
				return false, err
			}
		case bytecode.OpReplace:
			if err := v.execUpdate(instr.N, false, true); err != nil {
				return false, err
			}
		case bytecode.OpCreate:
			if err := v.execCreate(instr.N); err != nil {
				return false, err
			}
		case bytecode.OpSet:
			if err := v.execSet(instr); err != nil {
				return false, err
			}
		case bytecode.OpGet:
			if err := v.execGet(instr); err != nil {
				return false, err
			}
		case bytecode.OpCall:
			outcome, err := v.execCall(instr.N)
			if err != nil {
				return false, err
			}
			if outcome == callSilent {
				return false, methods.ErrSilentFail
			}
		case bytecode.OpCmp:
			if err := v.execCmp(instr.Cmp); err != nil {
				return false, err
			}
		case bytecode.OpBranch:
			taken, err := v.execBranch(instr)
			if err != nil {
				return false, err
			}
			if taken {
				pc = next + instr.Disp
				continue
			}
		case bytecode.OpDebug:
			v.debugCtx = instr.Debug
		case bytecode.OpHalt:
			return true, nil
		default:
			return false, v.fail(2, "unimplemented opcode %s", instr.Op)
		}

		pc = next
	}
}
