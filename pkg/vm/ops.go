package vm

import (
	"errors"

	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/methods"
	"github.com/kristofer/resolve/pkg/store"
)

func (v *VM) execPush(instr bytecode.Instr) error {
	switch instr.PushKind {
	case bytecode.PushNil:
		v.push(NilEntry())
	case bytecode.PushInt:
		v.push(IntEntry(instr.Int))
	case bytecode.PushDouble:
		v.push(DoubleEntry(instr.Double))
	case bytecode.PushString:
		v.push(StringEntry(instr.Str))
	case bytecode.PushGlobal:
		g, err := v.resolveGlobal(instr.Str)
		if err != nil {
			return err
		}
		v.push(GlobalEntry(g))
	case bytecode.PushLocal:
		v.scope = NewScope(instr.Arity, v.scope)
	default:
		return v.fail(2, "unhandled PUSH kind %d", instr.PushKind)
	}
	return nil
}

// resolveGlobal implements "PUSH GLOBAL <name>: resolve the name against
// the fact store: if it names existing facts, push a global holding
// those; else push an unresolved-name global" (spec.md §4.1).
func (v *VM) resolveGlobal(name string) (*Global, error) {
	facts, err := v.Store.LookupByName(name)
	if err != nil {
		return nil, v.fail(3, "fact store lookup %q: %v", name, err)
	}
	if len(facts) == 0 {
		return UnresolvedGlobal(name), nil
	}
	return BoundGlobal(name, facts), nil
}

func (v *VM) execPop(instr bytecode.Instr) error {
	switch instr.PopKind {
	case bytecode.PopLocals:
		if v.scope == nil {
			return v.fail(2, "POP LOCALS with no active scope")
		}
		v.scope = v.scope.parent
	case bytecode.PopDiscard:
		if _, err := v.pop(); err != nil {
			return err
		}
	default:
		return v.fail(2, "unhandled POP kind %d", instr.PopKind)
	}
	return nil
}

// popPairs consumes n (field, value) pairs from the top of the stack,
// pushed in the order field1,value1,...,fieldN,valueN, so they must be
// popped in reverse.
func (v *VM) popPairs(n int) (map[string]store.Value, error) {
	fields := make(map[string]store.Value, n)
	for i := 0; i < n; i++ {
		valEntry, err := v.pop()
		if err != nil {
			return nil, err
		}
		fieldEntry, err := v.pop()
		if err != nil {
			return nil, err
		}
		if fieldEntry.Kind != KindString {
			return nil, v.fail(2, "field name operand must be a string, got %s", fieldEntry.Kind)
		}
		val, err := entryToValue(valEntry)
		if err != nil {
			return nil, err
		}
		fields[fieldEntry.S] = val
	}
	return fields, nil
}

func entryToValue(e Entry) (store.Value, error) {
	switch e.Kind {
	case KindInteger:
		return store.NewInt(int64(e.I)), nil
	case KindDouble:
		return store.NewDouble(e.D), nil
	case KindString:
		return store.NewString(e.S), nil
	default:
		return store.Value{}, errors.New("vm: field value must be a string, integer, or double")
	}
}

func valueToEntry(val store.Value) Entry {
	switch val.Kind {
	case store.Int:
		return IntEntry(int32(val.I))
	case store.Double:
		return DoubleEntry(val.D)
	default:
		return StringEntry(val.Str)
	}
}

func (v *VM) popGlobal() (*Global, error) {
	e, err := v.pop()
	if err != nil {
		return nil, err
	}
	if e.Kind != KindGlobal {
		return nil, v.fail(2, "expected a global, got %s", e.Kind)
	}
	return e.Global, nil
}

func matchesAll(f *store.Fact, store_ store.FactStore, fields map[string]store.Value) bool {
	for name, want := range fields {
		got, ok := store_.GetField(f, name)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// execFilter implements FILTER <n>: restrict a global to the facts
// matching all n (field,value) pairs (spec.md §4.1).
func (v *VM) execFilter(n int) error {
	fields, err := v.popPairs(n)
	if err != nil {
		return err
	}
	g, err := v.popGlobal()
	if err != nil {
		return err
	}
	var kept []*store.Fact
	for _, f := range g.Facts {
		if matchesAll(f, v.Store, fields) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		v.push(GlobalEntry(UnresolvedGlobal(g.Name)))
	} else {
		v.push(GlobalEntry(BoundGlobal(g.Name, kept)))
	}
	return nil
}

// execUpdate implements both UPDATE <n, partial> and REPLACE <n>.
// REPLACE substitutes the fact set wholesale; UPDATE mutates fields on the
// existing facts, clearing unlisted fields unless partial is set
// (spec.md §4.1).
func (v *VM) execUpdate(n int, partial bool, replace bool) error {
	fields, err := v.popPairs(n)
	if err != nil {
		return err
	}
	g, err := v.popGlobal()
	if err != nil {
		return err
	}

	if replace {
		for _, f := range g.Facts {
			if err := v.Store.Remove(f); err != nil {
				return v.fail(3, "replace: removing old fact: %v", err)
			}
		}
		nf, err := v.Store.NewFact(g.Name)
		if err != nil {
			return v.fail(3, "replace: allocating new fact: %v", err)
		}
		for name, val := range fields {
			nf, err = v.Store.SetField(nf, name, val)
			if err != nil {
				return v.fail(3, "replace: setting field %q: %v", name, err)
			}
		}
		if err := v.Store.Insert(nf); err != nil {
			return v.fail(3, "replace: inserting new fact: %v", err)
		}
		v.push(GlobalEntry(BoundGlobal(g.Name, []*store.Fact{nf})))
		return nil
	}

	updated := make([]*store.Fact, len(g.Facts))
	for i, f := range g.Facts {
		// f may be the exact pointer a prior commit's snapshot holds, so
		// every change below happens on an unshared clone, never on f.
		clone := store.CloneFact(f)
		if !partial {
			for existing := range clone.Fields {
				if _, listed := fields[existing]; !listed {
					delete(clone.Fields, existing)
				}
			}
		}
		for name, val := range fields {
			clone.Fields[name] = val
		}
		if err := v.Store.Insert(clone); err != nil {
			return v.fail(3, "update: writing fact %s: %v", clone.ID, err)
		}
		updated[i] = clone
	}
	g.Facts = updated
	v.push(GlobalEntry(g))
	return nil
}

// execCreate implements CREATE <n>: allocate an orphan global carrying
// the given fields (spec.md §4.1).
func (v *VM) execCreate(n int) error {
	fields, err := v.popPairs(n)
	if err != nil {
		return err
	}
	f, err := v.Store.NewFact(store.OrphanStructName)
	if err != nil {
		return v.fail(3, "create: allocating fact: %v", err)
	}
	// f is fresh and not yet in the store, so its fields are set directly;
	// going through Store.SetField would insert it.
	for name, val := range fields {
		f.Fields[name] = val
	}
	v.push(GlobalEntry(OrphanGlobal(f)))
	return nil
}

func (v *VM) literalName(idx int) string {
	return v.Literals.Name(ids.New(ids.LiteralTag, idx))
}

// execSet implements SET (write the stack value into the named global,
// promoting an orphan into the store) and SET_FIELD (write into a named
// field of the facts referenced by the global beneath the value on the
// stack) -- spec.md §4.1.
func (v *VM) execSet(instr bytecode.Instr) error {
	switch instr.SetKind {
	case bytecode.SetGlobal:
		val, err := v.pop()
		if err != nil {
			return err
		}
		if val.Kind != KindGlobal {
			return v.fail(2, "SET expects a global on the stack, got %s", val.Kind)
		}
		name := v.literalName(instr.LiteralIndex)
		g := val.Global
		if g.IsOrphan() {
			f := g.Facts[0]
			f.Name = name
			if err := v.Store.Insert(f); err != nil {
				return v.fail(3, "SET: inserting promoted orphan: %v", err)
			}
		}
		g.Name = name
		return nil
	case bytecode.SetField:
		val, err := v.pop()
		if err != nil {
			return err
		}
		g, err := v.popGlobal()
		if err != nil {
			return err
		}
		fv, err := entryToValue(val)
		if err != nil {
			return err
		}
		field := v.literalName(instr.LiteralIndex)
		for i, f := range g.Facts {
			nf, err := v.Store.SetField(f, field, fv)
			if err != nil {
				return v.fail(3, "SET_FIELD %q: %v", field, err)
			}
			g.Facts[i] = nf
		}
		return nil
	default:
		return v.fail(2, "unhandled SET kind %d", instr.SetKind)
	}
}

// execGet implements GET_FIELD (read a field off the global on top of the
// stack) and GET_LOCAL (read the current scope's slot idx) -- spec.md §4.1.
func (v *VM) execGet(instr bytecode.Instr) error {
	switch instr.GetKind {
	case bytecode.GetField:
		g, err := v.popGlobal()
		if err != nil {
			return err
		}
		if len(g.Facts) == 0 {
			return v.fail(4, "GET_FIELD on a global with no facts")
		}
		field := v.literalName(instr.LiteralIndex)
		val, ok := v.Store.GetField(g.Facts[0], field)
		if !ok {
			v.push(NilEntry())
			return nil
		}
		v.push(valueToEntry(val))
		return nil
	case bytecode.GetLocal:
		if v.scope == nil {
			return v.fail(2, "GET_LOCAL with no active scope")
		}
		e, err := v.scope.Get(instr.LocalIndex)
		if err != nil {
			return v.fail(2, "%v", err)
		}
		v.push(e)
		return nil
	default:
		return v.fail(2, "unhandled GET kind %d", instr.GetKind)
	}
}

type callOutcome int

const (
	callSuccess callOutcome = iota
	callSilent
)

// execCall implements CALL <n>: pop n arguments and a method name (pushed
// beneath them), invoke the registered handler, and push its result
// (spec.md §4.1, §4.4).
func (v *VM) execCall(n int) (callOutcome, error) {
	args := make([]interface{}, n)
	for i := n - 1; i >= 0; i-- {
		e, err := v.pop()
		if err != nil {
			return callSuccess, err
		}
		args[i] = entryToGo(e)
	}
	nameEntry, err := v.pop()
	if err != nil {
		return callSuccess, err
	}
	if nameEntry.Kind != KindString {
		return callSuccess, v.fail(2, "CALL expects a method-name string beneath its arguments")
	}

	result, callErr := v.Methods.Invoke(nameEntry.S, args)
	if callErr == nil {
		v.push(goToEntry(result))
		return callSuccess, nil
	}
	if errors.Is(callErr, methods.ErrSilentFail) {
		return callSilent, nil
	}
	var raise *methods.RaiseError
	if errors.As(callErr, &raise) {
		return callSuccess, v.fail(raise.Code, "%s", raise.Message)
	}
	return callSuccess, v.fail(255, "method %q: %v", nameEntry.S, callErr)
}

func entryToGo(e Entry) interface{} {
	switch e.Kind {
	case KindNil:
		return nil
	case KindInteger:
		return e.I
	case KindDouble:
		return e.D
	case KindString:
		return e.S
	case KindGlobal:
		return e.Global
	default:
		return nil
	}
}

func goToEntry(val interface{}) Entry {
	switch t := val.(type) {
	case nil:
		return NilEntry()
	case int:
		return IntEntry(int32(t))
	case int32:
		return IntEntry(t)
	case int64:
		return IntEntry(int32(t))
	case float64:
		return DoubleEntry(t)
	case string:
		return StringEntry(t)
	case bool:
		if t {
			return IntEntry(1)
		}
		return IntEntry(0)
	case *Global:
		return GlobalEntry(t)
	default:
		return NilEntry()
	}
}
