// Package methods implements the flat, name-indexed method table that the
// VM's CALL opcode dispatches through (spec.md §4.4).
//
// A handler's contract mirrors the spec precisely even though it is
// expressed with idiomatic Go error returns rather than an integer return
// code: returning a non-nil *RaiseError signals an exception (the
// original "negative" outcome, carrying the would-be error code),
// returning ErrSilentFail signals a silent failure (the original "zero"
// outcome), and returning a nil error with a value signals success (the
// original "positive" outcome).
package methods

import (
	"errors"
	"fmt"
)

// ErrSilentFail is returned by a Handler to signal a silent failure: the
// VM stops the action, the resolver rolls back the calling transaction and
// ends the goal with its own ErrSilentFail, logged at Info rather than
// Error. No further targets of that goal run.
var ErrSilentFail = errors.New("methods: silent failure")

// RaiseError is returned by a Handler to signal a structured exception:
// an error code plus a free-text message, per spec.md §4.3/§6.6.
type RaiseError struct {
	Code    int
	Message string
}

func (e *RaiseError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Raise constructs a RaiseError. Callers typically return Raise(code, msg)
// as a Handler's error.
func Raise(code int, format string, args ...interface{}) error {
	return &RaiseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Handler is a registered action method, invoked by the VM's CALL opcode.
// args holds exactly the arguments popped from the stack, in call order;
// userData is whatever opaque value was supplied at registration.
type Handler func(args []interface{}, userData interface{}) (interface{}, error)

type entry struct {
	name     string
	handler  Handler
	userData interface{}
}

// Table is the flat method registry (spec.md §4.4: "a flat list of (name,
// id, handler, user_data)").
type Table struct {
	byName  map[string]*entry
	order   []string
	dflt    *entry
}

// NewTable returns an empty method table.
func NewTable() *Table {
	return &Table{byName: make(map[string]*entry)}
}

// Add registers handler under name. It is an error to register the same
// name twice (spec.md §4.4: "registration must reject duplicates").
func (t *Table) Add(name string, handler Handler, userData interface{}) error {
	if _, exists := t.byName[name]; exists {
		return fmt.Errorf("methods: %q is already registered", name)
	}
	e := &entry{name: name, handler: handler, userData: userData}
	t.byName[name] = e
	t.order = append(t.order, name)
	return nil
}

// Remove unregisters name, if present.
func (t *Table) Remove(name string) {
	if _, exists := t.byName[name]; !exists {
		return
	}
	delete(t.byName, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// SetDefault installs a fallback handler invoked when CALL names a method
// that is not registered.
func (t *Table) SetDefault(handler Handler, userData interface{}) {
	t.dflt = &entry{name: "", handler: handler, userData: userData}
}

// Has reports whether name is registered (used by finalize, spec.md §6.2).
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Invoke looks up name and calls its handler with args, falling back to
// the default handler if one was set, and raising "unknown method"
// otherwise.
func (t *Table) Invoke(name string, args []interface{}) (interface{}, error) {
	e, ok := t.byName[name]
	if !ok {
		if t.dflt != nil {
			return t.dflt.handler(args, t.dflt.userData)
		}
		return nil, Raise(1, "unknown method %q", name)
	}
	return e.handler(args, e.userData)
}

// Names returns the registered method names in registration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
