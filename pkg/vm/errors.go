// Package vm - structured failure and locals-dump reporting.
package vm

import (
	"fmt"
	"strings"
)

// RuntimeError is the exception ("RAISE") outcome of spec.md §4.3: an
// error code, a message, the DEBUG context active when it occurred, and a
// dump of the local-variable scope chain for logging (spec.md §7: log
// "details including local-variable dump").
type RuntimeError struct {
	Code    int
	Message string
	Context string
	Locals  []string
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", e.Code, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, " (%s)", e.Context)
	}
	if len(e.Locals) > 0 {
		b.WriteString("\nlocals:")
		for _, l := range e.Locals {
			fmt.Fprintf(&b, "\n  %s", l)
		}
	}
	return b.String()
}

// localsDump renders every slot of every scope in the current chain,
// innermost first, for inclusion in a RuntimeError.
func (v *VM) localsDump() []string {
	var out []string
	depth := 0
	for s := v.scope; s != nil; s = s.parent {
		for i, slot := range s.slots {
			out = append(out, fmt.Sprintf("scope[%d].%d = %s", depth, i, slot))
		}
		depth++
	}
	return out
}
