// Package demo builds a small, self-contained order-fulfillment rule set
// used by cmd/resolve. It plays the role that a
// parsed rule file would play in a full deployment (spec.md Non-goals
// excludes the rule-file lexer/parser), so every target, variable, and
// action here is constructed directly against the resolver engine's
// register_* API (spec.md §6.2) instead of being read from text.
package demo

import (
	"fmt"

	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/resolver"
	"github.com/kristofer/resolve/pkg/store"
)

// Log collects the human-readable trace the demo catalog's methods
// produce, for the CLI to print after a run.
type Log struct {
	lines []string
}

func (l *Log) record(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// Lines returns every recorded line in execution order.
func (l *Log) Lines() []string { return l.lines }

// Goal is the demo catalog's terminal target, passed to update_goal.
const Goal = "ship_order"

// Build registers the demo catalog's factvar, targets, and action methods
// against eng, grounding the chain:
//
//	order_submitted (factvar) -> validate_order -> reserve_stock -> ship_order
//
// validate_order's action FILTERs the "order" fact by status:pending;
// reserve_stock's action CALLs a handler that stands in for an inventory
// decrement; ship_order's action FILTERs the order again, SET_FIELDs its
// status to "shipped", and CALLs a notification handler. Every stage
// appends to log, so a CLI run is observable end to end without
// inspecting the fact store directly.
func Build(eng *resolver.Engine, log *Log) error {
	lit := eng.Literals()
	statusLit := lit.Intern("status").Index()

	eng.AddMethod("validate", func(args []interface{}, userData interface{}) (interface{}, error) {
		log.record("validate_order: order(s) matching status:pending are valid")
		return true, nil
	}, nil)

	eng.AddMethod("reserve", func(args []interface{}, userData interface{}) (interface{}, error) {
		log.record("reserve_stock: inventory count decremented")
		return true, nil
	}, nil)

	eng.AddMethod("notify_shipped", func(args []interface{}, userData interface{}) (interface{}, error) {
		log.record("ship_order: shipment notification sent")
		return true, nil
	}, nil)

	orderSubmitted := eng.RegisterFactVar("order_submitted", resolver.FlagPrereq)

	validateChunk := bytecode.NewBuilder()
	validateChunk.EmitPushGlobal("order")
	validateChunk.EmitPushString("status")
	validateChunk.EmitPushString("pending")
	validateChunk.EmitFilter(1)
	validateChunk.EmitPop(bytecode.PopDiscard)
	validateChunk.EmitPushString("validate")
	validateChunk.EmitCall(0)
	validateChunk.EmitHalt()

	validateOrder := eng.RegisterTarget("validate_order", []ids.ID{orderSubmitted}, []resolver.Action{
		{Name: "validate", Chunk: validateChunk.Chunk()},
	})

	reserveChunk := bytecode.NewBuilder()
	reserveChunk.EmitPushString("reserve")
	reserveChunk.EmitCall(0)
	reserveChunk.EmitHalt()

	reserveStock := eng.RegisterTarget("reserve_stock", []ids.ID{validateOrder}, []resolver.Action{
		{Name: "reserve", Chunk: reserveChunk.Chunk()},
	})

	shipChunk := bytecode.NewBuilder()
	shipChunk.EmitPushGlobal("order")
	shipChunk.EmitPushString("status")
	shipChunk.EmitPushString("pending")
	shipChunk.EmitFilter(1)
	shipChunk.EmitPushString("shipped")
	shipChunk.EmitSetField(statusLit)
	shipChunk.EmitPushString("notify_shipped")
	shipChunk.EmitCall(0)
	shipChunk.EmitHalt()

	eng.RegisterTarget(Goal, []ids.ID{reserveStock}, []resolver.Action{
		{Name: "notify_shipped", Chunk: shipChunk.Chunk()},
	})

	return nil
}

// Seed inserts the fact data the demo catalog's goal chain reads: a single
// pending order, an inventory row, and an order_submitted fact that marks
// the order as newly arrived, so the engine's next update_goal observes
// the trigger factvar as changed.
func Seed(st store.FactStore) error {
	if err := st.TransactionPush(); err != nil {
		return err
	}

	order, err := st.NewFact("order")
	if err != nil {
		_ = st.TransactionPop(true)
		return err
	}
	order.Fields["status"] = store.NewString("pending")
	order.Fields["sku"] = store.NewString("widget-1")
	if err := st.Insert(order); err != nil {
		_ = st.TransactionPop(true)
		return err
	}

	inventory, err := st.NewFact("inventory")
	if err != nil {
		_ = st.TransactionPop(true)
		return err
	}
	inventory.Fields["sku"] = store.NewString("widget-1")
	inventory.Fields["count"] = store.NewInt(10)
	if err := st.Insert(inventory); err != nil {
		_ = st.TransactionPop(true)
		return err
	}

	submitted, err := st.NewFact("order_submitted")
	if err != nil {
		_ = st.TransactionPop(true)
		return err
	}
	if err := st.Insert(submitted); err != nil {
		_ = st.TransactionPop(true)
		return err
	}

	return st.TransactionPop(false)
}
