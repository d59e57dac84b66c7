// Package resolver implements the engine that ties the graph builder
// (pkg/graph), the bytecode VM (pkg/vm), and the fact-store transaction
// protocol (pkg/store) together into a single update_goal operation
// (spec.md §4.7).
package resolver

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/graph"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/methods"
	"github.com/kristofer/resolve/pkg/store"
	"github.com/kristofer/resolve/pkg/vm"
)

// ErrSilentFail is returned by UpdateGoal when a handler signaled a silent
// failure (spec.md §4.3 outcome 2, §6.3 "silent_fail"). Unlike an ordinary
// error it carries no message and is logged at Info rather than Error
// (spec.md §7).
var ErrSilentFail = errors.New("resolver: silent goal failure")

// VarFlags holds bit flags on a Variable; FlagPrereq marks a variable that
// is referenced as a prerequisite, so its change-view pattern is worth
// tracking (spec.md §3.3).
type VarFlags uint8

const FlagPrereq VarFlags = 1 << 0

// Action is a compiled instruction sequence plus the name of the method it
// primarily invokes (spec.md §3.4). The rule-file compiler (out of scope,
// spec.md §1) builds the Chunk; Name is what Finalize checks against the
// method table (spec.md §6.2) before any goal can run.
type Action struct {
	Name  string
	Chunk *bytecode.Chunk
}

// Target is a named unit of work: prerequisites, actions, and the stamp
// bookkeeping the rollback protocol needs (spec.md §3.2).
type Target struct {
	ID      ids.ID
	Name    string
	Prereqs []ids.ID
	Actions []Action

	Stamp int64

	txID    int64
	txStamp int64
}

// Variable is a FACTVAR or DRESVAR record (spec.md §3.3); which one it is
// is carried by ID.Tag().
type Variable struct {
	ID    ids.ID
	Name  string
	Flags VarFlags

	Stamp int64

	txID    int64
	txStamp int64
}

// Arg is one (name, value) pair bound as an initial local when a goal's
// own actions run (spec.md §6.3: "args is a list of (name, type, value)
// triples bound as initial locals").
type Arg struct {
	Name  string
	Value store.Value
}

// Engine is the resolver: the target/variable catalog, the method table,
// the fact store, and the monotonic engine stamp (spec.md §3.7, §4.7).
type Engine struct {
	logger hclog.Logger
	store  store.FactStore
	methods *methods.Table

	targetNames  *ids.Table
	factVarNames *ids.Table
	dresVarNames *ids.Table
	literals     *ids.Table

	targets  []*Target
	factVars []*Variable
	dresVars []*Variable

	stamp     int64
	nextTxID  int64
	finalized bool

	view store.View
}

// New creates an Engine bound to st. A nil logger is replaced with
// hclog.NewNullLogger() (spec.md §6.7).
func New(st store.FactStore, logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		logger:       logger,
		store:        st,
		methods:      methods.NewTable(),
		targetNames:  ids.NewTable(ids.TargetTag),
		factVarNames: ids.NewTable(ids.FactVarTag),
		dresVarNames: ids.NewTable(ids.DresVarTag),
		literals:     ids.NewTable(ids.LiteralTag),
		// nextTxID starts at 1 so that a target/variable record's
		// zero-value txID never coincidentally matches a real pass's id
		// during rollback (spec.md §4.7 step 6).
		nextTxID: 1,
	}
}

// Literals returns the engine's shared literal-string table, which a
// chunk's GET_FIELD/SET/SET_FIELD operands index into.
func (e *Engine) Literals() *ids.Table { return e.literals }

// RegisterTarget implements §6.2 register_target. Registering a name a
// second time rebinds its prerequisites and actions in place rather than
// appending a duplicate slot, keeping e.targets[id.Index()] valid for
// every id handed out by e.targetNames.
func (e *Engine) RegisterTarget(name string, prereqs []ids.ID, actions []Action) ids.ID {
	id := e.targetNames.Intern(name)
	t := &Target{ID: id, Name: name, Prereqs: prereqs, Actions: actions}
	if id.Index() == len(e.targets) {
		e.targets = append(e.targets, t)
	} else {
		t.Stamp = e.targets[id.Index()].Stamp
		e.targets[id.Index()] = t
	}
	e.finalized = false
	return id
}

// RegisterFactVar implements §6.2 register_factvar. The engine's
// change-tracking view is rebuilt immediately so that it watches this
// variable's pattern from the moment of registration onward, not from
// whenever the first goal happens to run (spec.md §4.7 step 3 requires
// "since last poll" to mean since registration, not since first use).
func (e *Engine) RegisterFactVar(name string, flags VarFlags) ids.ID {
	id := e.factVarNames.Intern(name)
	if id.Index() == len(e.factVars) {
		e.factVars = append(e.factVars, &Variable{ID: id, Name: name, Flags: flags})
	} else {
		e.factVars[id.Index()].Flags = flags
	}
	e.refreshView()
	return id
}

func (e *Engine) refreshView() {
	patterns := make([]store.Pattern, len(e.factVars))
	for i, v := range e.factVars {
		patterns[i] = store.Pattern{Name: v.Name}
	}
	view, err := e.store.TransparentView(patterns)
	if err != nil {
		e.logger.Error("resolver: building fact-store view failed", "error", err)
		return
	}
	e.view = view
}

// RegisterDresVar implements §6.2 register_dresvar.
func (e *Engine) RegisterDresVar(name string) ids.ID {
	id := e.dresVarNames.Intern(name)
	if id.Index() == len(e.dresVars) {
		e.dresVars = append(e.dresVars, &Variable{ID: id, Name: name})
	}
	return id
}

// AddMethod, RemoveMethod, and SetDefaultMethod implement §6.4.
func (e *Engine) AddMethod(name string, h methods.Handler, userData interface{}) error {
	return e.methods.Add(name, h, userData)
}
func (e *Engine) RemoveMethod(name string) { e.methods.Remove(name) }
func (e *Engine) SetDefaultMethod(h methods.Handler, userData interface{}) {
	e.methods.SetDefault(h, userData)
}

// Finalize implements §6.2 finalize(): resolves every action's method name
// against the method table, collecting every miss via go-multierror rather
// than stopping at the first (SPEC_FULL.md §7 addition), so a rule-file
// author sees every broken binding in one pass.
func (e *Engine) Finalize() error {
	var errs *multierror.Error
	for _, t := range e.targets {
		for _, a := range t.Actions {
			if !e.methods.Has(a.Name) {
				errs = multierror.Append(errs, fmt.Errorf("target %q: action %q: unknown method", t.Name, a.Name))
			}
		}
	}
	if errs.ErrorOrNil() != nil {
		return errs
	}
	e.finalized = true
	return nil
}

// --- graph.Catalog ---

func (e *Engine) TargetByName(name string) (ids.ID, bool) { return e.targetNames.Lookup(name) }

func (e *Engine) Prerequisites(t ids.ID) []ids.ID {
	return e.targets[t.Index()].Prereqs
}

func (e *Engine) Counts() graph.Index {
	return graph.Index{
		NTarget:  len(e.targets),
		NFactVar: len(e.factVars),
		NDresVar: len(e.dresVars),
	}
}

func (e *Engine) targetByID(id ids.ID) *Target     { return e.targets[id.Index()] }
func (e *Engine) factVarByID(id ids.ID) *Variable  { return e.factVars[id.Index()] }
func (e *Engine) dresVarByID(id ids.ID) *Variable  { return e.dresVars[id.Index()] }

func (e *Engine) varByID(id ids.ID) *Variable {
	if id.Tag() == ids.FactVarTag {
		return e.factVarByID(id)
	}
	return e.dresVarByID(id)
}

// stampOf reads the current stamp of any prerequisite, target or variable.
func (e *Engine) stampOf(id ids.ID) int64 {
	if id.Tag() == ids.TargetTag {
		return e.targetByID(id).Stamp
	}
	return e.varByID(id).Stamp
}

func (e *Engine) bumpTargetStamp(t *Target, txID int64) {
	t.txID = txID
	t.txStamp = t.Stamp
	t.Stamp = e.stamp
}

func (e *Engine) bumpVarStamp(v *Variable, txID int64) {
	v.txID = txID
	v.txStamp = v.Stamp
	v.Stamp = e.stamp
}

func (e *Engine) rollback(txID int64) {
	for _, t := range e.targets {
		if t.txID == txID {
			t.Stamp = t.txStamp
		}
	}
	for _, v := range e.factVars {
		if v.txID == txID {
			v.Stamp = v.txStamp
		}
	}
	for _, v := range e.dresVars {
		if v.txID == txID {
			v.Stamp = v.txStamp
		}
	}
}

func argsToEntries(args []Arg) []vm.Entry {
	out := make([]vm.Entry, len(args))
	for i, a := range args {
		switch a.Value.Kind {
		case store.Int:
			out[i] = vm.IntEntry(int32(a.Value.I))
		case store.Double:
			out[i] = vm.DoubleEntry(a.Value.D)
		default:
			out[i] = vm.StringEntry(a.Value.Str)
		}
	}
	return out
}

// runActions executes each of t's actions in program order, each in a
// fresh VM. When bindArgs is true, args are bound as the initial scope of
// every one of those actions (spec.md §6.3: args are bound for the goal
// target's own run, not for a prerequisite target pulled in transitively).
func (e *Engine) runActions(t *Target, args []Arg, bindArgs bool) error {
	for _, a := range t.Actions {
		interp := vm.New(e.store, e.methods, e.literals)
		if bindArgs && len(args) > 0 {
			interp.PushArgScope(argsToEntries(args))
		}
		ok, err := interp.Run(a.Chunk)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resolver: target %q action %q did not halt", t.Name, a.Name)
		}
	}
	return nil
}

// UpdateGoal implements §4.7 resolve(goal) / §6.3 update_goal. It returns
// nil on success, ErrSilentFail (check with errors.Is) on a silent
// failure, or any other error on an exception or structural failure
// (undefined target, cycle).
func (e *Engine) UpdateGoal(goal string, args []Arg) error {
	if !e.finalized {
		if err := e.Finalize(); err != nil {
			return err
		}
	}
	e.stamp++
	txID := e.nextTxID
	e.nextTxID++

	if err := e.store.TransactionPush(); err != nil {
		return err
	}

	if e.view != nil {
		for _, change := range e.view.Changes() {
			for _, v := range e.factVars {
				if v.Name == change.Pattern.Name {
					e.logger.Debug("factvar stale", "name", v.Name, "stamp", e.stamp)
					e.bumpVarStamp(v, txID)
				}
			}
		}
		e.view.Reset()
	}

	goalID, ok := e.targetNames.Lookup(goal)
	if !ok {
		e.store.TransactionPop(true)
		return &graph.UndefinedTargetError{Name: goal}
	}
	goalTarget := e.targetByID(goalID)

	var runErr error
	silent := false
	executed := 0

	if len(goalTarget.Prereqs) == 0 {
		runErr = e.runActions(goalTarget, args, true)
		if runErr == nil {
			e.bumpTargetStamp(goalTarget, txID)
			executed++
		}
	} else {
		g, err := graph.Build(e, goal)
		if err != nil {
			e.store.TransactionPop(true)
			return err
		}
		order, err := graph.TopoSort(g)
		if err != nil {
			e.store.TransactionPop(true)
			return err
		}

		for _, id := range order {
			if id.Tag() != ids.TargetTag {
				continue
			}
			t := e.targetByID(id)
			stale := false
			for _, p := range t.Prereqs {
				if e.stampOf(p) > t.Stamp {
					stale = true
					break
				}
			}
			if !stale {
				continue
			}
			runErr = e.runActions(t, args, id == goalID)
			if runErr != nil {
				break
			}
			e.bumpTargetStamp(t, txID)
			executed++
		}
	}

	if runErr != nil {
		if errors.Is(runErr, methods.ErrSilentFail) {
			silent = true
		}
		e.rollback(txID)
		e.store.TransactionPop(true)
		if silent {
			e.logger.Info("goal silent failure", "goal", goal)
			return ErrSilentFail
		}
		e.logger.Error("goal exception", "goal", goal, "error", runErr)
		return runErr
	}

	if err := e.store.TransactionPop(false); err != nil {
		return err
	}
	e.logger.Info("goal committed", "goal", goal, "stamp", e.stamp, "executed", executed)
	return nil
}

// TargetStamp returns the current stamp of a registered target, for tests
// and the CLI's introspection commands.
func (e *Engine) TargetStamp(name string) (int64, bool) {
	id, ok := e.targetNames.Lookup(name)
	if !ok {
		return 0, false
	}
	return e.targetByID(id).Stamp, true
}

// FactVarStamp returns the current stamp of a registered fact variable.
func (e *Engine) FactVarStamp(name string) (int64, bool) {
	id, ok := e.factVarNames.Lookup(name)
	if !ok {
		return 0, false
	}
	return e.factVarByID(id).Stamp, true
}

// EngineStamp returns the engine's monotonic pass counter (spec.md §3.7).
func (e *Engine) EngineStamp() int64 { return e.stamp }

// BuildGraph builds and topologically sorts the dependency graph for goal,
// for the CLI's `graph` subcommand (SPEC_FULL.md §4.10) and for tests that
// want the order without running a full UpdateGoal.
func (e *Engine) BuildGraph(goal string) (*graph.Graph, []ids.ID, error) {
	g, err := graph.Build(e, goal)
	if err != nil {
		return nil, nil, err
	}
	order, err := graph.TopoSort(g)
	if err != nil {
		return nil, nil, err
	}
	return g, order, nil
}

// TargetName, FactVarName, and DresVarName resolve an ID back to its
// registered name, for rendering a graph's order as readable output.
func (e *Engine) TargetName(id ids.ID) string  { return e.targetNames.Name(id) }
func (e *Engine) FactVarName(id ids.ID) string { return e.factVarNames.Name(id) }
func (e *Engine) DresVarName(id ids.ID) string { return e.dresVarNames.Name(id) }
