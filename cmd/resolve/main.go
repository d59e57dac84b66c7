package main

import (
	"fmt"
	"os"

	"github.com/kristofer/resolve/internal/demo"
	"github.com/kristofer/resolve/internal/logging"
	"github.com/kristofer/resolve/pkg/bytecode"
	"github.com/kristofer/resolve/pkg/ids"
	"github.com/kristofer/resolve/pkg/resolver"
	"github.com/kristofer/resolve/pkg/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("resolve version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "run":
		goal := demo.Goal
		if len(os.Args) >= 3 {
			goal = os.Args[2]
		}
		runGoal(goal)
	case "graph":
		goal := demo.Goal
		if len(os.Args) >= 3 {
			goal = os.Args[2]
		}
		showGraph(goal)
	case "disasm":
		disasmSample()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("resolve - a policy rule dependency resolver")
	fmt.Println("\nUsage:")
	fmt.Println("  resolve run [goal]      Seed the demo catalog and update_goal(goal)")
	fmt.Println("  resolve graph [goal]    Print the dependency DAG and topological order")
	fmt.Println("  resolve disasm          Assemble a sample chunk and print its disassembly")
	fmt.Println("  resolve version         Show version")
	fmt.Println("  resolve help            Show this help")
	fmt.Printf("\nWith no goal given, the default goal is %q.\n", demo.Goal)
}

// buildDemo wires a fresh MemStore and resolver.Engine against the demo
// catalog, seeding its starting facts.
func buildDemo() (*resolver.Engine, *store.MemStore, *demo.Log, error) {
	st, err := store.NewMemStore()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating fact store: %w", err)
	}
	logger := logging.New(os.Getenv("RESOLVE_LOG_LEVEL"))
	eng := resolver.New(st, logger)
	log := &demo.Log{}
	if err := demo.Build(eng, log); err != nil {
		return nil, nil, nil, fmt.Errorf("building demo catalog: %w", err)
	}
	if err := demo.Seed(st); err != nil {
		return nil, nil, nil, fmt.Errorf("seeding demo facts: %w", err)
	}
	return eng, st, log, nil
}

func runGoal(goal string) {
	eng, _, log, err := buildDemo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := eng.UpdateGoal(goal, nil); err != nil {
		fmt.Fprintf(os.Stderr, "update_goal(%q) failed: %v\n", goal, err)
		for _, line := range log.Lines() {
			fmt.Println(line)
		}
		os.Exit(1)
	}

	for _, line := range log.Lines() {
		fmt.Println(line)
	}
	fmt.Printf("update_goal(%q) succeeded, engine stamp %d\n", goal, eng.EngineStamp())
}

func showGraph(goal string) {
	eng, _, _, err := buildDemo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	g, order, err := eng.BuildGraph(goal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building graph for %q: %v\n", goal, err)
		os.Exit(1)
	}

	fmt.Printf("Dependency graph for goal %q:\n", goal)
	for i := 0; i < g.Index.Total(); i++ {
		if !g.InGraph[i] {
			continue
		}
		src := g.Nodes[i]
		for _, dst := range g.Adj[i] {
			fmt.Printf("  %s -> %s\n", nodeLabel(eng, src), nodeLabel(eng, dst))
		}
	}

	fmt.Println("\nTopological order:")
	for i, id := range order {
		fmt.Printf("  %d: %s\n", i, nodeLabel(eng, id))
	}
}

// nodeLabel renders a flat-index-space id back to its registered name and
// kind, for human-readable graph output.
func nodeLabel(eng *resolver.Engine, id ids.ID) string {
	switch id.Tag() {
	case ids.TargetTag:
		return fmt.Sprintf("target:%s", eng.TargetName(id))
	case ids.FactVarTag:
		return fmt.Sprintf("factvar:%s", eng.FactVarName(id))
	case ids.DresVarTag:
		return fmt.Sprintf("dresvar:%s", eng.DresVarName(id))
	default:
		return id.String()
	}
}

func disasmSample() {
	b := bytecode.NewBuilder()
	b.EmitPushInt(21)
	b.EmitPushInt(2)
	b.EmitCmp(bytecode.CmpLT)
	ph := b.EmitBranch(bytecode.BranchIfFalse, 0)
	b.EmitPushString("unreachable")
	b.EmitPop(bytecode.PopDiscard)
	b.PatchBranch(ph, b.Pos())
	b.EmitHalt()
	chunk := b.Chunk()

	instrs, err := bytecode.Disassemble(chunk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error disassembling sample chunk: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Sample chunk disassembly ===")
	for i, instr := range instrs {
		fmt.Printf("%4d: %s\n", i, instr.String())
	}
}
