package graph

import (
	"fmt"
	"strings"

	"github.com/kristofer/resolve/pkg/ids"
)

// CycleError is returned by TopoSort when the graph has a cycle; Residual
// names every node whose in-degree never reached zero (spec.md §4.6 step 4).
type CycleError struct {
	Residual []ids.ID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Residual))
	for i, id := range e.Residual {
		names[i] = id.String()
	}
	return fmt.Sprintf("graph: cycle detected, unresolved nodes: %s", strings.Join(names, ", "))
}

// circularQueue is a fixed-capacity FIFO of flat indices, sized exactly to
// the graph (spec.md §4.6: "Queues are fixed-capacity circular buffers of
// size n (graph size); this bound is exact").
type circularQueue struct {
	buf        []int
	head, tail int
	count      int
}

func newCircularQueue(capacity int) *circularQueue {
	if capacity == 0 {
		capacity = 1
	}
	return &circularQueue{buf: make([]int, capacity)}
}

func (q *circularQueue) push(v int) {
	q.buf[q.tail] = v
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
}

func (q *circularQueue) pop() int {
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}

func (q *circularQueue) empty() bool { return q.count == 0 }

// TopoSort orders g's in-graph nodes with Kahn's algorithm (spec.md §4.6).
// Every edge is visited exactly once: as each source is dequeued, its
// outgoing edges are walked and each is stamped with ids.ID.WithDeleted in
// place, the transient traversal marker spec.md §3.1/§9 describes, so a
// defect that re-walked an edge would be caught rather than silently
// double-decrementing an in-degree. The marks are cleared again before
// TopoSort returns, so g's adjacency lists hold plain ids afterwards.
func TopoSort(g *Graph) ([]ids.ID, error) {
	total := g.Index.Total()
	n := 0
	for _, in := range g.InGraph {
		if in {
			n++
		}
	}

	inDegree := make([]int, total)
	for src := 0; src < total; src++ {
		if !g.InGraph[src] {
			continue
		}
		for _, dst := range g.Adj[src] {
			inDegree[g.Index.Flat(dst)]++
		}
	}

	q := newCircularQueue(n)
	for i := 0; i < total; i++ {
		if !g.InGraph[i] {
			continue
		}
		id := g.Nodes[i]
		if id.Tag() != ids.TargetTag || inDegree[i] == 0 {
			q.push(i)
		}
	}

	order := make([]ids.ID, 0, n)
	for !q.empty() {
		u := q.pop()
		order = append(order, g.Nodes[u])
		for i, dst := range g.Adj[u] {
			if dst.Deleted() {
				continue
			}
			g.Adj[u][i] = dst.WithDeleted()
			m := g.Index.Flat(dst)
			inDegree[m]--
			if inDegree[m] == 0 {
				q.push(m)
			}
		}
	}

	for src := range g.Adj {
		for i, dst := range g.Adj[src] {
			if dst.Deleted() {
				g.Adj[src][i] = ids.New(dst.Tag(), dst.Index())
			}
		}
	}

	if len(order) != n {
		var residual []ids.ID
		for i := 0; i < total; i++ {
			if g.InGraph[i] && inDegree[i] > 0 {
				residual = append(residual, g.Nodes[i])
			}
		}
		return nil, &CycleError{Residual: residual}
	}
	return order, nil
}
