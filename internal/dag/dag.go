// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed acyclic graph operations for topological
// sorting and cycle detection. The build planner uses it to order packages
// so that every dependency precedes its dependents.
package dag

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError struct {
		// Cycle is the closed path that forms the cycle, first node repeated
		// at the end, e.g. [A B A].
		Cycle []string
	}

	// Graph is a directed graph for topological sorting.
	// Nodes are identified by string keys. An edge from A to B means A must
	// complete before B starts.
	Graph struct {
		// adjacency maps each node to its outgoing neighbors (nodes that depend on it).
		adjacency map[string]map[string]bool
		nodeSet   map[string]bool
	}

	// nameHeap is a min-heap of node names; Kahn's queue pops the
	// lexicographically smallest ready node.
	nameHeap []string
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

func (h nameHeap) Len() int           { return len(h) }
func (h nameHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)        { *h = append(*h, x.(string)) }

func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string]map[string]bool),
		nodeSet:   make(map[string]bool),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	g.nodeSet[name] = true
}

// AddEdge adds a directed edge from -> to, meaning "from" must run before "to".
// Both nodes are implicitly added. Repeated edges are stored once.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if g.adjacency[from] == nil {
		g.adjacency[from] = make(map[string]bool)
	}
	g.adjacency[from][to] = true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodeSet) }

// Nodes returns all nodes in lexicographic order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodeSet))
	for n := range g.nodeSet {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

// Successors returns the nodes that must run after name, sorted.
func (g *Graph) Successors(name string) []string {
	out := make([]string, 0, len(g.adjacency[name]))
	for n := range g.adjacency[name] {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// TopologicalSort returns an execution order using Kahn's algorithm.
// Among nodes that are ready at the same time the lexicographically smallest
// goes first, so identical graphs always yield identical orders.
// Returns CycleError carrying the full cycle path if the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodeSet) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodeSet))
	for node := range g.nodeSet {
		inDegree[node] += 0
		for neighbor := range g.adjacency[node] {
			inDegree[neighbor]++
		}
	}

	ready := &nameHeap{}
	for node, d := range inDegree {
		if d == 0 {
			*ready = append(*ready, node)
		}
	}
	heap.Init(ready)

	result := make([]string, 0, len(g.nodeSet))
	for ready.Len() > 0 {
		node := heap.Pop(ready).(string)
		result = append(result, node)

		for neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				heap.Push(ready, neighbor)
			}
		}
	}

	if len(result) != len(g.nodeSet) {
		return nil, &CycleError{Cycle: g.FindCycle()}
	}
	return result, nil
}

// FindCycle returns one cycle as a closed path, or nil if the graph is
// acyclic. Traversal visits nodes and neighbors in lexicographic order, so
// the reported cycle is stable across runs.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodeSet))
	var stack []string

	var visit func(string) []string
	visit = func(node string) []string {
		state[node] = onStack
		stack = append(stack, node)
		for _, next := range g.Successors(node) {
			switch state[next] {
			case onStack:
				start := slices.Index(stack, next)
				cycle := slices.Clone(stack[start:])
				return append(cycle, next)
			case unvisited:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range g.Nodes() {
		if state[node] == unvisited {
			if c := visit(node); c != nil {
				return c
			}
		}
	}
	return nil
}
