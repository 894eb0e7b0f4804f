// Package graph holds the in-memory dependency graph used to vet
// dependency writes before they reach the database. The database trigger
// is the last line of defense; this check rejects cycles with a precise
// error before a transaction is opened.
package graph

import "github.com/google/uuid"

// Graph is an adjacency snapshot of one project's dependency edges. An
// edge a -> b means a depends on b. The zero value is not usable; build
// one with New.
type Graph struct {
	adj map[uuid.UUID][]uuid.UUID
}

// New builds a graph from (task, depends_on) pairs.
func New(edges [][2]uuid.UUID) *Graph {
	g := &Graph{adj: make(map[uuid.UUID][]uuid.UUID, len(edges))}
	for _, e := range edges {
		g.Add(e[0], e[1])
	}
	return g
}

// Add inserts an edge without checking for cycles. Run WouldCreateCycle
// first when the edge comes from user input.
func (g *Graph) Add(task, dependsOn uuid.UUID) {
	g.adj[task] = append(g.adj[task], dependsOn)
}

// Reaches reports whether to is reachable from `from` along dependency
// edges. A node always reaches itself.
func (g *Graph) Reaches(from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	seen := make(map[uuid.UUID]bool)
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, next := range g.adj[n] {
			if next == to {
				return true
			}
			if !seen[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// WouldCreateCycle reports whether adding task -> dependsOn would close
// a cycle, that is whether task is already reachable from dependsOn. A
// self-dependency always cycles.
func (g *Graph) WouldCreateCycle(task, dependsOn uuid.UUID) bool {
	return task == dependsOn || g.Reaches(dependsOn, task)
}

// HasCycle reports whether the graph contains any cycle.
func (g *Graph) HasCycle() bool {
	const (
		white = iota
		gray
		black
	)
	color := make(map[uuid.UUID]int, len(g.adj))
	var visit func(n uuid.UUID) bool
	visit = func(n uuid.UUID) bool {
		color[n] = gray
		for _, next := range g.adj[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range g.adj {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	total := 0
	for _, next := range g.adj {
		total += len(next)
	}
	return total
}
