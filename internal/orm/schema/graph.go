package schema

import (
	"fmt"
	"strings"
)

// Graph is the dependency graph between resource types. A type depends on the targets of
// its to-one relationships because it stores their ids.
type Graph struct {
	nodes []string
	edges map[string][]string // type -> dependencies
}

// NewGraph builds the dependency graph of the registry. Self references are ignored.
func NewGraph(r *Registry) *Graph {
	g := &Graph{edges: make(map[string][]string)}
	for _, rt := range r.Types() {
		g.nodes = append(g.nodes, rt.name)
		for _, rel := range rt.relationships {
			if rel.IsToOne() && rel.Target != rt.name {
				g.edges[rt.name] = append(g.edges[rt.name], rel.Target)
			}
		}
	}
	return g
}

// DetectCycles returns every dependency cycle reachable in the graph
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, next := range g.edges[node] {
			if !visited[next] {
				dfs(next, path)
				continue
			}
			if onStack[next] {
				for i, n := range path {
					if n == next {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		onStack[node] = false
	}

	for _, node := range g.nodes {
		if !visited[node] {
			dfs(node, nil)
		}
	}
	return cycles
}

// TopologicalSort returns types with dependencies first. Ties keep registration order.
func (g *Graph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int, len(g.nodes))
	reverse := make(map[string][]string)
	for _, node := range g.nodes {
		outDegree[node] = len(g.edges[node])
		for _, dep := range g.edges[node] {
			reverse[dep] = append(reverse[dep], node)
		}
	}

	var queue []string
	for _, node := range g.nodes {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range reverse[node] {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular to-one dependencies detected:\n%s", formatCycles(g.DetectCycles()))
	}
	return result, nil
}

// DependencyOrder returns type names in an order safe for creating storage tables
func (r *Registry) DependencyOrder() ([]string, error) {
	return NewGraph(r).TopologicalSort()
}

func formatCycles(cycles [][]string) string {
	lines := make([]string, 0, len(cycles))
	for _, cycle := range cycles {
		lines = append(lines, "  "+strings.Join(append(cycle, cycle[0]), " -> "))
	}
	return strings.Join(lines, "\n")
}
