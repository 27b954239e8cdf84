package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Builder constructs a dependency Graph from resolved stack configurations,
// validating referential integrity and acyclicity before any scheduling
// happens.
type Builder struct {
	nodes []*StackNode
	index map[string]int
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Build constructs the graph. It fails with a graph error when a dependency
// names a stack absent from configs, or when the dependency relation
// contains a cycle (the full cycle path is reported).
func (b *Builder) Build(configs map[string]*StackConfig) (*Graph, error) {
	// Arena order is sorted by name so the same input always produces the
	// same node indices and the same topological order.
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := configs[name]
		if cfg.Name != "" && cfg.Name != name {
			return nil, NewGraphError(
				fmt.Sprintf("config keyed %q carries stack name %q", name, cfg.Name), nil)
		}
		b.index[name] = len(b.nodes)
		b.nodes = append(b.nodes, &StackNode{
			Name:   name,
			Config: cfg,
			State:  NodePending,
		})
	}

	if err := b.connect(); err != nil {
		return nil, err
	}
	if cycle := b.findCycle(); cycle != nil {
		return nil, NewGraphError("dependency cycle detected", nil).WithCycle(cycle)
	}

	g := &Graph{nodes: b.nodes, index: b.index}
	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// connect resolves declared dependencies to arena indices and populates the
// fan-in counters. Duplicate edges to the same target collapse to one.
func (b *Builder) connect() error {
	for i, node := range b.nodes {
		seen := make(map[int]bool)
		for _, dep := range node.Config.Dependencies {
			j, ok := b.index[dep.StackName]
			if !ok {
				return NewGraphError(
					fmt.Sprintf("dependency %q does not name a known stack", dep.StackName),
					nil).WithStack(node.Name)
			}
			if j == i {
				return NewGraphError("stack depends on itself", nil).
					WithStack(node.Name).
					WithCycle([]string{node.Name, node.Name})
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			node.Dependencies = append(node.Dependencies, j)
			b.nodes[j].Dependents = append(b.nodes[j].Dependents, i)
		}
		node.FanIn = len(node.Dependencies)
	}
	return nil
}

// findCycle runs a depth-first traversal over dependency edges tracking the
// recursion stack, and returns the first cycle found as a name path
// (first element repeated at the end), or nil.
func (b *Builder) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make([]int, len(b.nodes))
	var path []int
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = gray
		path = append(path, i)
		for _, j := range b.nodes[i].Dependencies {
			switch color[j] {
			case white:
				if visit(j) {
					return true
				}
			case gray:
				start := 0
				for k, p := range path {
					if p == j {
						start = k
						break
					}
				}
				for _, p := range path[start:] {
					cycle = append(cycle, b.nodes[p].Name)
				}
				cycle = append(cycle, b.nodes[j].Name)
				return true
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		return false
	}

	for i := range b.nodes {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

// topoSort produces a deterministic topological order (Kahn's algorithm,
// ties broken by arena index, which is name order).
func (g *Graph) topoSort() ([]int, error) {
	indegree := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		indegree[i] = len(n.Dependencies)
	}

	var ready []int
	for i := range g.nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		for _, j := range g.nodes[i].Dependents {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(order) != len(g.nodes) {
		// Unreachable after findCycle, kept as a guard.
		return nil, NewInternalError("topological sort did not cover all nodes", nil)
	}
	return order, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node for a stack name, or nil.
func (g *Graph) Node(name string) *StackNode {
	if i, ok := g.index[name]; ok {
		return g.nodes[i]
	}
	return nil
}

// NodeAt returns the node at an arena index.
func (g *Graph) NodeAt(i int) *StackNode {
	return g.nodes[i]
}

// TopologicalOrder returns the stack names in deterministic dependency-first
// order.
func (g *Graph) TopologicalOrder() []string {
	names := make([]string, len(g.order))
	for k, i := range g.order {
		names[k] = g.nodes[i].Name
	}
	return names
}

// Roots returns the names of all nodes without dependencies, in name order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.nodes {
		if len(n.Dependencies) == 0 {
			roots = append(roots, n.Name)
		}
	}
	return roots
}

// TransitiveDependents returns the arena indices of every node downstream of
// start, excluding start itself.
func (g *Graph) TransitiveDependents(start int) []int {
	seen := make(map[int]bool)
	stack := append([]int(nil), g.nodes[start].Dependents...)
	var out []int
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
		stack = append(stack, g.nodes[i].Dependents...)
	}
	sort.Ints(out)
	return out
}

// TransitiveDependencies returns the arena indices of every node upstream of
// start, excluding start itself.
func (g *Graph) TransitiveDependencies(start int) []int {
	seen := make(map[int]bool)
	stack := append([]int(nil), g.nodes[start].Dependencies...)
	var out []int
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
		stack = append(stack, g.nodes[i].Dependencies...)
	}
	sort.Ints(out)
	return out
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph stacks {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	for _, i := range g.order {
		sb.WriteString(fmt.Sprintf("  %q;\n", g.nodes[i].Name))
	}
	for _, i := range g.order {
		for _, j := range g.nodes[i].Dependencies {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", g.nodes[j].Name, g.nodes[i].Name))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
