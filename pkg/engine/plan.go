package engine

import (
	"fmt"
	"sort"
)

// NewPlan selects the nodes to execute in this run. With an empty target
// list every stack in the graph is planned. With targets, their transitive
// dependency closure is included unless skipDependencies is set, in which
// case only the targets themselves run and their out-of-plan dependencies
// are recorded as external (their outputs may still be sourced from
// previously cached values, see OutputCache).
func NewPlan(g *Graph, targets []string, skipDependencies bool) (*ExecutionPlan, error) {
	if skipDependencies && len(targets) == 0 {
		return nil, NewConfigurationError(
			"skipping dependencies requires an explicit stack selection; refusing a full run", nil)
	}

	selected := make(map[int]bool)
	if len(targets) == 0 {
		for i := 0; i < g.Len(); i++ {
			selected[i] = true
		}
	} else {
		var missing []string
		for _, name := range targets {
			i, ok := g.index[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			selected[i] = true
			if !skipDependencies {
				for _, j := range g.TransitiveDependencies(i) {
					selected[j] = true
				}
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, NewGraphError(
				fmt.Sprintf("requested stacks not found in the manifest set: %v", missing), nil)
		}
	}

	plan := &ExecutionPlan{
		Graph:            g,
		External:         make(map[string][]string),
		SkipDependencies: skipDependencies,
	}

	// Plan order is the graph's deterministic topological order restricted
	// to the selection.
	for _, i := range g.order {
		if !selected[i] {
			continue
		}
		plan.Nodes = append(plan.Nodes, i)
		node := g.nodes[i]
		for _, j := range node.Dependencies {
			if !selected[j] {
				plan.External[node.Name] = append(plan.External[node.Name], g.nodes[j].Name)
			}
		}
	}
	if len(plan.Nodes) == 0 {
		return nil, NewGraphError("no stacks selected for execution", nil)
	}
	return plan, nil
}

// Contains reports whether the stack is part of this plan.
func (p *ExecutionPlan) Contains(name string) bool {
	i, ok := p.Graph.index[name]
	if !ok {
		return false
	}
	for _, n := range p.Nodes {
		if n == i {
			return true
		}
	}
	return false
}

// Order returns the planned stack names in execution (topological) order.
func (p *ExecutionPlan) Order() []string {
	names := make([]string, len(p.Nodes))
	for k, i := range p.Nodes {
		names[k] = p.Graph.nodes[i].Name
	}
	return names
}

// ExternalDependencies returns the sorted stack names that planned nodes
// depend on but that are outside the plan.
func (p *ExecutionPlan) ExternalDependencies() []string {
	set := make(map[string]bool)
	for _, deps := range p.External {
		for _, d := range deps {
			set[d] = true
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
