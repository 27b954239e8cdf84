// Package report renders human-facing console output: the dependency map,
// the planned execution order, and the final run report. All machine-facing
// output (JSON, DOT) lives with the data types; this package is purely
// presentation.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/policy"
)

// palette is rotated over stack names so the same stack keeps the same color
// throughout one invocation.
var palette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgHiCyan),
	color.New(color.FgHiGreen),
	color.New(color.FgHiYellow),
}

// Printer writes console reports to a single writer.
type Printer struct {
	out    io.Writer
	colors map[string]*color.Color
	next   int
}

// NewPrinter creates a printer. Mode is "auto", "always", or "never" and
// controls ANSI color output; auto follows the terminal detection done by the
// color package.
func NewPrinter(out io.Writer, mode string) *Printer {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	}
	return &Printer{out: out, colors: make(map[string]*color.Color)}
}

func (p *Printer) colorFor(stack string) *color.Color {
	if c, ok := p.colors[stack]; ok {
		return c
	}
	c := palette[p.next%len(palette)]
	p.next++
	p.colors[stack] = c
	return c
}

// DependencySummary prints each stack with the stacks it depends on, in
// topological order, one line per stack.
func (p *Printer) DependencySummary(g *engine.Graph) {
	fmt.Fprintln(p.out, "Dependency map:")
	for _, name := range g.TopologicalOrder() {
		node := g.Node(name)
		var deps []string
		for _, i := range node.Dependencies {
			dep := g.NodeAt(i).Name
			deps = append(deps, p.colorFor(dep).Sprint(dep))
		}
		line := "  " + p.colorFor(name).Sprint(name)
		if len(deps) > 0 {
			line += " <- " + strings.Join(deps, ", ")
		} else {
			line += " (no dependencies)"
		}
		fmt.Fprintln(p.out, line)
	}
}

// ExecutionPlan prints the planned order and any dependencies satisfied from
// outside the plan.
func (p *Printer) ExecutionPlan(plan *engine.ExecutionPlan) {
	fmt.Fprintln(p.out, "Execution order:")
	for i, name := range plan.Order() {
		fmt.Fprintf(p.out, "  %2d. %s\n", i+1, p.colorFor(name).Sprint(name))
	}
	if external := plan.ExternalDependencies(); len(external) > 0 {
		fmt.Fprintf(p.out, "External dependencies (not deployed this run): %s\n",
			strings.Join(external, ", "))
	}
}

// PolicyResult prints policy findings. Violations are always shown; warnings
// only when present.
func (p *Printer) PolicyResult(res *policy.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(p.out, "%s %s: %s\n",
			color.New(color.FgRed, color.Bold).Sprint("policy violation"),
			v.Policy, v.Message)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(p.out, "%s %s: %s\n",
			color.New(color.FgYellow).Sprint("policy warning"),
			w.Policy, w.Message)
	}
}

// RunReport prints the per-stack outcome table and a one-line summary.
func (p *Printer) RunReport(rep *engine.RunReport) {
	fmt.Fprintln(p.out, "Run report:")
	width := 0
	for _, n := range rep.Nodes {
		if len(n.Name) > width {
			width = len(n.Name)
		}
	}
	for _, n := range rep.Nodes {
		line := fmt.Sprintf("  %-*s  %s", width, n.Name, stateLabel(n.State))
		if n.Duration > 0 {
			line += fmt.Sprintf("  (%s)", n.Duration.Round(time.Millisecond))
		}
		if n.Error != "" {
			line += "  " + n.Error
		}
		fmt.Fprintln(p.out, line)
	}

	s := rep.Summary
	parts := []string{fmt.Sprintf("%d succeeded", s.Succeeded)}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if s.Blocked > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", s.Blocked))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	fmt.Fprintf(p.out, "%d stacks: %s in %s\n",
		s.Total, strings.Join(parts, ", "), rep.Duration.Round(time.Millisecond))
}

// Stacks prints the discovered stacks with their manifest paths, sorted by
// name. Used by the validate command.
func (p *Printer) Stacks(configs map[string]*engine.StackConfig) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := configs[name]
		fmt.Fprintf(p.out, "  %s  %s\n", p.colorFor(name).Sprint(name), cfg.ManifestPath)
	}
}

func stateLabel(state engine.NodeState) string {
	switch state {
	case engine.NodeSucceeded:
		return color.New(color.FgGreen).Sprint("succeeded")
	case engine.NodeFailed:
		return color.New(color.FgRed, color.Bold).Sprint("failed")
	case engine.NodeBlocked:
		return color.New(color.FgYellow).Sprint("blocked")
	case engine.NodeSkipped:
		return color.New(color.FgHiBlack).Sprint("skipped")
	default:
		return string(state)
	}
}
