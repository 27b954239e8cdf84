package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stackdeck/stackdeck/pkg/engine"
	"github.com/stackdeck/stackdeck/pkg/policy"
)

func testGraph(t *testing.T) *engine.Graph {
	t.Helper()
	configs := map[string]*engine.StackConfig{
		"network": {Name: "network", TemplateFile: "/t/n.bicep", Subscription: true, Location: "uksouth"},
		"app": {
			Name: "app", TemplateFile: "/t/a.bicep", Subscription: true, Location: "uksouth",
			Dependencies: []engine.DependencyRef{{Name: "network", StackName: "network"}},
		},
	}
	g, err := engine.NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestDependencySummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, "never")
	p.DependencySummary(testGraph(t))

	out := buf.String()
	if !strings.Contains(out, "network (no dependencies)") {
		t.Errorf("missing root line:\n%s", out)
	}
	if !strings.Contains(out, "app <- network") {
		t.Errorf("missing dependency line:\n%s", out)
	}
}

func TestExecutionPlan(t *testing.T) {
	g := testGraph(t)
	plan, err := engine.NewPlan(g, []string{"app"}, true)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	var buf bytes.Buffer
	NewPrinter(&buf, "never").ExecutionPlan(plan)
	out := buf.String()
	if !strings.Contains(out, "1. app") {
		t.Errorf("missing order entry:\n%s", out)
	}
	if !strings.Contains(out, "External dependencies") || !strings.Contains(out, "network") {
		t.Errorf("external dependencies not reported:\n%s", out)
	}
}

func TestRunReport(t *testing.T) {
	rep := &engine.RunReport{
		RunID: "run-1",
		Nodes: []engine.NodeReport{
			{Name: "network", State: engine.NodeSucceeded, Duration: 1200 * time.Millisecond},
			{Name: "app", State: engine.NodeFailed, Error: "provisioning failed"},
		},
		Summary:  engine.RunSummary{Total: 2, Succeeded: 1, Failed: 1},
		Duration: 2 * time.Second,
	}

	var buf bytes.Buffer
	NewPrinter(&buf, "never").RunReport(rep)
	out := buf.String()
	for _, want := range []string{"succeeded", "failed", "provisioning failed", "2 stacks: 1 succeeded, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPolicyResult(t *testing.T) {
	res := &policy.Result{
		Violations: []policy.Violation{{Policy: "stack-naming", Message: "bad name", Severity: policy.SeverityError}},
		Warnings:   []policy.Violation{{Policy: "export-contract", Message: "no exports", Severity: policy.SeverityWarning}},
	}
	var buf bytes.Buffer
	NewPrinter(&buf, "never").PolicyResult(res)
	out := buf.String()
	if !strings.Contains(out, "policy violation stack-naming: bad name") {
		t.Errorf("violation line missing:\n%s", out)
	}
	if !strings.Contains(out, "policy warning export-contract: no exports") {
		t.Errorf("warning line missing:\n%s", out)
	}
}
