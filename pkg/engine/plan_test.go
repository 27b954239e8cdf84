package engine

import (
	"reflect"
	"strings"
	"testing"
)

func TestPlanFullGraph(t *testing.T) {
	g := mustBuild(t, map[string][]string{
		"base": nil,
		"mid":  {"base"},
		"top":  {"mid"},
	})
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if got := plan.Order(); !reflect.DeepEqual(got, []string{"base", "mid", "top"}) {
		t.Errorf("order = %v", got)
	}
	if len(plan.External) != 0 {
		t.Errorf("full plan should have no external dependencies: %v", plan.External)
	}
}

func TestPlanTargetClosure(t *testing.T) {
	g := mustBuild(t, map[string][]string{
		"base":   nil,
		"mid":    {"base"},
		"top":    {"mid"},
		"island": nil,
	})
	plan, err := NewPlan(g, []string{"top"}, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if got := plan.Order(); !reflect.DeepEqual(got, []string{"base", "mid", "top"}) {
		t.Errorf("closure order = %v", got)
	}
	if plan.Contains("island") {
		t.Error("unrelated stack pulled into plan")
	}
}

func TestPlanSkipDependencies(t *testing.T) {
	g := mustBuild(t, map[string][]string{
		"base": nil,
		"mid":  {"base"},
		"top":  {"mid", "base"},
	})
	plan, err := NewPlan(g, []string{"top"}, true)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if got := plan.Order(); !reflect.DeepEqual(got, []string{"top"}) {
		t.Errorf("skip plan order = %v, want just the target", got)
	}
	if got := plan.ExternalDependencies(); !reflect.DeepEqual(got, []string{"base", "mid"}) {
		t.Errorf("external = %v", got)
	}
	if !plan.SkipDependencies {
		t.Error("plan should record the skip flag")
	}
}

func TestPlanSkipRequiresTargets(t *testing.T) {
	g := mustBuild(t, map[string][]string{"base": nil})
	if _, err := NewPlan(g, nil, true); !IsConfiguration(err) {
		t.Errorf("skip without targets: got %v, want configuration error", err)
	}
}

func TestPlanUnknownTargets(t *testing.T) {
	g := mustBuild(t, map[string][]string{"base": nil})
	_, err := NewPlan(g, []string{"zeta", "alpha"}, false)
	if !IsGraph(err) {
		t.Fatalf("unknown targets: got %v, want graph error", err)
	}
	// Missing names are reported sorted for stable messages.
	if msg := err.Error(); !strings.Contains(msg, "[alpha zeta]") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestPlanOrderIsSubsequenceOfGraphOrder(t *testing.T) {
	g := mustBuild(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
		"e": {"a"},
	})
	plan, err := NewPlan(g, []string{"d"}, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	full := g.TopologicalOrder()
	pos := make(map[string]int, len(full))
	for i, n := range full {
		pos[n] = i
	}
	order := plan.Order()
	for i := 1; i < len(order); i++ {
		if pos[order[i-1]] >= pos[order[i]] {
			t.Fatalf("plan order %v is not a subsequence of graph order %v", order, full)
		}
	}
}
