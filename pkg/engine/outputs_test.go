package engine

import (
	"testing"
)

func TestOutputCacheFirstWins(t *testing.T) {
	cache := NewOutputCache()
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"vnetId": "first"}})
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"vnetId": "second"}})

	rec, ok := cache.Get("network")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Outputs["vnetId"] != "first" {
		t.Errorf("first record should win, got %v", rec.Outputs["vnetId"])
	}
}

func bindingFixture(t *testing.T) (*Graph, *ExecutionPlan) {
	t.Helper()
	configs := stackSet(map[string][]string{
		"network": nil,
		"app":     {"network"},
	})
	configs["network"].Exports = map[string]string{"vnetResourceId": "vnetId"}
	configs["app"].ParameterBindings = map[string]string{"vnet": "network.vnetId"}

	g, err := NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return g, plan
}

func TestResolveBindingViaProducerExport(t *testing.T) {
	g, plan := bindingFixture(t)
	cache := NewOutputCache()
	// The producer's raw output key differs from the published alias.
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"vnetResourceId": "/vnets/v1"}})

	overrides, err := NewBindingResolver(cache, plan).Resolve(g.Node("app"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if overrides["vnet"] != "/vnets/v1" {
		t.Errorf("overrides = %v", overrides)
	}
}

func TestResolveBindingRawKeyFallback(t *testing.T) {
	g, plan := bindingFixture(t)
	cache := NewOutputCache()
	// No export indirection needed when the record carries the key directly.
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"vnetId": "/vnets/raw"}})

	overrides, err := NewBindingResolver(cache, plan).Resolve(g.Node("app"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if overrides["vnet"] != "/vnets/raw" {
		t.Errorf("overrides = %v", overrides)
	}
}

func TestResolveBindingConsumerAlias(t *testing.T) {
	configs := stackSet(map[string][]string{
		"network": nil,
		"app":     {"network"},
	})
	configs["app"].Dependencies[0].Outputs = map[string]string{"vnetResourceId": "vnet"}
	configs["app"].ParameterBindings = map[string]string{"vnetParam": "network.vnet"}

	g, err := NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	cache := NewOutputCache()
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"vnetResourceId": "/vnets/aliased"}})

	overrides, err := NewBindingResolver(cache, plan).Resolve(g.Node("app"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if overrides["vnetParam"] != "/vnets/aliased" {
		t.Errorf("overrides = %v", overrides)
	}
}

func TestResolveBindingMissingOutputsInPlan(t *testing.T) {
	g, plan := bindingFixture(t)
	// Dependency is in the plan but produced nothing: hard error.
	_, err := NewBindingResolver(NewOutputCache(), plan).Resolve(g.Node("app"))
	if !IsBinding(err) {
		t.Fatalf("got %v, want binding error", err)
	}
}

func TestResolveBindingMissingKeyInPlan(t *testing.T) {
	g, plan := bindingFixture(t)
	cache := NewOutputCache()
	cache.Record(&OutputRecord{StackName: "network", Outputs: map[string]any{"unrelated": 1}})

	_, err := NewBindingResolver(cache, plan).Resolve(g.Node("app"))
	if !IsBinding(err) {
		t.Fatalf("got %v, want binding error", err)
	}
}

func TestResolveBindingSkippedDependencyDegrades(t *testing.T) {
	g, _ := bindingFixture(t)
	plan, err := NewPlan(g, []string{"app"}, true)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	// No cached outputs for the skipped dependency: parameter is omitted.
	overrides, err := NewBindingResolver(NewOutputCache(), plan).Resolve(g.Node("app"))
	if err != nil {
		t.Fatalf("Resolve should degrade for skipped dependencies: %v", err)
	}
	if _, ok := overrides["vnet"]; ok {
		t.Errorf("parameter should be absent, got %v", overrides)
	}
}

func TestResolveBindingSeededSkippedDependency(t *testing.T) {
	g, _ := bindingFixture(t)
	plan, err := NewPlan(g, []string{"app"}, true)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	cache := NewOutputCache()
	cache.Seed("network", map[string]any{"vnetId": "/vnets/seeded"})

	overrides, err := NewBindingResolver(cache, plan).Resolve(g.Node("app"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if overrides["vnet"] != "/vnets/seeded" {
		t.Errorf("seeded value not used: %v", overrides)
	}
}

func TestResolveNoBindings(t *testing.T) {
	g := mustBuild(t, map[string][]string{"solo": nil})
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	overrides, err := NewBindingResolver(NewOutputCache(), plan).Resolve(g.Node("solo"))
	if err != nil || overrides != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", overrides, err)
	}
}
