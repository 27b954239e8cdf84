package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeInvoker records invocation order and verifies every stack starts only
// after all of its dependencies completed.
type fakeInvoker struct {
	mu         sync.Mutex
	deps       map[string][]string
	started    []string
	completed  map[string]bool
	violations []string
	fail       map[string]bool
	outputs    map[string]map[string]any
	overrides  map[string]map[string]any
	gate       map[string]chan struct{}
}

func newFakeInvoker(deps map[string][]string) *fakeInvoker {
	return &fakeInvoker{
		deps:      deps,
		completed: make(map[string]bool),
		fail:      make(map[string]bool),
		outputs:   make(map[string]map[string]any),
		overrides: make(map[string]map[string]any),
		gate:      make(map[string]chan struct{}),
	}
}

func (f *fakeInvoker) Deploy(ctx context.Context, cfg *StackConfig, overrides map[string]any) (*OutputRecord, error) {
	f.mu.Lock()
	for _, d := range f.deps[cfg.Name] {
		if !f.completed[d] {
			f.violations = append(f.violations, cfg.Name+" started before "+d+" completed")
		}
	}
	f.started = append(f.started, cfg.Name)
	f.overrides[cfg.Name] = overrides
	gate := f.gate[cfg.Name]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[cfg.Name] {
		return nil, NewInvokeError("provisioning failed", nil).WithStack(cfg.Name)
	}
	f.completed[cfg.Name] = true
	out := f.outputs[cfg.Name]
	if out == nil {
		out = map[string]any{"id": cfg.Name}
	}
	return &OutputRecord{StackName: cfg.Name, Outputs: out}, nil
}

func (f *fakeInvoker) startedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func runScheduler(t *testing.T, g *Graph, inv Invoker, opts SchedulerOptions) *RunReport {
	t.Helper()
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	s := NewScheduler(inv, nil, nil, zerolog.Nop())
	report, err := s.Run(context.Background(), plan, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestRunLinearChainPropagatesOutputs(t *testing.T) {
	deps := map[string][]string{
		"identity": nil,
		"network":  {"identity"},
		"app":      {"network"},
	}
	configs := stackSet(deps)
	configs["network"].ParameterBindings = map[string]string{"principalId": "identity.principalId"}
	configs["app"].ParameterBindings = map[string]string{"vnetId": "network.vnetId"}

	g, err := NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	inv := newFakeInvoker(deps)
	inv.outputs["identity"] = map[string]any{"principalId": "p-123"}
	inv.outputs["network"] = map[string]any{"vnetId": "/vnets/v1"}

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 1})
	if !report.OK() {
		t.Fatalf("run should succeed: %+v", report.Summary)
	}
	if got := inv.startedNames(); !reflect.DeepEqual(got, []string{"identity", "network", "app"}) {
		t.Errorf("execution order = %v", got)
	}
	if inv.overrides["network"]["principalId"] != "p-123" {
		t.Errorf("network overrides = %v", inv.overrides["network"])
	}
	if inv.overrides["app"]["vnetId"] != "/vnets/v1" {
		t.Errorf("app overrides = %v", inv.overrides["app"])
	}
}

func TestRunDiamondConcurrent(t *testing.T) {
	deps := map[string][]string{
		"base":    nil,
		"compute": {"base"},
		"data":    {"base"},
		"edge":    {"compute", "data"},
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)
	inv.gate["compute"] = make(chan struct{})
	inv.gate["data"] = make(chan struct{})

	// Release the middle pair only once both are in flight, proving the
	// scheduler actually overlaps independent branches.
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			names := inv.startedNames()
			both := 0
			for _, n := range names {
				if n == "compute" || n == "data" {
					both++
				}
			}
			if both == 2 {
				close(inv.gate["compute"])
				close(inv.gate["data"])
				return
			}
			select {
			case <-deadline:
				close(inv.gate["compute"])
				close(inv.gate["data"])
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 2})
	if !report.OK() {
		t.Fatalf("run should succeed: %+v", report.Summary)
	}
	if len(inv.violations) > 0 {
		t.Errorf("ordering violations: %v", inv.violations)
	}
	started := inv.startedNames()
	if started[0] != "base" || started[len(started)-1] != "edge" {
		t.Errorf("started order = %v", started)
	}
}

func TestRunStopOnFailure(t *testing.T) {
	deps := map[string][]string{
		"a":      nil,
		"b":      {"a"},
		"c":      {"b"},
		"d":      {"c"},
		"island": nil,
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)
	inv.fail["b"] = true

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 1, Policy: StopOnFailure})
	if report.OK() {
		t.Fatal("run with a failure must not be OK")
	}
	wantStates := map[string]NodeState{
		"a": NodeSucceeded,
		"b": NodeFailed,
		"c": NodeBlocked,
		"d": NodeBlocked,
	}
	for name, want := range wantStates {
		if got := report.Node(name).State; got != want {
			t.Errorf("%s state = %s, want %s", name, got, want)
		}
	}
	// Stop policy halts everything, including independent branches that have
	// not started yet.
	if got := report.Node("island").State; got != NodeBlocked {
		t.Errorf("island state = %s, want blocked under stop policy", got)
	}
	if report.Summary.Failed != 1 || report.Summary.Blocked != 3 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if report.Node("b").Error == "" {
		t.Error("failed node should carry its error message")
	}
}

func TestRunContinueAndIsolate(t *testing.T) {
	deps := map[string][]string{
		"a":      nil,
		"b":      {"a"},
		"c":      {"b"},
		"island": nil,
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)
	inv.fail["b"] = true

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 2, Policy: ContinueAndIsolate})
	wantStates := map[string]NodeState{
		"a":      NodeSucceeded,
		"b":      NodeFailed,
		"c":      NodeBlocked,
		"island": NodeSucceeded,
	}
	for name, want := range wantStates {
		if got := report.Node(name).State; got != want {
			t.Errorf("%s state = %s, want %s", name, got, want)
		}
	}
	if report.Summary.Succeeded != 2 {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestRunSerialMatchesTopologicalOrder(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
		"e": {"d"},
		"f": {"a"},
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 1})
	if !report.OK() {
		t.Fatalf("run should succeed: %+v", report.Summary)
	}
	if got := inv.startedNames(); !reflect.DeepEqual(got, g.TopologicalOrder()) {
		t.Errorf("serial run order = %v, want %v", got, g.TopologicalOrder())
	}
}

func TestRunRespectsOrderAtAnyConcurrency(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
		"e": {"b"},
		"f": {"d", "e"},
		"g": nil,
		"h": {"g", "f"},
	}
	for _, limit := range []int{1, 2, 3, 8} {
		g := mustBuild(t, deps)
		inv := newFakeInvoker(deps)
		report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: limit})
		if !report.OK() {
			t.Fatalf("limit %d: run should succeed: %+v", limit, report.Summary)
		}
		if len(inv.violations) > 0 {
			t.Errorf("limit %d: ordering violations: %v", limit, inv.violations)
		}
	}
}

func TestRunBindingErrorFailsNode(t *testing.T) {
	deps := map[string][]string{
		"network": nil,
		"app":     {"network"},
	}
	configs := stackSet(deps)
	configs["app"].ParameterBindings = map[string]string{"vnetId": "network.missingKey"}
	g, err := NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	inv := newFakeInvoker(deps)
	inv.outputs["network"] = map[string]any{"otherKey": 1}

	report := runScheduler(t, g, inv, SchedulerOptions{Concurrency: 1})
	if got := report.Node("app").State; got != NodeFailed {
		t.Errorf("app state = %s, want failed", got)
	}
	// The invoker must never be reached with unresolved bindings.
	for _, name := range inv.startedNames() {
		if name == "app" {
			t.Error("app should not have been invoked")
		}
	}
}

func TestRunSeededCacheForSkippedDependency(t *testing.T) {
	deps := map[string][]string{
		"network": nil,
		"app":     {"network"},
	}
	configs := stackSet(deps)
	configs["app"].ParameterBindings = map[string]string{"vnetId": "network.vnetId"}
	g, err := NewBuilder().Build(configs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	plan, err := NewPlan(g, []string{"app"}, true)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	inv := newFakeInvoker(nil)
	cache := NewOutputCache()
	cache.Seed("network", map[string]any{"vnetId": "/vnets/previous"})

	s := NewScheduler(inv, cache, nil, zerolog.Nop())
	report, err := s.Run(context.Background(), plan, SchedulerOptions{Concurrency: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("run should succeed: %+v", report.Summary)
	}
	if inv.overrides["app"]["vnetId"] != "/vnets/previous" {
		t.Errorf("seeded outputs not used: %v", inv.overrides["app"])
	}

	// The skipped dependency shows up in the report without having run.
	if got := report.Node("network"); got == nil || got.State != NodeSkipped {
		t.Errorf("network report = %+v, want skipped", got)
	}
	if report.Summary.Skipped != 1 || report.Summary.Total != 2 {
		t.Errorf("summary = %+v, want 1 skipped of 2 total", report.Summary)
	}
	for _, name := range inv.startedNames() {
		if name == "network" {
			t.Error("skipped dependency must not be invoked")
		}
	}
}

func TestRunCancellation(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)
	inv.gate["a"] = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			if len(inv.startedNames()) > 0 {
				cancel()
				return
			}
			select {
			case <-deadline:
				cancel()
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()
	defer cancel()

	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	s := NewScheduler(inv, nil, nil, zerolog.Nop())
	report, err := s.Run(ctx, plan, SchedulerOptions{Concurrency: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.OK() {
		t.Fatal("canceled run must not be OK")
	}
	if got := report.Node("a").State; got != NodeFailed {
		t.Errorf("a state = %s, want failed after cancellation", got)
	}
	if got := report.Node("b").State; got != NodeBlocked {
		t.Errorf("b state = %s, want blocked", got)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
	}
	g := mustBuild(t, deps)
	inv := newFakeInvoker(deps)
	sink := &eventSink{}

	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	s := NewScheduler(inv, nil, sink, zerolog.Nop())
	report, err := s.Run(context.Background(), plan, SchedulerOptions{Concurrency: 1, RunID: "run-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("run id = %q", report.RunID)
	}

	types := sink.types()
	if types[0] != EventRunStarted || types[len(types)-1] != EventRunCompleted {
		t.Errorf("event sequence = %v", types)
	}
	counts := map[EventType]int{}
	for _, ty := range types {
		counts[ty]++
	}
	if counts[EventStackStarted] != 2 || counts[EventStackSucceeded] != 2 {
		t.Errorf("event counts = %v", counts)
	}
}

func TestRunRejectsInvalidPolicy(t *testing.T) {
	g := mustBuild(t, map[string][]string{"a": nil})
	plan, err := NewPlan(g, nil, false)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	s := NewScheduler(newFakeInvoker(nil), nil, nil, zerolog.Nop())
	_, err = s.Run(context.Background(), plan, SchedulerOptions{Policy: FailurePolicy("explode")})
	if !IsConfiguration(err) {
		t.Errorf("invalid policy: got %v, want configuration error", err)
	}
}
