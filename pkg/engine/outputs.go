package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// OutputCache stores the outputs of completed stacks for the duration of one
// run. Records are written once, when a stack reaches Succeeded, and are
// read-only afterwards. Seeded values stand in for stacks excluded by
// dependency-skipping.
type OutputCache struct {
	mu      sync.RWMutex
	records map[string]*OutputRecord
}

// NewOutputCache creates an empty cache.
func NewOutputCache() *OutputCache {
	return &OutputCache{records: make(map[string]*OutputRecord)}
}

// Record stores the outputs of a succeeded stack. The first record for a
// stack wins; a run never deploys the same stack twice.
func (c *OutputCache) Record(rec *OutputRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[rec.StackName]; ok {
		return
	}
	c.records[rec.StackName] = rec
}

// Seed supplies out-of-band outputs for a stack that will not execute in
// this run, typically fetched from previously deployed state.
func (c *OutputCache) Seed(stack string, outputs map[string]any) {
	c.Record(&OutputRecord{StackName: stack, Outputs: outputs})
}

// Get returns the record for a stack, if present.
func (c *OutputCache) Get(stack string) (*OutputRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[stack]
	return rec, ok
}

// BindingResolver resolves parameterBindings declarations against the output
// cache so dependents consume upstream values without re-invoking the
// dependency.
type BindingResolver struct {
	cache *OutputCache
	plan  *ExecutionPlan
}

// NewBindingResolver creates a resolver for one plan.
func NewBindingResolver(cache *OutputCache, plan *ExecutionPlan) *BindingResolver {
	return &BindingResolver{cache: cache, plan: plan}
}

// Resolve computes the parameter overrides for a node from its declared
// bindings. A binding whose dependency executed in this run but lacks the
// referenced output key is a binding error. A binding against a skipped
// dependency with no seeded value resolves to absent: the parameter is
// omitted rather than failing the run.
func (r *BindingResolver) Resolve(node *StackNode) (map[string]any, error) {
	cfg := node.Config
	if len(cfg.ParameterBindings) == 0 {
		return nil, nil
	}

	deps := make(map[string]*DependencyRef, len(cfg.Dependencies))
	for i := range cfg.Dependencies {
		deps[cfg.Dependencies[i].Name] = &cfg.Dependencies[i]
	}

	params := make([]string, 0, len(cfg.ParameterBindings))
	for p := range cfg.ParameterBindings {
		params = append(params, p)
	}
	sort.Strings(params)

	overrides := make(map[string]any)
	for _, param := range params {
		ref := cfg.ParameterBindings[param]
		alias, key, ok := strings.Cut(ref, ".")
		if !ok {
			return nil, NewBindingError(
				fmt.Sprintf("binding %q for parameter %q is not of the form dependency.output", ref, param),
				nil).WithStack(node.Name)
		}

		dep, ok := deps[alias]
		if !ok {
			// Undeclared aliases are rejected at resolve time; reaching this
			// point means the config bypassed manifest validation.
			return nil, NewBindingError(
				fmt.Sprintf("binding for parameter %q references undeclared dependency alias %q", param, alias),
				nil).WithStack(node.Name)
		}

		rec, cached := r.cache.Get(dep.StackName)
		if !cached {
			if r.plan != nil && !r.plan.Contains(dep.StackName) {
				// Skipped dependency without seeded outputs: degrade to
				// absent, this is the fast-patch affordance.
				continue
			}
			return nil, NewBindingError(
				fmt.Sprintf("no outputs recorded for dependency %q", dep.StackName),
				nil).WithStack(node.Name)
		}

		value, found := lookupOutput(dep, r.targetConfig(dep.StackName), rec, key)
		if !found {
			if r.plan != nil && !r.plan.Contains(dep.StackName) {
				continue
			}
			return nil, NewBindingError(
				fmt.Sprintf("output %q is not present in the outputs of dependency %q", key, dep.StackName),
				nil).WithStack(node.Name)
		}
		overrides[param] = value
	}
	return overrides, nil
}

func (r *BindingResolver) targetConfig(stack string) *StackConfig {
	if r.plan == nil {
		return nil
	}
	if n := r.plan.Graph.Node(stack); n != nil {
		return n.Config
	}
	return nil
}

// lookupOutput resolves an output reference against a record, honoring two
// levels of aliasing: the consumer's dependencies[].outputs map (remote key
// to local alias) and the producer's exports map (local key to published
// alias). Aliases are consulted before falling back to the raw key so
// manifests that omit them keep working.
func lookupOutput(dep *DependencyRef, target *StackConfig, rec *OutputRecord, key string) (any, bool) {
	// Consumer-side alias: find the remote key published under this alias.
	remote := key
	for remoteKey, alias := range dep.Outputs {
		if alias == key {
			remote = remoteKey
			break
		}
	}

	// Producer-side export alias: a stack may publish a local output key
	// under a different name.
	if target != nil {
		for localKey, alias := range target.Exports {
			if alias == remote {
				if v, ok := rec.Outputs[localKey]; ok {
					return v, true
				}
			}
		}
	}

	v, ok := rec.Outputs[remote]
	return v, ok
}
