package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// Engine evaluates deployment plans against loaded policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   zerolog.Logger
}

// planInput is the document handed to Rego evaluation.
type planInput struct {
	Stacks  []*engine.StackConfig `json:"stacks"`
	Order   []string              `json:"order,omitempty"`
	Context *Context              `json:"context"`
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.add(&builtins[i]); err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	return e, nil
}

// LoadPolicies loads additional policy files or directories. Later loads
// override earlier policies of the same name, so users can replace builtins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.Apply(policies); err != nil {
		return err
	}
	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// Apply installs the given policies, replacing any already loaded under the
// same name. It is the path taken when a file watcher reloads policies at
// run time.
func (e *Engine) Apply(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.add(&policies[i]); err != nil {
			return fmt.Errorf("policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

func (e *Engine) add(p *Policy) error {
	// Compile eagerly so a broken policy fails at load, not mid-run.
	_, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query("data"),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile: %w", err)
	}
	e.policies[p.Name] = p
	return nil
}

// EvaluatePlan evaluates every enabled policy against the stacks selected for
// a run. The returned result is never nil on a nil error; evaluation failures
// of individual policies surface as warnings rather than aborting the gate.
func (e *Engine) EvaluatePlan(ctx context.Context, stacks []*engine.StackConfig, order []string, pctx *Context) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if pctx == nil {
		pctx = &Context{}
	}
	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = start
	}
	input := &planInput{Stacks: stacks, Order: order, Context: pctx}

	result := &Result{Allowed: true}
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := e.policies[name]
		if !p.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}
		for _, v := range violations {
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(start)
	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("plan policy evaluation completed")
	return result, nil
}

// evaluatePolicy queries the policy's deny set against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input *planInput) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))
	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)
	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(p, d))
			}
		}
	}
	return violations, nil
}

// makeViolation converts one deny result into a Violation. String results
// become the message; object results may carry message, stack, and severity.
func makeViolation(p *Policy, result any) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]any:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if stack, ok := r["stack"].(string); ok {
			v.Stack = stack
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "stackdeck.policies"
}

// Policies returns the loaded policies sorted by name.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	p.Enabled = enabled
	return nil
}
