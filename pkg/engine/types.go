package engine

import (
	"time"
)

// StackConfig is a fully resolved stack configuration: the product of manifest
// discovery and extends-merge resolution (pkg/manifest). The engine treats it
// as immutable.
type StackConfig struct {
	// Name is the stack identity, unique within a run.
	Name string `json:"name"`

	// Description is an optional human-readable summary.
	Description string `json:"description,omitempty"`

	// ManifestPath is the manifest file this configuration was resolved from.
	ManifestPath string `json:"manifest_path,omitempty"`

	// Dir is the working directory for the deployment invocation, normally
	// the directory containing the manifest.
	Dir string `json:"dir,omitempty"`

	// TemplateFile is the absolute path of the deployment template.
	TemplateFile string `json:"template_file"`

	// ParameterFile is the optional absolute path of a parameter file.
	ParameterFile string `json:"parameter_file,omitempty"`

	// Subscription indicates a subscription-scoped deployment. Resource-group
	// scoped deployments carry ResourceGroup instead.
	Subscription bool `json:"subscription"`

	// ResourceGroup is the target resource group for non-subscription
	// deployments.
	ResourceGroup string `json:"resource_group,omitempty"`

	// Location overrides the run-level deployment location for this stack.
	Location string `json:"location,omitempty"`

	// Dependencies are the upstream stacks this stack consumes.
	Dependencies []DependencyRef `json:"dependencies,omitempty"`

	// Exports publishes output keys to dependents under an alias.
	// Key = local output key, value = published alias.
	Exports map[string]string `json:"exports,omitempty"`

	// ParameterBindings maps template parameter names to
	// "dependencyAlias.outputKey" reference strings resolved at run time.
	ParameterBindings map[string]string `json:"parameter_bindings,omitempty"`

	// ExtraArgs are additional provisioning CLI arguments declared by the
	// manifest, passed through verbatim.
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// DependencyRef is a declared dependency edge from one stack to another.
type DependencyRef struct {
	// Name is the local alias used by parameter bindings. Defaults to
	// StackName when the manifest omits it.
	Name string `json:"name"`

	// StackName is the identity of the target stack.
	StackName string `json:"stack_name"`

	// Outputs optionally maps remote output keys to local aliases. An empty
	// map means the edge exists purely for ordering.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// StackNode is a stack in the dependency graph together with its scheduling
// state. Node identity and edges are owned by the Graph; the scheduler only
// advances State.
type StackNode struct {
	// Name is the stack identity.
	Name string `json:"name"`

	// Config is the resolved configuration for this stack.
	Config *StackConfig `json:"-"`

	// Dependencies are arena indices of the stacks this node depends on.
	Dependencies []int `json:"-"`

	// Dependents are arena indices of the stacks that depend on this node.
	Dependents []int `json:"-"`

	// FanIn is the number of unsatisfied dependencies within the current
	// plan. A node becomes ready when it reaches zero.
	FanIn int `json:"fan_in"`

	// State is the current scheduling state.
	State NodeState `json:"state"`

	// Err is the node-level failure, set when State is Failed.
	Err error `json:"-"`

	// StartedAt and CompletedAt bracket the invocation, when one happened.
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Graph is the dependency graph over all stacks in scope. Nodes live in an
// arena slice; edges are index pairs into it, so the node structs themselves
// never reference each other.
type Graph struct {
	nodes []*StackNode
	index map[string]int

	// order is a deterministic topological order over all nodes, computed at
	// build time.
	order []int
}

// ExecutionPlan is the subset of graph nodes scheduled for one run, in
// topological order.
type ExecutionPlan struct {
	Graph *Graph

	// Nodes are the arena indices selected for execution, topologically
	// ordered (dependencies first).
	Nodes []int

	// External records, per selected stack, dependency names that are outside
	// the plan (skipped or undiscovered). Used for reporting only.
	External map[string][]string

	// SkipDependencies marks a plan built with dependency inclusion disabled.
	SkipDependencies bool
}

// OutputRecord is the output key/value set produced by one succeeded stack.
// Read-only once recorded; lives for the duration of the run.
type OutputRecord struct {
	StackName string         `json:"stack_name"`
	Outputs   map[string]any `json:"outputs"`

	// Synthetic marks a record fabricated by a dry-run invocation: keys are
	// structurally present but values are placeholders.
	Synthetic bool `json:"synthetic,omitempty"`
}

// NodeReport is the final per-stack outcome in a RunReport.
type NodeReport struct {
	Name     string        `json:"name"`
	State    NodeState     `json:"state"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// RunReport is the outcome of a scheduler run: every planned node in the
// topological order actually used, with its terminal state.
type RunReport struct {
	// RunID identifies this invocation.
	RunID string `json:"run_id"`

	// Nodes are per-stack outcomes in plan order.
	Nodes []NodeReport `json:"nodes"`

	// Summary aggregates terminal states.
	Summary RunSummary `json:"summary"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// RunSummary aggregates node outcomes for a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Skipped   int `json:"skipped"`
}

// OK reports whether every executed node reached Succeeded. Stacks skipped by
// dependency-skipping never run and do not count against the run; anything
// else maps to a non-zero exit status for the caller.
func (r *RunReport) OK() bool {
	return r.Summary.Succeeded+r.Summary.Skipped == r.Summary.Total
}

// Node returns the report entry for a stack, or nil.
func (r *RunReport) Node(name string) *NodeReport {
	for i := range r.Nodes {
		if r.Nodes[i].Name == name {
			return &r.Nodes[i]
		}
	}
	return nil
}
