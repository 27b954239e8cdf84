package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a deployment.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the deployment.
	SeverityError Severity = "error"
)

// Policy is a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the severity for violations of this policy.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Violation is a single policy finding against a deployment plan.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Stack is the stack the violation concerns, when the policy names one.
	Stack string `json:"stack,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all policies against a plan.
type Result struct {
	// Allowed indicates whether the deployment may proceed.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Context carries run-level settings into policy evaluation.
type Context struct {
	// Environment is the target environment (e.g. "production").
	Environment string `json:"environment,omitempty"`

	// AllowedLocations restricts deployment locations when non-empty.
	AllowedLocations []string `json:"allowed_locations,omitempty"`

	// DefaultLocation is the run-level location stacks fall back to.
	DefaultLocation string `json:"default_location,omitempty"`

	// DryRun indicates the run will not provision anything.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
