package engine

import (
	"encoding/json"
	"fmt"
)

// NodeState is the scheduling state of a StackNode. States only move forward:
// Pending -> Ready -> Running -> Succeeded|Failed, or sideways into
// Blocked/Skipped before the node ever runs.
type NodeState string

const (
	// NodePending indicates the node still has unsatisfied dependencies.
	NodePending NodeState = "pending"

	// NodeReady indicates every dependency is satisfied and the node is
	// queued for a worker slot.
	NodeReady NodeState = "ready"

	// NodeRunning indicates the deployment invocation is in flight.
	NodeRunning NodeState = "running"

	// NodeSucceeded indicates the invocation completed and its outputs were
	// recorded.
	NodeSucceeded NodeState = "succeeded"

	// NodeFailed indicates the invocation returned an error.
	NodeFailed NodeState = "failed"

	// NodeBlocked indicates a dependency failed or was itself blocked; the
	// node was never invoked.
	NodeBlocked NodeState = "blocked"

	// NodeSkipped indicates the node was deliberately excluded from the run
	// (dependency-skipping mode).
	NodeSkipped NodeState = "skipped"
)

// IsTerminal reports whether the state is final for this run.
func (s NodeState) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeBlocked, NodeSkipped:
		return true
	}
	return false
}

// Validate checks that the state is one of the known values.
func (s NodeState) Validate() error {
	switch s {
	case NodePending, NodeReady, NodeRunning,
		NodeSucceeded, NodeFailed, NodeBlocked, NodeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid node state: %s", s)
	}
}

// MarshalJSON serializes the state as its string value.
func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON deserializes and validates a state value.
func (s *NodeState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = NodeState(str)
	return s.Validate()
}

// FailurePolicy selects how a run reacts to a failed node.
type FailurePolicy string

const (
	// StopOnFailure halts the run after any failure: nodes already running
	// finish, every other non-terminal node becomes Blocked. The default.
	StopOnFailure FailurePolicy = "stop"

	// ContinueAndIsolate blocks only the transitive dependents of a failed
	// node; independent branches run to completion.
	ContinueAndIsolate FailurePolicy = "continue"
)

// Validate checks that the policy is one of the known values.
func (p FailurePolicy) Validate() error {
	switch p {
	case StopOnFailure, ContinueAndIsolate:
		return nil
	default:
		return fmt.Errorf("invalid failure policy: %s", p)
	}
}
