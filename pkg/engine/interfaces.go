package engine

import (
	"context"
	"time"
)

// Invoker performs the provisioning side effect for a single stack. The
// engine treats it as opaque: it either returns the stack's outputs or an
// error. Implementations are expected to honor dry-run semantics themselves
// (no side effect, synthetic outputs) so the scheduler never needs to know.
type Invoker interface {
	// Deploy provisions one stack with the given parameter overrides and
	// returns its outputs. The call may block for as long as the external
	// tool runs; it is the only suspension point in the engine.
	Deploy(ctx context.Context, cfg *StackConfig, overrides map[string]any) (*OutputRecord, error)
}

// InvokeFunc adapts a plain function to the Invoker interface.
type InvokeFunc func(ctx context.Context, cfg *StackConfig, overrides map[string]any) (*OutputRecord, error)

// Deploy implements Invoker.
func (f InvokeFunc) Deploy(ctx context.Context, cfg *StackConfig, overrides map[string]any) (*OutputRecord, error) {
	return f(ctx, cfg, overrides)
}

// OutputFetcher optionally retrieves previously deployed outputs for a stack
// outside the current plan. Used to seed the cache in dependency-skipping
// mode; absence of a value is not an error.
type OutputFetcher interface {
	FetchOutputs(ctx context.Context, stack string) (map[string]any, error)
}

// EventType identifies a run lifecycle event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventStackStarted   EventType = "stack_started"
	EventStackSucceeded EventType = "stack_succeeded"
	EventStackFailed    EventType = "stack_failed"
	EventStackBlocked   EventType = "stack_blocked"
)

// Event is a run lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Stack     string    `json:"stack,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives run lifecycle events. Implementations must be safe
// for concurrent use and must not block the scheduler.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}
