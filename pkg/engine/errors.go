package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies orchestration errors by the phase that produced them
// and the blast radius they carry.
type ErrorKind string

const (
	// KindConfiguration covers manifest resolution failures: a missing
	// extends base, an extends cycle, a binding against an undeclared
	// dependency alias. Fatal before any execution.
	KindConfiguration ErrorKind = "configuration"

	// KindGraph covers graph construction failures: dangling dependency
	// references and dependency cycles. Fatal before any execution.
	KindGraph ErrorKind = "graph"

	// KindBinding covers unresolvable parameter bindings against a
	// dependency that actually executed. Fails the affected node only.
	KindBinding ErrorKind = "binding"

	// KindInvoke covers external provisioning failures. Fails the affected
	// node and triggers the failure policy.
	KindInvoke ErrorKind = "invoke"

	// KindInternal covers scheduler bugs that should never surface.
	KindInternal ErrorKind = "internal"
)

// Error is a classified orchestration error with diagnostic context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Stack is the stack or manifest identity the error is attributed to.
	Stack string `json:"stack,omitempty"`

	// Cycle is the full cycle path for cyclic extends/dependency errors.
	Cycle []string `json:"cycle,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Stack != "" {
		fmt.Fprintf(&b, " (stack=%s)", e.Stack)
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Cycle, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can compare against sentinel kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithStack attributes the error to a stack or manifest identity.
func (e *Error) WithStack(name string) *Error {
	e.Stack = name
	return e
}

// WithCycle records the full cycle path for diagnosability.
func (e *Error) WithCycle(cycle []string) *Error {
	e.Cycle = cycle
	return e
}

// NewConfigurationError creates a manifest resolution error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Err: err}
}

// NewGraphError creates a graph construction error.
func NewGraphError(message string, err error) *Error {
	return &Error{Kind: KindGraph, Message: message, Err: err}
}

// NewBindingError creates a parameter binding error.
func NewBindingError(message string, err error) *Error {
	return &Error{Kind: KindBinding, Message: message, Err: err}
}

// NewInvokeError creates an external provisioning error.
func NewInvokeError(message string, err error) *Error {
	return &Error{Kind: KindInvoke, Message: message, Err: err}
}

// NewInternalError creates a scheduler invariant violation error.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return isKind(err, KindConfiguration) }

// IsGraph reports whether err is a graph error.
func IsGraph(err error) bool { return isKind(err, KindGraph) }

// IsBinding reports whether err is a binding error.
func IsBinding(err error) bool { return isKind(err, KindBinding) }

// IsInvoke reports whether err is an invocation error.
func IsInvoke(err error) bool { return isKind(err, KindInvoke) }

// IsFatal reports whether err invalidates the whole plan rather than a
// single node.
func IsFatal(err error) bool {
	return isKind(err, KindConfiguration) || isKind(err, KindGraph) || isKind(err, KindInternal)
}
