// Package errors provides the error type used to report failures with the
// furthest step context known.
//
// ContextualError records the component (a workflow step name, or one of the
// reserved pseudo-steps such as "[parse]"), the operation that was running,
// and optional status code and details. It implements Unwrap so the typed
// errors it carries remain reachable through errors.Is and errors.As.
//
// Usage:
//
//	err := errors.New("[deserialize]", "undo_through", decodeErr)
//	err = err.WithStatusCode(502).WithDetails(map[string]any{"task": "Named Entity"})
package errors

import (
	"errors"
	"fmt"
)

// ContextualError wraps a cause with the step and operation it belongs to.
type ContextualError struct {
	// Component is the step name, a reserved pseudo-step, or a package name.
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// StatusCode is an optional HTTP status code from the backend.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error renders "[component] operation (status N): cause". Components that are
// already bracketed pseudo-steps are not bracketed twice.
func (e *ContextualError) Error() string {
	component := e.Component
	if len(component) < 2 || component[0] != '[' || component[len(component)-1] != ']' {
		component = "[" + component + "]"
	}
	base := fmt.Sprintf("%s %s", component, e.Operation)

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithStatusCode sets the status code and returns the receiver.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the receiver.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// ComponentOf returns the component of the outermost ContextualError in err's
// chain, or "" if there is none.
func ComponentOf(err error) string {
	var ce *ContextualError
	if errors.As(err, &ce) {
		return ce.Component
	}
	return ""
}
