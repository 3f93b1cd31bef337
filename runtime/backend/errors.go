package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed failures below.
var (
	// ErrTransport matches every TransportFailure.
	ErrTransport = errors.New("backend: transport failure")

	// ErrDecode matches every DecodeFailure.
	ErrDecode = errors.New("backend: decode failure")

	// ErrApplication matches every ApplicationFailure.
	ErrApplication = errors.New("backend: application failure")
)

// TransportFailure reports that the backend could not be reached or answered
// with a non-success HTTP status.
type TransportFailure struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend: %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s: %v", e.Operation, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportFailure) Is(target error) bool { return target == ErrTransport }

// DecodeFailure reports a response body that is not the JSON the operation expects.
type DecodeFailure struct {
	Operation string
	Err       error
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("backend: %s: decode response: %v", e.Operation, e.Err)
}

func (e *DecodeFailure) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecode.
func (e *DecodeFailure) Is(target error) bool { return target == ErrDecode }

// ApplicationFailure is a structured error the backend attributed to a step.
type ApplicationFailure struct {
	Operation string
	Step      string
	Message   string
}

func (e *ApplicationFailure) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("backend: %s: step %q: %s", e.Operation, e.Step, e.Message)
	}
	return fmt.Sprintf("backend: %s: %s", e.Operation, e.Message)
}

// Is reports whether target is ErrApplication.
func (e *ApplicationFailure) Is(target error) bool { return target == ErrApplication }
