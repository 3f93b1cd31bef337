package workflow

import (
	"errors"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
)

var (
	// ErrInvalidTask is returned when task metadata fails validation.
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnknownTask is returned when a task name is not known to the backend.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownWorkflow is returned when a workflow name is not part of the task.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrUnknownStep is returned when a step is not part of the session's workflow.
	ErrUnknownStep = errors.New("unknown step")
	// ErrStepNotPending is returned when advancing to a step that is already done.
	ErrStepNotPending = errors.New("step is not pending")
	// ErrStepNotDone is returned when rolling back a step that is not done.
	ErrStepNotDone = errors.New("step is not done")
	// ErrNoNextStep is returned when every step of the workflow is done.
	ErrNoNextStep = errors.New("no next step")
	// ErrNothingToUndo is returned by OneStepBack when no step is done.
	ErrNothingToUndo = errors.New("no step to undo")
	// ErrOperationInFlight is returned when a step operation is already running.
	ErrOperationInFlight = errors.New("a step operation is already in flight")
	// ErrConfirmationRequired is returned when a rollback would discard dirty
	// steps and the session has no way to ask for confirmation.
	ErrConfirmationRequired = errors.New("rollback of dirty steps requires confirmation")
	// ErrHandAnnotationUnavailable is returned when hand annotation is not
	// possible at the current step.
	ErrHandAnnotationUnavailable = errors.New("hand annotation is not available at this step")
	// ErrIncompleteUndo is returned when the backend leaves a downstream step
	// of a rollback done.
	ErrIncompleteUndo = errors.New("backend did not undo every downstream step")
	// ErrNoBackend is returned when a step needs the backend and the session has none.
	ErrNoBackend = errors.New("session has no backend")
)

// errorStep picks the step an error is reported against: the step the
// backend named, else the furthest known step, else the reserved pseudo-step
// for the failure class.
func errorStep(err error, furthest string) string {
	var app *backend.ApplicationFailure
	switch {
	case errors.As(err, &app):
		if app.Step != "" {
			return app.Step
		}
		if furthest != "" {
			return furthest
		}
		return StepEval
	case errors.Is(err, backend.ErrDecode):
		return StepParse
	default:
		return StepEval
	}
}

func statusCodeOf(err error) int {
	var tf *backend.TransportFailure
	if errors.As(err, &tf) {
		return tf.StatusCode
	}
	return 0
}
