package backend

import (
	"encoding/json"
	"strings"
)

// Backend operation names.
const (
	OperationSteps       = "steps"
	OperationUndoThrough = "undo_through"
	OperationFetchTasks  = "fetch_tasks"
)

// StepsRequest asks the backend to run an ordered list of steps on a document.
type StepsRequest struct {
	Task     string
	Workflow string
	Steps    []string
	// Input is the MAT-JSON document the steps start from.
	Input json.RawMessage
	// Config carries per-task options forwarded verbatim as form fields.
	Config map[string]string
}

// StepSuccess is the result of one successful backend batch. Val is the
// MAT-JSON document as it stood after the listed steps ran.
type StepSuccess struct {
	Steps []string        `json:"steps"`
	Val   json.RawMessage `json:"val"`
}

// StepsResponse is the reply to a steps request. Successes are in execution
// order. Error and ErrorStep are set when a later step failed.
type StepsResponse struct {
	Successes []StepSuccess `json:"successes"`
	Error     string        `json:"error,omitempty"`
	ErrorStep string        `json:"errorStep,omitempty"`
}

// Failure returns the step error reported alongside any successes, or nil.
func (r *StepsResponse) Failure() error {
	if r.Error == "" {
		return nil
	}
	return &ApplicationFailure{Operation: OperationSteps, Step: r.ErrorStep, Message: r.Error}
}

// CompletedSteps flattens the step names of every success, in order.
func (r *StepsResponse) CompletedSteps() []string {
	var out []string
	for _, s := range r.Successes {
		out = append(out, s.Steps...)
	}
	return out
}

// UndoRequest asks the backend to undo the document through the named step.
type UndoRequest struct {
	Task        string
	Workflow    string
	UndoThrough string
	Input       json.RawMessage
	Config      map[string]string
}

// UndoResponse carries the undone steps, most recent first, and the
// document after the undo.
type UndoResponse struct {
	Doc         json.RawMessage `json:"doc"`
	StepsUndone []string        `json:"stepsUndone"`
	Error       string          `json:"error,omitempty"`
	ErrorStep   string          `json:"errorStep,omitempty"`
}

// TasksResponse is the reply to fetch_tasks. Metadata is keyed by task name;
// each value holds the annotation set repository, workflows and step
// successors for that task.
type TasksResponse struct {
	Metadata        map[string]json.RawMessage `json:"metadata"`
	WorkspaceAccess bool                       `json:"workspace_access"`
}

func joinSteps(steps []string) string {
	return strings.Join(steps, ",")
}
