// Package workflow runs annotation tasks step by step.
//
// A task declares an annotation set repository, a set of named workflows
// (ordered step lists) and a step successor graph. Building a Task
// synthesizes the client-side "mark gold" step into every workflow that
// supports hand tagging and patches the successor graph to match. A
// Session then walks one document through one workflow: advancing steps
// through the backend or locally, and rolling them back.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// MarkGoldStep is the synthesized step that confirms every content unit.
const MarkGoldStep = document.MarkGoldStep

// Reserved pseudo-step names used as error context when no real step applies.
const (
	// StepInit marks failures before a backend request is sent.
	StepInit = "[init]"
	// StepEval marks failures while the backend evaluates a request.
	StepEval = "[eval]"
	// StepParse marks a backend response that is not valid JSON.
	StepParse = "[parse]"
	// StepDeserialize marks a returned document that cannot be loaded.
	StepDeserialize = "[deserialize]"
)

// StepSpec declares one step of a workflow.
type StepSpec struct {
	Name                    string `json:"name"`
	UIName                  string `json:"ui_name,omitempty"`
	TagStep                 bool   `json:"tag_step,omitempty"`
	HandAnnotationAvailable bool   `json:"hand_annotation_available,omitempty"`
}

// WorkflowSpec declares a workflow: its steps in execution order and whether
// hand annotation is possible before the first or after the last step.
type WorkflowSpec struct {
	Steps                              []StepSpec `json:"steps"`
	UIAvailable                        *bool      `json:"ui_available,omitempty"`
	HandAnnotationAvailableAtBeginning bool       `json:"hand_annotation_available_at_beginning,omitempty"`
	HandAnnotationAvailableAtEnd       bool       `json:"hand_annotation_available_at_end,omitempty"`
}

// TaskSpec is the metadata a backend reports for one task.
type TaskSpec struct {
	AnnotationSetRepository schema.RepositorySpec   `json:"annotationSetRepository"`
	Workflows               map[string]WorkflowSpec `json:"workflows"`
	StepSuccessors          map[string][]string     `json:"stepSuccessors,omitempty"`
	// Implementation names the CoreTask whose step behaviors apply.
	Implementation string `json:"taskImplementation,omitempty"`
}

// DecodeTaskSpec parses one task's metadata.
func DecodeTaskSpec(data []byte) (*TaskSpec, error) {
	var spec TaskSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Step is a step of a built workflow.
type Step struct {
	Name                    string
	UIName                  string
	TagStep                 bool
	HandAnnotationAvailable bool
	// Synthesized is true for the mark gold step added at construction.
	Synthesized bool
}

// DisplayName returns the UI name, or the step name when none is declared.
func (s Step) DisplayName() string {
	if s.UIName != "" {
		return s.UIName
	}
	return s.Name
}

// Workflow is a built workflow with mark gold synthesized.
type Workflow struct {
	Name                               string
	Steps                              []Step
	UIAvailable                        bool
	HandAnnotationAvailableAtBeginning bool
	HandAnnotationAvailableAtEnd       bool
}

// StepIndex returns the position of a step, or -1.
func (w *Workflow) StepIndex(name string) int {
	for i, s := range w.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Step looks up a step by name.
func (w *Workflow) Step(name string) (Step, bool) {
	if i := w.StepIndex(name); i >= 0 {
		return w.Steps[i], true
	}
	return Step{}, false
}

// StepNames returns the step names in order.
func (w *Workflow) StepNames() []string {
	names := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		names[i] = s.Name
	}
	return names
}

// Direction distinguishes forward steps from rollbacks in a History.
type Direction string

// Direction values.
const (
	DirectionForward  Direction = "forward"
	DirectionRollback Direction = "rollback"
)

// History holds the step transitions a session has performed.
type History struct {
	Entries   []StepTransition `json:"entries"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// StepTransition records the steps done or undone by one operation and the
// frontier step afterwards.
type StepTransition struct {
	Direction Direction `json:"direction"`
	Steps     []string  `json:"steps"`
	Frontier  string    `json:"frontier"`
	Timestamp time.Time `json:"timestamp"`
}
