package workflow

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// TaskOption configures NewTask.
type TaskOption func(*Task)

// WithCoreTask overrides the step behavior table the task uses.
func WithCoreTask(ct *CoreTask) TaskOption {
	return func(t *Task) { t.core = ct }
}

// Task is a built task: a digested repository, synthesized workflows and
// the patched successor graph. A Task is read-only after construction and
// may be shared by any number of sessions.
type Task struct {
	name          string
	repo          *schema.Repository
	workflows     map[string]*Workflow
	workflowOrder []string
	successors    map[string][]string
	core          *CoreTask
}

// NewTask validates spec, builds its repository and synthesizes the mark
// gold step into every workflow that needs it.
func NewTask(name string, spec *TaskSpec, opts ...TaskOption) (*Task, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: %q has no metadata", ErrInvalidTask, name)
	}
	if r := Validate(spec); r.HasErrors() {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidTask, name, strings.Join(r.Errors, "; "))
	}

	repoSpec := spec.AnnotationSetRepository
	repo, err := repoSpec.Build()
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", name, err)
	}

	t := &Task{
		name:      name,
		repo:      repo,
		workflows: make(map[string]*Workflow, len(spec.Workflows)),
	}
	if spec.Implementation != "" {
		ct, ok := LookupCoreTask(spec.Implementation)
		if !ok {
			return nil, fmt.Errorf("%w: %q names unknown task implementation %q",
				ErrInvalidTask, name, spec.Implementation)
		}
		t.core = ct
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.core == nil {
		t.core = BaseCoreTask
	}

	for wfName := range spec.Workflows {
		t.workflowOrder = append(t.workflowOrder, wfName)
	}
	sort.Strings(t.workflowOrder)

	isTag := map[string]bool{}
	firstTag := ""
	for _, wfName := range t.workflowOrder {
		wf := synthesizeWorkflow(wfName, spec.Workflows[wfName])
		t.workflows[wfName] = wf
		for _, s := range wf.Steps {
			if s.TagStep {
				isTag[s.Name] = true
				if firstTag == "" {
					firstTag = s.Name
				}
			}
		}
	}
	t.successors = patchSuccessors(spec.StepSuccessors, isTag, firstTag)
	t.linkUntaggedMarkGold()
	return t, nil
}

// synthesizeWorkflow inserts mark gold after the first tag step, or at the
// end (beginning) when hand annotation is available there and no step tags.
func synthesizeWorkflow(name string, spec WorkflowSpec) *Workflow {
	wf := &Workflow{
		Name:                               name,
		UIAvailable:                        spec.UIAvailable == nil || *spec.UIAvailable,
		HandAnnotationAvailableAtBeginning: spec.HandAnnotationAvailableAtBeginning,
		HandAnnotationAvailableAtEnd:       spec.HandAnnotationAvailableAtEnd,
	}
	inserted := false
	for _, s := range spec.Steps {
		if s.Name == MarkGoldStep {
			inserted = true
		}
	}
	hasTag := false
	for _, s := range spec.Steps {
		step := Step{
			Name:                    s.Name,
			UIName:                  s.UIName,
			TagStep:                 s.TagStep,
			HandAnnotationAvailable: s.HandAnnotationAvailable,
		}
		wf.Steps = append(wf.Steps, step)
		if s.TagStep {
			hasTag = true
			if !inserted {
				wf.Steps = append(wf.Steps, markGoldStep(s.HandAnnotationAvailable))
				inserted = true
			}
		}
	}
	if !hasTag && !inserted {
		switch {
		case spec.HandAnnotationAvailableAtEnd:
			wf.Steps = append(wf.Steps, markGoldStep(true))
		case spec.HandAnnotationAvailableAtBeginning:
			wf.Steps = append([]Step{markGoldStep(true)}, wf.Steps...)
		}
	}
	return wf
}

func markGoldStep(handAnnotation bool) Step {
	return Step{
		Name:                    MarkGoldStep,
		UIName:                  "Mark gold",
		HandAnnotationAvailable: handAnnotation,
		Synthesized:             true,
	}
}

// patchSuccessors inserts mark gold immediately after every tag step named
// in a successor list, gives mark gold the first tag step's original
// successors, and puts mark gold first in each tag step's own list.
func patchSuccessors(orig map[string][]string, isTag map[string]bool, firstTag string) map[string][]string {
	out := make(map[string][]string, len(orig)+1)
	for step, list := range orig {
		patched := make([]string, 0, len(list)+1)
		for _, s := range list {
			if s == MarkGoldStep && slices.Contains(patched, MarkGoldStep) {
				continue
			}
			patched = append(patched, s)
			if isTag[s] && !slices.Contains(list, MarkGoldStep) && !slices.Contains(patched, MarkGoldStep) {
				patched = append(patched, MarkGoldStep)
			}
		}
		out[step] = patched
	}
	if firstTag == "" {
		return out
	}
	if _, declared := orig[MarkGoldStep]; !declared {
		out[MarkGoldStep] = slices.Clone(orig[firstTag])
	}
	for tag := range isTag {
		list := slices.DeleteFunc(slices.Clone(out[tag]), func(s string) bool { return s == MarkGoldStep })
		out[tag] = append([]string{MarkGoldStep}, list...)
	}
	return out
}

// linkUntaggedMarkGold connects a mark gold step that was synthesized without
// a tag step: the step before it gains mark gold as a successor, and mark gold
// inherits the step after it.
func (t *Task) linkUntaggedMarkGold() {
	for _, wfName := range t.workflowOrder {
		wf := t.workflows[wfName]
		i := wf.StepIndex(MarkGoldStep)
		if i < 0 || (i > 0 && wf.Steps[i-1].TagStep) {
			continue
		}
		if i > 0 {
			prev := wf.Steps[i-1].Name
			if !slices.Contains(t.successors[prev], MarkGoldStep) {
				t.successors[prev] = append(t.successors[prev], MarkGoldStep)
			}
		}
		if i+1 < len(wf.Steps) {
			next := wf.Steps[i+1].Name
			if !slices.Contains(t.successors[MarkGoldStep], next) {
				t.successors[MarkGoldStep] = append(t.successors[MarkGoldStep], next)
			}
		}
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Repository returns the task's digested global repository. Documents take
// local copies of its types; the repository itself is never mutated.
func (t *Task) Repository() *schema.Repository { return t.repo }

// CoreTask returns the step behavior table.
func (t *Task) CoreTask() *CoreTask { return t.core }

// Behavior returns how a step runs.
func (t *Task) Behavior(step string) StepBehavior { return t.core.Behavior(step) }

// Workflow looks up a workflow by name.
func (t *Task) Workflow(name string) (*Workflow, bool) {
	wf, ok := t.workflows[name]
	return wf, ok
}

// WorkflowNames returns the workflow names, sorted.
func (t *Task) WorkflowNames() []string {
	return slices.Clone(t.workflowOrder)
}

// Successors returns the patched immediate successors of step.
func (t *Task) Successors(step string) []string {
	return slices.Clone(t.successors[step])
}

// SuccessorGraph returns a copy of the patched successor graph.
func (t *Task) SuccessorGraph() map[string][]string {
	out := make(map[string][]string, len(t.successors))
	for k, v := range t.successors {
		out[k] = slices.Clone(v)
	}
	return out
}

// SuccessorClosure returns step followed by every step transitively
// downstream of it, in breadth-first discovery order.
func (t *Task) SuccessorClosure(step string) []string {
	seen := map[string]bool{step: true}
	out := []string{step}
	for i := 0; i < len(out); i++ {
		for _, next := range t.successors[out[i]] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
			}
		}
	}
	return out
}
