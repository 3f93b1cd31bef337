package workflow

import (
	"fmt"
	"sort"
)

// ValidationResult holds errors and warnings from task validation.
type ValidationResult struct {
	Errors   []string // Blocking: missing workflows, bad or duplicate step names
	Warnings []string // Non-blocking: dangling successor entries, cycles
}

// HasErrors returns true if there are blocking validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

var reservedSteps = map[string]bool{
	StepInit:        true,
	StepEval:        true,
	StepParse:       true,
	StepDeserialize: true,
}

// Validate checks task metadata before it is built.
func Validate(spec *TaskSpec) *ValidationResult {
	r := &ValidationResult{}
	if len(spec.Workflows) == 0 {
		r.Errors = append(r.Errors, "task.workflows must be non-empty")
		return r
	}

	known := map[string]bool{MarkGoldStep: true}
	for _, name := range sortedKeys(spec.Workflows) {
		validateWorkflow(name, spec.Workflows[name], known, r)
	}
	validateSuccessors(spec, known, r)
	validateCycles(spec.StepSuccessors, r)
	return r
}

// validateWorkflow checks step names and flags, recording every name in known.
func validateWorkflow(name string, wf WorkflowSpec, known map[string]bool, r *ValidationResult) {
	if len(wf.Steps) == 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("task.workflows[%q].steps must be non-empty", name))
		return
	}
	seen := map[string]bool{}
	for i, s := range wf.Steps {
		switch {
		case s.Name == "":
			r.Errors = append(r.Errors, fmt.Sprintf("task.workflows[%q].steps[%d].name is empty", name, i))
			continue
		case reservedSteps[s.Name]:
			r.Errors = append(r.Errors, fmt.Sprintf(
				"task.workflows[%q].steps[%d].name %q is a reserved step name", name, i, s.Name))
		case seen[s.Name]:
			r.Errors = append(r.Errors, fmt.Sprintf(
				"task.workflows[%q] declares step %q more than once", name, s.Name))
		}
		if s.Name == MarkGoldStep && s.TagStep {
			r.Errors = append(r.Errors, fmt.Sprintf(
				"task.workflows[%q]: %q cannot be a tag step", name, MarkGoldStep))
		}
		seen[s.Name] = true
		known[s.Name] = true
	}
}

// validateSuccessors warns about successor entries naming undeclared steps.
func validateSuccessors(spec *TaskSpec, known map[string]bool, r *ValidationResult) {
	for _, step := range sortedKeys(spec.StepSuccessors) {
		if !known[step] {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"task.stepSuccessors[%q] names a step no workflow declares", step))
		}
		for _, next := range spec.StepSuccessors[step] {
			if !known[next] {
				r.Warnings = append(r.Warnings, fmt.Sprintf(
					"task.stepSuccessors[%q] successor %q is not declared by any workflow", step, next))
			}
		}
	}
}

// validateCycles warns about cycles in the successor graph.
func validateCycles(graph map[string][]string, r *ValidationResult) {
	for _, cycle := range detectCycles(graph) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("task.stepSuccessors contains a cycle: %s", cycle))
	}
}

// detectCycles uses DFS to find back edges in the successor graph.
func detectCycles(graph map[string][]string) []string {
	const (
		white = iota // unvisited
		gray         // in current DFS path
		black        // fully explored
	)

	color := make(map[string]int, len(graph))
	var cycles []string

	var dfs func(step string)
	dfs = func(step string) {
		color[step] = gray
		for _, next := range graph[step] {
			switch color[next] {
			case gray:
				cycles = append(cycles, fmt.Sprintf("%s -> %s", step, next))
			case white:
				dfs(next)
			}
		}
		color[step] = black
	}

	for _, name := range sortedKeys(graph) {
		if color[name] == white {
			dfs(name)
		}
	}
	return cycles
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
