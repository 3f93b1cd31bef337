package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
)

const testRepository = `{
  "types": {
    "ENAMEX": {
      "category": "content",
      "attrs": [{"name": "type", "choices": ["PERSON", "ORGANIZATION", "LOCATION"]}],
      "effective_labels": {"PERSON": {"attr": "type", "val": "PERSON"}}
    },
    "SEGMENT": {"attrs": [{"name": "status", "choices": ["non-gold", "human gold", "reconciled"]}]},
    "zone": {"category": "zone", "attrs": [{"name": "region_type"}]}
  }
}`

const testTaskJSON = `{
  "annotationSetRepository": ` + testRepository + `,
  "workflows": {
    "Demo": {"steps": [
      {"name": "zone"},
      {"name": "tag", "tag_step": true, "hand_annotation_available": true},
      {"name": "report"}
    ]},
    "Review": {"steps": [{"name": "zone"}], "hand_annotation_available_at_end": true}
  },
  "stepSuccessors": {"zone": ["tag"], "tag": ["report"]}
}`

func testSpec(t *testing.T) *TaskSpec {
	t.Helper()
	spec, err := DecodeTaskSpec([]byte(testTaskJSON))
	require.NoError(t, err)
	return spec
}

func testTask(t *testing.T) *Task {
	t.Helper()
	task, err := NewTask("Named Entity", testSpec(t))
	require.NoError(t, err)
	return task
}

func TestWorkflowSynthesis(t *testing.T) {
	task := testTask(t)

	demo, ok := task.Workflow("Demo")
	require.True(t, ok)
	assert.Equal(t, []string{"zone", "tag", MarkGoldStep, "report"}, demo.StepNames())
	mg, ok := demo.Step(MarkGoldStep)
	require.True(t, ok)
	assert.True(t, mg.Synthesized)
	assert.True(t, mg.HandAnnotationAvailable, "inherits hand annotation from its tag step")
	assert.Equal(t, "Mark gold", mg.DisplayName())
	assert.True(t, demo.UIAvailable)

	review, ok := task.Workflow("Review")
	require.True(t, ok)
	assert.Equal(t, []string{"zone", MarkGoldStep}, review.StepNames())

	assert.Equal(t, []string{"Demo", "Review"}, task.WorkflowNames())
	_, ok = task.Workflow("Missing")
	assert.False(t, ok)
}

func TestSuccessorPatch(t *testing.T) {
	task := testTask(t)

	assert.Equal(t, []string{"report"}, task.Successors(MarkGoldStep),
		"mark gold takes the tag step's original successors")
	assert.Equal(t, []string{MarkGoldStep, "report"}, task.Successors("tag"))
	assert.Equal(t, []string{"tag", MarkGoldStep}, task.Successors("zone"))

	assert.Equal(t, []string{"zone", "tag", MarkGoldStep, "report"}, task.SuccessorClosure("zone"))
	assert.Equal(t, []string{"tag", MarkGoldStep, "report"}, task.SuccessorClosure("tag"))
	assert.Equal(t, []string{"report"}, task.SuccessorClosure("report"))

	graph := task.SuccessorGraph()
	graph["zone"] = nil
	assert.NotEmpty(t, task.Successors("zone"), "graph copies are independent")
}

func TestSynthesisVariants(t *testing.T) {
	tests := []struct {
		name string
		wf   WorkflowSpec
		want []string
	}{
		{
			name: "mark gold after the first tag step only",
			wf: WorkflowSpec{Steps: []StepSpec{
				{Name: "tag", TagStep: true}, {Name: "retag", TagStep: true},
			}},
			want: []string{"tag", MarkGoldStep, "retag"},
		},
		{
			name: "hand annotation at end without tag step",
			wf:   WorkflowSpec{Steps: []StepSpec{{Name: "zone"}}, HandAnnotationAvailableAtEnd: true},
			want: []string{"zone", MarkGoldStep},
		},
		{
			name: "hand annotation at beginning without tag step",
			wf:   WorkflowSpec{Steps: []StepSpec{{Name: "zone"}}, HandAnnotationAvailableAtBeginning: true},
			want: []string{MarkGoldStep, "zone"},
		},
		{
			name: "no hand annotation",
			wf:   WorkflowSpec{Steps: []StepSpec{{Name: "zone"}}},
			want: []string{"zone"},
		},
		{
			name: "declared mark gold is not duplicated",
			wf: WorkflowSpec{Steps: []StepSpec{
				{Name: "tag", TagStep: true}, {Name: "report"}, {Name: MarkGoldStep},
			}},
			want: []string{"tag", "report", MarkGoldStep},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, synthesizeWorkflow("w", tt.wf).StepNames())
		})
	}
}

func TestUntaggedMarkGoldIsLinked(t *testing.T) {
	spec := &TaskSpec{Workflows: map[string]WorkflowSpec{
		"Begin": {Steps: []StepSpec{{Name: "zone"}}, HandAnnotationAvailableAtBeginning: true},
	}}
	task, err := NewTask("t", spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"zone"}, task.Successors(MarkGoldStep))

	spec = &TaskSpec{Workflows: map[string]WorkflowSpec{
		"End": {Steps: []StepSpec{{Name: "zone"}}, HandAnnotationAvailableAtEnd: true},
	}}
	task, err = NewTask("t", spec)
	require.NoError(t, err)
	assert.Equal(t, []string{MarkGoldStep}, task.Successors("zone"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		spec     *TaskSpec
		errors   []string
		warnings []string
	}{
		{
			name:   "no workflows",
			spec:   &TaskSpec{},
			errors: []string{"task.workflows must be non-empty"},
		},
		{
			name: "empty workflow",
			spec: &TaskSpec{Workflows: map[string]WorkflowSpec{"w": {}}},
			errors: []string{`task.workflows["w"].steps must be non-empty`},
		},
		{
			name: "bad step names",
			spec: &TaskSpec{Workflows: map[string]WorkflowSpec{"w": {Steps: []StepSpec{
				{Name: ""}, {Name: "[parse]"}, {Name: "a"}, {Name: "a"}, {Name: MarkGoldStep, TagStep: true},
			}}}},
			errors: []string{
				`task.workflows["w"].steps[0].name is empty`,
				`task.workflows["w"].steps[1].name "[parse]" is a reserved step name`,
				`task.workflows["w"] declares step "a" more than once`,
				`task.workflows["w"]: "mark gold" cannot be a tag step`,
			},
		},
		{
			name: "dangling successors and cycles warn",
			spec: &TaskSpec{
				Workflows:      map[string]WorkflowSpec{"w": {Steps: []StepSpec{{Name: "a"}, {Name: "b"}}}},
				StepSuccessors: map[string][]string{"a": {"b", "ghost"}, "b": {"a"}},
			},
			warnings: []string{
				`task.stepSuccessors["a"] successor "ghost" is not declared by any workflow`,
				"task.stepSuccessors contains a cycle: b -> a",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.spec)
			assert.Equal(t, tt.errors, r.Errors)
			assert.Equal(t, tt.warnings, r.Warnings)
			assert.Equal(t, len(tt.errors) > 0, r.HasErrors())
		})
	}
}

func TestNewTaskErrors(t *testing.T) {
	_, err := NewTask("t", nil)
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = NewTask("t", &TaskSpec{})
	assert.ErrorIs(t, err, ErrInvalidTask)

	spec := testSpec(t)
	spec.Implementation = "nonexistent"
	_, err = NewTask("t", spec)
	assert.ErrorIs(t, err, ErrInvalidTask)

	var bad TaskSpec
	require.NoError(t, json.Unmarshal([]byte(`{
	  "annotationSetRepository": {"types": {"A": {"attrs": [{"name": "x"}, {"name": "x"}]}}},
	  "workflows": {"w": {"steps": [{"name": "s"}]}}
	}`), &bad))
	_, err = NewTask("t", &bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `task "t"`)
}

func TestCoreTaskInheritance(t *testing.T) {
	assert.False(t, BaseCoreTask.Behavior("tag").Local, "unnamed steps use the default entry")
	assert.True(t, BaseCoreTask.Behavior(MarkGoldStep).Local)
	assert.False(t, BaseCoreTask.Behavior(document.ReconciliationVoteStep).Local)

	assert.True(t, ReconciliationCoreTask.Behavior(document.ReconciliationVoteStep).Local)
	assert.True(t, ReconciliationCoreTask.Behavior(MarkGoldStep).Local, "inherited from base")
	assert.Same(t, BaseCoreTask, ReconciliationCoreTask.Parent())

	custom := ReconciliationCoreTask.Extend("custom").
		Define("tag", StepBehavior{Local: true}).
		Define(DefaultBehaviorKey, StepBehavior{Local: true})
	assert.True(t, custom.Behavior("tag").Local)
	assert.True(t, custom.Behavior("anything").Local, "child default overrides parent default")
	assert.Contains(t, custom.Steps(), MarkGoldStep)
	assert.Contains(t, custom.Steps(), document.ReconciliationVoteStep)

	assert.Equal(t, StepBehavior{}, NewCoreTask("empty").Behavior("x"))
}

func TestTaskImplementationLookup(t *testing.T) {
	spec := testSpec(t)
	spec.Implementation = "reconciliation"
	task, err := NewTask("t", spec)
	require.NoError(t, err)
	assert.Same(t, ReconciliationCoreTask, task.CoreTask())

	ct := BaseCoreTask.Extend("registered-for-test")
	RegisterCoreTask(ct)
	found, ok := LookupCoreTask("registered-for-test")
	require.True(t, ok)
	assert.Same(t, ct, found)

	task, err = NewTask("t", testSpec(t), WithCoreTask(ct))
	require.NoError(t, err)
	assert.Same(t, ct, task.CoreTask())
}
