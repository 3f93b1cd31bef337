package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/errors"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/statestore"
)

const testSignal = "John lives in Reno."

// fakeBackend runs steps in process. "tag" adds a PERSON annotation over
// "John"; every other step leaves the document unchanged.
type fakeBackend struct {
	t      *testing.T
	task   *Task
	mu     sync.Mutex
	steps  []backend.StepsRequest
	undos  []backend.UndoRequest
	stepFn func(req backend.StepsRequest) (*backend.StepsResponse, error)
	undoFn func(req backend.UndoRequest) (*backend.UndoResponse, error)
}

func (f *fakeBackend) Steps(_ context.Context, req backend.StepsRequest) (*backend.StepsResponse, error) {
	f.mu.Lock()
	f.steps = append(f.steps, req)
	f.mu.Unlock()
	if f.stepFn != nil {
		return f.stepFn(req)
	}
	return &backend.StepsResponse{Successes: []backend.StepSuccess{
		{Steps: req.Steps, Val: f.run(req.Input, req.Steps...)},
	}}, nil
}

func (f *fakeBackend) UndoThrough(_ context.Context, req backend.UndoRequest) (*backend.UndoResponse, error) {
	f.mu.Lock()
	f.undos = append(f.undos, req)
	f.mu.Unlock()
	if f.undoFn != nil {
		return f.undoFn(req)
	}
	doc, err := document.FromJSONWithMetadata(req.Input, f.task.Repository())
	require.NoError(f.t, err)
	// Undo every done backend step from UndoThrough on, most recent first.
	// Names the backend does not know undo nothing.
	order := []string{"zone", "tag", "report"}
	var undone []string
	if from := slices.Index(order, req.UndoThrough); from >= 0 {
		for i := len(order) - 1; i >= from; i-- {
			if doc.IsDone(order[i]) {
				undone = append(undone, order[i])
			}
		}
	}
	if slices.Contains(undone, "tag") {
		for _, a := range doc.FindAnnotations("ENAMEX") {
			require.NoError(f.t, doc.RemoveAnnotation(a))
		}
	}
	data, err := doc.AnnotatedDoc.ToJSON()
	require.NoError(f.t, err)
	return &backend.UndoResponse{Doc: data, StepsUndone: undone}, nil
}

func (f *fakeBackend) run(input json.RawMessage, steps ...string) json.RawMessage {
	doc, err := document.FromJSON(input, f.task.Repository())
	require.NoError(f.t, err)
	for _, s := range steps {
		if s == "tag" {
			_, err := doc.CreateAnnotation("PERSON", 0, 4, nil)
			require.NoError(f.t, err)
		}
	}
	data, err := doc.ToJSON()
	require.NoError(f.t, err)
	return data
}

type recordingDisplay struct {
	redisplays int
	available  []bool
}

func (d *recordingDisplay) Redisplay(*document.DocWithMetadata) { d.redisplays++ }
func (d *recordingDisplay) HandAnnotationAvailable(v bool)     { d.available = append(d.available, v) }

func newTestDoc(t *testing.T, task *Task, phases string, segStatus string) *document.DocWithMetadata {
	t.Helper()
	data := `{"signal":"` + testSignal + `","metadata":{"phasesDone":` + phases + `},"asets":[
	  {"type":"SEGMENT","hasSpan":true,"attrs":[{"name":"status","type":"string"}],"annots":[[0,19,"` + segStatus + `"]]}
	]}`
	doc, err := document.FromJSONWithMetadata([]byte(data), task.Repository())
	require.NoError(t, err)
	return doc
}

type fixture struct {
	task    *Task
	backend *fakeBackend
	display *recordingDisplay
	session *Session
}

func newFixture(t *testing.T, phases string, opts ...SessionOption) *fixture {
	t.Helper()
	task := testTask(t)
	be := &fakeBackend{t: t, task: task}
	display := &recordingDisplay{}
	opts = append([]SessionOption{WithDisplay(display), WithDocumentID("doc-1")}, opts...)
	s, err := NewSession(task, "Demo", newTestDoc(t, task, phases, StatusNonGold), be, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &fixture{task: task, backend: be, display: display, session: s}
}

func segmentStatus(t *testing.T, s *Session) any {
	t.Helper()
	segs := s.Document().FindAnnotations(SegmentLabel)
	require.Len(t, segs, 1)
	v, _ := segs[0].Get(SegmentStatusAttr)
	return v
}

func stepName(s Step, ok bool) string {
	if !ok {
		return ""
	}
	return s.Name
}

func TestNavigation(t *testing.T) {
	f := newFixture(t, `[]`)
	s := f.session

	assert.Equal(t, "", stepName(s.CurrentUIStep()))
	assert.Equal(t, "zone", stepName(s.NextUIStep()))
	assert.Equal(t, "tag", stepName(s.FollowingUIStep()))
	assert.False(t, s.HandAnnotationAvailable())

	f = newFixture(t, `["zone","tag"]`)
	s = f.session
	assert.Equal(t, "tag", stepName(s.CurrentUIStep()))
	assert.Equal(t, MarkGoldStep, stepName(s.NextUIStep()))
	assert.Equal(t, "report", stepName(s.FollowingUIStep()))
	assert.True(t, s.HandAnnotationAvailable())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "doc-1", s.DocumentID())
	assert.Equal(t, "Demo", s.Workflow().Name)
	assert.Same(t, f.task, s.Task())
}

func TestHandAnnotationBeforeTagStep(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session
	assert.True(t, s.HandAnnotationAvailable(), "next step is a tag step")

	require.NoError(t, s.HandAnnotationPerformed())
	assert.True(t, s.Document().IsDone("tag"), "hand annotation performs the tag step")
	assert.True(t, s.Document().StepIsDirty("tag"))
	assert.Equal(t, "tag", stepName(s.CurrentUIStep()))
}

func TestHandAnnotationUnavailable(t *testing.T) {
	f := newFixture(t, `[]`)
	assert.ErrorIs(t, f.session.HandAnnotationPerformed(), ErrHandAnnotationUnavailable)
}

func TestAdvanceThroughBatchesBackendSteps(t *testing.T) {
	f := newFixture(t, `[]`)
	s := f.session

	require.NoError(t, s.AdvanceThrough(t.Context(), "tag"))
	require.Len(t, f.backend.steps, 1)
	req := f.backend.steps[0]
	assert.Equal(t, []string{"zone", "tag"}, req.Steps)
	assert.Equal(t, "Named Entity", req.Task)
	assert.Equal(t, "Demo", req.Workflow)

	assert.True(t, s.Document().IsDone("zone"))
	assert.True(t, s.Document().IsDone("tag"))
	assert.Len(t, s.Document().FindAnnotations("PERSON"), 1, "backend result replaced the document")
	assert.Equal(t, "tag", stepName(s.CurrentUIStep()))
	assert.Equal(t, 1, f.display.redisplays)
	assert.Equal(t, []bool{true}, f.display.available)
	assert.False(t, s.Busy())
}

func TestAdvanceThroughRunsLocalStepsBetweenBatches(t *testing.T) {
	f := newFixture(t, `[]`)
	s := f.session

	require.NoError(t, s.AdvanceThrough(t.Context(), "report"))
	require.Len(t, f.backend.steps, 2)
	assert.Equal(t, []string{"zone", "tag"}, f.backend.steps[0].Steps)
	assert.Equal(t, []string{"report"}, f.backend.steps[1].Steps)
	assert.Equal(t, StatusHumanGold, segmentStatus(t, s), "mark gold ran locally")
	assert.True(t, s.Document().IsDone(MarkGoldStep))

	var input map[string]any
	require.NoError(t, json.Unmarshal(f.backend.steps[1].Input, &input))
	assert.Contains(t, string(f.backend.steps[1].Input), StatusHumanGold,
		"the second batch starts from the locally marked document")

	_, ok := s.NextUIStep()
	assert.False(t, ok)
	assert.ErrorIs(t, s.OneStepForward(t.Context()), ErrNoNextStep)
}

func TestOneStepForwardMarkGold(t *testing.T) {
	f := newFixture(t, `["zone","tag"]`)
	s := f.session

	require.NoError(t, s.OneStepForward(t.Context()))
	assert.Empty(t, f.backend.steps, "mark gold needs no backend")
	assert.Equal(t, StatusHumanGold, segmentStatus(t, s))
	assert.Equal(t, MarkGoldStep, stepName(s.CurrentUIStep()))
	assert.True(t, s.Document().IsDirty())

	data, err := s.Document().ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"mark gold"`, "mark gold is never persisted in phasesDone")
}

func TestMarkGoldKeepsReconciled(t *testing.T) {
	task := testTask(t)
	doc := newTestDoc(t, task, `[]`, StatusReconciled)
	require.NoError(t, MarkGold(t.Context(), doc))
	v, _ := doc.FindAnnotations(SegmentLabel)[0].Get(SegmentStatusAttr)
	assert.Equal(t, StatusReconciled, v)

	require.NoError(t, UnmarkGold(t.Context(), doc))
	v, _ = doc.FindAnnotations(SegmentLabel)[0].Get(SegmentStatusAttr)
	assert.Equal(t, StatusReconciled, v, "unmark only reverts human gold")
	assert.True(t, IsGold(doc.AnnotatedDoc))
}

func TestAdvanceThroughErrors(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session

	err := s.AdvanceThrough(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.Equal(t, StepInit, pkgerrors.ComponentOf(err))

	err = s.AdvanceThrough(t.Context(), "zone")
	assert.ErrorIs(t, err, ErrStepNotPending)
	assert.Equal(t, "zone", pkgerrors.ComponentOf(err))
}

func TestAdvancePartialFailureKeepsSuccesses(t *testing.T) {
	f := newFixture(t, `[]`)
	f.backend.stepFn = func(req backend.StepsRequest) (*backend.StepsResponse, error) {
		return &backend.StepsResponse{
			Successes: []backend.StepSuccess{{Steps: []string{"zone"}, Val: f.backend.run(req.Input, "zone")}},
			Error:     "tagger crashed",
			ErrorStep: "tag",
		}, nil
	}
	s := f.session

	err := s.AdvanceThrough(t.Context(), "tag")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrApplication)
	assert.Equal(t, "tag", pkgerrors.ComponentOf(err))

	assert.True(t, s.Document().IsDone("zone"), "successful steps stay applied")
	assert.False(t, s.Document().IsDone("tag"))
	assert.Equal(t, 1, f.display.redisplays)
	require.Equal(t, 1, s.History().Len())
	assert.Equal(t, []string{"zone"}, s.History().Last().Steps)
}

func TestAdvanceFailureStepContext(t *testing.T) {
	tests := []struct {
		name      string
		resp      *backend.StepsResponse
		err       error
		component string
		target    error
	}{
		{
			name:      "transport",
			err:       &backend.TransportFailure{Operation: "steps", StatusCode: 502},
			component: StepEval,
			target:    backend.ErrTransport,
		},
		{
			name:      "decode",
			err:       &backend.DecodeFailure{Operation: "steps", Err: errors.New("bad json")},
			component: StepParse,
			target:    backend.ErrDecode,
		},
		{
			name: "deserialize",
			resp: &backend.StepsResponse{Successes: []backend.StepSuccess{
				{Steps: []string{"zone"}, Val: json.RawMessage(`{"signal":"x","version":9}`)},
			}},
			component: StepDeserialize,
		},
		{
			name:      "application error without step",
			resp:      &backend.StepsResponse{Error: "down"},
			component: StepEval,
			target:    backend.ErrApplication,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, `[]`)
			f.backend.stepFn = func(backend.StepsRequest) (*backend.StepsResponse, error) {
				return tt.resp, tt.err
			}
			err := f.session.OneStepForward(t.Context())
			require.Error(t, err)
			assert.Equal(t, tt.component, pkgerrors.ComponentOf(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.False(t, f.session.Document().IsDone("zone"))
			assert.Equal(t, 0, f.display.redisplays)
		})
	}
}

func TestTransportStatusCodeIsReported(t *testing.T) {
	f := newFixture(t, `[]`)
	f.backend.stepFn = func(backend.StepsRequest) (*backend.StepsResponse, error) {
		return nil, &backend.TransportFailure{Operation: "steps", StatusCode: 503}
	}
	err := f.session.OneStepForward(t.Context())
	var ce *pkgerrors.ContextualError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 503, ce.StatusCode)
	assert.Equal(t, "Named Entity", ce.Details["task"])
}

func TestVirtualRollback(t *testing.T) {
	f := newFixture(t, `["zone","tag"]`)
	s := f.session
	require.NoError(t, s.OneStepForward(t.Context()))

	res, err := s.Rollback(t.Context(), MarkGoldStep)
	require.NoError(t, err)
	assert.True(t, res.Virtual)
	assert.Equal(t, []string{MarkGoldStep}, res.Undone)
	assert.Empty(t, f.backend.undos)
	assert.Equal(t, StatusNonGold, segmentStatus(t, s))
	assert.Equal(t, "tag", stepName(s.CurrentUIStep()))
	assert.False(t, s.Document().IsDirty(), "back to the load baseline")
}

func TestBackendRollbackIncludesSuccessors(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), MarkGoldStep))
	redisplays := f.display.redisplays

	res, err := s.OneStepBack(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{MarkGoldStep}, res.Undone, "one step back from mark gold is virtual")

	res, err = s.OneStepBack(t.Context())
	require.NoError(t, err)
	assert.False(t, res.Virtual)
	assert.Equal(t, []string{"tag"}, res.Undone)
	require.Len(t, f.backend.undos, 1)
	assert.Equal(t, "tag", f.backend.undos[0].UndoThrough)
	assert.Empty(t, s.Document().FindAnnotations("PERSON"))
	assert.Equal(t, "zone", stepName(s.CurrentUIStep()))
	assert.Equal(t, redisplays+2, f.display.redisplays, "one redisplay per rollback")
}

func TestRollbackThroughTagUndoesMarkGold(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), MarkGoldStep))
	require.Equal(t, StatusHumanGold, segmentStatus(t, s))

	res, err := s.Rollback(t.Context(), "zone")
	require.NoError(t, err)
	assert.Equal(t, []string{MarkGoldStep, "tag", "zone"}, res.Undone, "most recent first")
	assert.Equal(t, StatusNonGold, segmentStatus(t, s))
	for _, step := range []string{"zone", "tag", MarkGoldStep} {
		assert.False(t, s.Document().IsDone(step), step)
	}

	last := s.History().Last()
	require.NotNil(t, last)
	assert.Equal(t, DirectionRollback, last.Direction)
	assert.Equal(t, "", last.Frontier)
}

func TestRollbackDirtyRequiresConfirmation(t *testing.T) {
	var asked []string
	answer := false
	f := newFixture(t, `["zone"]`, WithConfirm(func(_ context.Context, dirty []string) bool {
		asked = dirty
		return answer
	}))
	s := f.session
	require.NoError(t, s.HandAnnotationPerformed())

	res, err := s.Rollback(t.Context(), "tag")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, []string{"tag"}, asked)
	assert.Empty(t, f.backend.undos, "refusal aborts silently")
	assert.True(t, s.Document().IsDone("tag"))

	answer = true
	res, err = s.Rollback(t.Context(), "tag")
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.False(t, s.Document().IsDone("tag"))
}

func TestRollbackDirtyWithoutConfirm(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session
	require.NoError(t, s.HandAnnotationPerformed())

	_, err := s.Rollback(t.Context(), "tag")
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.True(t, s.Document().IsDone("tag"))
}

func TestRollbackIsAllOrNothing(t *testing.T) {
	f := newFixture(t, `["zone"]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), MarkGoldStep))
	before, err := s.Document().ToJSON()
	require.NoError(t, err)
	redisplays := f.display.redisplays

	f.backend.undoFn = func(backend.UndoRequest) (*backend.UndoResponse, error) {
		return &backend.UndoResponse{
			Doc:         json.RawMessage(`{"signal":"x","asets":[{"type":"ENAMEX","hasSpan":true,"attrs":[],"annots":[[0,99]]}]}`),
			StepsUndone: []string{"tag"},
		}, nil
	}
	_, err = s.Rollback(t.Context(), "tag")
	require.Error(t, err)
	assert.Equal(t, StepDeserialize, pkgerrors.ComponentOf(err))

	after, err := s.Document().ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.True(t, s.Document().IsDone("tag"))
	assert.True(t, s.Document().IsDone(MarkGoldStep))
	assert.Equal(t, redisplays, f.display.redisplays)

	f.backend.undoFn = func(backend.UndoRequest) (*backend.UndoResponse, error) {
		return nil, &backend.ApplicationFailure{Operation: "undo_through", Message: "locked"}
	}
	_, err = s.Rollback(t.Context(), "tag")
	assert.ErrorIs(t, err, backend.ErrApplication)
	assert.Equal(t, "tag", pkgerrors.ComponentOf(err))
	assert.True(t, s.Document().IsDone("tag"))
}

func TestRollbackErrors(t *testing.T) {
	f := newFixture(t, `[]`)
	s := f.session

	_, err := s.OneStepBack(t.Context())
	assert.ErrorIs(t, err, ErrNothingToUndo)

	_, err = s.Rollback(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrUnknownStep)

	_, err = s.Rollback(t.Context(), "tag")
	assert.ErrorIs(t, err, ErrStepNotDone)
}

func TestOperationInFlight(t *testing.T) {
	f := newFixture(t, `[]`)
	entered := make(chan struct{})
	proceed := make(chan struct{})
	f.backend.stepFn = func(req backend.StepsRequest) (*backend.StepsResponse, error) {
		close(entered)
		<-proceed
		return &backend.StepsResponse{Successes: []backend.StepSuccess{{Steps: req.Steps}}}, nil
	}
	s := f.session

	done := make(chan error, 1)
	go func() { done <- s.OneStepForward(context.Background()) }()
	<-entered

	assert.True(t, s.Busy())
	assert.ErrorIs(t, s.OneStepForward(t.Context()), ErrOperationInFlight)
	_, err := s.Rollback(t.Context(), "zone")
	assert.ErrorIs(t, err, ErrOperationInFlight)
	assert.ErrorIs(t, s.Save(t.Context(), statestore.NewMemoryStore()), ErrOperationInFlight)

	close(proceed)
	require.NoError(t, <-done)
	assert.False(t, s.Busy())
	assert.True(t, s.Document().IsDone("zone"))
}

func TestSaveResetsBaseline(t *testing.T) {
	f := newFixture(t, `[]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), "tag"))
	require.True(t, s.Document().IsDirty())

	store := statestore.NewMemoryStore()
	require.NoError(t, s.Save(t.Context(), store))
	assert.False(t, s.Document().IsDirty())

	stored, err := store.Load(t.Context(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Named Entity", stored.Task)
	assert.Equal(t, "Demo", stored.Workflow)

	reloaded, err := document.FromJSONWithMetadata(stored.Data, f.task.Repository())
	require.NoError(t, err)
	assert.Equal(t, []string{"zone", "tag"}, reloaded.DoneSteps())
}

func TestNewSessionInfersMarkGold(t *testing.T) {
	task := testTask(t)
	doc := newTestDoc(t, task, `["zone","tag"]`, StatusHumanGold)
	s, err := NewSession(task, "Demo", doc, &fakeBackend{t: t, task: task})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, MarkGoldStep, stepName(s.CurrentUIStep()))
	assert.False(t, s.Document().IsDirty(), "inferred mark gold is part of the baseline")

	doc = newTestDoc(t, task, `["zone"]`, StatusHumanGold)
	s2, err := NewSession(task, "Demo", doc, &fakeBackend{t: t, task: task})
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.Document().IsDone(MarkGoldStep), "tag step not done yet")
}

func TestNewSessionUnknownWorkflow(t *testing.T) {
	task := testTask(t)
	_, err := NewSession(task, "Nope", newTestDoc(t, task, `[]`, StatusNonGold), nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
	assert.Equal(t, StepInit, pkgerrors.ComponentOf(err))
}

func TestHistoryUsesTimeFunc(t *testing.T) {
	f := newFixture(t, `[]`)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := f.session.WithTimeFunc(func() time.Time { return fixed })

	require.NoError(t, s.OneStepForward(t.Context()))
	h := s.History()
	require.Equal(t, 1, h.Len())
	last := h.Last()
	assert.Equal(t, DirectionForward, last.Direction)
	assert.Equal(t, []string{"zone"}, last.Steps)
	assert.Equal(t, "zone", last.Frontier)
	assert.Equal(t, fixed, last.Timestamp)
	assert.Equal(t, fixed, h.UpdatedAt)

	h.Entries[0].Steps[0] = "changed"
	assert.Equal(t, "zone", s.History().Last().Steps[0], "History returns a copy")
}

func TestSessionWithoutBackend(t *testing.T) {
	task := testTask(t)
	s, err := NewSession(task, "Demo", newTestDoc(t, task, `["zone","tag"]`, StatusNonGold), nil)
	require.NoError(t, err)
	defer s.Close()

	// Local steps still run.
	require.NoError(t, s.OneStepForward(t.Context()))
	res, err := s.Rollback(t.Context(), MarkGoldStep)
	require.NoError(t, err)
	assert.True(t, res.Virtual)

	err = s.AdvanceThrough(t.Context(), "report")
	require.ErrorIs(t, err, ErrNoBackend)
	assert.Equal(t, StepInit, pkgerrors.ComponentOf(err))

	_, err = s.Rollback(t.Context(), "tag")
	require.ErrorIs(t, err, ErrNoBackend)
	assert.Equal(t, StepInit, pkgerrors.ComponentOf(err))
	assert.True(t, s.Document().IsDone("tag"), "failed rollback changes nothing")
}

func TestRollbackLocalStepWithBackendSuccessors(t *testing.T) {
	f := newFixture(t, `["zone","tag"]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), "report"))
	require.Equal(t, StatusHumanGold, segmentStatus(t, s))

	res, err := s.Rollback(t.Context(), MarkGoldStep)
	require.NoError(t, err)
	assert.False(t, res.Virtual)
	assert.Equal(t, []string{"report", MarkGoldStep}, res.Undone)
	require.Len(t, f.backend.undos, 1)
	assert.Equal(t, "report", f.backend.undos[0].UndoThrough, "backend is never sent a local step")

	assert.Equal(t, []string{"zone", "tag"}, s.Document().DoneSteps())
	assert.Equal(t, StatusNonGold, segmentStatus(t, s))
	assert.Equal(t, "tag", stepName(s.CurrentUIStep()))
}

func TestRollbackFailsWhenBackendLeavesStepsDone(t *testing.T) {
	f := newFixture(t, `["zone","tag"]`)
	s := f.session
	require.NoError(t, s.AdvanceThrough(t.Context(), "report"))
	before, err := s.Document().ToJSON()
	require.NoError(t, err)

	f.backend.undoFn = func(req backend.UndoRequest) (*backend.UndoResponse, error) {
		return &backend.UndoResponse{Doc: req.Input, StepsUndone: nil}, nil
	}
	_, err = s.Rollback(t.Context(), MarkGoldStep)
	require.ErrorIs(t, err, ErrIncompleteUndo)
	assert.Equal(t, "report", pkgerrors.ComponentOf(err))

	after, err := s.Document().ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	for _, step := range []string{"zone", "tag", MarkGoldStep, "report"} {
		assert.True(t, s.Document().IsDone(step), step)
	}
}
