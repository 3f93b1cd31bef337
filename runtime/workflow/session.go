package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	pkgerrors "github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/errors"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/backend"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/logger"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/metrics/prometheus"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/statestore"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/telemetry"
)

// TimeFunc returns the current time. Override for deterministic tests.
type TimeFunc func() time.Time

// Backend is the part of the backend client a session needs.
type Backend interface {
	Steps(ctx context.Context, req backend.StepsRequest) (*backend.StepsResponse, error)
	UndoThrough(ctx context.Context, req backend.UndoRequest) (*backend.UndoResponse, error)
}

// Display receives document and control updates after each operation.
type Display interface {
	Redisplay(doc *document.DocWithMetadata)
	HandAnnotationAvailable(available bool)
}

// ConfirmFunc asks whether a rollback may discard the named dirty steps.
type ConfirmFunc func(ctx context.Context, dirtySteps []string) bool

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDisplay sets the display notified after every change.
func WithDisplay(d Display) SessionOption {
	return func(s *Session) { s.display = d }
}

// WithConfirm sets the confirmation callback used before discarding dirty steps.
func WithConfirm(fn ConfirmFunc) SessionOption {
	return func(s *Session) { s.confirm = fn }
}

// WithDocumentID sets the ID the document is stored under. A random ID is
// used otherwise.
func WithDocumentID(id string) SessionOption {
	return func(s *Session) { s.docID = id }
}

// WithTaskConfig sets form fields forwarded with every backend request.
func WithTaskConfig(cfg map[string]string) SessionOption {
	return func(s *Session) { s.config = cfg }
}

// WithTracer sets the tracer used for step spans.
func WithTracer(t trace.Tracer) SessionOption {
	return func(s *Session) { s.tracer = t }
}

// RollbackResult reports what a rollback did.
type RollbackResult struct {
	// Undone lists the steps undone, most recent first.
	Undone []string
	// Virtual is true when no backend round trip was needed.
	Virtual bool
	// Cancelled is true when confirmation was refused and nothing changed.
	Cancelled bool
}

// Session walks one document through one workflow of a task. At most one
// step operation runs at a time; a second one fails with
// ErrOperationInFlight instead of queueing.
type Session struct {
	id      string
	docID   string
	task    *Task
	wf      *Workflow
	doc     *document.DocWithMetadata
	backend Backend
	display Display
	confirm ConfirmFunc
	config  map[string]string
	tracer  trace.Tracer
	now     TimeFunc
	history *History
	busy    atomic.Bool
	closed  atomic.Bool
}

// NewSession opens doc in the named workflow of task. When the workflow
// reaches mark gold and every step before it is done, a document whose
// segments are all gold is taken to have mark gold done at load.
func NewSession(
	task *Task, workflowName string, doc *document.DocWithMetadata, be Backend, opts ...SessionOption,
) (*Session, error) {
	wf, ok := task.Workflow(workflowName)
	if !ok {
		return nil, pkgerrors.New(StepInit, "open session",
			fmt.Errorf("%w: %q in task %q", ErrUnknownWorkflow, workflowName, task.Name()))
	}
	s := &Session{
		id:      uuid.NewString(),
		task:    task,
		wf:      wf,
		doc:     doc,
		backend: be,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.docID == "" {
		s.docID = uuid.NewString()
	}
	s.history = NewHistory(s.now())
	s.inferMarkGoldAtLoad()
	prometheus.DocumentOpened()
	return s, nil
}

func (s *Session) inferMarkGoldAtLoad() {
	i := s.wf.StepIndex(MarkGoldStep)
	if i < 0 || s.doc.IsDone(MarkGoldStep) || !IsGold(s.doc.AnnotatedDoc) {
		return
	}
	for _, prev := range s.wf.Steps[:i] {
		if !s.doc.IsDone(prev.Name) {
			return
		}
	}
	s.doc.StepDone(MarkGoldStep, document.StepDoneOptions{DoneAtLoad: true})
}

// WithTimeFunc sets a custom time function for deterministic tests.
func (s *Session) WithTimeFunc(fn TimeFunc) *Session {
	s.now = fn
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// DocumentID returns the ID the document is stored under.
func (s *Session) DocumentID() string { return s.docID }

// Task returns the session's task.
func (s *Session) Task() *Task { return s.task }

// Workflow returns the session's workflow.
func (s *Session) Workflow() *Workflow { return s.wf }

// Document returns the document. Rollbacks and backend steps replace the
// underlying AnnotatedDoc but keep this wrapper.
func (s *Session) Document() *document.DocWithMetadata { return s.doc }

// History returns a snapshot of the transitions performed so far.
func (s *Session) History() *History { return s.history.Clone() }

// Busy reports whether a step operation is in flight.
func (s *Session) Busy() bool { return s.busy.Load() }

// Close releases the session's document gauge. It is safe to call twice.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		prometheus.DocumentClosed()
	}
}

func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrOperationInFlight
	}
	return nil
}

func (s *Session) release() { s.busy.Store(false) }

func (s *Session) logContext(ctx context.Context) context.Context {
	ctx = logger.WithTask(ctx, s.task.Name())
	ctx = logger.WithWorkflow(ctx, s.wf.Name)
	ctx = logger.WithSessionID(ctx, s.id)
	return logger.WithDocument(ctx, s.docID)
}

// frontier returns the index of the last done step, or -1.
func (s *Session) frontier() int {
	for i := len(s.wf.Steps) - 1; i >= 0; i-- {
		if s.doc.IsDone(s.wf.Steps[i].Name) {
			return i
		}
	}
	return -1
}

func (s *Session) stepAt(i int) (Step, bool) {
	if i < 0 || i >= len(s.wf.Steps) {
		return Step{}, false
	}
	return s.wf.Steps[i], true
}

// CurrentUIStep returns the furthest done step of the workflow.
func (s *Session) CurrentUIStep() (Step, bool) { return s.stepAt(s.frontier()) }

// NextUIStep returns the step after the current one.
func (s *Session) NextUIStep() (Step, bool) { return s.stepAt(s.frontier() + 1) }

// FollowingUIStep returns the step after NextUIStep.
func (s *Session) FollowingUIStep() (Step, bool) { return s.stepAt(s.frontier() + 2) }

// HandAnnotationAvailable reports whether the user may annotate by hand at
// the current frontier: before the first step when the workflow allows it
// there, after the last step when allowed at the end, when the frontier step
// allows it, or when the next step is a tag step.
func (s *Session) HandAnnotationAvailable() bool {
	i := s.frontier()
	if next, ok := s.stepAt(i + 1); ok && next.TagStep {
		return true
	}
	switch {
	case i < 0:
		return s.wf.HandAnnotationAvailableAtBeginning
	case i == len(s.wf.Steps)-1 && s.wf.HandAnnotationAvailableAtEnd:
		return true
	default:
		return s.wf.Steps[i].HandAnnotationAvailable
	}
}

// HandAnnotationPerformed records a hand edit. When the next step is a tag
// step, hand annotation performs it: it becomes done and dirty. Otherwise
// the current step becomes dirty.
func (s *Session) HandAnnotationPerformed() error {
	if s.Busy() {
		return ErrOperationInFlight
	}
	if !s.HandAnnotationAvailable() {
		return ErrHandAnnotationUnavailable
	}
	if next, ok := s.NextUIStep(); ok && next.TagStep {
		s.doc.StepDone(next.Name, document.StepDoneOptions{Dirty: true})
	} else if cur, ok := s.CurrentUIStep(); ok {
		s.doc.MarkDirty(cur.Name)
	}
	if s.display != nil {
		s.display.HandAnnotationAvailable(s.HandAnnotationAvailable())
	}
	return nil
}

// OneStepForward runs the next step.
func (s *Session) OneStepForward(ctx context.Context) error {
	next, ok := s.NextUIStep()
	if !ok {
		return ErrNoNextStep
	}
	return s.AdvanceThrough(ctx, next.Name)
}

// AdvanceThrough runs every pending step up to and including target.
// Contiguous backend steps are sent as one request; local steps run between
// batches. Steps that succeed stay applied when a later one fails.
func (s *Session) AdvanceThrough(ctx context.Context, target string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	ctx = s.logContext(ctx)

	ti := s.wf.StepIndex(target)
	if ti < 0 {
		return pkgerrors.New(StepInit, "advance",
			fmt.Errorf("%w: %q in workflow %q", ErrUnknownStep, target, s.wf.Name))
	}
	start := s.frontier() + 1
	if ti < start {
		return pkgerrors.New(target, "advance", ErrStepNotPending)
	}

	var done []string
	err := s.runPending(ctx, s.wf.Steps[start:ti+1], &done)
	if len(done) > 0 {
		cur, _ := s.CurrentUIStep()
		s.history.Record(DirectionForward, done, cur.Name, s.now())
		s.refresh()
	}
	return err
}

func (s *Session) runPending(ctx context.Context, pending []Step, done *[]string) error {
	for i := 0; i < len(pending); {
		if s.task.Behavior(pending[i].Name).Local {
			if err := s.runLocal(ctx, pending[i]); err != nil {
				return err
			}
			*done = append(*done, pending[i].Name)
			i++
			continue
		}
		j := i
		for j < len(pending) && !s.task.Behavior(pending[j].Name).Local {
			j++
		}
		if err := s.runBackend(ctx, pending[i:j], done); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (s *Session) runLocal(ctx context.Context, step Step) (err error) {
	ctx = logger.WithStep(ctx, step.Name)
	ctx, span := telemetry.StartStepSpan(ctx, s.tracer, "forward", s.task.Name(), step.Name)
	defer func() { telemetry.EndSpan(span, err) }()

	logger.StepStarted(ctx, []string{step.Name}, "local", true)
	start := s.now()
	if forward := s.task.Behavior(step.Name).Forward; forward != nil {
		if ferr := forward(ctx, s.doc); ferr != nil {
			return s.fail(ctx, step.Name, "forward", ferr, s.now().Sub(start))
		}
	}
	s.doc.StepDone(step.Name, document.StepDoneOptions{})
	elapsed := s.now().Sub(start)
	logger.StepFinished(ctx, step.Name, elapsed)
	prometheus.RecordStep(s.task.Name(), step.Name, prometheus.StatusSuccess, elapsed.Seconds())
	return nil
}

func (s *Session) runBackend(ctx context.Context, batch []Step, done *[]string) (err error) {
	names := make([]string, len(batch))
	for i, st := range batch {
		names[i] = st.Name
	}
	ctx, span := telemetry.StartStepSpan(ctx, s.tracer, "forward", s.task.Name(), names[len(names)-1])
	defer func() { telemetry.EndSpan(span, err) }()

	if s.backend == nil {
		return s.fail(ctx, StepInit, backend.OperationSteps, ErrNoBackend, 0)
	}
	start := s.now()
	input, err := s.doc.ToJSON()
	if err != nil {
		return s.fail(ctx, StepInit, backend.OperationSteps, err, 0)
	}
	logger.StepStarted(ctx, names)

	resp, err := s.backend.Steps(ctx, backend.StepsRequest{
		Task:     s.task.Name(),
		Workflow: s.wf.Name,
		Steps:    names,
		Input:    input,
		Config:   s.config,
	})
	if err != nil {
		return s.fail(ctx, errorStep(err, ""), backend.OperationSteps, err, s.now().Sub(start))
	}

	furthest := ""
	for _, success := range resp.Successes {
		if len(success.Val) > 0 && string(success.Val) != "null" {
			doc, derr := document.FromJSON(success.Val, s.task.Repository())
			if derr != nil {
				return s.fail(ctx, StepDeserialize, backend.OperationSteps, derr, s.now().Sub(start))
			}
			s.doc.ReplaceDocument(doc)
		}
		elapsed := s.now().Sub(start)
		for _, name := range success.Steps {
			s.doc.StepDone(name, document.StepDoneOptions{})
			*done = append(*done, name)
			furthest = name
			logger.StepFinished(logger.WithStep(ctx, name), name, elapsed)
			prometheus.RecordStep(s.task.Name(), name, prometheus.StatusSuccess, elapsed.Seconds())
		}
	}
	if ferr := resp.Failure(); ferr != nil {
		return s.fail(ctx, errorStep(ferr, furthest), backend.OperationSteps, ferr, s.now().Sub(start))
	}
	return nil
}

// fail wraps err with the step it is reported against, then logs and counts it.
func (s *Session) fail(ctx context.Context, step, operation string, err error, elapsed time.Duration) error {
	ce := pkgerrors.New(step, operation, err).WithDetails(map[string]any{
		"task":     s.task.Name(),
		"workflow": s.wf.Name,
	})
	if code := statusCodeOf(err); code != 0 {
		ce = ce.WithStatusCode(code)
	}
	logger.StepFailed(ctx, step, err)
	prometheus.RecordStep(s.task.Name(), step, prometheus.StatusError, elapsed.Seconds())
	return ce
}

// OneStepBack rolls back the current step.
func (s *Session) OneStepBack(ctx context.Context) (*RollbackResult, error) {
	cur, ok := s.CurrentUIStep()
	if !ok {
		return nil, ErrNothingToUndo
	}
	return s.Rollback(ctx, cur.Name)
}

// Rollback undoes step and every done step downstream of it. When any of
// them carries unsaved hand changes the confirm callback decides; a refusal returns a cancelled
// result and changes nothing. Rollbacks that touch only local steps are
// virtual. Otherwise the backend undoes the document through the earliest
// done backend step downstream of step. Any failure to reach it, parse its
// reply or load the returned document, or a reply that leaves one of those
// steps done, leaves the session exactly as it was.
func (s *Session) Rollback(ctx context.Context, step string) (res *RollbackResult, err error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	ctx = logger.WithStep(s.logContext(ctx), step)
	ctx, span := telemetry.StartStepSpan(ctx, s.tracer, "rollback", s.task.Name(), step)
	defer func() { telemetry.EndSpan(span, err) }()

	if s.wf.StepIndex(step) < 0 {
		return nil, pkgerrors.New(StepInit, "rollback",
			fmt.Errorf("%w: %q in workflow %q", ErrUnknownStep, step, s.wf.Name))
	}
	if !s.doc.IsDone(step) {
		return nil, pkgerrors.New(step, "rollback", ErrStepNotDone)
	}

	var doneInClosure, dirty []string
	virtual := true
	for _, name := range s.task.SuccessorClosure(step) {
		if !s.doc.IsDone(name) {
			continue
		}
		doneInClosure = append(doneInClosure, name)
		if rec, _ := s.doc.Record(name); rec.Dirty {
			dirty = append(dirty, name)
		}
		if !s.task.Behavior(name).Local {
			virtual = false
		}
	}
	kind := "backend"
	if virtual {
		kind = "virtual"
	}

	if len(dirty) > 0 {
		if s.confirm == nil {
			return nil, pkgerrors.New(step, "rollback", ErrConfirmationRequired)
		}
		if !s.confirm(ctx, dirty) {
			logger.InfoContext(ctx, "rollback cancelled", "dirty", dirty)
			prometheus.RecordRollback(s.task.Name(), kind, prometheus.StatusCancelled, nil)
			return &RollbackResult{Cancelled: true, Virtual: virtual}, nil
		}
	}

	target, undone, err := s.prepareRollback(ctx, step, doneInClosure, virtual)
	if err != nil {
		prometheus.RecordRollback(s.task.Name(), kind, prometheus.StatusError, nil)
		return nil, err
	}

	s.doc.ReplaceDocument(target)
	for _, name := range undone {
		s.doc.PhaseUndone(name)
	}
	cur, _ := s.CurrentUIStep()
	s.history.Record(DirectionRollback, undone, cur.Name, s.now())
	logger.RollbackApplied(ctx, step, undone, virtual)
	prometheus.RecordRollback(s.task.Name(), kind, prometheus.StatusSuccess, undone)
	s.refresh()
	return &RollbackResult{Undone: undone, Virtual: virtual}, nil
}

// prepareRollback builds the document the rollback will install and the
// ordered list of undone steps without touching the session.
func (s *Session) prepareRollback(
	ctx context.Context, step string, doneInClosure []string, virtual bool,
) (*document.AnnotatedDoc, []string, error) {
	var (
		target *document.AnnotatedDoc
		undone []string
		err    error
	)
	if virtual {
		target, err = s.doc.AnnotatedDoc.Copy()
		if err != nil {
			return nil, nil, s.fail(ctx, StepInit, "rollback", err, 0)
		}
	} else {
		// The backend only knows its own steps, so undo from the earliest
		// done one downstream of step.
		through := s.earliestBackendStep(doneInClosure)
		target, undone, err = s.undoThroughBackend(ctx, through)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range doneInClosure {
			if !s.task.Behavior(name).Local && !slices.Contains(undone, name) {
				return nil, nil, s.fail(ctx, through, backend.OperationUndoThrough,
					fmt.Errorf("%w: %q", ErrIncompleteUndo, name), 0)
			}
		}
	}

	scratch := document.WithMetadata(target)
	var local []string
	for _, name := range doneInClosure {
		b := s.task.Behavior(name)
		if !b.Local {
			continue
		}
		local = append(local, name)
		if b.Undo != nil {
			if uerr := b.Undo(ctx, scratch); uerr != nil {
				return nil, nil, s.fail(ctx, name, "rollback", uerr, 0)
			}
		}
	}
	return scratch.AnnotatedDoc, s.orderUndone(undone, local), nil
}

// earliestBackendStep returns the non-local step of steps that comes first
// in the workflow. Steps outside the workflow sort last.
func (s *Session) earliestBackendStep(steps []string) string {
	best, bestIdx := "", -1
	for _, name := range steps {
		if s.task.Behavior(name).Local {
			continue
		}
		i := s.wf.StepIndex(name)
		if i < 0 {
			i = len(s.wf.Steps)
		}
		if bestIdx < 0 || i < bestIdx {
			best, bestIdx = name, i
		}
	}
	return best
}

func (s *Session) undoThroughBackend(ctx context.Context, step string) (*document.AnnotatedDoc, []string, error) {
	if s.backend == nil {
		return nil, nil, s.fail(ctx, StepInit, backend.OperationUndoThrough, ErrNoBackend, 0)
	}
	start := s.now()
	input, err := s.doc.ToJSON()
	if err != nil {
		return nil, nil, s.fail(ctx, StepInit, backend.OperationUndoThrough, err, 0)
	}
	resp, err := s.backend.UndoThrough(ctx, backend.UndoRequest{
		Task:        s.task.Name(),
		Workflow:    s.wf.Name,
		UndoThrough: step,
		Input:       input,
		Config:      s.config,
	})
	if err != nil {
		return nil, nil, s.fail(ctx, errorStep(err, step), backend.OperationUndoThrough, err, s.now().Sub(start))
	}
	if len(resp.Doc) == 0 || string(resp.Doc) == "null" {
		return nil, nil, s.fail(ctx, StepDeserialize, backend.OperationUndoThrough,
			errors.New("backend returned no document"), s.now().Sub(start))
	}
	doc, err := document.FromJSON(resp.Doc, s.task.Repository())
	if err != nil {
		return nil, nil, s.fail(ctx, StepDeserialize, backend.OperationUndoThrough, err, s.now().Sub(start))
	}
	return doc, resp.StepsUndone, nil
}

// orderUndone merges backend and local undone steps, most recent first by
// workflow position. Steps outside the workflow keep their backend order
// and come last.
func (s *Session) orderUndone(fromBackend, local []string) []string {
	var out []string
	for _, name := range append(slices.Clone(fromBackend), local...) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		ia, ib := s.wf.StepIndex(a), s.wf.StepIndex(b)
		switch {
		case ia < 0 && ib < 0:
			return 0
		case ia < 0:
			return 1
		case ib < 0:
			return -1
		default:
			return ib - ia
		}
	})
	return out
}

// Save stores the document and, on success, makes the current completion
// state the new clean baseline.
func (s *Session) Save(ctx context.Context, store statestore.Store) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	ctx = s.logContext(ctx)

	data, err := s.doc.ToJSON()
	if err != nil {
		return pkgerrors.New(StepInit, "save", err)
	}
	if err := store.Save(ctx, &statestore.Document{
		ID:       s.docID,
		Task:     s.task.Name(),
		Workflow: s.wf.Name,
		Data:     data,
	}); err != nil {
		return pkgerrors.New("statestore", "save", err)
	}
	s.doc.NotDirty()
	logger.InfoContext(ctx, "document saved", "done", s.doc.DoneSteps())
	if s.display != nil {
		s.display.HandAnnotationAvailable(s.HandAnnotationAvailable())
	}
	return nil
}

// refresh redisplays the document and hand annotation availability.
func (s *Session) refresh() {
	if s.display == nil {
		return
	}
	s.display.Redisplay(s.doc)
	s.display.HandAnnotationAvailable(s.HandAnnotationAvailable())
}
