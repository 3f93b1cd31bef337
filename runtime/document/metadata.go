package document

import (
	"fmt"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// Steps that live only in the client and are never persisted in phasesDone.
const (
	MarkGoldStep           = "mark gold"
	ReconciliationVoteStep = "reconciliation_vote"
)

// phasesDoneKey is the metadata entry listing completed steps.
const phasesDoneKey = "phasesDone"

// StepRecord is the completion state of one step.
type StepRecord struct {
	// DoneAtLoad is the baseline: done when the document was loaded or last saved.
	DoneAtLoad bool
	Done       bool
	// Dirty marks explicit changes, such as hand annotation, since the last save.
	Dirty bool
}

// diverged reports whether the step has unsaved changes.
func (r StepRecord) diverged() bool {
	return r.Dirty || r.DoneAtLoad != r.Done
}

// StepDoneOptions qualify a StepDone call.
type StepDoneOptions struct {
	Dirty      bool
	DoneAtLoad bool
}

// DocWithMetadata is an AnnotatedDoc with per-step done, dirty and
// done-at-load tracking.
type DocWithMetadata struct {
	*AnnotatedDoc
	steps     map[string]*StepRecord
	stepOrder []string
}

// WithMetadata wraps doc, reading its persisted phasesDone as the baseline.
func WithMetadata(doc *AnnotatedDoc) *DocWithMetadata {
	w := &DocWithMetadata{AnnotatedDoc: doc, steps: make(map[string]*StepRecord)}
	w.loadPhasesDone()
	return w
}

// FromJSONWithMetadata decodes a document and its step baseline.
func FromJSONWithMetadata(data []byte, repo *schema.Repository) (*DocWithMetadata, error) {
	doc, err := FromJSON(data, repo)
	if err != nil {
		return nil, err
	}
	return WithMetadata(doc), nil
}

func (w *DocWithMetadata) loadPhasesDone() {
	raw, ok := w.metadata[phasesDoneKey].([]any)
	if !ok {
		return
	}
	for _, v := range raw {
		if name, ok := v.(string); ok && name != "" {
			w.StepDone(name, StepDoneOptions{DoneAtLoad: true})
		}
	}
}

// ReplaceDocument swaps in a new document, as when a backend step returns
// a fresh snapshot, and keeps the step tracking.
func (w *DocWithMetadata) ReplaceDocument(doc *AnnotatedDoc) {
	w.AnnotatedDoc = doc
}

func (w *DocWithMetadata) record(name string) *StepRecord {
	r, ok := w.steps[name]
	if !ok {
		r = &StepRecord{}
		w.steps[name] = r
		w.stepOrder = append(w.stepOrder, name)
	}
	return r
}

// StepDone marks a step done. Dirty is sticky: a later StepDone without it
// does not clear it.
func (w *DocWithMetadata) StepDone(name string, opts StepDoneOptions) {
	r := w.record(name)
	r.Done = true
	if opts.Dirty {
		r.Dirty = true
	}
	if opts.DoneAtLoad {
		r.DoneAtLoad = true
	}
}

// MarkDirty flags a step as changed without altering whether it is done.
func (w *DocWithMetadata) MarkDirty(name string) {
	w.record(name).Dirty = true
}

// PhaseUndone marks a step not done and clean.
func (w *DocWithMetadata) PhaseUndone(name string) {
	r := w.record(name)
	r.Done = false
	r.Dirty = false
}

// NotDirty is called after a successful save: every step becomes clean and
// its current completion becomes the new baseline.
func (w *DocWithMetadata) NotDirty() {
	for _, r := range w.steps {
		r.Dirty = false
		r.DoneAtLoad = r.Done
	}
}

// IsDirty reports whether any step is dirty or has diverged from its baseline.
func (w *DocWithMetadata) IsDirty() bool {
	for _, r := range w.steps {
		if r.diverged() {
			return true
		}
	}
	return false
}

// StepIsDirty reports whether one step has unsaved changes.
func (w *DocWithMetadata) StepIsDirty(name string) bool {
	r, ok := w.steps[name]
	return ok && r.diverged()
}

// IsDone reports whether a step is recorded as done.
func (w *DocWithMetadata) IsDone(name string) bool {
	r, ok := w.steps[name]
	return ok && r.Done
}

// Record returns a copy of a step's state.
func (w *DocWithMetadata) Record(name string) (StepRecord, bool) {
	r, ok := w.steps[name]
	if !ok {
		return StepRecord{}, false
	}
	return *r, true
}

// DoneSteps returns the steps currently done, in first-recorded order.
func (w *DocWithMetadata) DoneSteps() []string {
	var out []string
	for _, name := range w.stepOrder {
		if w.steps[name].Done {
			out = append(out, name)
		}
	}
	return out
}

func isLocalStep(name string) bool {
	return name == MarkGoldStep || name == ReconciliationVoteStep
}

// ToJSON recomputes metadata.phasesDone from the done, non-local steps and
// encodes the document.
func (w *DocWithMetadata) ToJSON() ([]byte, error) {
	done := make([]any, 0, len(w.stepOrder))
	for _, name := range w.DoneSteps() {
		if !isLocalStep(name) {
			done = append(done, name)
		}
	}
	w.metadata[phasesDoneKey] = done
	data, err := w.AnnotatedDoc.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encode document with metadata: %w", err)
	}
	return data, nil
}
