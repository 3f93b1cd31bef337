// Package document implements the annotated document model: typed
// annotations over a signal, attribute value containers, reference
// integrity, zone interstice synthesis, the MAT-JSON interchange format and
// per-step completion tracking.
package document

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// handle is the private, always-present identity of an annotation within
// its document. Attribute values refer to annotations by handle.
type handle uint64

// AnnotatedDoc is a signal plus its annotations. It is not safe for
// concurrent use; callers serialize access per document.
type AnnotatedDoc struct {
	signal   string
	runes    []rune
	metadata map[string]any

	global *schema.Repository
	types  map[string]*schema.AnnotationType

	annots     map[handle]*Annotation
	byLabel    map[string][]*Annotation
	labelOrder []string
	nextHandle handle

	idDict map[string]*Annotation
	nextID int

	// inverse maps a public ID to its inbound references. nil means stale.
	inverse map[string][]BackRef
}

// New creates an empty document over signal. repo must be digested; nil
// means an open repository where every label is inferred from use.
func New(signal string, repo *schema.Repository) (*AnnotatedDoc, error) {
	if repo == nil {
		repo = schema.NewOpenRepository()
	}
	if !repo.Digested() {
		return nil, fmt.Errorf("new document: %w", schema.ErrNotDigested)
	}
	return &AnnotatedDoc{
		signal:   signal,
		runes:    []rune(signal),
		metadata: make(map[string]any),
		global:   repo,
		types:    make(map[string]*schema.AnnotationType),
		annots:   make(map[handle]*Annotation),
		byLabel:  make(map[string][]*Annotation),
		idDict:   make(map[string]*Annotation),
	}, nil
}

// Signal returns the document text.
func (d *AnnotatedDoc) Signal() string { return d.signal }

// Length returns the signal length in characters, the unit of all offsets.
func (d *AnnotatedDoc) Length() int { return len(d.runes) }

// Metadata returns the document metadata. The map is live.
func (d *AnnotatedDoc) Metadata() map[string]any { return d.metadata }

// Repository returns the shared task repository.
func (d *AnnotatedDoc) Repository() *schema.Repository { return d.global }

// ReplaceSignal swaps the signal text. Only documents without spanned
// annotations may be re-signalled, since offsets would no longer hold.
func (d *AnnotatedDoc) ReplaceSignal(signal string) error {
	for _, label := range d.labelOrder {
		for _, a := range d.byLabel[label] {
			if a.hasSpan {
				return docErr("ReplaceSignal", "document has spanned annotations")
			}
		}
	}
	d.signal = signal
	d.runes = []rune(signal)
	return nil
}

// TypeFor returns the document-local type for label, copying it from the
// shared repository on first use. Labels unknown to an open repository are
// created; a closed repository rejects them.
func (d *AnnotatedDoc) TypeFor(label string) (*schema.AnnotationType, error) {
	return d.localType(label, true, true)
}

// LocalTypes returns the types materialized in this document, in first-use order.
func (d *AnnotatedDoc) LocalTypes() []*schema.AnnotationType {
	out := make([]*schema.AnnotationType, 0, len(d.labelOrder))
	for _, l := range d.labelOrder {
		out = append(out, d.types[l])
	}
	return out
}

func (d *AnnotatedDoc) localType(label string, hasSpan, create bool) (*schema.AnnotationType, error) {
	if t, ok := d.types[label]; ok {
		return t, nil
	}
	var t *schema.AnnotationType
	if g, ok := d.global.Lookup(label); ok {
		t = g.Copy()
	} else {
		spec := schema.TypeSpec{Label: label, HasSpan: &hasSpan}
		switch {
		case label == schema.UntaggableLabel:
			spanned := true
			spec = schema.TypeSpec{Label: label, HasSpan: &spanned, Category: schema.UntaggableCategory, AllAttributesKnown: true}
		case !create:
			return nil, docErr("TypeFor", "unknown annotation type %q", label)
		case d.isEffectiveLabel(label):
			return nil, docErr("TypeFor", "%q is an effective label, not a type", label)
		case d.global.AllAnnotationsKnown():
			return nil, docErr("TypeFor", "annotation type %q is not declared by the task", label)
		}
		nt, err := schema.NewAnnotationType(spec)
		if err != nil {
			return nil, err
		}
		t = nt
	}
	d.types[label] = t
	return t, nil
}

func (d *AnnotatedDoc) isEffectiveLabel(label string) bool {
	_, _, ok := d.global.TypeForEffectiveLabel(label)
	return ok
}

// resolveLabel maps an effective label to its true label and fixed attribute.
func (d *AnnotatedDoc) resolveLabel(label string) (string, *schema.EffectiveLabel) {
	if t, el, ok := d.global.TypeForEffectiveLabel(label); ok {
		return t.Label(), &el
	}
	return label, nil
}

// CreateAnnotation adds a spanned annotation over [start, end). label may be
// an effective label, in which case its attribute is set. Declared defaults
// fill attributes not in attrs. On error nothing is added.
func (d *AnnotatedDoc) CreateAnnotation(label string, start, end int, attrs map[string]any) (*Annotation, error) {
	if start < 0 || end < start || end > len(d.runes) {
		return nil, docErr("CreateAnnotation", "span [%d, %d) outside signal of length %d", start, end, len(d.runes))
	}
	return d.create(label, true, start, end, attrs)
}

// CreateSpanlessAnnotation adds an annotation without text offsets.
func (d *AnnotatedDoc) CreateSpanlessAnnotation(label string, attrs map[string]any) (*Annotation, error) {
	return d.create(label, false, 0, 0, attrs)
}

func (d *AnnotatedDoc) create(label string, hasSpan bool, start, end int, attrs map[string]any) (*Annotation, error) {
	trueLabel, el := d.resolveLabel(label)
	t, err := d.localType(trueLabel, hasSpan, true)
	if err != nil {
		return nil, err
	}
	if t.HasSpan() != hasSpan {
		return nil, docErr("CreateAnnotation", "type %q hasSpan=%v", trueLabel, t.HasSpan())
	}
	a := d.newAnnotation(t, start, end)

	values := make(map[string]any, len(attrs)+1)
	for _, attr := range t.Attributes() {
		if def, ok := attr.Default(); ok {
			values[attr.Name()] = def
		} else if attr.DefaultIsTextSpan() && hasSpan {
			values[attr.Name()] = a.Text()
		}
	}
	for k, v := range attrs {
		values[k] = v
	}
	if el != nil {
		values[el.Attr] = el.Value
	}

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := a.Set(name, values[name]); err != nil {
			a.unbindAll()
			d.unregister(a)
			return nil, err
		}
	}
	return a, nil
}

func (d *AnnotatedDoc) newAnnotation(t *schema.AnnotationType, start, end int) *Annotation {
	d.nextHandle++
	a := &Annotation{
		doc:     d,
		typ:     t,
		handle:  d.nextHandle,
		hasSpan: t.HasSpan(),
	}
	if a.hasSpan {
		a.start, a.end = start, end
	}
	d.annots[a.handle] = a
	label := t.Label()
	if _, seen := d.byLabel[label]; !seen {
		d.labelOrder = append(d.labelOrder, label)
	}
	d.byLabel[label] = append(d.byLabel[label], a)
	return a
}

func (d *AnnotatedDoc) unregister(a *Annotation) {
	label := a.Label()
	list := d.byLabel[label]
	for i, other := range list {
		if other == a {
			d.byLabel[label] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	delete(d.annots, a.handle)
	if a.publicID != "" {
		delete(d.idDict, a.publicID)
	}
	a.removed = true
	d.invalidateInverse()
}

func (d *AnnotatedDoc) annotationFor(h handle) *Annotation {
	return d.annots[h]
}

// FindAnnotations returns the annotations with the given label, in creation
// order. An effective label selects the true type's annotations whose
// effective label matches.
func (d *AnnotatedDoc) FindAnnotations(label string) []*Annotation {
	trueLabel, el := d.resolveLabel(label)
	list := d.byLabel[trueLabel]
	out := make([]*Annotation, 0, len(list))
	for _, a := range list {
		if el != nil && a.EffectiveLabel() != label {
			continue
		}
		out = append(out, a)
	}
	return out
}

// AllAnnotations returns every annotation, grouped by label in first-use order.
func (d *AnnotatedDoc) AllAnnotations() []*Annotation {
	var out []*Annotation
	for _, label := range d.labelOrder {
		out = append(out, d.byLabel[label]...)
	}
	return out
}

// Labels returns the labels that currently have annotations, in first-use order.
func (d *AnnotatedDoc) Labels() []string {
	var out []string
	for _, label := range d.labelOrder {
		if len(d.byLabel[label]) > 0 {
			out = append(out, label)
		}
	}
	return out
}

// AnnotationByID looks up an annotation by public ID.
func (d *AnnotatedDoc) AnnotationByID(id string) (*Annotation, bool) {
	a, ok := d.idDict[id]
	return a, ok
}

func (d *AnnotatedDoc) assignID(a *Annotation) {
	for {
		id := strconv.Itoa(d.nextID)
		d.nextID++
		if _, taken := d.idDict[id]; !taken {
			a.publicID = id
			d.idDict[id] = a
			return
		}
	}
}

func (d *AnnotatedDoc) registerID(a *Annotation, id string) error {
	if id == "" {
		return docErr("registerID", "empty annotation ID")
	}
	if other, taken := d.idDict[id]; taken && other != a {
		return docErr("registerID", "duplicate annotation ID %q", id)
	}
	if a.publicID != "" && a.publicID != id {
		delete(d.idDict, a.publicID)
	}
	a.publicID = id
	d.idDict[id] = a
	return nil
}

func (d *AnnotatedDoc) invalidateInverse() {
	d.inverse = nil
}
