package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/metrics/prometheus"
)

// Annotation is a typed span or spanless record owned by one document.
// Attribute values are stored positionally in the type's attribute order.
type Annotation struct {
	doc      *AnnotatedDoc
	typ      *schema.AnnotationType
	handle   handle
	hasSpan  bool
	start    int
	end      int
	publicID string
	attrs    []any
	removed  bool
}

// Doc returns the owning document.
func (a *Annotation) Doc() *AnnotatedDoc { return a.doc }

// Type returns the document-local type.
func (a *Annotation) Type() *schema.AnnotationType { return a.typ }

// Label returns the true label.
func (a *Annotation) Label() string { return a.typ.Label() }

// HasSpan reports whether the annotation has text offsets.
func (a *Annotation) HasSpan() bool { return a.hasSpan }

// Span returns the character offsets; ok is false for spanless annotations.
func (a *Annotation) Span() (start, end int, ok bool) {
	return a.start, a.end, a.hasSpan
}

// Text returns the covered signal text, or "" for spanless annotations.
func (a *Annotation) Text() string {
	if !a.hasSpan {
		return ""
	}
	return string(a.doc.runes[a.start:a.end])
}

// Removed reports whether the annotation was removed from its document.
func (a *Annotation) Removed() bool { return a.removed }

// ID returns the public ID without assigning one.
func (a *Annotation) ID() (string, bool) {
	return a.publicID, a.publicID != ""
}

// PublicID returns the public ID, assigning and registering one on first use.
func (a *Annotation) PublicID() string {
	if a.publicID == "" && !a.removed {
		a.doc.assignID(a)
	}
	return a.publicID
}

// Get returns the value of an attribute. Annotation values are *Annotation
// and aggregates are *List or *Set.
func (a *Annotation) Get(name string) (any, bool) {
	i := a.typ.AttributeIndex(name)
	if i < 0 || i >= len(a.attrs) || a.attrs[i] == nil {
		return nil, false
	}
	return a.external(a.attrs[i]), true
}

func (a *Annotation) external(v any) any {
	if h, ok := v.(handle); ok {
		return a.doc.annotationFor(h)
	}
	return v
}

// Values returns every set attribute by name.
func (a *Annotation) Values() map[string]any {
	out := make(map[string]any)
	for i, attr := range a.typ.Attributes() {
		if i < len(a.attrs) && a.attrs[i] != nil {
			out[attr.Name()] = a.external(a.attrs[i])
		}
	}
	return out
}

// Unset clears an attribute.
func (a *Annotation) Unset(name string) error {
	return a.Set(name, nil)
}

// Set assigns an attribute value: a primitive, an *Annotation of the same
// document, or a *List / *Set for aggregate attributes. Attributes unknown
// to an open type are inferred from the value. On error the annotation is
// unchanged.
func (a *Annotation) Set(name string, v any) error {
	attr, inferred, stored, err := a.validate(name, v)
	if err != nil || attr == nil {
		return err
	}
	if inferred != nil {
		if attr, err = a.typ.AddAttribute(*inferred); err != nil {
			return err
		}
	}
	a.commit(attr, stored)
	return nil
}

// CheckSet reports the error Set(name, v) would return, without changing
// anything.
func (a *Annotation) CheckSet(name string, v any) error {
	_, _, _, err := a.validate(name, v)
	return err
}

func (a *Annotation) validate(name string, v any) (*schema.AttributeType, *schema.AttributeSpec, any, error) {
	if a.removed {
		return nil, nil, nil, ErrRemoved
	}
	attr, inferred, err := a.attributeFor(name, v)
	if err != nil || attr == nil {
		return nil, nil, nil, err
	}
	stored, err := a.prepare(attr, v)
	if err != nil {
		if _, ok := err.(*schema.SchemaViolation); ok {
			prometheus.RecordSchemaViolation(a.Label(), name)
		}
		return nil, nil, nil, err
	}
	if attr.IsChoice() {
		if err := a.checkInbound(name, stored); err != nil {
			prometheus.RecordSchemaViolation(a.Label(), name)
			return nil, nil, nil, err
		}
	}
	return attr, inferred, stored, nil
}

// attributeFor returns the attribute name refers to. For an attribute unknown
// to an open type it returns a detached inferred attribute and the spec to
// add once the value is accepted.
func (a *Annotation) attributeFor(name string, v any) (*schema.AttributeType, *schema.AttributeSpec, error) {
	if attr, ok := a.typ.Attribute(name); ok {
		return attr, nil, nil
	}
	if v == nil {
		return nil, nil, nil
	}
	if a.typ.AllAttributesKnown() {
		return nil, nil, docErr("Set", "type %q has no attribute %q", a.Label(), name)
	}
	spec, err := inferAttribute(name, v)
	if err != nil {
		return nil, nil, err
	}
	attr, err := schema.NewAttributeType(spec)
	if err != nil {
		return nil, nil, err
	}
	return attr, &spec, nil
}

// inferAttribute derives an attribute declaration from a first observed value.
func inferAttribute(name string, v any) (schema.AttributeSpec, error) {
	spec := schema.AttributeSpec{Name: name}
	sample := v
	switch c := v.(type) {
	case *List:
		spec.Aggregation = string(schema.AggregationList)
		sample = firstOrNil(c.elems)
	case *Set:
		spec.Aggregation = string(schema.AggregationSet)
		sample = firstOrNil(c.elems)
	}
	switch s := sample.(type) {
	case nil, string:
		spec.Type = string(schema.KindString)
	case bool:
		spec.Type = string(schema.KindBoolean)
	case *Annotation:
		spec.Type = string(schema.KindAnnotation)
	case float32, float64:
		spec.Type = string(schema.KindFloat)
	case json.Number:
		if strings.ContainsAny(s.String(), ".eE") {
			spec.Type = string(schema.KindFloat)
		} else {
			spec.Type = string(schema.KindInt)
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		spec.Type = string(schema.KindInt)
	default:
		return spec, docErr("Set", "cannot infer attribute %q from %T", name, v)
	}
	return spec, nil
}

func firstOrNil(elems []any) any {
	if len(elems) == 0 {
		return nil
	}
	return elems[0]
}

// pendingAggregate is a validated container awaiting commit.
type pendingAggregate struct {
	agg   aggregate
	elems []any
}

// prepare validates v without side effects and returns its stored form.
func (a *Annotation) prepare(attr *schema.AttributeType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if attr.Aggregation() == schema.AggregationNone {
		switch v.(type) {
		case *List, *Set:
			return nil, &schema.SchemaViolation{Attribute: attr.Name(), Expected: string(attr.Kind()), Reason: "attribute is not an aggregate", Value: fmt.Sprintf("%T", v)}
		}
		return a.importSingle(attr, v)
	}

	agg, ok := v.(aggregate)
	if !ok || agg.aggregation() != attr.Aggregation() {
		return nil, &schema.SchemaViolation{Attribute: attr.Name(), Expected: string(attr.Aggregation()) + " of " + string(attr.Kind()), Reason: "wrong container", Value: fmt.Sprintf("%T", v)}
	}
	c := agg.base()
	if c.bound != nil && (c.bound.holder != a || c.bound.attr.Name() != attr.Name()) {
		return nil, docErr("Set", "container for %s.%s is already bound to %s.%s", a.Label(), attr.Name(), c.bound.holder.Label(), c.bound.attr.Name())
	}
	elems := make([]any, 0, len(c.elems))
	for _, e := range c.elems {
		if c.bound != nil {
			e = c.resolve(e)
		}
		n, err := a.importSingle(attr, e)
		if err != nil {
			return nil, err
		}
		elems = append(elems, n)
	}
	return &pendingAggregate{agg: agg, elems: elems}, nil
}

// importSingle checks one element and returns its stored form.
func (a *Annotation) importSingle(attr *schema.AttributeType, v any) (any, error) {
	if attr.Kind() != schema.KindAnnotation {
		return attr.Import(v)
	}
	target, ok := v.(*Annotation)
	if !ok || target == nil {
		return nil, &schema.SchemaViolation{Attribute: attr.Name(), Expected: "annotation", Reason: fmt.Sprintf("value of type %T", v), Value: v}
	}
	if target.doc != a.doc {
		return nil, ErrForeignAnnotation
	}
	if target.removed {
		return nil, ErrRemoved
	}
	if err := attr.CheckFiller(target.Label(), target.mask()); err != nil {
		return nil, err
	}
	return target.handle, nil
}

// checkInbound verifies that every annotation referring to a still accepts it
// once the choice attribute name holds stored.
func (a *Annotation) checkInbound(name string, stored any) error {
	refs := a.doc.InverseReferences(a)
	if len(refs) == 0 {
		return nil
	}
	values := a.choiceValues()
	if stored == nil {
		delete(values, name)
	} else {
		values[name] = stored
	}
	mask := a.typ.ChoiceMask(values)
	for _, br := range refs {
		holderAttr, ok := br.Holder.typ.Attribute(br.Attr)
		if !ok {
			continue
		}
		if !holderAttr.AcceptsFiller(a.Label(), mask) {
			return &schema.SchemaViolation{
				Attribute: name,
				Expected:  "a value accepted by " + br.Holder.Label() + "." + br.Attr,
				Reason:    "annotation is referenced and the change would violate the referrer's label restrictions",
				Value:     stored,
			}
		}
	}
	return nil
}

func (a *Annotation) commit(attr *schema.AttributeType, stored any) {
	i := a.typ.AttributeIndex(attr.Name())
	for len(a.attrs) <= i {
		a.attrs = append(a.attrs, nil)
	}
	old := a.attrs[i]

	if p, ok := stored.(*pendingAggregate); ok {
		c := p.agg.base()
		c.elems = p.elems
		c.bound = &binding{holder: a, attr: attr}
		p.agg.rebuild()
		stored = p.agg
	}
	if oldAgg, ok := old.(aggregate); ok && oldAgg != stored {
		a.unbind(oldAgg)
	}
	a.attrs[i] = stored

	if attr.Kind() == schema.KindAnnotation {
		a.doc.ensureTargetIDs(stored)
		a.doc.invalidateInverse()
	}
}

// unbindAll releases every container bound to a, so a discarded annotation
// does not keep its callers' lists and sets.
func (a *Annotation) unbindAll() {
	for _, v := range a.attrs {
		if agg, ok := v.(aggregate); ok {
			a.unbind(agg)
		}
	}
}

// unbind detaches a replaced container. Its annotation elements revert to
// *Annotation so it can be reused.
func (a *Annotation) unbind(agg aggregate) {
	c := agg.base()
	for i, e := range c.elems {
		if h, ok := e.(handle); ok {
			c.elems[i] = a.doc.annotationFor(h)
		}
	}
	c.bound = nil
	if s, ok := agg.(*Set); ok {
		s.reindex()
	}
}

func (d *AnnotatedDoc) ensureTargetIDs(stored any) {
	switch v := stored.(type) {
	case handle:
		if t := d.annots[v]; t != nil {
			t.PublicID()
		}
	case aggregate:
		for _, e := range v.base().elems {
			d.ensureTargetIDs(e)
		}
	}
}

// choiceValues returns the current values of the type's choice attributes.
func (a *Annotation) choiceValues() map[string]any {
	out := make(map[string]any)
	for i, attr := range a.typ.Attributes() {
		if attr.IsChoice() && i < len(a.attrs) && a.attrs[i] != nil {
			out[attr.Name()] = a.attrs[i]
		}
	}
	return out
}

func (a *Annotation) mask() schema.Mask {
	return a.typ.ChoiceMask(a.choiceValues())
}

// EffectiveLabel returns the effective label the annotation's choice values
// denote, or its true label when none applies.
func (a *Annotation) EffectiveLabel() string {
	if el := a.typ.EffectiveLabelFor(a.choiceValues()); el != "" {
		return el
	}
	return a.Label()
}

// MissingRequired lists the non-optional attributes that are unset.
func (a *Annotation) MissingRequired() []string {
	var out []string
	for i, attr := range a.typ.Attributes() {
		if attr.Optional() {
			continue
		}
		if i >= len(a.attrs) || a.attrs[i] == nil {
			out = append(out, attr.Name())
		}
	}
	return out
}

// Format renders an attribute value for display: whole floats keep ".0",
// annotations show their effective label and ID, aggregates list elements.
func (a *Annotation) Format(name string) string {
	attr, ok := a.typ.Attribute(name)
	if !ok {
		return ""
	}
	v, ok := a.Get(name)
	if !ok {
		return ""
	}
	one := func(e any) string {
		if t, ok := e.(*Annotation); ok {
			if t == nil {
				return "<removed>"
			}
			return t.EffectiveLabel() + "#" + t.PublicID()
		}
		return attr.Format(e)
	}
	switch c := v.(type) {
	case *List:
		return formatElems("[", c.Values(), "]", one)
	case *Set:
		return formatElems("{", c.Values(), "}", one)
	}
	return one(v)
}

func formatElems(open string, vals []any, closeStr string, one func(any) string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, one(v))
	}
	return open + strings.Join(parts, ", ") + closeStr
}

func (a *Annotation) String() string {
	if a.hasSpan {
		return fmt.Sprintf("%s[%d:%d]", a.EffectiveLabel(), a.start, a.end)
	}
	return a.EffectiveLabel()
}
