package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AttributeSpec is the declaration of an attribute as it appears in a task's
// annotation set repository.
type AttributeSpec struct {
	Name              string             `json:"name"`
	Type              string             `json:"type,omitempty"`
	Aggregation       string             `json:"aggregation,omitempty"`
	Optional          *bool              `json:"optional,omitempty"`
	Category          string             `json:"category,omitempty"`
	SetName           string             `json:"set_name,omitempty"`
	Display           map[string]any     `json:"display,omitempty"`
	Default           any                `json:"default,omitempty"`
	DefaultIsTextSpan bool               `json:"default_is_text_span,omitempty"`
	Choices           []any              `json:"choices,omitempty"`
	MinVal            *float64           `json:"minval,omitempty"`
	MaxVal            *float64           `json:"maxval,omitempty"`
	LabelRestrictions []LabelRestriction `json:"label_restrictions,omitempty"`
}

// LabelRestriction limits the annotations that may fill an annotation-valued
// attribute. Its JSON form is either "LABEL" or ["LABEL", [["attr", value], ...]].
type LabelRestriction struct {
	Label string
	Pairs []AttrValuePair
}

// AttrValuePair is one attribute=value requirement of a LabelRestriction.
type AttrValuePair struct {
	Attr  string
	Value any
}

// MarshalJSON emits the compact string form when there are no pairs.
func (r LabelRestriction) MarshalJSON() ([]byte, error) {
	if len(r.Pairs) == 0 {
		return json.Marshal(r.Label)
	}
	pairs := make([][2]any, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		pairs = append(pairs, [2]any{p.Attr, p.Value})
	}
	return json.Marshal([]any{r.Label, pairs})
}

// UnmarshalJSON accepts both restriction forms.
func (r *LabelRestriction) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*r = LabelRestriction{Label: label}
		return nil
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("label restriction must be a label or [label, pairs]: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("label restriction tuple must have 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &label); err != nil {
		return fmt.Errorf("label restriction label: %w", err)
	}
	var rawPairs [][]any
	if err := json.Unmarshal(tuple[1], &rawPairs); err != nil {
		return fmt.Errorf("label restriction pairs: %w", err)
	}
	out := LabelRestriction{Label: label}
	for _, p := range rawPairs {
		if len(p) != 2 {
			return fmt.Errorf("label restriction pair must have 2 elements, got %d", len(p))
		}
		name, ok := p[0].(string)
		if !ok {
			return fmt.Errorf("label restriction attribute must be a string, got %T", p[0])
		}
		out.Pairs = append(out.Pairs, AttrValuePair{Attr: name, Value: p[1]})
	}
	*r = out
	return nil
}

func (r LabelRestriction) String() string {
	if len(r.Pairs) == 0 {
		return r.Label
	}
	parts := make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		parts = append(parts, fmt.Sprintf("%s=%v", p.Attr, p.Value))
	}
	return r.Label + "[" + strings.Join(parts, ",") + "]"
}

// digestedRestriction is a restriction after effective-label folding.
type digestedRestriction struct {
	label string
	mask  Mask
	// fromEffectiveLabel names the effective label the restriction denotes, if any.
	fromEffectiveLabel string
}

// AttributeType is a typed attribute of an AnnotationType. Its constraint set
// is fixed at construction; the value importer is chosen once for its kind.
type AttributeType struct {
	name              string
	kind              Kind
	aggregation       Aggregation
	optional          bool
	category          string
	setName           string
	display           map[string]any
	defaultValue      any
	defaultIsTextSpan bool
	choices           []any
	choiceSet         map[any]struct{}
	minVal, maxVal    *float64
	restrictions      []LabelRestriction

	digested []digestedRestriction

	importer func(v any) (any, error)
}

// NewAttributeType validates spec and builds an AttributeType.
func NewAttributeType(spec AttributeSpec) (*AttributeType, error) {
	const op = "NewAttributeType"
	if spec.Name == "" {
		return nil, NewDocumentError(op, "attribute name is empty")
	}
	kind, err := ParseKind(spec.Type)
	if err != nil {
		return nil, NewDocumentError(op, "attribute %q: %v", spec.Name, err)
	}
	agg, err := ParseAggregation(spec.Aggregation)
	if err != nil {
		return nil, NewDocumentError(op, "attribute %q: %v", spec.Name, err)
	}
	a := &AttributeType{
		name:              spec.Name,
		kind:              kind,
		aggregation:       agg,
		optional:          spec.Optional == nil || *spec.Optional,
		category:          spec.Category,
		setName:           spec.SetName,
		display:           spec.Display,
		defaultIsTextSpan: spec.DefaultIsTextSpan,
		minVal:            spec.MinVal,
		maxVal:            spec.MaxVal,
	}
	if len(spec.LabelRestrictions) > 0 {
		if kind != KindAnnotation {
			return nil, NewDocumentError(op, "attribute %q: label restrictions require an annotation attribute", spec.Name)
		}
		a.restrictions = append([]LabelRestriction(nil), spec.LabelRestrictions...)
	}
	if len(spec.Choices) > 0 {
		switch kind {
		case KindBoolean, KindAnnotation:
			return nil, NewDocumentError(op, "attribute %q: %s attributes cannot declare choices", spec.Name, kind)
		}
	}
	if (spec.MinVal != nil || spec.MaxVal != nil) && kind != KindInt && kind != KindFloat {
		return nil, NewDocumentError(op, "attribute %q: minval/maxval require a numeric attribute", spec.Name)
	}
	if spec.MinVal != nil && spec.MaxVal != nil && *spec.MinVal > *spec.MaxVal {
		return nil, NewDocumentError(op, "attribute %q: minval %v exceeds maxval %v", spec.Name, *spec.MinVal, *spec.MaxVal)
	}

	// Choices are normalized with the bare kind check so that the constrained
	// importer can compare against them.
	a.importer = a.kindImporter()
	if len(spec.Choices) > 0 {
		a.choiceSet = make(map[any]struct{}, len(spec.Choices))
		for _, c := range spec.Choices {
			v, err := a.importer(c)
			if err != nil {
				return nil, NewDocumentError(op, "attribute %q: bad choice: %v", spec.Name, err)
			}
			if _, dup := a.choiceSet[v]; dup {
				continue
			}
			a.choiceSet[v] = struct{}{}
			a.choices = append(a.choices, v)
		}
	}
	a.importer = a.constrainedImporter(a.importer)

	if spec.DefaultIsTextSpan {
		if kind != KindString || agg != AggregationNone {
			return nil, NewDocumentError(op, "attribute %q: default_is_text_span requires a singleton string attribute", spec.Name)
		}
		if spec.Default != nil {
			return nil, NewDocumentError(op, "attribute %q: default and default_is_text_span are exclusive", spec.Name)
		}
	}
	if spec.Default != nil {
		if kind == KindAnnotation || agg != AggregationNone {
			return nil, NewDocumentError(op, "attribute %q: defaults are only allowed on singleton primitive attributes", spec.Name)
		}
		v, err := a.Import(spec.Default)
		if err != nil {
			return nil, NewDocumentError(op, "attribute %q: bad default: %v", spec.Name, err)
		}
		a.defaultValue = v
	}
	return a, nil
}

// Name returns the attribute name.
func (a *AttributeType) Name() string { return a.name }

// Kind returns the value kind.
func (a *AttributeType) Kind() Kind { return a.kind }

// Aggregation returns the aggregation mode.
func (a *AttributeType) Aggregation() Aggregation { return a.aggregation }

// Optional reports whether the attribute may be left unset.
func (a *AttributeType) Optional() bool { return a.optional }

// Category returns the attribute category.
func (a *AttributeType) Category() string { return a.category }

// SetName returns the attribute set name.
func (a *AttributeType) SetName() string { return a.setName }

// Default returns the declared default, if any.
func (a *AttributeType) Default() (any, bool) { return a.defaultValue, a.defaultValue != nil }

// DefaultIsTextSpan reports whether new annotations take the covered text as value.
func (a *AttributeType) DefaultIsTextSpan() bool { return a.defaultIsTextSpan }

// Choices returns a copy of the normalized enumerated values.
func (a *AttributeType) Choices() []any { return append([]any(nil), a.choices...) }

// Range returns the declared numeric bounds.
func (a *AttributeType) Range() (minVal, maxVal *float64) { return a.minVal, a.maxVal }

// LabelRestrictions returns the declared restrictions.
func (a *AttributeType) LabelRestrictions() []LabelRestriction {
	return append([]LabelRestriction(nil), a.restrictions...)
}

// IsChoice reports whether the attribute takes part in the choice bitmask:
// a singleton attribute with enumerated values.
func (a *AttributeType) IsChoice() bool {
	return a.aggregation == AggregationNone && len(a.choices) > 0
}

// Spec returns a declaration that rebuilds an equivalent attribute.
func (a *AttributeType) Spec() AttributeSpec {
	opt := a.optional
	spec := AttributeSpec{
		Name:              a.name,
		Type:              string(a.kind),
		Aggregation:       string(a.aggregation),
		Optional:          &opt,
		Category:          a.category,
		SetName:           a.setName,
		Display:           a.display,
		Default:           a.defaultValue,
		DefaultIsTextSpan: a.defaultIsTextSpan,
		Choices:           a.Choices(),
		MinVal:            a.minVal,
		MaxVal:            a.maxVal,
		LabelRestrictions: a.LabelRestrictions(),
	}
	return spec
}

func (a *AttributeType) clone() *AttributeType {
	c := *a
	c.choices = append([]any(nil), a.choices...)
	c.restrictions = append([]LabelRestriction(nil), a.restrictions...)
	c.digested = append([]digestedRestriction(nil), a.digested...)
	if a.choiceSet != nil {
		c.choiceSet = make(map[any]struct{}, len(a.choiceSet))
		for k := range a.choiceSet {
			c.choiceSet[k] = struct{}{}
		}
	}
	c.importer = c.constrainedImporter(c.kindImporter())
	return &c
}

// Import checks a single primitive value against the attribute's kind,
// choices and range, and returns it normalized to string, int64, float64 or
// bool. Annotation-valued attributes are checked with CheckFiller instead.
func (a *AttributeType) Import(v any) (any, error) {
	return a.importer(v)
}

func (a *AttributeType) kindImporter() func(v any) (any, error) {
	name := a.name
	switch a.kind {
	case KindString:
		return func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, violation(name, "string", fmt.Sprintf("value of type %T", v), v)
			}
			return s, nil
		}
	case KindInt:
		return func(v any) (any, error) {
			i, ok := toInt64(v)
			if !ok {
				return nil, violation(name, "int", "not a whole number", v)
			}
			return i, nil
		}
	case KindFloat:
		return func(v any) (any, error) {
			f, ok := toFloat64(v)
			if !ok {
				return nil, violation(name, "float", "not a number", v)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, violation(name, "float", "not finite", v)
			}
			return f, nil
		}
	case KindBoolean:
		return func(v any) (any, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, violation(name, "boolean", fmt.Sprintf("value of type %T", v), v)
			}
			return b, nil
		}
	default:
		return func(v any) (any, error) {
			return nil, violation(name, "annotation", "annotation values are checked as fillers", v)
		}
	}
}

func (a *AttributeType) constrainedImporter(base func(any) (any, error)) func(any) (any, error) {
	name, kind := a.name, string(a.kind)
	choiceSet := a.choiceSet
	minVal, maxVal := a.minVal, a.maxVal
	if len(choiceSet) == 0 && minVal == nil && maxVal == nil {
		return base
	}
	return func(v any) (any, error) {
		out, err := base(v)
		if err != nil {
			return nil, err
		}
		if len(choiceSet) > 0 {
			if _, ok := choiceSet[out]; !ok {
				return nil, violation(name, kind, "not one of the declared choices", v)
			}
			return out, nil
		}
		f, _ := toFloat64(out)
		if minVal != nil && f < *minVal {
			return nil, violation(name, kind, fmt.Sprintf("below minval %v", *minVal), v)
		}
		if maxVal != nil && f > *maxVal {
			return nil, violation(name, kind, fmt.Sprintf("above maxval %v", *maxVal), v)
		}
		return out, nil
	}
}

// AcceptsFiller reports whether an annotation with the given true label and
// choice mask may fill this attribute. An attribute without restrictions
// accepts any annotation.
func (a *AttributeType) AcceptsFiller(label string, mask Mask) bool {
	if len(a.restrictions) == 0 {
		return true
	}
	for _, r := range a.digested {
		if r.label == label && mask.Covers(r.mask) {
			return true
		}
	}
	return false
}

// CheckFiller is AcceptsFiller reported as a SchemaViolation.
func (a *AttributeType) CheckFiller(label string, mask Mask) error {
	if a.AcceptsFiller(label, mask) {
		return nil
	}
	allowed := make([]string, 0, len(a.restrictions))
	for _, r := range a.restrictions {
		allowed = append(allowed, r.String())
	}
	return violation(a.name, "annotation", "filler must satisfy one of "+strings.Join(allowed, ", "), label)
}

// RestrictionEffectiveLabels returns, per restriction, the effective label it
// denotes ("" when it denotes none). Only meaningful after digestion.
func (a *AttributeType) RestrictionEffectiveLabels() []string {
	out := make([]string, len(a.digested))
	for i, r := range a.digested {
		out[i] = r.fromEffectiveLabel
	}
	return out
}

// Format renders a normalized value for display. Whole floats keep a ".0" so
// they are never mistaken for ints.
func (a *AttributeType) Format(v any) string {
	if v == nil {
		return ""
	}
	if a.kind == KindFloat {
		if f, ok := toFloat64(v); ok {
			return FormatFloat(f)
		}
	}
	return fmt.Sprint(v)
}

// FormatFloat renders f in its shortest form, adding ".0" to whole numbers.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return wholeFloat(float64(n))
	case float64:
		return wholeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return wholeFloat(f)
		}
	}
	return 0, false
}

func wholeFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
