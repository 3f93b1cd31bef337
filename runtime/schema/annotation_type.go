package schema

import (
	"sort"
)

// TypeSpec is the declaration of an annotation type.
type TypeSpec struct {
	Label              string                        `json:"type"`
	HasSpan            *bool                         `json:"hasSpan,omitempty"`
	Category           string                        `json:"category,omitempty"`
	Display            map[string]any                `json:"display,omitempty"`
	AllAttributesKnown bool                          `json:"allAttributesKnown,omitempty"`
	Attributes         []AttributeSpec               `json:"attrs,omitempty"`
	EffectiveLabels    map[string]EffectiveLabelSpec `json:"effective_labels,omitempty"`
}

// EffectiveLabelSpec declares an effective label: the owning type with
// Attr fixed to Value.
type EffectiveLabelSpec struct {
	Attr    string         `json:"attr"`
	Value   any            `json:"val"`
	Display map[string]any `json:"display,omitempty"`
}

// EffectiveLabel is a digested effective label. Value is normalized.
type EffectiveLabel struct {
	Name    string
	Attr    string
	Value   any
	Display map[string]any
}

// UsedIn records an annotation-valued attribute that restricts its fillers to a type.
type UsedIn struct {
	Label string
	Attr  string
}

// AnnotationType is a named schema entry with an ordered attribute list.
type AnnotationType struct {
	label              string
	hasSpan            bool
	category           string
	display            map[string]any
	allAttributesKnown bool

	attrs     []*AttributeType
	attrIndex map[string]int

	effectiveLabels    map[string]EffectiveLabel
	effectiveLabelSpec map[string]EffectiveLabelSpec

	usedIn []UsedIn

	// Choice bitmask cache. One bit per legal value of every singleton
	// choice attribute.
	valMasks  map[string]map[any]Mask
	attrMasks map[string]Mask
	allBits   Mask
	nextBit   int
}

// NewAnnotationType builds a type from its declaration. The attribute list is
// frozen afterwards when AllAttributesKnown is set.
func NewAnnotationType(spec TypeSpec) (*AnnotationType, error) {
	if spec.Label == "" {
		return nil, NewDocumentError("NewAnnotationType", "annotation type label is empty")
	}
	t := &AnnotationType{
		label:              spec.Label,
		hasSpan:            spec.HasSpan == nil || *spec.HasSpan,
		category:           spec.Category,
		display:            spec.Display,
		attrIndex:          make(map[string]int),
		effectiveLabelSpec: spec.EffectiveLabels,
	}
	for _, as := range spec.Attributes {
		if _, err := t.AddAttribute(as); err != nil {
			return nil, err
		}
	}
	t.allAttributesKnown = spec.AllAttributesKnown
	return t, nil
}

// Label returns the type's true label.
func (t *AnnotationType) Label() string { return t.label }

// HasSpan reports whether instances carry text offsets.
func (t *AnnotationType) HasSpan() bool { return t.hasSpan }

// Category returns the type's category, e.g. "zone" or "content".
func (t *AnnotationType) Category() string { return t.category }

// AllAttributesKnown reports whether the attribute list is frozen.
func (t *AnnotationType) AllAttributesKnown() bool { return t.allAttributesKnown }

// Attributes returns the attributes in declaration order.
func (t *AnnotationType) Attributes() []*AttributeType {
	return append([]*AttributeType(nil), t.attrs...)
}

// Attribute looks up an attribute by name.
func (t *AnnotationType) Attribute(name string) (*AttributeType, bool) {
	i, ok := t.attrIndex[name]
	if !ok {
		return nil, false
	}
	return t.attrs[i], true
}

// AttributeIndex returns the position of name in the attribute order, or -1.
func (t *AnnotationType) AttributeIndex(name string) int {
	if i, ok := t.attrIndex[name]; ok {
		return i
	}
	return -1
}

// AddAttribute appends an attribute. Names are unique within a type and a
// frozen type accepts no new attributes.
func (t *AnnotationType) AddAttribute(spec AttributeSpec) (*AttributeType, error) {
	if t.allAttributesKnown {
		return nil, NewDocumentError("AddAttribute", "type %q has all attributes known; cannot add %q", t.label, spec.Name)
	}
	if _, dup := t.attrIndex[spec.Name]; dup {
		return nil, NewDocumentError("AddAttribute", "type %q already has attribute %q", t.label, spec.Name)
	}
	a, err := NewAttributeType(spec)
	if err != nil {
		return nil, err
	}
	t.attrIndex[a.name] = len(t.attrs)
	t.attrs = append(t.attrs, a)
	if a.IsChoice() {
		t.recordChoiceAttribute(a)
	}
	return a, nil
}

func (t *AnnotationType) recordChoiceAttribute(a *AttributeType) {
	if t.valMasks == nil {
		t.valMasks = make(map[string]map[any]Mask)
		t.attrMasks = make(map[string]Mask)
	}
	vals := make(map[any]Mask, len(a.choices))
	var attrMask Mask
	for _, c := range a.choices {
		bit := Bit(t.nextBit)
		t.nextBit++
		vals[c] = bit
		attrMask = attrMask.Or(bit)
	}
	t.valMasks[a.name] = vals
	t.attrMasks[a.name] = attrMask
	t.allBits = t.allBits.Or(attrMask)
}

// ValueMask returns the bit for attr=value, or an empty mask when attr is
// not a choice attribute or value is not one of its choices.
func (t *AnnotationType) ValueMask(attr string, value any) Mask {
	if vals, ok := t.valMasks[attr]; ok {
		return vals[value]
	}
	return Mask{}
}

// AttributeMask returns the union of all value bits of attr.
func (t *AnnotationType) AttributeMask(attr string) Mask {
	return t.attrMasks[attr]
}

// AllBits returns the union of every bit allocated for the type.
func (t *AnnotationType) AllBits() Mask { return t.allBits }

// ChoiceMask encodes the current choice state of an instance: the union of
// the bits of every non-nil choice attribute value.
func (t *AnnotationType) ChoiceMask(values map[string]any) Mask {
	var m Mask
	for attr, v := range values {
		if v == nil {
			continue
		}
		m = m.Or(t.ValueMask(attr, v))
	}
	return m
}

// EffectiveLabels returns the digested effective labels sorted by name.
func (t *AnnotationType) EffectiveLabels() []EffectiveLabel {
	out := make([]EffectiveLabel, 0, len(t.effectiveLabels))
	for _, el := range t.effectiveLabels {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EffectiveLabelFor returns the effective label matching the given choice
// values, or "" if none matches.
func (t *AnnotationType) EffectiveLabelFor(values map[string]any) string {
	for name, el := range t.effectiveLabels {
		if v, ok := values[el.Attr]; ok && v == el.Value {
			return name
		}
	}
	return ""
}

// UsedIn returns the (label, attribute) pairs whose restrictions name this type.
func (t *AnnotationType) UsedIn() []UsedIn {
	return append([]UsedIn(nil), t.usedIn...)
}

// Spec returns a declaration that rebuilds an equivalent type.
func (t *AnnotationType) Spec() TypeSpec {
	hasSpan := t.hasSpan
	spec := TypeSpec{
		Label:              t.label,
		HasSpan:            &hasSpan,
		Category:           t.category,
		Display:            t.display,
		AllAttributesKnown: t.allAttributesKnown,
	}
	for _, a := range t.attrs {
		spec.Attributes = append(spec.Attributes, a.Spec())
	}
	if len(t.effectiveLabelSpec) > 0 {
		spec.EffectiveLabels = make(map[string]EffectiveLabelSpec, len(t.effectiveLabelSpec))
		for k, v := range t.effectiveLabelSpec {
			spec.EffectiveLabels[k] = v
		}
	}
	return spec
}

// Copy returns a deep copy that shares nothing mutable with t, including its
// digested restrictions and bitmask cache.
func (t *AnnotationType) Copy() *AnnotationType {
	c := &AnnotationType{
		label:              t.label,
		hasSpan:            t.hasSpan,
		category:           t.category,
		display:            t.display,
		allAttributesKnown: t.allAttributesKnown,
		attrIndex:          make(map[string]int, len(t.attrIndex)),
		effectiveLabelSpec: t.effectiveLabelSpec,
		usedIn:             append([]UsedIn(nil), t.usedIn...),
		allBits:            t.allBits,
		nextBit:            t.nextBit,
	}
	for i, a := range t.attrs {
		c.attrs = append(c.attrs, a.clone())
		c.attrIndex[a.name] = i
	}
	if t.effectiveLabels != nil {
		c.effectiveLabels = make(map[string]EffectiveLabel, len(t.effectiveLabels))
		for k, v := range t.effectiveLabels {
			c.effectiveLabels[k] = v
		}
	}
	if t.valMasks != nil {
		c.valMasks = make(map[string]map[any]Mask, len(t.valMasks))
		for attr, vals := range t.valMasks {
			cv := make(map[any]Mask, len(vals))
			for k, v := range vals {
				cv[k] = v
			}
			c.valMasks[attr] = cv
		}
		c.attrMasks = make(map[string]Mask, len(t.attrMasks))
		for k, v := range t.attrMasks {
			c.attrMasks[k] = v
		}
	}
	return c
}
