package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// FormatVersion is the MAT-JSON version written by ToJSON. Version 1 input,
// whose attribute declarations are bare names, is still accepted.
const FormatVersion = 2

type docJSON struct {
	Signal   string         `json:"signal"`
	Version  int            `json:"version,omitempty"`
	Metadata map[string]any `json:"metadata"`
	ASets    []asetJSON     `json:"asets"`
}

type asetJSON struct {
	Type    string     `json:"type"`
	HasSpan *bool      `json:"hasSpan,omitempty"`
	HasID   bool       `json:"hasID"`
	Attrs   []attrDecl `json:"attrs"`
	Annots  [][]any    `json:"annots"`
}

type attrDecl struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
}

// UnmarshalJSON accepts the version 1 form, a bare attribute name.
func (a *attrDecl) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = attrDecl{Name: name}
		return nil
	}
	type plain attrDecl
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = attrDecl(p)
	return nil
}

type column struct {
	attr *schema.AttributeType
}

type pendingRow struct {
	annot  *Annotation
	values []any
	cols   []column
}

// FromJSON decodes a MAT-JSON document against repo (nil for an open
// repository). Annotations are created first, then primitive attributes,
// then annotation-valued attributes, so references and their restriction
// checks see fully populated targets. Untaggable annotations in the input
// are replaced by fresh zone interstices.
func FromJSON(data []byte, repo *schema.Repository) (*AnnotatedDoc, error) {
	var in docJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode MAT-JSON: %w", err)
	}
	if in.Version == 0 {
		in.Version = 1
	}
	if in.Version > FormatVersion {
		return nil, docErr("FromJSON", "unsupported MAT-JSON version %d", in.Version)
	}

	d, err := New(in.Signal, repo)
	if err != nil {
		return nil, err
	}
	if in.Metadata != nil {
		d.metadata = in.Metadata
	}

	var pending []pendingRow
	for _, aset := range in.ASets {
		if aset.Type == schema.UntaggableLabel {
			continue
		}
		rows, err := d.loadASet(aset)
		if err != nil {
			return nil, err
		}
		pending = append(pending, rows...)
	}

	for _, wantRefs := range []bool{false, true} {
		for _, p := range pending {
			for i, col := range p.cols {
				if (col.attr.Kind() == schema.KindAnnotation) != wantRefs || p.values[i] == nil {
					continue
				}
				v, err := d.decodeValue(col.attr, p.values[i])
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", p.annot.Label(), col.attr.Name(), err)
				}
				if err := p.annot.Set(col.attr.Name(), v); err != nil {
					return nil, fmt.Errorf("%s.%s: %w", p.annot.Label(), col.attr.Name(), err)
				}
			}
		}
	}

	if err := d.SynthesizeUntaggables(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *AnnotatedDoc) loadASet(aset asetJSON) ([]pendingRow, error) {
	const op = "FromJSON"
	hasSpan := aset.HasSpan == nil || *aset.HasSpan
	t, err := d.localType(aset.Type, hasSpan, true)
	if err != nil {
		return nil, err
	}
	if t.HasSpan() != hasSpan {
		return nil, docErr(op, "aset %q hasSpan=%v but type hasSpan=%v", aset.Type, hasSpan, t.HasSpan())
	}

	cols := make([]column, 0, len(aset.Attrs))
	for _, decl := range aset.Attrs {
		attr, ok := t.Attribute(decl.Name)
		if !ok {
			attr, err = t.AddAttribute(schema.AttributeSpec{Name: decl.Name, Type: decl.Type, Aggregation: decl.Aggregation})
			if err != nil {
				return nil, err
			}
		} else if err := checkDecl(t.Label(), attr, decl); err != nil {
			return nil, err
		}
		cols = append(cols, column{attr: attr})
	}

	lead := 0
	if hasSpan {
		lead += 2
	}
	if aset.HasID {
		lead++
	}

	rows := make([]pendingRow, 0, len(aset.Annots))
	for n, row := range aset.Annots {
		if len(row) < lead || len(row) > lead+len(cols) {
			return nil, docErr(op, "aset %q row %d has %d fields, want %d to %d", aset.Type, n, len(row), lead, lead+len(cols))
		}
		start, end := 0, 0
		if hasSpan {
			s, ok1 := toInt(row[0])
			e, ok2 := toInt(row[1])
			if !ok1 || !ok2 || s < 0 || e < s || e > len(d.runes) {
				return nil, docErr(op, "aset %q row %d has bad span [%v, %v]", aset.Type, n, row[0], row[1])
			}
			start, end = s, e
		}
		a := d.newAnnotation(t, start, end)
		if aset.HasID {
			id, ok := toID(row[lead-1])
			if !ok {
				return nil, docErr(op, "aset %q row %d has bad ID %v", aset.Type, n, row[lead-1])
			}
			if err := d.registerID(a, id); err != nil {
				return nil, err
			}
		}
		values := make([]any, len(cols))
		copy(values, row[lead:])
		rows = append(rows, pendingRow{annot: a, values: values, cols: cols})
	}
	return rows, nil
}

func checkDecl(label string, attr *schema.AttributeType, decl attrDecl) error {
	if decl.Type != "" {
		kind, err := schema.ParseKind(decl.Type)
		if err != nil || kind != attr.Kind() {
			return docErr("FromJSON", "%s.%s declared as %q but type has %q", label, decl.Name, decl.Type, attr.Kind())
		}
	}
	if decl.Aggregation != "" {
		agg, err := schema.ParseAggregation(decl.Aggregation)
		if err != nil || agg != attr.Aggregation() {
			return docErr("FromJSON", "%s.%s declared with aggregation %q but type has %q", label, decl.Name, decl.Aggregation, attr.Aggregation())
		}
	}
	return nil
}

// decodeValue turns a JSON field into a value Set accepts.
func (d *AnnotatedDoc) decodeValue(attr *schema.AttributeType, raw any) (any, error) {
	one := func(v any) (any, error) {
		if attr.Kind() != schema.KindAnnotation {
			return v, nil
		}
		id, ok := toID(v)
		if !ok {
			return nil, docErr("FromJSON", "reference must be an annotation ID, got %v", v)
		}
		target, ok := d.idDict[id]
		if !ok {
			return nil, docErr("FromJSON", "reference to unknown annotation ID %q", id)
		}
		return target, nil
	}
	if attr.Aggregation() == schema.AggregationNone {
		return one(raw)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &schema.SchemaViolation{Attribute: attr.Name(), Expected: string(attr.Aggregation()), Reason: "aggregate value must be an array", Value: raw}
	}
	elems := make([]any, 0, len(list))
	for _, e := range list {
		v, err := one(e)
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	if attr.Aggregation() == schema.AggregationSet {
		return NewSet(elems...), nil
	}
	return NewList(elems...), nil
}

func toInt(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

func toID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	}
	return "", false
}

// ToJSON encodes the document as MAT-JSON version 2. Annotation sets are
// written in first-use order, untaggables last, and empty ones are skipped. Rows are
// positional, so once any member of a set has a public ID every member is
// given one.
func (d *AnnotatedDoc) ToJSON() ([]byte, error) {
	out := docJSON{
		Signal:   d.signal,
		Version:  FormatVersion,
		Metadata: d.metadata,
		ASets:    make([]asetJSON, 0, len(d.labelOrder)),
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	for _, label := range d.labelOrder {
		annots := d.byLabel[label]
		if len(annots) == 0 || label == schema.UntaggableLabel {
			continue
		}
		out.ASets = append(out.ASets, d.encodeASet(d.types[label], annots))
	}
	if untaggables := d.byLabel[schema.UntaggableLabel]; len(untaggables) > 0 {
		out.ASets = append(out.ASets, d.encodeASet(d.types[schema.UntaggableLabel], untaggables))
	}
	return json.Marshal(out)
}

func (d *AnnotatedDoc) encodeASet(t *schema.AnnotationType, annots []*Annotation) asetJSON {
	hasID := false
	for _, a := range annots {
		if a.publicID != "" {
			hasID = true
			break
		}
	}
	hasSpan := t.HasSpan()
	attrs := t.Attributes()
	aset := asetJSON{
		Type:    t.Label(),
		HasSpan: &hasSpan,
		HasID:   hasID,
		Attrs:   make([]attrDecl, 0, len(attrs)),
		Annots:  make([][]any, 0, len(annots)),
	}
	for _, attr := range attrs {
		aset.Attrs = append(aset.Attrs, attrDecl{Name: attr.Name(), Type: string(attr.Kind()), Aggregation: string(attr.Aggregation())})
	}
	for _, a := range annots {
		row := make([]any, 0, 3+len(attrs))
		if hasSpan {
			row = append(row, a.start, a.end)
		}
		if hasID {
			row = append(row, a.PublicID())
		}
		for i, attr := range attrs {
			var v any
			if i < len(a.attrs) {
				v = d.encodeValue(attr, a.attrs[i])
			}
			row = append(row, v)
		}
		aset.Annots = append(aset.Annots, row)
	}
	return aset
}

func (d *AnnotatedDoc) encodeValue(attr *schema.AttributeType, stored any) any {
	switch v := stored.(type) {
	case nil:
		return nil
	case handle:
		if t := d.annots[v]; t != nil {
			return t.PublicID()
		}
		return nil
	case aggregate:
		elems := v.base().elems
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			out = append(out, d.encodeValue(attr, e))
		}
		return out
	case float64:
		return json.RawMessage(schema.FormatFloat(v))
	}
	return stored
}

// Copy returns a deep copy made by serializing and deserializing the document.
func (d *AnnotatedDoc) Copy() (*AnnotatedDoc, error) {
	data, err := d.ToJSON()
	if err != nil {
		return nil, err
	}
	return FromJSON(data, d.global)
}

// Equal reports whether two documents serialize identically.
func Equal(a, b *AnnotatedDoc) (bool, error) {
	ja, err := a.ToJSON()
	if err != nil {
		return false, err
	}
	jb, err := b.ToJSON()
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}
