package schema

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/testutil"
)

func TestAttributeImport(t *testing.T) {
	tests := []struct {
		name    string
		spec    AttributeSpec
		in      any
		want    any
		wantErr bool
	}{
		{name: "string", spec: AttributeSpec{Name: "a"}, in: "x", want: "x"},
		{name: "string rejects int", spec: AttributeSpec{Name: "a"}, in: 3, wantErr: true},
		{name: "int from float64 whole", spec: AttributeSpec{Name: "a", Type: "int"}, in: 3.0, want: int64(3)},
		{name: "int rejects fraction", spec: AttributeSpec{Name: "a", Type: "int"}, in: 3.5, wantErr: true},
		{name: "int from json.Number", spec: AttributeSpec{Name: "a", Type: "int"}, in: json.Number("12"), want: int64(12)},
		{name: "int range ok", spec: AttributeSpec{Name: "a", Type: "int", MinVal: testutil.Ptr(1.0), MaxVal: testutil.Ptr(5.0)}, in: 5, want: int64(5)},
		{name: "int range low", spec: AttributeSpec{Name: "a", Type: "int", MinVal: testutil.Ptr(1.0)}, in: 0, wantErr: true},
		{name: "int range high", spec: AttributeSpec{Name: "a", Type: "int", MaxVal: testutil.Ptr(5.0)}, in: 6, wantErr: true},
		{name: "float from int", spec: AttributeSpec{Name: "a", Type: "float"}, in: 2, want: 2.0},
		{name: "float rejects NaN", spec: AttributeSpec{Name: "a", Type: "float"}, in: math.NaN(), wantErr: true},
		{name: "float rejects string", spec: AttributeSpec{Name: "a", Type: "float"}, in: "2", wantErr: true},
		{name: "boolean", spec: AttributeSpec{Name: "a", Type: "boolean"}, in: true, want: true},
		{name: "boolean rejects string", spec: AttributeSpec{Name: "a", Type: "boolean"}, in: "true", wantErr: true},
		{name: "string choice", spec: AttributeSpec{Name: "a", Choices: []any{"x", "y"}}, in: "y", want: "y"},
		{name: "string not a choice", spec: AttributeSpec{Name: "a", Choices: []any{"x", "y"}}, in: "z", wantErr: true},
		{name: "int choice from float", spec: AttributeSpec{Name: "a", Type: "int", Choices: []any{1.0, 2.0}}, in: 2, want: int64(2)},
		{name: "annotation kind", spec: AttributeSpec{Name: "a", Type: "annotation"}, in: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAttributeType(tt.spec)
			require.NoError(t, err)
			got, err := a.Import(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrSchemaViolation))
				var sv *SchemaViolation
				require.True(t, errors.As(err, &sv))
				assert.Equal(t, "a", sv.Attribute)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAttributeTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		spec AttributeSpec
	}{
		{"empty name", AttributeSpec{}},
		{"bad kind", AttributeSpec{Name: "a", Type: "date"}},
		{"bad aggregation", AttributeSpec{Name: "a", Aggregation: "bag"}},
		{"restrictions on string", AttributeSpec{Name: "a", LabelRestrictions: []LabelRestriction{{Label: "X"}}}},
		{"boolean choices", AttributeSpec{Name: "a", Type: "boolean", Choices: []any{true}}},
		{"range on string", AttributeSpec{Name: "a", MinVal: testutil.Ptr(1.0)}},
		{"inverted range", AttributeSpec{Name: "a", Type: "int", MinVal: testutil.Ptr(3.0), MaxVal: testutil.Ptr(1.0)}},
		{"bad choice", AttributeSpec{Name: "a", Type: "int", Choices: []any{"x"}}},
		{"bad default", AttributeSpec{Name: "a", Choices: []any{"x"}, Default: "y"}},
		{"text span on int", AttributeSpec{Name: "a", Type: "int", DefaultIsTextSpan: true}},
		{"text span with default", AttributeSpec{Name: "a", Default: "x", DefaultIsTextSpan: true}},
		{"default on list", AttributeSpec{Name: "a", Aggregation: "list", Default: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAttributeType(tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDocument))
		})
	}
}

func TestAttributeDefaultsAndSpec(t *testing.T) {
	a, err := NewAttributeType(AttributeSpec{Name: "score", Type: "float", Default: 1})
	require.NoError(t, err)
	def, ok := a.Default()
	require.True(t, ok)
	assert.Equal(t, 1.0, def)
	assert.True(t, a.Optional())

	b, err := NewAttributeType(a.Spec())
	require.NoError(t, err)
	assert.Equal(t, a.Kind(), b.Kind())
	bdef, _ := b.Default()
	assert.Equal(t, def, bdef)
}

func TestIsChoice(t *testing.T) {
	single, err := NewAttributeType(AttributeSpec{Name: "a", Choices: []any{"x"}})
	require.NoError(t, err)
	assert.True(t, single.IsChoice())

	set, err := NewAttributeType(AttributeSpec{Name: "a", Aggregation: "set", Choices: []any{"x"}})
	require.NoError(t, err)
	assert.False(t, set.IsChoice())

	open, err := NewAttributeType(AttributeSpec{Name: "a"})
	require.NoError(t, err)
	assert.False(t, open.IsChoice())
}

func TestFormat(t *testing.T) {
	f, err := NewAttributeType(AttributeSpec{Name: "f", Type: "float"})
	require.NoError(t, err)
	assert.Equal(t, "3.0", f.Format(3.0))
	assert.Equal(t, "2.5", f.Format(2.5))
	assert.Equal(t, "1e+21", FormatFloat(1e21))

	i, err := NewAttributeType(AttributeSpec{Name: "i", Type: "int"})
	require.NoError(t, err)
	assert.Equal(t, "3", i.Format(int64(3)))
}

func TestLabelRestrictionJSON(t *testing.T) {
	var rs []LabelRestriction
	require.NoError(t, json.Unmarshal([]byte(`["PERSON", ["ENAMEX", [["type", "ORGANIZATION"]]]]`), &rs))
	require.Len(t, rs, 2)
	assert.Equal(t, "PERSON", rs[0].Label)
	assert.Empty(t, rs[0].Pairs)
	assert.Equal(t, "ENAMEX", rs[1].Label)
	assert.Equal(t, []AttrValuePair{{Attr: "type", Value: "ORGANIZATION"}}, rs[1].Pairs)

	out, err := json.Marshal(rs)
	require.NoError(t, err)
	assert.JSONEq(t, `["PERSON", ["ENAMEX", [["type", "ORGANIZATION"]]]]`, string(out))

	var bad LabelRestriction
	assert.Error(t, json.Unmarshal([]byte(`["A", [["x"]]]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`["A"]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestMask(t *testing.T) {
	a := Bit(1)
	b := Bit(70)
	ab := a.Or(b)

	assert.True(t, ab.Covers(a))
	assert.True(t, ab.Covers(b))
	assert.False(t, a.Covers(ab))
	assert.True(t, a.Covers(Mask{}))
	assert.True(t, Mask{}.IsZero())
	assert.Equal(t, 2, ab.Count())
	assert.True(t, ab.Intersects(b))
	assert.False(t, a.Intersects(b))
	assert.True(t, ab.Equal(b.Or(a)))
	assert.Equal(t, "{1,70}", ab.String())
}
