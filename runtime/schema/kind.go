package schema

import (
	"fmt"
	"strings"
)

// Kind is the value kind of an attribute.
type Kind string

// Attribute kinds.
const (
	KindString     Kind = "string"
	KindInt        Kind = "int"
	KindFloat      Kind = "float"
	KindBoolean    Kind = "boolean"
	KindAnnotation Kind = "annotation"
)

// Aggregation is how many values an attribute holds.
type Aggregation string

// Aggregations. AggregationNone is encoded as an empty string in JSON.
const (
	AggregationNone Aggregation = ""
	AggregationList Aggregation = "list"
	AggregationSet  Aggregation = "set"
)

// ParseKind resolves a kind name. An empty name means string.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(name)) {
	case "", KindString:
		return KindString, nil
	case KindInt:
		return KindInt, nil
	case KindFloat:
		return KindFloat, nil
	case KindBoolean:
		return KindBoolean, nil
	case KindAnnotation:
		return KindAnnotation, nil
	}
	return "", fmt.Errorf("unknown attribute type %q", name)
}

// ParseAggregation resolves an aggregation name. "none" and "" mean none.
func ParseAggregation(name string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(name)) {
	case AggregationNone, "none":
		return AggregationNone, nil
	case AggregationList:
		return AggregationList, nil
	case AggregationSet:
		return AggregationSet, nil
	}
	return "", fmt.Errorf("unknown aggregation %q", name)
}

// Reserved labels and categories.
const (
	// UntaggableLabel is the type synthesized for gaps between zones.
	UntaggableLabel = "untaggable"
	// ZoneCategory marks structural region types.
	ZoneCategory = "zone"
	// UntaggableCategory is the category of UntaggableLabel.
	UntaggableCategory = "untaggable"
)
