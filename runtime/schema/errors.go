package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrSchemaViolation matches every *SchemaViolation.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrDocument matches every *DocumentError.
	ErrDocument = errors.New("document error")

	// ErrNotDigested is returned when restriction checks are requested from
	// a repository whose label restrictions have not been digested.
	ErrNotDigested = errors.New("repository not digested")
)

// SchemaViolation reports an attribute value that fails the kind, choice,
// range, aggregation or label restriction constraints of its attribute.
// The attribute is left unchanged.
type SchemaViolation struct {
	Attribute string
	Expected  string
	Reason    string
	Value     any
}

func (e *SchemaViolation) Error() string {
	msg := fmt.Sprintf("attribute %q expects %s", e.Attribute, e.Expected)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (got %v)", e.Value)
	}
	return msg
}

// Is reports whether target is ErrSchemaViolation.
func (e *SchemaViolation) Is(target error) bool {
	return target == ErrSchemaViolation
}

// DocumentError reports structural problems: duplicate attributes or labels,
// malformed label restrictions, bad identifiers or broken references. The
// operation that raised it has no effect.
type DocumentError struct {
	Op  string
	Msg string
}

func (e *DocumentError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// Is reports whether target is ErrDocument.
func (e *DocumentError) Is(target error) bool {
	return target == ErrDocument
}

// NewDocumentError formats a DocumentError.
func NewDocumentError(op, format string, args ...any) *DocumentError {
	return &DocumentError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func violation(attr, expected, reason string, v any) *SchemaViolation {
	return &SchemaViolation{Attribute: attr, Expected: expected, Reason: reason, Value: v}
}
