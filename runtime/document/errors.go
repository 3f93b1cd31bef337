package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// Sentinel errors.
var (
	// ErrDanglingReference matches every *DanglingReferenceError.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrRemoved is returned when a removed annotation is used.
	ErrRemoved = schema.NewDocumentError("", "annotation has been removed")

	// ErrForeignAnnotation is returned when an annotation from another
	// document is passed in. Attribute values may only point within their
	// own document.
	ErrForeignAnnotation = schema.NewDocumentError("", "annotation belongs to another document")
)

// BackRef is one inbound reference: Holder's attribute Attr points at the target.
type BackRef struct {
	Holder *Annotation
	Attr   string
}

// DanglingRef is an inbound reference from outside a removal group.
type DanglingRef struct {
	Target *Annotation
	BackRef
}

// DanglingReferenceError reports a removal that would leave references
// pointing at removed annotations. The document is unchanged.
type DanglingReferenceError struct {
	Refs []DanglingRef
}

func (e *DanglingReferenceError) Error() string {
	parts := make([]string, 0, len(e.Refs))
	for _, r := range e.Refs {
		parts = append(parts, fmt.Sprintf("%s.%s -> %s", r.Holder.Label(), r.Attr, r.Target.Label()))
	}
	return "cannot remove annotations still referenced from outside the group: " + strings.Join(parts, ", ")
}

// Is matches ErrDanglingReference and schema.ErrDocument.
func (e *DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference || target == schema.ErrDocument
}

func docErr(op, format string, args ...any) error {
	return schema.NewDocumentError(op, format, args...)
}
