package workflow

import (
	"context"
	"fmt"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
)

// Content classification units and their review status.
const (
	SegmentLabel      = "SEGMENT"
	SegmentStatusAttr = "status"

	StatusNonGold    = "non-gold"
	StatusHumanGold  = "human gold"
	StatusReconciled = "reconciled"
)

// MarkGold sets every segment's status to "human gold" unless it is already
// "human gold" or "reconciled". Every new value is checked before any
// segment changes.
func MarkGold(_ context.Context, doc *document.DocWithMetadata) error {
	return setSegmentStatus(doc, StatusHumanGold, func(status any) bool {
		return status != StatusHumanGold && status != StatusReconciled
	})
}

// UnmarkGold returns "human gold" segments to "non-gold".
func UnmarkGold(_ context.Context, doc *document.DocWithMetadata) error {
	return setSegmentStatus(doc, StatusNonGold, func(status any) bool {
		return status == StatusHumanGold
	})
}

func setSegmentStatus(doc *document.DocWithMetadata, value string, want func(any) bool) error {
	var targets []*document.Annotation
	for _, seg := range doc.FindAnnotations(SegmentLabel) {
		status, _ := seg.Get(SegmentStatusAttr)
		if want(status) {
			targets = append(targets, seg)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	for _, seg := range targets {
		if err := seg.CheckSet(SegmentStatusAttr, value); err != nil {
			return fmt.Errorf("set segment status %q: %w", value, err)
		}
	}
	for _, seg := range targets {
		if err := seg.Set(SegmentStatusAttr, value); err != nil {
			return fmt.Errorf("set segment status %q: %w", value, err)
		}
	}
	return nil
}

// IsGold reports whether the document has segments and all of them are
// "human gold" or "reconciled".
func IsGold(doc *document.AnnotatedDoc) bool {
	segs := doc.FindAnnotations(SegmentLabel)
	if len(segs) == 0 {
		return false
	}
	for _, seg := range segs {
		status, _ := seg.Get(SegmentStatusAttr)
		if status != StatusHumanGold && status != StatusReconciled {
			return false
		}
	}
	return true
}
