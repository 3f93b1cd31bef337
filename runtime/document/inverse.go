package document

import (
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// DetachFunc is notified, after a successful group removal, of every
// reference that crossed the group boundary.
type DetachFunc func(holder *Annotation, attr string, target *Annotation)

// InverseReferences returns the references pointing at a. The index is
// built on first use and dropped whenever an annotation-valued attribute
// changes.
func (d *AnnotatedDoc) InverseReferences(a *Annotation) []BackRef {
	if a.doc != d || a.publicID == "" {
		return nil
	}
	if d.inverse == nil {
		d.buildInverse()
	}
	return append([]BackRef(nil), d.inverse[a.publicID]...)
}

func (d *AnnotatedDoc) buildInverse() {
	d.inverse = make(map[string][]BackRef)
	for _, holder := range d.AllAnnotations() {
		holder.eachReference(func(attr string, target *Annotation) {
			if target.publicID == "" {
				return
			}
			d.inverse[target.publicID] = append(d.inverse[target.publicID], BackRef{Holder: holder, Attr: attr})
		})
	}
}

// eachReference calls fn for every annotation a's attributes point at.
func (a *Annotation) eachReference(fn func(attr string, target *Annotation)) {
	for i, attr := range a.typ.Attributes() {
		if attr.Kind() != schema.KindAnnotation || i >= len(a.attrs) {
			continue
		}
		switch v := a.attrs[i].(type) {
		case handle:
			if t := a.doc.annots[v]; t != nil {
				fn(attr.Name(), t)
			}
		case aggregate:
			for _, e := range v.base().elems {
				if h, ok := e.(handle); ok {
					if t := a.doc.annots[h]; t != nil {
						fn(attr.Name(), t)
					}
				}
			}
		}
	}
}

// RemoveAnnotation removes a single annotation. It fails with a
// DanglingReferenceError if anything still refers to it.
func (d *AnnotatedDoc) RemoveAnnotation(a *Annotation) error {
	return d.RemoveAnnotationGroup([]*Annotation{a}, nil)
}

// RemoveAnnotationGroup removes every member of group. It succeeds only if
// every inbound reference to a member comes from another member; otherwise
// it returns a DanglingReferenceError and the document is unchanged.
// onDetach, if non-nil, is told about each outbound reference from the
// group to a surviving annotation.
func (d *AnnotatedDoc) RemoveAnnotationGroup(group []*Annotation, onDetach DetachFunc) error {
	members := make(map[handle]*Annotation, len(group))
	ordered := make([]*Annotation, 0, len(group))
	for _, a := range group {
		if a == nil {
			continue
		}
		if a.doc != d {
			return ErrForeignAnnotation
		}
		if a.removed {
			return ErrRemoved
		}
		if _, dup := members[a.handle]; dup {
			continue
		}
		members[a.handle] = a
		ordered = append(ordered, a)
	}

	var dangling []DanglingRef
	for _, a := range ordered {
		for _, br := range d.InverseReferences(a) {
			if _, inside := members[br.Holder.handle]; !inside {
				dangling = append(dangling, DanglingRef{Target: a, BackRef: br})
			}
		}
	}
	if len(dangling) > 0 {
		return &DanglingReferenceError{Refs: dangling}
	}

	type crossing struct {
		holder *Annotation
		attr   string
		target *Annotation
	}
	var crossings []crossing
	for _, a := range ordered {
		a.eachReference(func(attr string, target *Annotation) {
			if _, inside := members[target.handle]; !inside {
				crossings = append(crossings, crossing{holder: a, attr: attr, target: target})
			}
		})
	}

	for _, a := range ordered {
		d.unregister(a)
	}
	if onDetach != nil {
		for _, c := range crossings {
			onDetach(c.holder, c.attr, c.target)
		}
	}
	return nil
}
