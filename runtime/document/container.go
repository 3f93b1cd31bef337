package document

import (
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// binding ties a container to the attribute slot that holds it.
type binding struct {
	holder *Annotation
	attr   *schema.AttributeType
}

// container is the shared state of List and Set. Before binding, elements
// are kept as given; once bound they are normalized and annotation elements
// are stored as handles.
type container struct {
	bound *binding
	elems []any
}

func (c *container) len() int { return len(c.elems) }

func (c *container) values() []any {
	out := make([]any, len(c.elems))
	for i, e := range c.elems {
		out[i] = c.resolve(e)
	}
	return out
}

func (c *container) resolve(e any) any {
	if h, ok := e.(handle); ok && c.bound != nil {
		return c.bound.holder.doc.annotationFor(h)
	}
	return e
}

// importElem normalizes v for the bound attribute, or returns it as-is when unbound.
func (c *container) importElem(v any) (any, error) {
	if c.bound == nil {
		return v, nil
	}
	if c.bound.holder.removed {
		return nil, ErrRemoved
	}
	e, err := c.bound.holder.importSingle(c.bound.attr, v)
	if err != nil {
		return nil, err
	}
	c.bound.holder.doc.ensureTargetIDs(e)
	return e, nil
}

func (c *container) touched() {
	if c.bound != nil && c.bound.attr.Kind() == schema.KindAnnotation {
		c.bound.holder.doc.invalidateInverse()
	}
}

// List is an ordered attribute value container.
type List struct {
	container
}

// NewList creates an unbound list. Elements are validated when the list is
// assigned to an attribute.
func NewList(values ...any) *List {
	return &List{container{elems: append([]any(nil), values...)}}
}

// Len returns the number of elements.
func (l *List) Len() int { return l.len() }

// Values returns the elements; annotation elements are *Annotation.
func (l *List) Values() []any { return l.values() }

// Append adds v at the end, validating it when the list is bound.
func (l *List) Append(v any) error {
	e, err := l.importElem(v)
	if err != nil {
		return err
	}
	l.elems = append(l.elems, e)
	l.touched()
	return nil
}

// Remove deletes the first element equal to v and reports whether one was found.
func (l *List) Remove(v any) bool {
	key := l.key(v)
	for i, e := range l.elems {
		if e == key {
			l.elems = append(l.elems[:i], l.elems[i+1:]...)
			l.touched()
			return true
		}
	}
	return false
}

// Contains reports whether an element equals v.
func (l *List) Contains(v any) bool {
	key := l.key(v)
	for _, e := range l.elems {
		if e == key {
			return true
		}
	}
	return false
}

// key maps a caller value to its stored form for comparisons.
func (c *container) key(v any) any {
	if c.bound == nil {
		return v
	}
	if a, ok := v.(*Annotation); ok {
		if a.doc != c.bound.holder.doc {
			return nil
		}
		return a.handle
	}
	if c.bound.attr.Kind() == schema.KindAnnotation {
		return nil
	}
	if n, err := c.bound.attr.Import(v); err == nil {
		return n
	}
	return nil
}

// Set is an unordered, deduplicated attribute value container. Annotation
// elements are deduplicated by identity and primitives by value; insertion
// order is kept for serialization.
type Set struct {
	container
	index map[any]int
}

// NewSet creates an unbound set. Duplicate values are dropped.
func NewSet(values ...any) *Set {
	s := &Set{index: make(map[any]int)}
	for _, v := range values {
		if _, dup := s.index[v]; dup {
			continue
		}
		s.index[v] = len(s.elems)
		s.elems = append(s.elems, v)
	}
	return s
}

// Len returns the number of elements.
func (s *Set) Len() int { return s.len() }

// Values returns the elements in insertion order.
func (s *Set) Values() []any { return s.values() }

// Add inserts v unless an equal element is present.
func (s *Set) Add(v any) error {
	e, err := s.importElem(v)
	if err != nil {
		return err
	}
	if _, dup := s.index[e]; dup {
		return nil
	}
	s.index[e] = len(s.elems)
	s.elems = append(s.elems, e)
	s.touched()
	return nil
}

// Contains reports whether v is an element.
func (s *Set) Contains(v any) bool {
	_, ok := s.index[s.key(v)]
	return ok
}

// Remove deletes v and reports whether it was present.
func (s *Set) Remove(v any) bool {
	k := s.key(v)
	i, ok := s.index[k]
	if !ok {
		return false
	}
	s.elems = append(s.elems[:i], s.elems[i+1:]...)
	s.reindex()
	s.touched()
	return true
}

func (s *Set) reindex() {
	s.index = make(map[any]int, len(s.elems))
	for i, e := range s.elems {
		s.index[e] = i
	}
}

// aggregate is implemented by *List and *Set.
type aggregate interface {
	base() *container
	aggregation() schema.Aggregation
	rebuild()
}

func (l *List) base() *container                { return &l.container }
func (l *List) aggregation() schema.Aggregation { return schema.AggregationList }
func (l *List) rebuild()                        {}

func (s *Set) base() *container                { return &s.container }
func (s *Set) aggregation() schema.Aggregation { return schema.AggregationSet }

// rebuild drops duplicates that normalization exposed, such as 3 and 3.0.
func (s *Set) rebuild() {
	seen := make(map[any]struct{}, len(s.elems))
	out := s.elems[:0]
	for _, e := range s.elems {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	s.elems = out
	s.reindex()
}
