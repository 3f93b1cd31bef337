package schema

import (
	"sort"
)

// Repository is the task-wide set of annotation types. Label restrictions
// are trusted only after Digest; once digested the repository is read-only
// and may be shared by every document of the task.
type Repository struct {
	types               map[string]*AnnotationType
	allAnnotationsKnown bool
	effectiveLabelTable map[string]string
	digested            bool
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithAllAnnotationsKnown closes the repository: documents may not introduce
// labels it does not declare.
func WithAllAnnotationsKnown() RepositoryOption {
	return func(r *Repository) {
		r.allAnnotationsKnown = true
	}
}

// NewRepository creates an empty repository.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		types:               make(map[string]*AnnotationType),
		effectiveLabelTable: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewOpenRepository returns an empty, open, digested repository for
// documents loaded without a task schema.
func NewOpenRepository() *Repository {
	r := NewRepository()
	r.digested = true
	return r
}

// AllAnnotationsKnown reports whether the repository is closed.
func (r *Repository) AllAnnotationsKnown() bool { return r.allAnnotationsKnown }

// Digested reports whether Digest has completed.
func (r *Repository) Digested() bool { return r.digested }

// Add registers a type. Labels are unique and a digested repository is immutable.
func (r *Repository) Add(t *AnnotationType) error {
	if r.digested {
		return NewDocumentError("Add", "repository is digested; cannot add %q", t.label)
	}
	if _, dup := r.types[t.label]; dup {
		return NewDocumentError("Add", "duplicate annotation type %q", t.label)
	}
	r.types[t.label] = t
	return nil
}

// Lookup returns the type with the given true label.
func (r *Repository) Lookup(label string) (*AnnotationType, bool) {
	t, ok := r.types[label]
	return t, ok
}

// Labels returns every true label, sorted.
func (r *Repository) Labels() []string {
	out := make([]string, 0, len(r.types))
	for l := range r.types {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Types returns every type, sorted by label.
func (r *Repository) Types() []*AnnotationType {
	labels := r.Labels()
	out := make([]*AnnotationType, 0, len(labels))
	for _, l := range labels {
		out = append(out, r.types[l])
	}
	return out
}

// TrueLabel maps an effective label to its true label. True labels map to
// themselves; unknown labels report false.
func (r *Repository) TrueLabel(label string) (string, bool) {
	if t, ok := r.effectiveLabelTable[label]; ok {
		return t, true
	}
	if _, ok := r.types[label]; ok {
		return label, true
	}
	return "", false
}

// TypeForEffectiveLabel returns the true type and effective label entry
// denoted by an effective label.
func (r *Repository) TypeForEffectiveLabel(label string) (*AnnotationType, EffectiveLabel, bool) {
	trueLabel, ok := r.effectiveLabelTable[label]
	if !ok {
		return nil, EffectiveLabel{}, false
	}
	t := r.types[trueLabel]
	el, ok := t.effectiveLabels[label]
	return t, el, ok
}

// digestPlan holds everything Digest computes before installing it, so a
// failing digestion leaves the repository untouched.
type digestPlan struct {
	effectiveLabels map[string]map[string]EffectiveLabel
	table           map[string]string
	restrictions    map[*AttributeType][]digestedRestriction
	usedIn          map[string][]UsedIn
}

// Digest resolves effective labels and converts every label restriction to a
// (true label, bitmask) pair. It runs once; later calls are no-ops. On error
// nothing is installed.
func (r *Repository) Digest() error {
	if r.digested {
		return nil
	}
	plan := &digestPlan{
		effectiveLabels: make(map[string]map[string]EffectiveLabel),
		table:           make(map[string]string),
		restrictions:    make(map[*AttributeType][]digestedRestriction),
		usedIn:          make(map[string][]UsedIn),
	}
	types := r.Types()
	for _, t := range types {
		if err := r.planEffectiveLabels(plan, t); err != nil {
			return err
		}
	}
	for _, t := range types {
		for _, a := range t.attrs {
			if len(a.restrictions) == 0 {
				continue
			}
			if err := r.planRestrictions(plan, t, a); err != nil {
				return err
			}
		}
	}

	for _, t := range types {
		t.effectiveLabels = plan.effectiveLabels[t.label]
		t.usedIn = plan.usedIn[t.label]
	}
	for a, d := range plan.restrictions {
		a.digested = d
	}
	r.effectiveLabelTable = plan.table
	r.digested = true
	return nil
}

func (r *Repository) planEffectiveLabels(plan *digestPlan, t *AnnotationType) error {
	const op = "Digest"
	if len(t.effectiveLabelSpec) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.effectiveLabelSpec))
	for name := range t.effectiveLabelSpec {
		names = append(names, name)
	}
	sort.Strings(names)

	labels := make(map[string]EffectiveLabel, len(names))
	byValue := make(map[any]string, len(names))
	sharedAttr := ""
	for _, name := range names {
		spec := t.effectiveLabelSpec[name]
		if _, clash := r.types[name]; clash {
			return NewDocumentError(op, "effective label %q of %q collides with a true label", name, t.label)
		}
		if owner, clash := plan.table[name]; clash {
			return NewDocumentError(op, "effective label %q declared by both %q and %q", name, owner, t.label)
		}
		a, ok := t.Attribute(spec.Attr)
		if !ok {
			return NewDocumentError(op, "effective label %q of %q names unknown attribute %q", name, t.label, spec.Attr)
		}
		if !a.IsChoice() {
			return NewDocumentError(op, "effective label %q of %q requires choice attribute, %q is not", name, t.label, spec.Attr)
		}
		if sharedAttr != "" && sharedAttr != a.name {
			return NewDocumentError(op, "effective labels of %q use both %q and %q; they must share one attribute", t.label, sharedAttr, a.name)
		}
		sharedAttr = a.name
		v, err := a.Import(spec.Value)
		if err != nil {
			return NewDocumentError(op, "effective label %q of %q: %v", name, t.label, err)
		}
		if other, dup := byValue[v]; dup {
			return NewDocumentError(op, "effective labels %q and %q of %q both mean %s=%v", other, name, t.label, a.name, v)
		}
		byValue[v] = name
		labels[name] = EffectiveLabel{Name: name, Attr: a.name, Value: v, Display: spec.Display}
		plan.table[name] = t.label
	}
	plan.effectiveLabels[t.label] = labels
	return nil
}

func (r *Repository) planRestrictions(plan *digestPlan, holder *AnnotationType, a *AttributeType) error {
	const op = "Digest"
	out := make([]digestedRestriction, 0, len(a.restrictions))
	for _, lr := range a.restrictions {
		label := lr.Label
		pairs := append([]AttrValuePair(nil), lr.Pairs...)
		fromEffective := ""
		if trueLabel, ok := plan.table[label]; ok {
			el := plan.effectiveLabels[trueLabel][label]
			fromEffective = label
			label = trueLabel
			pairs = append(pairs, AttrValuePair{Attr: el.Attr, Value: el.Value})
		}

		target, ok := r.types[label]
		if !ok {
			if r.allAnnotationsKnown {
				return NewDocumentError(op, "restriction %s on %s.%s names unknown label", lr, holder.label, a.name)
			}
			if len(pairs) > 0 {
				return NewDocumentError(op, "restriction %s on %s.%s has attribute pairs for undeclared label", lr, holder.label, a.name)
			}
			out = append(out, digestedRestriction{label: label})
			continue
		}

		var mask Mask
		seen := make(map[string]any, len(pairs))
		for _, p := range pairs {
			pa, ok := target.Attribute(p.Attr)
			if !ok {
				return NewDocumentError(op, "restriction %s on %s.%s: %q has no attribute %q", lr, holder.label, a.name, label, p.Attr)
			}
			if !pa.IsChoice() {
				return NewDocumentError(op, "restriction %s on %s.%s: attribute %q of %q has no choices", lr, holder.label, a.name, p.Attr, label)
			}
			v, err := pa.Import(p.Value)
			if err != nil {
				return NewDocumentError(op, "restriction %s on %s.%s: %v", lr, holder.label, a.name, err)
			}
			if prev, dup := seen[p.Attr]; dup {
				if prev == v {
					continue
				}
				return NewDocumentError(op, "restriction %s on %s.%s requires %q to be both %v and %v", lr, holder.label, a.name, p.Attr, prev, v)
			}
			seen[p.Attr] = v
			mask = mask.Or(target.ValueMask(p.Attr, v))
		}

		// Effective label values are unique per type, so at most one matches.
		if fromEffective == "" && len(pairs) == 1 {
			for name, el := range plan.effectiveLabels[label] {
				if seen[el.Attr] == el.Value {
					fromEffective = name
				}
			}
		}

		out = append(out, digestedRestriction{label: label, mask: mask, fromEffectiveLabel: fromEffective})
		plan.usedIn[label] = appendUsedIn(plan.usedIn[label], UsedIn{Label: holder.label, Attr: a.name})
	}
	plan.restrictions[a] = out
	return nil
}

func appendUsedIn(list []UsedIn, u UsedIn) []UsedIn {
	for _, existing := range list {
		if existing == u {
			return list
		}
	}
	return append(list, u)
}

// Copy returns a deep copy. Documents derive their local types from copies so
// the shared repository is never mutated.
func (r *Repository) Copy() *Repository {
	c := &Repository{
		types:               make(map[string]*AnnotationType, len(r.types)),
		allAnnotationsKnown: r.allAnnotationsKnown,
		effectiveLabelTable: make(map[string]string, len(r.effectiveLabelTable)),
		digested:            r.digested,
	}
	for l, t := range r.types {
		c.types[l] = t.Copy()
	}
	for k, v := range r.effectiveLabelTable {
		c.effectiveLabelTable[k] = v
	}
	return c
}

// Extend adds a type to an open repository after digestion. Documents use it
// for labels first seen in their data; such types carry no restrictions or
// effective labels.
func (r *Repository) Extend(t *AnnotationType) error {
	if r.allAnnotationsKnown {
		return NewDocumentError("Extend", "unknown annotation type %q in closed repository", t.label)
	}
	if _, dup := r.types[t.label]; dup {
		return NewDocumentError("Extend", "duplicate annotation type %q", t.label)
	}
	if len(t.effectiveLabelSpec) > 0 {
		return NewDocumentError("Extend", "type %q declares effective labels; add it before digestion", t.label)
	}
	for _, a := range t.attrs {
		if len(a.restrictions) > 0 {
			return NewDocumentError("Extend", "type %q declares label restrictions; add it before digestion", t.label)
		}
	}
	r.types[t.label] = t
	return nil
}
