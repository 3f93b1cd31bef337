package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RepositorySpec is the JSON form of an annotation set repository, as
// carried in a task's "annotationSetRepository" entry.
type RepositorySpec struct {
	AllAnnotationsKnown bool                `json:"allAnnotationsKnown,omitempty"`
	Types               map[string]TypeSpec `json:"types"`
}

// Build constructs and digests a repository from the spec. Nothing partial
// is returned on error.
func (s *RepositorySpec) Build() (*Repository, error) {
	var opts []RepositoryOption
	if s.AllAnnotationsKnown {
		opts = append(opts, WithAllAnnotationsKnown())
	}
	r := NewRepository(opts...)

	labels := make([]string, 0, len(s.Types))
	for label := range s.Types {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		ts := s.Types[label]
		if ts.Label == "" {
			ts.Label = label
		}
		if ts.Label != label {
			return nil, NewDocumentError("Build", "type keyed %q declares label %q", label, ts.Label)
		}
		t, err := NewAnnotationType(ts)
		if err != nil {
			return nil, err
		}
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	if err := r.Digest(); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeRepository parses and digests a repository from JSON.
func DecodeRepository(data []byte) (*Repository, error) {
	var spec RepositorySpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode annotation set repository: %w", err)
	}
	return spec.Build()
}

// Spec returns the repository's declaration.
func (r *Repository) Spec() RepositorySpec {
	spec := RepositorySpec{
		AllAnnotationsKnown: r.allAnnotationsKnown,
		Types:               make(map[string]TypeSpec, len(r.types)),
	}
	for label, t := range r.types {
		spec.Types[label] = t.Spec()
	}
	return spec
}

// MarshalJSON encodes the repository's declaration.
func (r *Repository) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Spec())
}
