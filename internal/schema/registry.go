package schema

import (
	"maps"
	"slices"
)

// Registry is the closed set of models known to a client.
// It is built once and never mutated, so it is safe for concurrent use.
type Registry struct {
	models map[string]*Model
}

// NewRegistry collects models, rejecting duplicate class names.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if _, dup := r.models[m.ClassName]; dup {
			return nil, &DefinitionError{
				Class:   m.ClassName,
				Field:   "class",
				Message: "class registered twice",
				Code:    ErrCodeDuplicateClass,
			}
		}
		r.models[m.ClassName] = m
	}
	return r, nil
}

// Lookup returns the model for a class name.
func (r *Registry) Lookup(className string) (*Model, bool) {
	m, ok := r.models[className]
	return m, ok
}

// ClassNames returns registered class names in sorted order.
func (r *Registry) ClassNames() []string {
	return slices.Sorted(maps.Keys(r.models))
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.models)
}
