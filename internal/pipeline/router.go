package pipeline

import (
	"fmt"
	"maps"
	"slices"
)

// Router resolves an engine name to one of several interchangeable backends.
// Speech, completion, knowledge and telephony collaborators are all chosen
// through it. Unknown names resolve to the fallback engine.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

func (r *Router[T]) Route(engine string) (T, error) {
	for _, name := range [2]string{engine, r.fallback} {
		if b, ok := r.backends[name]; ok {
			return b, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("no backend for engine %q", engine)
}

// Default returns the fallback backend.
func (r *Router[T]) Default() (T, error) { return r.Route(r.fallback) }

func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines lists registered engine names in sorted order.
func (r *Router[T]) Engines() []string {
	return slices.Sorted(maps.Keys(r.backends))
}
