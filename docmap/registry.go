package docmap

import (
	"fmt"
	"sort"
)

// Registry maps subclass tags to document factories for one polymorphic
// hierarchy. Each hierarchy root owns its own Registry value; sharing one
// across unrelated hierarchies is a configuration error. Registration is
// expected during package initialization and is not synchronized.
//
// The hierarchy's untagged default, if it has one, is the base factory
// passed to [NewCollectionWithRegistry], not a registry entry. A hierarchy
// either has exactly one untagged default or none at all.
type Registry[T Object] struct {
	factories map[string]func(*Document) T
}

// NewRegistry returns an empty registry.
func NewRegistry[T Object]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]func(*Document) T)}
}

// Register adds a factory under tag. It returns ErrDuplicateTag if the tag
// is already registered, and rejects empty tags and nil factories.
func (r *Registry[T]) Register(tag string, factory func(*Document) T) error {
	if tag == "" {
		return fmt.Errorf("empty tag: %w", ErrDuplicateTag)
	}
	if factory == nil {
		return fmt.Errorf("nil factory for tag %q: %w", tag, ErrDuplicateTag)
	}
	if _, ok := r.factories[tag]; ok {
		return fmt.Errorf("tag %q: %w", tag, ErrDuplicateTag)
	}
	r.factories[tag] = factory
	return nil
}

// MustRegister is Register that panics on error, for use in package
// initialization.
func (r *Registry[T]) MustRegister(tag string, factory func(*Document) T) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// Tags returns the registered tags in sorted order.
func (r *Registry[T]) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry[T]) factory(tag string) (func(*Document) T, bool) {
	f, ok := r.factories[tag]
	return f, ok
}

// ProxyRegistry is the sub-document counterpart of [Registry]: subclass
// tags to proxy factories, one registry per polymorphic container
// hierarchy. The untagged default is the container's Base factory.
type ProxyRegistry[P Parent] struct {
	factories map[string]func(*Proxy) P
}

// NewProxyRegistry returns an empty proxy registry.
func NewProxyRegistry[P Parent]() *ProxyRegistry[P] {
	return &ProxyRegistry[P]{factories: make(map[string]func(*Proxy) P)}
}

// Register adds a factory under tag. It returns ErrDuplicateTag if the tag
// is already registered, and rejects empty tags and nil factories.
func (r *ProxyRegistry[P]) Register(tag string, factory func(*Proxy) P) error {
	if tag == "" {
		return fmt.Errorf("empty tag: %w", ErrDuplicateTag)
	}
	if factory == nil {
		return fmt.Errorf("nil factory for tag %q: %w", tag, ErrDuplicateTag)
	}
	if _, ok := r.factories[tag]; ok {
		return fmt.Errorf("tag %q: %w", tag, ErrDuplicateTag)
	}
	r.factories[tag] = factory
	return nil
}

// MustRegister is Register that panics on error.
func (r *ProxyRegistry[P]) MustRegister(tag string, factory func(*Proxy) P) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// Tags returns the registered tags in sorted order.
func (r *ProxyRegistry[P]) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *ProxyRegistry[P]) factory(tag string) (func(*Proxy) P, bool) {
	f, ok := r.factories[tag]
	return f, ok
}

// As narrows a resolved document or proxy value to the concrete type the
// caller expects, returning ErrTypeMismatch when the stored tag resolved to
// something else. It accepts a (value, error) pair so finder calls chain
// directly:
//
//	concert, err := docmap.As[*Concert](events.FindOne(ctx, filter, nil))
func As[S any](v any, err error) (S, error) {
	var zero S
	if err != nil {
		return zero, err
	}
	s, ok := v.(S)
	if !ok {
		return zero, fmt.Errorf("resolved %T: %w", v, ErrTypeMismatch)
	}
	return s, nil
}
