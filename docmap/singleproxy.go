package docmap

import (
	"context"
	"fmt"
)

// SingleContainer stores one sub-document directly under a fixed parent
// field, with no enclosing mapping or list. The field defaults to the
// container name; every operation accepts an explicit key to address a
// different field through the same descriptor.
//
// Composite identifiers never carry the real field name. The segment for a
// single sub-document is always SingleKeySegment, so identifier strings do
// not leak the document layout.
type SingleContainer[P Parent] struct {
	// Name is the default parent field the sub-document lives under.
	Name string

	// TagField is the sub-document subclass tag field for polymorphic
	// containers. Defaults to DefaultProxyTagField.
	TagField string

	// Base builds the untagged view. Required for non-polymorphic
	// containers; for polymorphic ones it is the fallback for untagged and
	// unknown-tagged sub-documents, and nil makes the container fully
	// tagged.
	Base func(*Proxy) P

	// Registry resolves tagged sub-documents. Nil means non-polymorphic.
	Registry *ProxyRegistry[P]
}

// NewSingleContainer declares a fixed-field sub-document under name with a
// single view factory.
func NewSingleContainer[P Parent](name string, base func(*Proxy) P) *SingleContainer[P] {
	return &SingleContainer[P]{Name: name, Base: base}
}

// NewPolySingleContainer declares a polymorphic fixed-field sub-document
// under name. The sub-document resolves its view through registry by tag,
// falling back to base; a nil base makes the container fully tagged.
func NewPolySingleContainer[P Parent](name string, registry *ProxyRegistry[P], base func(*Proxy) P) *SingleContainer[P] {
	return &SingleContainer[P]{Name: name, Registry: registry, Base: base}
}

func (c *SingleContainer[P]) tagField() string {
	if c.TagField == "" {
		return DefaultProxyTagField
	}
	return c.TagField
}

// fieldKey resolves the parent field a call addresses: the explicit key,
// or the container name when the key is empty.
func (c *SingleContainer[P]) fieldKey(key string) string {
	if key == "" {
		return c.Name
	}
	return key
}

func (c *SingleContainer[P]) subdoc(p *Proxy) (M, error) {
	data, err := p.parent.rawData()
	if err != nil {
		return nil, err
	}
	v, present := data[p.key]
	if !present {
		return nil, fmt.Errorf("parent has no sub-document %q: %w", p.key, ErrKeyNotFound)
	}
	sd, ok := asM(v)
	if !ok {
		return nil, fmt.Errorf("field %q is not a mapping: %w", p.key, ErrTypeMismatch)
	}
	return sd, nil
}

func (c *SingleContainer[P]) removeSubdoc(p *Proxy) error {
	data, err := p.parent.rawData()
	if err != nil {
		return err
	}
	if _, present := data[p.key]; !present {
		return fmt.Errorf("parent has no sub-document %q: %w", p.key, ErrKeyNotFound)
	}
	delete(data, p.key)
	return nil
}

func (c *SingleContainer[P]) segment(p *Proxy) string { return SingleKeySegment }

func (c *SingleContainer[P]) wrap(p *Proxy, sd M) (P, error) {
	return resolveView(c.Registry, c.Base, c.tagField(), c.Name, p, sd)
}

// Create stores the sub-document, nil for empty, under the resolved field,
// replacing whatever was there, and returns its view. No unique key is
// allocated; single sub-documents live at fixed fields. With autosave the
// parent document is saved immediately.
func (c *SingleContainer[P]) Create(ctx context.Context, parent Parent, key string, subdoc M, autosave bool) (P, error) {
	var zero P
	if subdoc == nil {
		subdoc = M{}
	}
	data, err := parent.rawData()
	if err != nil {
		return zero, err
	}
	field := c.fieldKey(key)
	data[field] = subdoc
	if autosave {
		if err := parent.Save(ctx); err != nil {
			return zero, err
		}
	}
	return c.wrap(&Proxy{parent: parent, strategy: c, key: field, seq: -1}, subdoc)
}

// CreateTagged stores a sub-document carrying the registered tag, so it
// resolves to the tagged view type on every later read.
func (c *SingleContainer[P]) CreateTagged(ctx context.Context, parent Parent, tag, key string, subdoc M, autosave bool) (P, error) {
	var zero P
	if c.Registry == nil {
		return zero, fmt.Errorf("container %q is not polymorphic: %w", c.Name, ErrUnresolvedTag)
	}
	if _, ok := c.Registry.factory(tag); !ok {
		return zero, fmt.Errorf("container %q: tag %q: %w", c.Name, tag, ErrUnresolvedTag)
	}
	if subdoc == nil {
		subdoc = M{}
	}
	subdoc[c.tagField()] = tag
	return c.Create(ctx, parent, key, subdoc, autosave)
}

// GetProxy returns the view for the sub-document under the resolved field.
// The field is validated immediately; a missing field is ErrKeyNotFound.
func (c *SingleContainer[P]) GetProxy(parent Parent, key string) (P, error) {
	var zero P
	p := &Proxy{parent: parent, strategy: c, key: c.fieldKey(key), seq: -1}
	sd, err := c.subdoc(p)
	if err != nil {
		return zero, err
	}
	return c.wrap(p, sd)
}

// Exists reports whether the resolved field holds a sub-document. It
// reports false when the parent cannot be reached at all.
func (c *SingleContainer[P]) Exists(parent Parent, key string) bool {
	data, err := parent.rawData()
	if err != nil {
		return false
	}
	_, present := data[c.fieldKey(key)]
	return present
}

// loadProxy resolves the fixed field regardless of the identifier segment,
// which carries the SingleKeySegment placeholder rather than a field name.
func (c *SingleContainer[P]) loadProxy(parent Parent, segment string) (Parent, error) {
	if segment != SingleKeySegment && segment != "" {
		return nil, fmt.Errorf("single sub-document segment %q: %w", segment, ErrMalformedID)
	}
	return c.GetProxy(parent, "")
}
