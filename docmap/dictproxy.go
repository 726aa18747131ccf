package docmap

import (
	"context"
	"fmt"
)

// DictContainer stores sub-documents in a mapping under one parent field,
// keyed by generated unique keys. P is the application's view type for the
// sub-documents, built by the Base factory or, for polymorphic containers,
// by the Registry.
//
// Containers are stateless descriptors. Declare one per parent field,
// usually as a package-level variable, and pass the parent to each call.
type DictContainer[P Parent] struct {
	// Name is the parent field the container mapping lives under.
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

// NewDictContainer declares a mapping container under name with a single
// view factory.
func NewDictContainer[P Parent](name string, base func(*Proxy) P) *DictContainer[P] {
	return &DictContainer[P]{Name: name, Base: base}
}

// NewPolyDictContainer declares a polymorphic mapping container under
// name. Sub-documents resolve their view through registry by tag, falling
// back to base; a nil base makes the container fully tagged.
func NewPolyDictContainer[P Parent](name string, registry *ProxyRegistry[P], base func(*Proxy) P) *DictContainer[P] {
	return &DictContainer[P]{Name: name, Registry: registry, Base: base}
}

func (c *DictContainer[P]) tagField() string {
	if c.TagField == "" {
		return DefaultProxyTagField
	}
	return c.TagField
}

// mapping returns the container mapping inside the parent, which may be
// absent. A present field of any other shape is ErrTypeMismatch.
func (c *DictContainer[P]) mapping(parent Parent) (M, error) {
	data, err := parent.rawData()
	if err != nil {
		return nil, err
	}
	v, present := data[c.Name]
	if !present {
		return nil, nil
	}
	cm, ok := asM(v)
	if !ok {
		return nil, fmt.Errorf("field %q is not a mapping container: %w", c.Name, ErrTypeMismatch)
	}
	return cm, nil
}

func (c *DictContainer[P]) subdoc(p *Proxy) (M, error) {
	cm, err := c.mapping(p.parent)
	if err != nil {
		return nil, err
	}
	v, present := cm[p.key]
	if !present {
		return nil, fmt.Errorf("container %q has no sub-document %q: %w", c.Name, p.key, ErrKeyNotFound)
	}
	sd, ok := asM(v)
	if !ok {
		return nil, fmt.Errorf("container %q sub-document %q is not a mapping: %w", c.Name, p.key, ErrTypeMismatch)
	}
	return sd, nil
}

func (c *DictContainer[P]) removeSubdoc(p *Proxy) error {
	cm, err := c.mapping(p.parent)
	if err != nil {
		return err
	}
	if _, present := cm[p.key]; !present {
		return fmt.Errorf("container %q has no sub-document %q: %w", c.Name, p.key, ErrKeyNotFound)
	}
	delete(cm, p.key)
	return nil
}

func (c *DictContainer[P]) segment(p *Proxy) string { return p.key }

func (c *DictContainer[P]) wrap(p *Proxy, sd M) (P, error) {
	return resolveView(c.Registry, c.Base, c.tagField(), c.Name, p, sd)
}

// put inserts the sub-document under a fresh unique key. The key counter
// is allocated without its own save; the optional autosave below persists
// counter and sub-document together.
func (c *DictContainer[P]) put(ctx context.Context, parent Parent, subdoc M, autosave bool) (*Proxy, error) {
	key, err := parent.Root().NextUniqueKey(ctx, false)
	if err != nil {
		return nil, err
	}
	data, err := parent.rawData()
	if err != nil {
		return nil, err
	}
	v, present := data[c.Name]
	cm, ok := asM(v)
	if present && !ok {
		return nil, fmt.Errorf("field %q is not a mapping container: %w", c.Name, ErrTypeMismatch)
	}
	if !present {
		cm = M{}
		data[c.Name] = cm
	}
	cm[key] = subdoc
	if autosave {
		if err := parent.Save(ctx); err != nil {
			return nil, err
		}
	}
	return &Proxy{parent: parent, strategy: c, key: key, seq: -1}, nil
}

// Create adds a new sub-document, nil for empty, under a generated key and
// returns its view. With autosave the parent document is saved
// immediately; without it nothing is durable until the caller saves.
func (c *DictContainer[P]) Create(ctx context.Context, parent Parent, subdoc M, autosave bool) (P, error) {
	var zero P
	if subdoc == nil {
		subdoc = M{}
	}
	p, err := c.put(ctx, parent, subdoc, autosave)
	if err != nil {
		return zero, err
	}
	return c.wrap(p, subdoc)
}

// CreateTagged adds a new sub-document carrying the registered tag, so it
// resolves to the tagged view type on every later read. The tag is written
// into the sub-document itself and round-trips with the parent.
func (c *DictContainer[P]) CreateTagged(ctx context.Context, parent Parent, tag string, subdoc M, autosave bool) (P, error) {
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
	p, err := c.put(ctx, parent, subdoc, autosave)
	if err != nil {
		return zero, err
	}
	return c.wrap(p, subdoc)
}

// GetProxy returns the view for the sub-document stored under key. The key
// is validated immediately; a missing key is ErrKeyNotFound.
func (c *DictContainer[P]) GetProxy(parent Parent, key string) (P, error) {
	var zero P
	p := &Proxy{parent: parent, strategy: c, key: key, seq: -1}
	sd, err := c.subdoc(p)
	if err != nil {
		return zero, err
	}
	return c.wrap(p, sd)
}

// GetProxies returns views for every sub-document in the container,
// ordered by key. An absent container yields an empty slice.
func (c *DictContainer[P]) GetProxies(parent Parent) ([]P, error) {
	cm, err := c.mapping(parent)
	if err != nil {
		return nil, err
	}
	proxies := make([]P, 0, len(cm))
	for _, key := range sortedKeys(cm) {
		p, err := c.GetProxy(parent, key)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

// Exists reports whether a sub-document is stored under key. It reports
// false when the container cannot be reached at all.
func (c *DictContainer[P]) Exists(parent Parent, key string) bool {
	cm, err := c.mapping(parent)
	if err != nil {
		return false
	}
	_, present := cm[key]
	return present
}

func (c *DictContainer[P]) loadProxy(parent Parent, segment string) (Parent, error) {
	return c.GetProxy(parent, segment)
}
