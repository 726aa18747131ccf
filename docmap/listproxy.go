package docmap

import (
	"context"
	"fmt"
)

// ListContainer stores sub-documents as a list under one parent field,
// preserving insertion order. Each element carries its own key in
// KeyField, so proxies address elements by key and survive reordering and
// removal of siblings; the list position is only a cached hint that heals
// itself by rescanning whenever it goes stale.
//
// Unlike mapping containers, looking up a view by key is lazy: the key is
// not checked until the first data access, which reports ErrKeyNotFound if
// the key never existed.
type ListContainer[P Parent] struct {
	// Name is the parent field the container list lives under.
	Name string

	// KeyField is the element field holding the sub-document key. Defaults
	// to DefaultListKeyField.
	KeyField string

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

// NewListContainer declares a list container under name with a single view
// factory.
func NewListContainer[P Parent](name string, base func(*Proxy) P) *ListContainer[P] {
	return &ListContainer[P]{Name: name, Base: base}
}

// NewPolyListContainer declares a polymorphic list container under name.
// Sub-documents resolve their view through registry by tag, falling back
// to base; a nil base makes the container fully tagged.
func NewPolyListContainer[P Parent](name string, registry *ProxyRegistry[P], base func(*Proxy) P) *ListContainer[P] {
	return &ListContainer[P]{Name: name, Registry: registry, Base: base}
}

func (c *ListContainer[P]) keyField() string {
	if c.KeyField == "" {
		return DefaultListKeyField
	}
	return c.KeyField
}

func (c *ListContainer[P]) tagField() string {
	if c.TagField == "" {
		return DefaultProxyTagField
	}
	return c.TagField
}

// elements returns the container list inside the parent, which may be
// absent. A present field of any other shape is ErrTypeMismatch.
func (c *ListContainer[P]) elements(parent Parent) ([]any, error) {
	data, err := parent.rawData()
	if err != nil {
		return nil, err
	}
	v, present := data[c.Name]
	if !present {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not a list container: %w", c.Name, ErrTypeMismatch)
	}
	return list, nil
}

func (c *ListContainer[P]) keyOf(sd M) (string, bool) {
	key, ok := sd[c.keyField()].(string)
	return key, ok
}

// subdoc locates the proxy's element. The cached position is tried first;
// on any mismatch the list is rescanned by key and the position re-cached.
// Elements without a usable key are not match candidates.
func (c *ListContainer[P]) subdoc(p *Proxy) (M, error) {
	list, err := c.elements(p.parent)
	if err != nil {
		return nil, err
	}
	if p.seq >= 0 && p.seq < len(list) {
		if sd, ok := asM(list[p.seq]); ok {
			if key, ok := c.keyOf(sd); ok && key == p.key {
				return sd, nil
			}
		}
	}
	for seq, elem := range list {
		sd, ok := asM(elem)
		if !ok {
			continue
		}
		if key, ok := c.keyOf(sd); ok && key == p.key {
			p.seq = seq
			return sd, nil
		}
	}
	return nil, fmt.Errorf("container %q has no sub-document %q: %w", c.Name, p.key, ErrKeyNotFound)
}

func (c *ListContainer[P]) removeSubdoc(p *Proxy) error {
	if _, err := c.subdoc(p); err != nil {
		return err
	}
	data, err := p.parent.rawData()
	if err != nil {
		return err
	}
	list := data[c.Name].([]any)
	data[c.Name] = append(list[:p.seq], list[p.seq+1:]...)
	return nil
}

func (c *ListContainer[P]) segment(p *Proxy) string { return p.key }

func (c *ListContainer[P]) wrap(p *Proxy, sd M) (P, error) {
	return resolveView(c.Registry, c.Base, c.tagField(), c.Name, p, sd)
}

// put appends the sub-document, stamped with a fresh unique key. The key
// counter is allocated without its own save; the optional autosave below
// persists counter and sub-document together.
func (c *ListContainer[P]) put(ctx context.Context, parent Parent, subdoc M, autosave bool) (*Proxy, error) {
	key, err := parent.Root().NextUniqueKey(ctx, false)
	if err != nil {
		return nil, err
	}
	subdoc[c.keyField()] = key
	data, err := parent.rawData()
	if err != nil {
		return nil, err
	}
	v, present := data[c.Name]
	list, ok := v.([]any)
	if present && !ok {
		return nil, fmt.Errorf("field %q is not a list container: %w", c.Name, ErrTypeMismatch)
	}
	data[c.Name] = append(list, any(subdoc))
	if autosave {
		if err := parent.Save(ctx); err != nil {
			return nil, err
		}
	}
	return &Proxy{parent: parent, strategy: c, key: key, seq: len(list)}, nil
}

// Create appends a new sub-document, nil for empty, stamps its key field,
// and returns its view. With autosave the parent document is saved
// immediately; without it nothing is durable until the caller saves.
func (c *ListContainer[P]) Create(ctx context.Context, parent Parent, subdoc M, autosave bool) (P, error) {
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

// CreateTagged appends a new sub-document carrying the registered tag, so
// it resolves to the tagged view type on every later read.
func (c *ListContainer[P]) CreateTagged(ctx context.Context, parent Parent, tag string, subdoc M, autosave bool) (P, error) {
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

// GetProxy returns the view for the sub-document keyed by key. For
// non-polymorphic containers the key is not validated until first access.
// Polymorphic containers must read the element to resolve its tag, so an
// unknown key fails immediately.
func (c *ListContainer[P]) GetProxy(parent Parent, key string) (P, error) {
	var zero P
	p := &Proxy{parent: parent, strategy: c, key: key, seq: -1}
	if c.Registry == nil {
		if c.Base == nil {
			return zero, fmt.Errorf("container %q has no view factory: %w", c.Name, ErrUnresolvedTag)
		}
		return c.Base(p), nil
	}
	sd, err := c.subdoc(p)
	if err != nil {
		return zero, err
	}
	return c.wrap(p, sd)
}

// GetProxyAt returns the view for the sub-document at a list position,
// reading the key from the element itself.
func (c *ListContainer[P]) GetProxyAt(parent Parent, seq int) (P, error) {
	var zero P
	list, err := c.elements(parent)
	if err != nil {
		return zero, err
	}
	if seq < 0 || seq >= len(list) {
		return zero, fmt.Errorf("container %q has no element %d: %w", c.Name, seq, ErrKeyNotFound)
	}
	sd, ok := asM(list[seq])
	if !ok {
		return zero, fmt.Errorf("container %q element %d is not a mapping: %w", c.Name, seq, ErrTypeMismatch)
	}
	key, ok := c.keyOf(sd)
	if !ok {
		return zero, fmt.Errorf("container %q element %d has no key field %q: %w", c.Name, seq, c.keyField(), ErrKeyNotFound)
	}
	p := &Proxy{parent: parent, strategy: c, key: key, seq: seq}
	return c.wrap(p, sd)
}

// GetProxies returns views for every sub-document in list order. An absent
// container yields an empty slice.
func (c *ListContainer[P]) GetProxies(parent Parent) ([]P, error) {
	list, err := c.elements(parent)
	if err != nil {
		return nil, err
	}
	proxies := make([]P, 0, len(list))
	for seq := range list {
		p, err := c.GetProxyAt(parent, seq)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

// Exists reports whether any element carries the key. It reports false
// when the container cannot be reached at all.
func (c *ListContainer[P]) Exists(parent Parent, key string) bool {
	list, err := c.elements(parent)
	if err != nil {
		return false
	}
	for _, elem := range list {
		if sd, ok := asM(elem); ok {
			if k, ok := c.keyOf(sd); ok && k == key {
				return true
			}
		}
	}
	return false
}

func (c *ListContainer[P]) loadProxy(parent Parent, segment string) (Parent, error) {
	return c.GetProxy(parent, segment)
}
