package docmap

import (
	"context"
	"fmt"
)

// Parent is a node sub-documents hang off: a [Document] or another
// sub-document's [Proxy]. Application types embedding either satisfy it.
// Only this package implements the data access methods, so the interface
// is closed to outside implementations.
type Parent interface {
	// Save persists the top-level document this node belongs to.
	Save(ctx context.Context) error

	// Root returns the top-level document, the ultimate ancestor.
	Root() *Document

	rawData() (M, error)
	composeID(segments []string) (string, error)
}

// ProxyLoader is one step of a [Collection.LoadProxyByID] container chain.
// Every container type implements it.
type ProxyLoader interface {
	loadProxy(parent Parent, segment string) (Parent, error)
}

// strategy is the container behavior a Proxy navigates through: how to
// reach its sub-document inside the parent, how to detach it, and what it
// contributes to composite identifiers. Containers implement it once,
// independent of their view type parameter.
type strategy interface {
	subdoc(p *Proxy) (M, error)
	removeSubdoc(p *Proxy) error
	segment(p *Proxy) string
}

// Proxy is a live view of one sub-document. It holds no copy of the data:
// every access re-derives the sub-document from the parent, so all proxies
// for the same sub-document observe each other's mutations, and positional
// churn inside list containers heals transparently.
//
// A proxy can dangle: built from a list key that was never validated, or
// outlived by its sub-document. Dangling accesses report ErrKeyNotFound.
type Proxy struct {
	parent   Parent
	strategy strategy
	key      string
	seq      int
	dead     bool
}

// Parent returns the node the proxy's container lives in.
func (p *Proxy) Parent() Parent { return p.parent }

// Root returns the top-level document at the top of the parent chain.
func (p *Proxy) Root() *Document { return p.parent.Root() }

// Key returns the sub-document key within its container.
func (p *Proxy) Key() string { return p.key }

// Save persists the top-level document, carrying every sub-document with
// it. Sub-documents have no save of their own.
func (p *Proxy) Save(ctx context.Context) error { return p.parent.Save(ctx) }

// ID returns the composite identifier addressing this sub-document: the
// document identifier followed by one key segment per container level. It
// fails with ErrKeyNotFound while the top-level document is unsaved.
func (p *Proxy) ID() (string, error) { return p.composeID(nil) }

func (p *Proxy) composeID(segments []string) (string, error) {
	return p.parent.composeID(append([]string{p.strategy.segment(p)}, segments...))
}

func (p *Proxy) rawData() (M, error) { return p.data() }

func (p *Proxy) data() (M, error) {
	if p.dead {
		return nil, fmt.Errorf("proxy deleted: %w", ErrKeyNotFound)
	}
	return p.strategy.subdoc(p)
}

// Data returns the live sub-document mapping. Mutations through it are
// indistinguishable from mutations through the accessor methods.
func (p *Proxy) Data() (M, error) { return p.data() }

// Contains reports whether the field is present.
func (p *Proxy) Contains(key string) (bool, error) {
	sd, err := p.data()
	if err != nil {
		return false, err
	}
	_, ok := sd[key]
	return ok, nil
}

// Get returns the field value, or nil when absent.
func (p *Proxy) Get(key string) (any, error) {
	sd, err := p.data()
	if err != nil {
		return nil, err
	}
	return sd[key], nil
}

// Lookup returns the field value and whether it was present.
func (p *Proxy) Lookup(key string) (any, bool, error) {
	sd, err := p.data()
	if err != nil {
		return nil, false, err
	}
	v, ok := sd[key]
	return v, ok, nil
}

// GetDefault returns the field value, or def when absent.
func (p *Proxy) GetDefault(key string, def any) (any, error) {
	sd, err := p.data()
	if err != nil {
		return nil, err
	}
	if v, ok := sd[key]; ok {
		return v, nil
	}
	return def, nil
}

// Set stores a field value.
func (p *Proxy) Set(key string, value any) error {
	sd, err := p.data()
	if err != nil {
		return err
	}
	sd[key] = value
	return nil
}

// SetDefault stores def under key if the field is absent, then returns the
// value now present.
func (p *Proxy) SetDefault(key string, def any) (any, error) {
	sd, err := p.data()
	if err != nil {
		return nil, err
	}
	if v, ok := sd[key]; ok {
		return v, nil
	}
	sd[key] = def
	return def, nil
}

// Unset removes a field. Removing an absent field is a no-op.
func (p *Proxy) Unset(key string) error {
	sd, err := p.data()
	if err != nil {
		return err
	}
	delete(sd, key)
	return nil
}

// Update copies every field from values into the sub-document.
func (p *Proxy) Update(values M) error {
	sd, err := p.data()
	if err != nil {
		return err
	}
	for k, v := range values {
		sd[k] = v
	}
	return nil
}

// Keys returns the field names in sorted order.
func (p *Proxy) Keys() ([]string, error) {
	sd, err := p.data()
	if err != nil {
		return nil, err
	}
	return sortedKeys(sd), nil
}

// Values returns the field values ordered by sorted field name.
func (p *Proxy) Values() ([]any, error) {
	sd, err := p.data()
	if err != nil {
		return nil, err
	}
	return orderedValues(sd), nil
}

// Len returns the number of fields.
func (p *Proxy) Len() (int, error) {
	sd, err := p.data()
	if err != nil {
		return 0, err
	}
	return len(sd), nil
}

// Delete detaches the sub-document from its parent and permanently
// invalidates this proxy; later accesses report ErrKeyNotFound. With
// autosave the parent document is saved immediately, otherwise the removal
// stays in memory until the caller saves. Other proxies for the same
// sub-document dangle once the removal lands.
func (p *Proxy) Delete(ctx context.Context, autosave bool) error {
	if p.dead {
		return fmt.Errorf("proxy deleted: %w", ErrKeyNotFound)
	}
	if err := p.strategy.removeSubdoc(p); err != nil {
		return err
	}
	p.dead = true
	if autosave {
		return p.parent.Save(ctx)
	}
	return nil
}

// BareProxy is the identity view factory, for containers whose view type
// is *Proxy itself rather than an application wrapper.
func BareProxy(p *Proxy) *Proxy { return p }

// resolveView picks the view factory for a sub-document: its registered
// tag's factory, else base, else unresolved.
func resolveView[P Parent](registry *ProxyRegistry[P], base func(*Proxy) P, tagField, container string, p *Proxy, sd M) (P, error) {
	if registry != nil {
		if tag, ok := sd[tagField].(string); ok {
			if f, found := registry.factory(tag); found {
				return f(p), nil
			}
		}
	}
	if base == nil {
		var zero P
		tag, _ := sd[tagField].(string)
		return zero, fmt.Errorf("container %q: tag %q: %w", container, tag, ErrUnresolvedTag)
	}
	return base(p), nil
}

// asM reports whether a stored value is a mapping and returns it as M.
func asM(v any) (M, bool) {
	m, ok := v.(M)
	return m, ok
}
