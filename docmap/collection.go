package docmap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jacentio/espalier/driver"
)

// binding is the non-generic core a collection shares with every Document
// it produces. Documents hold it so Save and Delete can reach the driver
// and configuration without the collection's type parameter.
type binding struct {
	db   driver.Database
	coll driver.Collection
	cfg  Config
}

func (b *binding) now() time.Time {
	if b.cfg.Clock == nil {
		return Now()
	}
	return b.cfg.Clock().UTC().Truncate(time.Millisecond)
}

func (b *binding) tagField() string { return b.cfg.TagField }

func (b *binding) sep() string { return b.cfg.KeySeparator }

func (b *binding) preRead(ctx context.Context) error {
	if h := b.cfg.Hooks.PreRead; h != nil {
		if err := h(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthorizationDenied, err)
		}
	}
	return nil
}

// queryFilter copies the caller's filter and applies version filtering. The
// caller's map is never mutated.
func (b *binding) queryFilter(filter M, opts *FindOptions) driver.Filter {
	f := make(driver.Filter, len(filter)+1)
	for k, v := range filter {
		f[k] = v
	}
	if b.cfg.Version == nil {
		return f
	}
	version := b.cfg.Version
	if opts != nil && opts.Version != nil {
		if opts.Version == AllVersions {
			return f
		}
		version = opts.Version
	}
	f[FieldVersion] = version
	return f
}

// Collection binds an application type to a storage collection. T is the
// application's document wrapper, or the hierarchy's common interface for
// polymorphic collections.
type Collection[T Object] struct {
	b        *binding
	base     func(*Document) T
	registry *Registry[T]
}

// NewCollection binds T to the named storage collection. Every document
// instantiates through base.
func NewCollection[T Object](db driver.Database, cfg Config, base func(*Document) T) *Collection[T] {
	cfg.validate()
	return &Collection[T]{
		b:    &binding{db: db, coll: db.Collection(cfg.Name), cfg: cfg},
		base: base,
	}
}

// NewCollectionWithRegistry binds a polymorphic hierarchy to the named
// storage collection. Tagged documents instantiate through their registered
// factory; untagged documents and unknown tags fall back to base. A nil
// base makes the hierarchy fully tagged, so resolution failures surface as
// ErrUnresolvedTag.
func NewCollectionWithRegistry[T Object](db driver.Database, cfg Config, registry *Registry[T], base func(*Document) T) *Collection[T] {
	cfg.validate()
	return &Collection[T]{
		b:        &binding{db: db, coll: db.Collection(cfg.Name), cfg: cfg},
		base:     base,
		registry: registry,
	}
}

// Name returns the storage collection name.
func (c *Collection[T]) Name() string { return c.b.cfg.Name }

// Raw returns the underlying driver collection for operations outside the
// mapped surface. Writes through it bypass metadata stamping.
func (c *Collection[T]) Raw() driver.Collection { return c.b.coll }

// allVersions is the type behind the AllVersions sentinel.
type allVersions struct{}

// AllVersions disables default version filtering when assigned to
// [FindOptions].Version.
var AllVersions any = allVersions{}

// FindOptions adjust how finders fetch and wrap documents. The zero value
// (or a nil pointer) means full documents, writable, filtered to the
// collection's declared version.
type FindOptions struct {
	// Projection restricts the fields drivers return. Non-nil, even when
	// empty, marks results read-only by default: partial documents must not
	// be saved back over complete ones.
	Projection driver.Projection

	// ReadOnly overrides the projection-derived read-only default. Use
	// [Bool] to set it.
	ReadOnly *bool

	// Version overrides the default version filter: nil filters on the
	// collection's declared version, AllVersions disables filtering, any
	// other value filters on that value. Ignored when the collection
	// declares no version.
	Version any
}

func (o *FindOptions) projection() driver.Projection {
	if o == nil {
		return nil
	}
	return o.Projection
}

func (o *FindOptions) readonly() bool {
	if o == nil {
		return false
	}
	if o.ReadOnly != nil {
		return *o.ReadOnly
	}
	return o.Projection != nil
}

// Find returns a lazy sequence over every matching document, instantiated
// through the collection's factories. The storage query is issued when the
// sequence is first ranged over, and the cursor is released when iteration
// stops for any reason. Documents a PostRead hook denies are skipped;
// instantiation and cursor failures end the sequence with a non-nil error.
// The error returned by Find itself is the PreRead gate.
func (c *Collection[T]) Find(ctx context.Context, filter M, opts *FindOptions) (iter.Seq2[T, error], error) {
	if err := c.b.preRead(ctx); err != nil {
		return nil, err
	}
	f := c.b.queryFilter(filter, opts)
	proj := opts.projection()
	ro := opts.readonly()
	seq := func(yield func(T, error) bool) {
		var zero T
		cur, err := c.b.coll.Find(ctx, f, proj)
		if err != nil {
			yield(zero, err)
			return
		}
		defer cur.Close()
		for cur.Next(ctx) {
			obj, err := c.instantiate(cur.Record(), ro)
			if err != nil {
				yield(zero, err)
				return
			}
			if h := c.b.cfg.Hooks.PostRead; h != nil {
				if err := h(ctx, obj.Doc()); err != nil {
					continue
				}
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(zero, err)
		}
	}
	return seq, nil
}

// FindOne returns the first matching document, or ErrNotFound when nothing
// matches. A document a PostRead hook denies also reports ErrNotFound, so
// callers cannot distinguish invisible from absent.
func (c *Collection[T]) FindOne(ctx context.Context, filter M, opts *FindOptions) (T, error) {
	var zero T
	if err := c.b.preRead(ctx); err != nil {
		return zero, err
	}
	rec, err := c.b.coll.FindOne(ctx, c.b.queryFilter(filter, opts), opts.projection())
	if errors.Is(err, driver.ErrNotFound) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	obj, err := c.instantiate(rec, opts.readonly())
	if err != nil {
		return zero, err
	}
	if h := c.b.cfg.Hooks.PostRead; h != nil {
		if err := h(ctx, obj.Doc()); err != nil {
			return zero, ErrNotFound
		}
	}
	return obj, nil
}

// LoadByID returns the document with the given identifier, or ErrNotFound.
func (c *Collection[T]) LoadByID(ctx context.Context, id string, opts *FindOptions) (T, error) {
	return c.FindOne(ctx, M{FieldID: id}, opts)
}

// LoadProxyByID loads the document named by a composite identifier and
// walks the container chain down to the sub-document it addresses,
// returning that sub-document's proxy. The chain lists one container per
// identifier segment after the document identifier; a segment-count
// mismatch reports ErrMalformedID. Narrow the result with [As].
func (c *Collection[T]) LoadProxyByID(ctx context.Context, id string, opts *FindOptions, chain ...ProxyLoader) (Parent, error) {
	segments := c.SplitID(id)
	if len(segments) != len(chain)+1 {
		return nil, fmt.Errorf("identifier %q has %d segments, container chain needs %d: %w",
			id, len(segments), len(chain)+1, ErrMalformedID)
	}
	obj, err := c.LoadByID(ctx, segments[0], opts)
	if err != nil {
		return nil, err
	}
	var parent Parent = obj.Doc()
	for i, loader := range chain {
		parent, err = loader.loadProxy(parent, segments[i+1])
		if err != nil {
			return nil, err
		}
	}
	return parent, nil
}

// CountDocuments returns how many documents match the filter, after the
// same version filtering Find applies. Projection and read-only options are
// ignored.
func (c *Collection[T]) CountDocuments(ctx context.Context, filter M, opts *FindOptions) (int64, error) {
	if err := c.b.preRead(ctx); err != nil {
		return 0, err
	}
	return c.b.coll.CountDocuments(ctx, c.b.queryFilter(filter, opts))
}

// Instantiate wraps raw record data in the application type the collection
// resolves for it. Non-polymorphic collections always use the base factory.
// Polymorphic collections read the tag field: a registered tag selects its
// factory, while an absent, unregistered, or non-string tag falls back to
// the base factory. With no base factory the fallback is ErrUnresolvedTag.
func (c *Collection[T]) Instantiate(data M) (T, error) {
	return c.instantiate(data, false)
}

func (c *Collection[T]) instantiate(data M, readonly bool) (T, error) {
	var zero T
	if data == nil {
		data = M{}
	}
	d := &Document{data: data, b: c.b, readonly: readonly}
	factory := c.base
	if c.registry != nil {
		if tag, ok := data[c.b.tagField()].(string); ok {
			if f, found := c.registry.factory(tag); found {
				d.tag = tag
				factory = f
			}
		}
	}
	if factory == nil {
		tag, _ := data[c.b.tagField()].(string)
		return zero, fmt.Errorf("collection %q: tag %q: %w", c.b.cfg.Name, tag, ErrUnresolvedTag)
	}
	return factory(d), nil
}

// New wraps initial data, nil for empty, in an unsaved document built
// through the untagged default factory. The document gains an identifier on
// first Save.
func (c *Collection[T]) New(data M) (T, error) {
	var zero T
	if c.base == nil {
		return zero, fmt.Errorf("collection %q has no untagged default: %w", c.b.cfg.Name, ErrUnresolvedTag)
	}
	if data == nil {
		data = M{}
	}
	return c.base(&Document{data: data, b: c.b}), nil
}

// NewTagged wraps initial data in the subclass registered for tag. The tag
// is stamped into the tag field when the document is first saved, not
// before.
func (c *Collection[T]) NewTagged(tag string, data M) (T, error) {
	var zero T
	if c.registry == nil {
		return zero, fmt.Errorf("collection %q is not polymorphic: %w", c.b.cfg.Name, ErrUnresolvedTag)
	}
	f, ok := c.registry.factory(tag)
	if !ok {
		return zero, fmt.Errorf("collection %q: tag %q: %w", c.b.cfg.Name, tag, ErrUnresolvedTag)
	}
	if data == nil {
		data = M{}
	}
	return f(&Document{data: data, b: c.b, tag: tag}), nil
}
