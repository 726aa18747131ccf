package docmap

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// M is raw document data: a mapping from field names to arbitrary values.
// It aliases map[string]any, so driver records and document data are the
// same maps and never need converting; nested mappings are again M and
// nested sequences are []any.
type M = map[string]any

// Reserved metadata field names stored alongside application data.
const (
	// FieldID holds the document identifier, assigned by the storage
	// driver on first insert.
	FieldID = "_id"

	// FieldCreated holds the first-save timestamp. Immutable afterwards.
	FieldCreated = "_created"

	// FieldUpdated holds the last-save timestamp. It is the
	// optimistic-concurrency token: a normal save only succeeds if the
	// stored value still matches the value this copy was loaded with.
	FieldUpdated = "_updated"

	// FieldVersion holds the schema version stamped by collections that
	// declare one.
	FieldVersion = "_objver"

	// FieldCounter holds the per-document unique-integer counter on the
	// ultimate ancestor.
	FieldCounter = "_last_unique_integer"
)

// Defaults for the configurable field names and the identifier separator.
const (
	// DefaultTagField is the subclass tag field on top-level documents.
	DefaultTagField = "_sckey"

	// DefaultProxyTagField is the subclass tag field on sub-documents.
	DefaultProxyTagField = "_psckey"

	// DefaultListKeyField is the per-item key field inside list containers.
	DefaultListKeyField = "_sdkey"

	// DefaultKeySeparator joins composite-identifier segments. Safe because
	// generated sub-document keys are lowercase hexadecimal.
	DefaultKeySeparator = "g"

	// SingleKeySegment is the composite-identifier segment used for
	// single-fixed-key sub-documents, so their real key never leaks into
	// external identifiers.
	SingleKeySegment = "0"
)

// Now returns the current UTC time truncated to millisecond precision, the
// resolution the backing stores preserve. Using it for application
// timestamps keeps in-memory values comparable with round-tripped ones.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Object is implemented by every application type wrapping a [Document].
// Embedding *Document provides it automatically.
type Object interface {
	Doc() *Document
}

// Document is a top-level persisted record: raw mapping data plus the
// collection binding it was constructed through. Application types embed
// *Document and are built by collection factories; the zero value is not
// usable.
//
// A Document is owned by one logical unit of work at a time. Concurrent
// access to the same instance must be serialized by the caller; the
// compare-and-swap in [Document.Save] is the only cross-copy coordination.
type Document struct {
	data     M
	b        *binding
	tag      string
	readonly bool
}

// Doc returns d. It exists so embedding types satisfy [Object].
func (d *Document) Doc() *Document { return d }

// Data returns the canonical underlying mapping. Mutations through it are
// indistinguishable from mutations through the accessor methods.
func (d *Document) Data() M { return d.data }

// Root returns d: a document is its own ultimate ancestor.
func (d *Document) Root() *Document { return d }

func (d *Document) rawData() (M, error) { return d.data, nil }

// ReadOnly reports whether Save is refused for this document.
func (d *Document) ReadOnly() bool { return d.readonly }

// SetReadOnly marks or unmarks the document read-only.
func (d *Document) SetReadOnly(readonly bool) { d.readonly = readonly }

// ID returns the stringified document identifier, or ErrKeyNotFound if the
// document has never been saved.
func (d *Document) ID() (string, error) {
	v, ok := d.data[FieldID]
	if !ok {
		return "", fmt.Errorf("document has no %s: %w", FieldID, ErrKeyNotFound)
	}
	return fmt.Sprint(v), nil
}

// Contains reports whether the field is present.
func (d *Document) Contains(key string) bool {
	_, ok := d.data[key]
	return ok
}

// Get returns the field value, or nil when absent.
func (d *Document) Get(key string) any { return d.data[key] }

// Lookup returns the field value and whether it was present.
func (d *Document) Lookup(key string) (any, bool) {
	v, ok := d.data[key]
	return v, ok
}

// GetDefault returns the field value, or def when absent.
func (d *Document) GetDefault(key string, def any) any {
	if v, ok := d.data[key]; ok {
		return v
	}
	return def
}

// Set stores a field value.
func (d *Document) Set(key string, value any) { d.data[key] = value }

// SetDefault stores def under key if the field is absent, then returns the
// value now present.
func (d *Document) SetDefault(key string, def any) any {
	if v, ok := d.data[key]; ok {
		return v
	}
	d.data[key] = def
	return def
}

// Unset removes a field. Removing an absent field is a no-op.
func (d *Document) Unset(key string) { delete(d.data, key) }

// Update copies every field from values into the document.
func (d *Document) Update(values M) {
	for k, v := range values {
		d.data[k] = v
	}
}

// Keys returns the field names in sorted order.
func (d *Document) Keys() []string { return sortedKeys(d.data) }

// Values returns the field values ordered by sorted field name.
func (d *Document) Values() []any { return orderedValues(d.data) }

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.data) }

// NextUniqueInteger increments and returns the document's unique-integer
// counter. The first value issued is 1; 0 is reserved to mean "no key".
// With autosave set the document is saved immediately so the allocation
// cannot be lost to a concurrent writer; without it the counter is not
// durable until the caller saves. Two in-memory copies of one document can
// allocate the same value; the save's compare-and-swap is what converts
// that race into an explicit conflict.
func (d *Document) NextUniqueInteger(ctx context.Context, autosave bool) (int64, error) {
	n := toInt64(d.data[FieldCounter]) + 1
	d.data[FieldCounter] = n
	if autosave {
		if err := d.Save(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// NextUniqueKey returns the next unique integer formatted as unpadded
// lowercase hexadecimal, suitable as a sub-document key.
func (d *Document) NextUniqueKey(ctx context.Context, autosave bool) (string, error) {
	n, err := d.NextUniqueInteger(ctx, autosave)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 16), nil
}

// toInt64 coerces the counter field across the numeric types drivers
// round-trip through (int64 in memory, float64 from JSON, json.Number from
// decoders configured with UseNumber). Anything else counts as unset.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func sortedKeys(m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orderedValues(m M) []any {
	keys := sortedKeys(m)
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}
