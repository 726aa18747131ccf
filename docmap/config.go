package docmap

import (
	"context"
	"time"
)

// Config declares how a collection stores and resolves its documents.
type Config struct {
	// Name is the storage collection name. Required.
	Name string

	// KeySeparator joins composite-identifier segments. Defaults to
	// DefaultKeySeparator. It must never appear inside a document
	// identifier or a sub-document key; generated keys are hexadecimal, so
	// the default is safe.
	KeySeparator string

	// TagField is the subclass tag field on top-level documents. Defaults
	// to DefaultTagField.
	TagField string

	// Version is the collection's current schema version. When non-nil,
	// saves stamp it into FieldVersion and finds filter on it by default.
	// Nil disables version handling entirely.
	Version any

	// Hooks are the authorization extension points. Nil hooks allow.
	Hooks Hooks

	// Clock overrides the save-timestamp source, mainly for tests. The
	// returned time is normalized to millisecond-truncated UTC. Defaults
	// to Now.
	Clock func() time.Time
}

// validate applies defaults in place.
func (c *Config) validate() {
	if c.KeySeparator == "" {
		c.KeySeparator = DefaultKeySeparator
	}
	if c.TagField == "" {
		c.TagField = DefaultTagField
	}
}

// Hooks are the four authorization gates a collection consults. Each is
// optional; nil means allow. A non-nil error denies, and the error is
// wrapped under ErrAuthorizationDenied so callers can both match the
// sentinel and inspect the reason. PostRead is the exception: its denial
// silently excludes the document from results instead of surfacing.
type Hooks struct {
	// PreRead runs once before any find/load issues its query.
	PreRead func(ctx context.Context) error

	// PostRead runs per fetched document before it reaches the caller.
	PostRead func(ctx context.Context, d *Document) error

	// PreSave runs before Save mutates anything.
	PreSave func(ctx context.Context, d *Document) error

	// PreDelete runs before Delete touches storage.
	PreDelete func(ctx context.Context, d *Document) error
}

// Bool returns a pointer to b, for the optional boolean fields in
// [FindOptions].
func Bool(b bool) *bool { return &b }
