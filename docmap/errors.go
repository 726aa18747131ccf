package docmap

import "errors"

var (
	// ErrAuthorizationDenied is returned when an authorization hook rejects
	// an operation before it reaches storage. The hook's own error is
	// wrapped underneath it.
	ErrAuthorizationDenied = errors.New("espalier: authorization denied")

	// ErrReadOnly is returned when Save is called on a document marked
	// read-only. Nothing is mutated, in memory or in storage.
	ErrReadOnly = errors.New("espalier: document is read-only")

	// ErrDocumentModified is returned when the optimistic-concurrency check
	// finds the stored document was saved by someone else since this copy
	// was loaded. In-memory metadata is rolled back before it is returned.
	ErrDocumentModified = errors.New("espalier: document modified elsewhere")

	// ErrKeyNotFound is returned when addressing an absent dictionary key,
	// list key, fixed sub-document key, or composite-identifier segment.
	ErrKeyNotFound = errors.New("espalier: key not found")

	// ErrNotFound is returned by FindOne, LoadByID and LoadProxyByID when
	// no document matches, or when the single matching candidate was
	// rejected by the post-read authorization hook.
	ErrNotFound = errors.New("espalier: document not found")

	// ErrDuplicateTag is returned when two types register the same subclass
	// tag in one registry. This is a configuration error raised at
	// registration time.
	ErrDuplicateTag = errors.New("espalier: duplicate subclass tag")

	// ErrUnresolvedTag is returned when a subclass tag has no registered
	// factory and the hierarchy declares no untagged default.
	ErrUnresolvedTag = errors.New("espalier: unresolved subclass tag")

	// ErrTypeMismatch is returned when a caller requests a specific
	// concrete type but the stored tag resolved to a different one.
	ErrTypeMismatch = errors.New("espalier: subclass tag does not match requested type")

	// ErrMalformedID is returned when a composite identifier splits into
	// the wrong number of segments for the requested proxy chain.
	ErrMalformedID = errors.New("espalier: malformed composite id")
)
