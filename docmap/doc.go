// Package docmap maps application objects onto schemaless document stores.
//
// Espalier keeps documents as plain field mappings while giving each one a
// typed application wrapper, optimistic concurrency control, and stable
// addressing for the sub-documents nested inside it. It works against any
// backend implementing the small driver contract in package driver.
//
// # Documents and Collections
//
// Application types embed a [Document] pointer and satisfy [Object]:
//
//	type Event struct {
//	    *docmap.Document
//	}
//
//	events := docmap.NewCollection(db, docmap.Config{Name: "events"},
//	    func(d *docmap.Document) *Event { return &Event{Document: d} })
//
// A [Collection] is the only way documents are created and loaded, so every
// document carries the binding it needs to save, delete, and compose
// identifiers. [Collection.Find] returns a lazy iterator; [Collection.FindOne]
// and [Collection.LoadByID] return a single document or [ErrNotFound].
//
// # Concurrency
//
// [Document.Save] is compare-and-swap on the update timestamp: if another
// copy of the document saved first, Save fails with [ErrDocumentModified]
// and restores the in-memory metadata it had stamped, leaving the caller's
// data untouched for inspection or retry. [Document.ForceSave] upserts
// unconditionally.
//
// # Sub-documents
//
// Containers describe where sub-documents live inside a parent:
//
//   - [DictContainer] - a mapping of generated key to sub-document
//   - [ListContainer] - an ordered list, each element carrying its key
//   - [SingleContainer] - one sub-document at a fixed field
//
// Container operations hand out proxies: live views that re-derive their
// sub-document from the parent on every access, so aliases never diverge.
// A proxy's [Proxy.ID] is a composite identifier that addresses the
// sub-document from outside; [Collection.LoadProxyByID] turns such an
// identifier back into a proxy by walking the container chain.
//
// # Polymorphism
//
// A [Registry] maps tag values to document factories, letting one
// collection hold a hierarchy of concrete types; [ProxyRegistry] does the
// same for sub-documents. Resolved values narrow back to concrete types
// with [As]:
//
//	concert, err := docmap.As[*Concert](events.FindOne(ctx, filter, nil))
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no document matched a finder
//   - [ErrDocumentModified] - optimistic concurrency check failed
//   - [ErrReadOnly] - save refused on a read-only document
//   - [ErrKeyNotFound] - a key or sub-document address did not resolve
//   - [ErrAuthorizationDenied] - a hook vetoed the operation
//   - [ErrDuplicateTag], [ErrUnresolvedTag] - registry misuse
//   - [ErrTypeMismatch] - stored data shape or view type did not match
//   - [ErrMalformedID] - composite identifier did not fit its chain
package docmap
