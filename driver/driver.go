// Package driver defines the storage contract consumed by the docmap core.
//
// A driver exposes a database of named collections with atomic
// single-document semantics. The core passes filters through opaquely: a
// [Filter] is a set of field/value pairs matched by equality, and a nil
// filter value matches both an explicit null and an absent field. Drivers
// own the byte format of stored records and must deep-copy records across
// the boundary in both directions, so in-process aliasing of document data
// never extends into storage.
//
// Bundled implementations: memdriver (in-memory), jsondriver (single JSON
// file), dynamodriver (Amazon DynamoDB).
package driver

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an operation that addresses a single record
// matches nothing.
var ErrNotFound = errors.New("driver: record not found")

// Record is the raw stored form of a document.
type Record = map[string]any

// Filter selects records by field equality. A nil value matches records
// where the field is null or absent.
type Filter = map[string]any

// Projection limits the fields returned by a read. A non-empty projection
// with true values is inclusive (named fields plus the record identifier
// unless it is explicitly excluded); one with false values is exclusive.
// Mixing the two modes is an error, except for excluding the identifier
// from an otherwise inclusive projection.
type Projection map[string]bool

// Database is a handle to a set of named collections.
type Database interface {
	// Collection returns the collection with the given name, creating it
	// lazily if the backend materializes collections on first use.
	Collection(name string) Collection
}

// Collection is the per-collection operation set required by the core.
// Every operation is atomic with respect to a single record.
type Collection interface {
	// Find returns a cursor over all records matching the filter, with the
	// projection applied. Record order is the backend's natural order.
	Find(ctx context.Context, filter Filter, projection Projection) (Cursor, error)

	// FindOne returns the first record matching the filter, or ErrNotFound.
	FindOne(ctx context.Context, filter Filter, projection Projection) (Record, error)

	// InsertOne stores a new record and returns the identifier the driver
	// assigned to it. The stored copy carries the identifier under "_id".
	InsertOne(ctx context.Context, rec Record) (string, error)

	// FindOneAndReplace atomically replaces the single record matching the
	// filter and returns the stored record after replacement, or
	// ErrNotFound if nothing matched. The match-and-swap is the compare
	// step of the core's optimistic-concurrency save.
	FindOneAndReplace(ctx context.Context, filter Filter, rec Record) (Record, error)

	// ReplaceOne replaces the record matching the filter. With upsert set,
	// a missing record is inserted instead.
	ReplaceOne(ctx context.Context, filter Filter, rec Record, upsert bool) error

	// FindOneAndDelete atomically removes the single record matching the
	// filter and returns it, or ErrNotFound if nothing matched.
	FindOneAndDelete(ctx context.Context, filter Filter) (Record, error)

	// CountDocuments returns the number of records matching the filter.
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
}

// Cursor iterates over find results one record at a time.
//
//	cur, err := coll.Find(ctx, filter, nil)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next(ctx) {
//	    rec := cur.Record()
//	    ...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	// Next advances to the next record, returning false at the end of the
	// result set or on error.
	Next(ctx context.Context) bool

	// Record returns the current record. Valid only after a true Next.
	Record() Record

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases resources held by the cursor. Safe to call more than
	// once.
	Close() error
}
