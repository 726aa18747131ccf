// Package jsondriver implements the espalier driver contract on a single
// JSON file, for small datasets and tooling that wants human-inspectable
// storage.
//
// The whole database lives in one pretty-printed file. Every operation
// takes a sidecar flock, reloads the file, and, for writes, saves it back
// atomically through a temp-file rename, so concurrent processes sharing
// the file stay consistent. Timestamps survive the JSON round trip through
// a small extended encoding; see the codec in this package.
package jsondriver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/jacentio/espalier/driver"
	"github.com/jacentio/espalier/internal/record"
)

// Constants for file locking.
const (
	lockTimeout    = 3 * time.Second
	lockMaxRetries = 3
	lockRetryDelay = 100 * time.Millisecond
)

// Database is a JSON-file-backed collection set.
type Database struct {
	path string
	mu   sync.Mutex
	flk  *flock.Flock

	state fileData
}

// fileData is the on-disk layout: every collection as a record list, plus
// bookkeeping metadata.
type fileData struct {
	Collections map[string][]driver.Record `json:"collections"`
	Metadata    metadata                   `json:"metadata"`
}

type metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New opens the database file, creating state for a missing file without
// touching the disk until the first write. The sidecar lock file is the
// path plus ".lock".
func New(path string) (*Database, error) {
	db := &Database{
		path: path,
		flk:  flock.New(path + ".lock"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := db.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer db.releaseLock()
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

// Collection returns a view of the named collection. Collections come into
// existence on first insert.
func (db *Database) Collection(name string) driver.Collection {
	return &Collection{db: db, name: name}
}

// acquireLock takes the exclusive file lock with retry, bounded by ctx.
func (db *Database) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := db.flk.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("jsondriver: failed to acquire lock: %w", err)
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("jsondriver: failed to acquire lock after %d attempts", lockMaxRetries)
}

func (db *Database) releaseLock() {
	_ = db.flk.Unlock()
}

// load replaces in-memory state with the file contents. A missing or empty
// file loads as an empty database. Caller must hold the lock.
func (db *Database) load() error {
	db.state = fileData{
		Collections: make(map[string][]driver.Record),
		Metadata: metadata{
			Version:   "1.0",
			CreatedAt: time.Now().UTC(),
		},
	}
	data, err := os.ReadFile(db.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsondriver: failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	state, err := decodeFile(data)
	if err != nil {
		return fmt.Errorf("jsondriver: failed to parse %s: %w", db.path, err)
	}
	db.state = state
	return nil
}

// save writes the in-memory state atomically: marshal, write a temp file,
// rename over the original. Caller must hold the lock.
func (db *Database) save() error {
	db.state.Metadata.UpdatedAt = time.Now().UTC()
	data, err := encodeFile(db.state)
	if err != nil {
		return fmt.Errorf("jsondriver: failed to marshal: %w", err)
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("jsondriver: failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("jsondriver: failed to rename file: %w", err)
	}
	return nil
}

// read runs fn against freshly loaded state under the lock.
func (db *Database) read(ctx context.Context, fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.acquireLock(ctx); err != nil {
		return err
	}
	defer db.releaseLock()
	if err := db.load(); err != nil {
		return err
	}
	return fn()
}

// write runs fn against freshly loaded state under the lock and persists
// the result when fn succeeds.
func (db *Database) write(ctx context.Context, fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.acquireLock(ctx); err != nil {
		return err
	}
	defer db.releaseLock()
	if err := db.load(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return db.save()
}

// Collection is a named view into the database file.
type Collection struct {
	db   *Database
	name string
}

func (c *Collection) records() []driver.Record {
	return c.db.state.Collections[c.name]
}

func (c *Collection) setRecords(recs []driver.Record) {
	c.db.state.Collections[c.name] = recs
}

func (c *Collection) Find(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Cursor, error) {
	var matches []driver.Record
	err := c.db.read(ctx, func() error {
		for _, rec := range c.records() {
			if !record.Matches(rec, filter) {
				continue
			}
			projected, err := record.Project(rec, projection)
			if err != nil {
				return err
			}
			matches = append(matches, projected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record.NewSliceCursor(matches), nil
}

func (c *Collection) FindOne(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Record, error) {
	var found driver.Record
	err := c.db.read(ctx, func() error {
		for _, rec := range c.records() {
			if record.Matches(rec, filter) {
				projected, err := record.Project(rec, projection)
				if err != nil {
					return err
				}
				found = projected
				return nil
			}
		}
		return driver.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Collection) InsertOne(ctx context.Context, rec driver.Record) (string, error) {
	var id string
	err := c.db.write(ctx, func() error {
		stored := record.Clone(rec)
		var err error
		id, err = c.storedID(stored, true)
		if err != nil {
			return err
		}
		for _, existing := range c.records() {
			if record.Equal(existing["_id"], stored["_id"]) {
				return fmt.Errorf("jsondriver: duplicate id %q", id)
			}
		}
		c.setRecords(append(c.records(), stored))
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// storedID returns the record's identifier as a string, assigning a fresh
// one when allowed and none is present.
func (c *Collection) storedID(rec driver.Record, assign bool) (string, error) {
	if v, present := rec["_id"]; present {
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	if !assign {
		return "", fmt.Errorf("jsondriver: record has no id")
	}
	id := uuid.NewString()
	rec["_id"] = id
	return id, nil
}

func (c *Collection) FindOneAndReplace(ctx context.Context, filter driver.Filter, rec driver.Record) (driver.Record, error) {
	var replaced driver.Record
	err := c.db.write(ctx, func() error {
		recs := c.records()
		for i, old := range recs {
			if !record.Matches(old, filter) {
				continue
			}
			stored := record.Clone(rec)
			if _, present := stored["_id"]; !present {
				stored["_id"] = old["_id"]
			}
			recs[i] = stored
			replaced = record.Clone(stored)
			return nil
		}
		return driver.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (c *Collection) ReplaceOne(ctx context.Context, filter driver.Filter, rec driver.Record, upsert bool) error {
	return c.db.write(ctx, func() error {
		recs := c.records()
		for i, old := range recs {
			if !record.Matches(old, filter) {
				continue
			}
			stored := record.Clone(rec)
			if _, present := stored["_id"]; !present {
				stored["_id"] = old["_id"]
			}
			recs[i] = stored
			return nil
		}
		if !upsert {
			return driver.ErrNotFound
		}
		stored := record.Clone(rec)
		if _, err := c.storedID(stored, true); err != nil {
			return err
		}
		c.setRecords(append(recs, stored))
		return nil
	})
}

func (c *Collection) FindOneAndDelete(ctx context.Context, filter driver.Filter) (driver.Record, error) {
	var deleted driver.Record
	err := c.db.write(ctx, func() error {
		recs := c.records()
		for i, rec := range recs {
			if !record.Matches(rec, filter) {
				continue
			}
			deleted = rec
			c.setRecords(append(recs[:i], recs[i+1:]...))
			return nil
		}
		return driver.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter driver.Filter) (int64, error) {
	var n int64
	err := c.db.read(ctx, func() error {
		for _, rec := range c.records() {
			if record.Matches(rec, filter) {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
