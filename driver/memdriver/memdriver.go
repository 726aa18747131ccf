// Package memdriver implements the espalier driver contract with plain
// in-process maps. It backs tests and ephemeral workloads; nothing is
// persisted.
//
// Records are deep-copied at the boundary in both directions, so callers
// never share storage with the driver. Iteration follows insertion order,
// which keeps finder results deterministic.
package memdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/espalier/driver"
	"github.com/jacentio/espalier/internal/record"
)

// Database is an in-memory collection set. The zero value is not usable;
// call New.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it empty on first use.
func (db *Database) Collection(name string) driver.Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		c = &Collection{docs: make(map[string]driver.Record)}
		db.collections[name] = c
	}
	return c
}

// Collection is one named record set guarded by a mutex. Reads snapshot
// matching records, so cursors stay valid while writers proceed.
type Collection struct {
	mu    sync.RWMutex
	docs  map[string]driver.Record
	order []string
}

func (c *Collection) Find(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Cursor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var records []driver.Record
	for _, id := range c.order {
		rec := c.docs[id]
		if !record.Matches(rec, filter) {
			continue
		}
		projected, err := record.Project(rec, projection)
		if err != nil {
			return nil, err
		}
		records = append(records, projected)
	}
	return record.NewSliceCursor(records), nil
}

func (c *Collection) FindOne(ctx context.Context, filter driver.Filter, projection driver.Projection) (driver.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		rec := c.docs[id]
		if record.Matches(rec, filter) {
			return record.Project(rec, projection)
		}
	}
	return nil, driver.ErrNotFound
}

func (c *Collection) InsertOne(ctx context.Context, rec driver.Record) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := record.Clone(rec)
	id, ok := stored["_id"].(string)
	if !ok {
		if _, present := stored["_id"]; present {
			id = fmt.Sprint(stored["_id"])
		} else {
			id = uuid.NewString()
			stored["_id"] = id
		}
	}
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("memdriver: duplicate id %q", id)
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return id, nil
}

func (c *Collection) FindOneAndReplace(ctx context.Context, filter driver.Filter, rec driver.Record) (driver.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		old := c.docs[id]
		if !record.Matches(old, filter) {
			continue
		}
		stored := record.Clone(rec)
		if _, present := stored["_id"]; !present {
			stored["_id"] = old["_id"]
		}
		c.docs[id] = stored
		return record.Clone(stored), nil
	}
	return nil, driver.ErrNotFound
}

func (c *Collection) ReplaceOne(ctx context.Context, filter driver.Filter, rec driver.Record, upsert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		old := c.docs[id]
		if !record.Matches(old, filter) {
			continue
		}
		stored := record.Clone(rec)
		if _, present := stored["_id"]; !present {
			stored["_id"] = old["_id"]
		}
		c.docs[id] = stored
		return nil
	}
	if !upsert {
		return driver.ErrNotFound
	}
	stored := record.Clone(rec)
	id, ok := stored["_id"].(string)
	if !ok {
		if _, present := stored["_id"]; present {
			id = fmt.Sprint(stored["_id"])
		} else {
			id = uuid.NewString()
			stored["_id"] = id
		}
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return nil
}

func (c *Collection) FindOneAndDelete(ctx context.Context, filter driver.Filter) (driver.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.order {
		rec := c.docs[id]
		if !record.Matches(rec, filter) {
			continue
		}
		delete(c.docs, id)
		c.order = append(c.order[:i], c.order[i+1:]...)
		return rec, nil
	}
	return nil, driver.ErrNotFound
}

func (c *Collection) CountDocuments(ctx context.Context, filter driver.Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, rec := range c.docs {
		if record.Matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

