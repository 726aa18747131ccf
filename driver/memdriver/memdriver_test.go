package memdriver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/espalier/driver"
	"github.com/jacentio/espalier/driver/memdriver"
	"github.com/jacentio/espalier/internal/record"
)

func testCollection(t *testing.T) driver.Collection {
	t.Helper()
	return memdriver.New().Collection("events")
}

func mustInsert(t *testing.T, c driver.Collection, rec driver.Record) string {
	t.Helper()
	id, err := c.InsertOne(context.Background(), rec)
	if err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	return id
}

// --- Insert Tests ---

func TestInsertOne_AssignsID(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	rec := driver.Record{"name": "Spring Concert"}
	id, err := c.InsertOne(ctx, rec)
	if err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	if id == "" {
		t.Error("expected a generated identifier")
	}
	// The caller's record is not touched.
	if _, ok := rec["_id"]; ok {
		t.Error("expected the input record to stay clean")
	}

	got, err := c.FindOne(ctx, driver.Filter{"_id": id}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["name"] != "Spring Concert" {
		t.Errorf("expected stored record, got %v", got)
	}
}

func TestInsertOne_ExplicitID(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	id, err := c.InsertOne(ctx, driver.Record{"_id": "evt-1", "name": "x"})
	if err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("expected the explicit identifier back, got %q", id)
	}

	if _, err := c.InsertOne(ctx, driver.Record{"_id": "evt-1"}); err == nil {
		t.Error("expected duplicate identifier to fail")
	}
}

// --- Finder Tests ---

func TestFindOne_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	mustInsert(t, c, driver.Record{"city": "Lyon", "name": "first"})
	mustInsert(t, c, driver.Record{"city": "Lyon", "name": "second"})

	got, err := c.FindOne(ctx, driver.Filter{"city": "Lyon"}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["name"] != "first" {
		t.Errorf("expected the earliest match, got %v", got["name"])
	}
}

func TestFindOne_NotFound(t *testing.T) {
	c := testCollection(t)

	_, err := c.FindOne(context.Background(), driver.Filter{"city": "Atlantis"}, nil)
	if !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFind_FilterAndProjection(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	mustInsert(t, c, driver.Record{"city": "Lyon", "name": "a", "capacity": 300})
	mustInsert(t, c, driver.Record{"city": "Oslo", "name": "b", "capacity": 500})
	mustInsert(t, c, driver.Record{"city": "Lyon", "name": "c", "capacity": 200})

	cur, err := c.Find(ctx, driver.Filter{"city": "Lyon"}, driver.Projection{"name": true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	defer cur.Close()

	var names []string
	for cur.Next(ctx) {
		rec := cur.Record()
		names = append(names, rec["name"].(string))
		if _, ok := rec["capacity"]; ok {
			t.Error("expected capacity projected away")
		}
		if _, ok := rec["_id"]; !ok {
			t.Error("expected identifier kept by an inclusive projection")
		}
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("expected [a c] in insertion order, got %v", names)
	}
}

func TestFind_MixedProjection(t *testing.T) {
	c := testCollection(t)
	mustInsert(t, c, driver.Record{"name": "x"})

	_, err := c.Find(context.Background(), nil, driver.Projection{"name": true, "city": false})
	if !errors.Is(err, record.ErrMixedProjection) {
		t.Errorf("expected ErrMixedProjection, got %v", err)
	}
}

func TestFind_NilFilterValue(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	mustInsert(t, c, driver.Record{"name": "unflagged"})
	mustInsert(t, c, driver.Record{"name": "nulled", "deleted": nil})
	mustInsert(t, c, driver.Record{"name": "flagged", "deleted": true})

	n, err := c.CountDocuments(ctx, driver.Filter{"deleted": nil})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected nil to match missing and null fields, got %d", n)
	}
}

func TestCursor_ContextCancelled(t *testing.T) {
	c := testCollection(t)
	mustInsert(t, c, driver.Record{"name": "x"})

	cur, err := c.Find(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	defer cur.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if cur.Next(cancelled) {
		t.Error("expected Next to stop on a done context")
	}
	if !errors.Is(cur.Err(), context.Canceled) {
		t.Errorf("expected context error, got %v", cur.Err())
	}
}

// --- Isolation Tests ---

func TestRecords_IsolatedFromCaller(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	rec := driver.Record{"name": "x", "nested": map[string]any{"k": 1}}
	id := mustInsert(t, c, rec)

	// Mutating the inserted record afterwards leaves storage alone.
	rec["name"] = "changed"
	rec["nested"].(map[string]any)["k"] = 2

	got, err := c.FindOne(ctx, driver.Filter{"_id": id}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["name"] != "x" {
		t.Errorf("expected stored record unchanged, got %v", got["name"])
	}
	if got["nested"].(map[string]any)["k"] != 1 {
		t.Errorf("expected nested data unchanged, got %v", got["nested"])
	}

	// Mutating a fetched record leaves storage alone too.
	got["name"] = "scribbled"
	again, err := c.FindOne(ctx, driver.Filter{"_id": id}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if again["name"] != "x" {
		t.Errorf("expected fetches to be copies, got %v", again["name"])
	}
}

// --- Replace Tests ---

func TestFindOneAndReplace_ReturnsStored(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	id := mustInsert(t, c, driver.Record{"name": "before", "stale": true})

	got, err := c.FindOneAndReplace(ctx, driver.Filter{"_id": id}, driver.Record{"name": "after"})
	if err != nil {
		t.Fatalf("FindOneAndReplace failed: %v", err)
	}
	if got["name"] != "after" {
		t.Errorf("expected the replacement back, got %v", got)
	}
	if _, ok := got["stale"]; ok {
		t.Error("expected replacement, not merge")
	}
	if got["_id"] != id {
		t.Errorf("expected the identifier preserved, got %v", got["_id"])
	}
}

func TestFindOneAndReplace_NoMatch(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	id := mustInsert(t, c, driver.Record{"rev": 1})

	_, err := c.FindOneAndReplace(ctx, driver.Filter{"_id": id, "rev": 2}, driver.Record{"rev": 3})
	if !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("expected ErrNotFound on a stale condition, got %v", err)
	}
	got, err := c.FindOne(ctx, driver.Filter{"_id": id}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["rev"] != 1 {
		t.Errorf("expected the record untouched, got %v", got["rev"])
	}
}

func TestFindOneAndReplace_TimeToken(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	stamp := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	id := mustInsert(t, c, driver.Record{"_updated": stamp})

	// The same instant in another zone still matches.
	elsewhere := stamp.In(time.FixedZone("CET", 3600))
	if _, err := c.FindOneAndReplace(ctx, driver.Filter{"_id": id, "_updated": elsewhere},
		driver.Record{"_updated": stamp.Add(time.Millisecond)}); err != nil {
		t.Fatalf("expected equal instants to match, got %v", err)
	}

	// The stale instant no longer does.
	_, err := c.FindOneAndReplace(ctx, driver.Filter{"_id": id, "_updated": stamp},
		driver.Record{"_updated": stamp.Add(2 * time.Millisecond)})
	if !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a stale token, got %v", err)
	}
}

func TestReplaceOne_Upsert(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	err := c.ReplaceOne(ctx, driver.Filter{"_id": "evt-9"}, driver.Record{"_id": "evt-9", "name": "x"}, false)
	if !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without upsert, got %v", err)
	}

	if err := c.ReplaceOne(ctx, driver.Filter{"_id": "evt-9"}, driver.Record{"_id": "evt-9", "name": "x"}, true); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := c.FindOne(ctx, driver.Filter{"_id": "evt-9"}, nil)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got["name"] != "x" {
		t.Errorf("expected upserted record, got %v", got)
	}

	// A second upsert replaces in place.
	if err := c.ReplaceOne(ctx, driver.Filter{"_id": "evt-9"}, driver.Record{"_id": "evt-9", "name": "y"}, true); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	n, err := c.CountDocuments(ctx, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one record after repeated upserts, got %d", n)
	}
}

// --- Delete Tests ---

func TestFindOneAndDelete(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t)

	mustInsert(t, c, driver.Record{"name": "a"})
	id := mustInsert(t, c, driver.Record{"name": "b"})
	mustInsert(t, c, driver.Record{"name": "c"})

	got, err := c.FindOneAndDelete(ctx, driver.Filter{"_id": id})
	if err != nil {
		t.Fatalf("FindOneAndDelete failed: %v", err)
	}
	if got["name"] != "b" {
		t.Errorf("expected the deleted record back, got %v", got)
	}
	if _, err := c.FindOneAndDelete(ctx, driver.Filter{"_id": id}); !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("expected ErrNotFound on a second delete, got %v", err)
	}

	// Remaining records keep their order.
	cur, err := c.Find(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	defer cur.Close()
	var names []string
	for cur.Next(ctx) {
		names = append(names, cur.Record()["name"].(string))
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("expected [a c], got %v", names)
	}
}

// --- Database Tests ---

func TestCollections_Independent(t *testing.T) {
	ctx := context.Background()
	db := memdriver.New()

	mustInsert(t, db.Collection("events"), driver.Record{"name": "x"})

	n, err := db.Collection("venues").CountDocuments(ctx, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected collections to be independent, got %d", n)
	}

	// The same name resolves to the same backing collection.
	n, err = db.Collection("events").CountDocuments(ctx, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the named collection to be shared, got %d", n)
	}
}
