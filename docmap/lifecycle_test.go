package docmap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/espalier/docmap"
	"github.com/jacentio/espalier/driver/memdriver"
)

// --- Save Tests ---

func TestSave_AssignsIdentifier(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"name": "Spring Concert"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	id, err := ev.ID()
	if err != nil {
		t.Fatalf("expected identifier after save: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty identifier")
	}
	n, err := events.CountDocuments(ctx, docmap.M{docmap.FieldID: id}, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the saved document in storage, got %d", n)
	}
}

func TestSave_StampsTimestamps(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 14, 9, 26, 53, 589_793_238, time.UTC)}
	events := docmap.NewCollection(memdriver.New(), docmap.Config{Name: "events", Clock: clk.Now}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	created, ok := ev.Get(docmap.FieldCreated).(time.Time)
	if !ok {
		t.Fatalf("expected time.Time creation stamp, got %T", ev.Get(docmap.FieldCreated))
	}
	updated, ok := ev.Get(docmap.FieldUpdated).(time.Time)
	if !ok {
		t.Fatalf("expected time.Time update stamp, got %T", ev.Get(docmap.FieldUpdated))
	}
	if !created.Equal(updated) {
		t.Errorf("expected matching stamps on first save, got %v and %v", created, updated)
	}
	want := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	if !updated.Equal(want) {
		t.Errorf("expected millisecond-truncated stamp %v, got %v", want, updated)
	}
	if updated.Location() != time.UTC {
		t.Errorf("expected UTC stamp, got %v", updated.Location())
	}
}

func TestSave_PreservesCreation(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	events := docmap.NewCollection(memdriver.New(), docmap.Config{Name: "events", Clock: clk.Now}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	created := ev.Get(docmap.FieldCreated).(time.Time)

	clk.now = clk.now.Add(5 * time.Second)
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if got := ev.Get(docmap.FieldCreated).(time.Time); !got.Equal(created) {
		t.Errorf("expected creation stamp to survive, got %v", got)
	}
	updated := ev.Get(docmap.FieldUpdated).(time.Time)
	if !updated.After(created) {
		t.Errorf("expected update stamp to advance, got %v", updated)
	}
}

func TestSave_TokenAdvancesOnStalledClock(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	events := docmap.NewCollection(memdriver.New(), docmap.Config{Name: "events", Clock: clk.Now}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var stamps []time.Time
	for i := 0; i < 3; i++ {
		if err := ev.Save(ctx); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		stamps = append(stamps, ev.Get(docmap.FieldUpdated).(time.Time))
	}

	for i := 1; i < len(stamps); i++ {
		if d := stamps[i].Sub(stamps[i-1]); d != time.Millisecond {
			t.Errorf("expected a one-millisecond step between saves, got %v", d)
		}
	}
}

func TestSave_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"name": "Spring Concert", "capacity": 300})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	id, err := ev.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}

	first, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	second, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}

	first.Set("capacity", 350)
	if err := first.Save(ctx); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}

	staleUpdated := second.Get(docmap.FieldUpdated)
	staleCreated := second.Get(docmap.FieldCreated)
	second.Set("capacity", 400)
	err = second.Save(ctx)
	if !errors.Is(err, docmap.ErrDocumentModified) {
		t.Fatalf("expected ErrDocumentModified, got %v", err)
	}

	// The losing copy keeps its stale metadata so a retry starts clean.
	if got := second.Get(docmap.FieldUpdated); got != staleUpdated {
		t.Errorf("expected update stamp restored to %v, got %v", staleUpdated, got)
	}
	if got := second.Get(docmap.FieldCreated); got != staleCreated {
		t.Errorf("expected creation stamp restored to %v, got %v", staleCreated, got)
	}

	// Storage still holds the first writer's data.
	current, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	if got := current.Get("capacity"); got != 350 {
		t.Errorf("expected the first writer's value, got %v", got)
	}
}

func TestSave_RollbackRemovesStampsOnPhantom(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	// An identifier that matches nothing in storage fails the guarded
	// replace, and the stamps added during the attempt come back off.
	ev, err := events.Instantiate(docmap.M{docmap.FieldID: "phantom", "name": "x"})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	err = ev.Save(ctx)
	if !errors.Is(err, docmap.ErrDocumentModified) {
		t.Fatalf("expected ErrDocumentModified, got %v", err)
	}
	if ev.Contains(docmap.FieldUpdated) {
		t.Error("expected update stamp removed after failed save")
	}
	if ev.Contains(docmap.FieldCreated) {
		t.Error("expected creation stamp removed after failed save")
	}
}

func TestForceSave_OverwritesConcurrent(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"capacity": 300})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	id, err := ev.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}

	first, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	second, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}

	first.Set("capacity", 350)
	if err := first.Save(ctx); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}
	second.Set("capacity", 400)
	if err := second.ForceSave(ctx); err != nil {
		t.Fatalf("ForceSave failed: %v", err)
	}

	current, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	if got := current.Get("capacity"); got != 400 {
		t.Errorf("expected the forced value, got %v", got)
	}
}

func TestForceSave_CreatesMissing(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.Instantiate(docmap.M{docmap.FieldID: "fixed-id", "name": "x"})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if err := ev.ForceSave(ctx); err != nil {
		t.Fatalf("ForceSave failed: %v", err)
	}

	loaded, err := events.LoadByID(ctx, "fixed-id", nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	if loaded.Get("name") != "x" {
		t.Errorf("expected upserted document, got %v", loaded.Data())
	}
	// Regular saves take over once the record exists.
	loaded.Set("name", "y")
	if err := loaded.Save(ctx); err != nil {
		t.Errorf("Save after ForceSave failed: %v", err)
	}
}

func TestSave_ReadOnly(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"name": "x"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ev.SetReadOnly(true)

	if err := ev.Save(ctx); !errors.Is(err, docmap.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Save, got %v", err)
	}
	if err := ev.ForceSave(ctx); !errors.Is(err, docmap.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from ForceSave, got %v", err)
	}
	if ev.Contains(docmap.FieldUpdated) {
		t.Error("expected no stamps on a rejected save")
	}
	n, err := events.CountDocuments(ctx, docmap.M{}, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing written, got %d documents", n)
	}
}

func TestSave_VersionStamp(t *testing.T) {
	ctx := context.Background()
	events := docmap.NewCollection(memdriver.New(), docmap.Config{Name: "events", Version: 2}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := ev.Get(docmap.FieldVersion); got != 2 {
		t.Errorf("expected version stamp 2, got %v", got)
	}

	// A stale stored version is overwritten on the next save.
	ev.Set(docmap.FieldVersion, 1)
	if err := ev.ForceSave(ctx); err != nil {
		t.Fatalf("ForceSave failed: %v", err)
	}
	if got := ev.Get(docmap.FieldVersion); got != 2 {
		t.Errorf("expected version stamp refreshed to 2, got %v", got)
	}
}

// --- Save Hook Tests ---

func TestHooks_PreSaveDenied(t *testing.T) {
	ctx := context.Background()
	errFrozen := errors.New("catalog frozen")
	events := docmap.NewCollection(memdriver.New(), docmap.Config{
		Name: "events",
		Hooks: docmap.Hooks{
			PreSave: func(ctx context.Context, d *docmap.Document) error { return errFrozen },
		},
	}, newEvent)

	ev, err := events.New(docmap.M{"name": "x"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = ev.Save(ctx)
	if !errors.Is(err, docmap.ErrAuthorizationDenied) || !errors.Is(err, errFrozen) {
		t.Errorf("expected wrapped ErrAuthorizationDenied, got %v", err)
	}
	if ev.Contains(docmap.FieldUpdated) {
		t.Error("expected no stamps after a denied save")
	}
}

func TestHooks_PreSaveRunsBeforeReadOnlyCheck(t *testing.T) {
	ctx := context.Background()
	calls := 0
	events := docmap.NewCollection(memdriver.New(), docmap.Config{
		Name: "events",
		Hooks: docmap.Hooks{
			PreSave: func(ctx context.Context, d *docmap.Document) error {
				calls++
				return nil
			},
		},
	}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ev.SetReadOnly(true)
	if err := ev.Save(ctx); !errors.Is(err, docmap.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the hook to run before the read-only rejection, got %d calls", calls)
	}
}

// --- Delete Tests ---

func TestDelete_RemovesDocument(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"name": "x"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := ev.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := events.CountDocuments(ctx, docmap.M{}, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty collection, got %d", n)
	}
	// The identifier comes off so a later save re-inserts.
	if ev.Contains(docmap.FieldID) {
		t.Error("expected identifier removed after delete")
	}
}

func TestDelete_Unsaved(t *testing.T) {
	ctx := context.Background()
	hookCalls := 0
	events := docmap.NewCollection(memdriver.New(), docmap.Config{
		Name: "events",
		Hooks: docmap.Hooks{
			PreDelete: func(ctx context.Context, d *docmap.Document) error {
				hookCalls++
				return nil
			},
		},
	}, newEvent)

	ev, err := events.New(docmap.M{"name": "x"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Delete(ctx); err != nil {
		t.Errorf("expected deleting an unsaved document to be a no-op, got %v", err)
	}
	if hookCalls != 0 {
		t.Errorf("expected no hook call without an identifier, got %d", hookCalls)
	}
}

func TestDelete_AlreadyGone(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	id, err := ev.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	other, err := events.LoadByID(ctx, id, nil)
	if err != nil {
		t.Fatalf("LoadByID failed: %v", err)
	}
	if err := other.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// A second delete through the stale copy succeeds quietly.
	if err := ev.Delete(ctx); err != nil {
		t.Errorf("expected deleting a missing document to succeed, got %v", err)
	}
}

func TestDelete_ThenSaveReinserts(t *testing.T) {
	ctx := context.Background()
	events := newEventCollection(t)

	ev, err := events.New(docmap.M{"name": "x"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	oldID, err := ev.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}

	if err := ev.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save after delete failed: %v", err)
	}
	newID, err := ev.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	if newID == oldID {
		t.Errorf("expected a fresh identifier on re-insert, got %q again", newID)
	}
}

func TestHooks_PreDeleteDenied(t *testing.T) {
	ctx := context.Background()
	errLocked := errors.New("record locked")
	events := docmap.NewCollection(memdriver.New(), docmap.Config{
		Name: "events",
		Hooks: docmap.Hooks{
			PreDelete: func(ctx context.Context, d *docmap.Document) error { return errLocked },
		},
	}, newEvent)

	ev, err := events.New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ev.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	err = ev.Delete(ctx)
	if !errors.Is(err, docmap.ErrAuthorizationDenied) || !errors.Is(err, errLocked) {
		t.Errorf("expected wrapped ErrAuthorizationDenied, got %v", err)
	}
	n, err := events.CountDocuments(ctx, docmap.M{}, nil)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the document to survive a denied delete, got %d", n)
	}
}

// --- Tag Stamp Tests ---

func TestSave_TagStampRollback(t *testing.T) {
	ctx := context.Background()
	registry := newHappeningRegistry(t)
	happenings := docmap.NewCollectionWithRegistry(memdriver.New(), docmap.Config{Name: "happenings"},
		registry, func(d *docmap.Document) Happening { return &GeneralEvent{Document: d} })

	concert, err := happenings.NewTagged("concert", nil)
	if err != nil {
		t.Fatalf("NewTagged failed: %v", err)
	}
	doc := concert.Doc()
	doc.Set(docmap.FieldID, "phantom")

	err = doc.Save(ctx)
	if !errors.Is(err, docmap.ErrDocumentModified) {
		t.Fatalf("expected ErrDocumentModified, got %v", err)
	}
	if doc.Contains(docmap.DefaultTagField) {
		t.Error("expected tag stamp removed after failed save")
	}

	// A clean save stamps it for good.
	doc.Unset(docmap.FieldID)
	if err := doc.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := doc.Get(docmap.DefaultTagField); got != "concert" {
		t.Errorf("expected tag stamp, got %v", got)
	}
}
