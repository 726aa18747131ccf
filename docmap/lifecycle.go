package docmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/espalier/driver"
)

// Save persists the document. With no identifier yet it inserts and writes
// the driver-assigned identifier back onto the document. Otherwise it
// performs an atomic replace conditioned on both the identifier and the
// previous update timestamp still matching storage; a mismatch means
// another copy saved first and Save returns ErrDocumentModified with every
// metadata field restored to its pre-call state (fields that did not exist
// before are removed, not nulled). Any other storage failure triggers the
// same restore before the error is returned.
func (d *Document) Save(ctx context.Context) error {
	return d.b.save(ctx, d, false)
}

// ForceSave persists the document unconditionally, upserting by identifier
// and ignoring the update-timestamp check. Intended for migrating or
// importing documents whose metadata did not originate here.
func (d *Document) ForceSave(ctx context.Context) error {
	return d.b.save(ctx, d, true)
}

// Delete removes the document from storage by identifier, last write wins,
// then removes the identifier from the in-memory object so a later Save
// inserts it as new. Deleting a never-saved document is a no-op.
func (d *Document) Delete(ctx context.Context) error {
	return d.b.deleteDoc(ctx, d)
}

// Save on a bound document delegates here. The metadata update is an
// explicit two-phase operation: record prior values, stamp new ones,
// attempt the storage write, and restore the priors on any failure.
func (b *binding) save(ctx context.Context, d *Document, force bool) error {
	if h := b.cfg.Hooks.PreSave; h != nil {
		if err := h(ctx, d); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthorizationDenied, err)
		}
	}
	if d.readonly {
		return ErrReadOnly
	}

	prior := recordMetadata(d, b)

	stamp := b.nextUpdated(d.data[FieldUpdated])
	d.data[FieldUpdated] = stamp
	if _, ok := d.data[FieldCreated]; !ok {
		d.data[FieldCreated] = stamp
	}
	if b.cfg.Version != nil {
		d.data[FieldVersion] = b.cfg.Version
	}
	if d.tag != "" {
		d.data[b.tagField()] = d.tag
	}

	id, hasID := d.data[FieldID]
	var err error
	switch {
	case !hasID:
		var assigned string
		assigned, err = b.coll.InsertOne(ctx, d.data)
		if err == nil {
			d.data[FieldID] = assigned
		}
	case force:
		err = b.coll.ReplaceOne(ctx, driver.Filter{FieldID: id}, d.data, true)
	default:
		_, err = b.coll.FindOneAndReplace(ctx, driver.Filter{
			FieldID:      id,
			FieldUpdated: prior.updated.value,
		}, d.data)
		if errors.Is(err, driver.ErrNotFound) {
			err = ErrDocumentModified
		}
	}
	if err != nil {
		prior.restore(d)
		return err
	}
	return nil
}

func (b *binding) deleteDoc(ctx context.Context, d *Document) error {
	id, ok := d.data[FieldID]
	if !ok {
		return nil
	}
	if h := b.cfg.Hooks.PreDelete; h != nil {
		if err := h(ctx, d); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthorizationDenied, err)
		}
	}
	_, err := b.coll.FindOneAndDelete(ctx, driver.Filter{FieldID: id})
	if err != nil && !errors.Is(err, driver.ErrNotFound) {
		return err
	}
	delete(d.data, FieldID)
	return nil
}

// nextUpdated produces the new update timestamp. When the clock has not
// advanced past the previous stamp (sub-millisecond consecutive saves), it
// bumps by one millisecond so the concurrency token strictly increases.
func (b *binding) nextUpdated(prev any) time.Time {
	now := b.now()
	if t, ok := asTime(prev); ok && !now.After(t) {
		return t.Add(time.Millisecond)
	}
	return now
}

// asTime recovers a timestamp from the forms drivers round-trip it in.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// priorValue is one recorded metadata field: its value and whether it
// existed before the save stamped new metadata.
type priorValue struct {
	value   any
	present bool
}

// priorMetadata captures every field a save may touch, keyed for restore.
type priorMetadata struct {
	fields  map[string]priorValue
	updated priorValue
}

func recordMetadata(d *Document, b *binding) priorMetadata {
	prior := priorMetadata{fields: make(map[string]priorValue, 4)}
	capture := func(key string) priorValue {
		v, ok := d.data[key]
		pv := priorValue{value: v, present: ok}
		prior.fields[key] = pv
		return pv
	}
	prior.updated = capture(FieldUpdated)
	capture(FieldCreated)
	if b.cfg.Version != nil {
		capture(FieldVersion)
	}
	if d.tag != "" {
		capture(b.tagField())
	}
	return prior
}

// restore puts every recorded field back exactly: prior values reinstated,
// previously absent fields removed.
func (p priorMetadata) restore(d *Document) {
	for key, pv := range p.fields {
		if pv.present {
			d.data[key] = pv.value
		} else {
			delete(d.data, key)
		}
	}
}
