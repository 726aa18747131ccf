package record

import (
	"context"

	"github.com/jacentio/espalier/driver"
)

// SliceCursor adapts a snapshot of records to the driver cursor contract.
// The embedded drivers materialize matches under their locks and iterate
// afterwards, so cursors never block writers.
type SliceCursor struct {
	records []driver.Record
	pos     int
	current driver.Record
	err     error
}

// NewSliceCursor returns a cursor over records, which the cursor takes
// ownership of.
func NewSliceCursor(records []driver.Record) *SliceCursor {
	return &SliceCursor{records: records}
}

// Next advances to the next record. It returns false when the snapshot is
// exhausted or the context is done.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.records) {
		return false
	}
	c.current = c.records[c.pos]
	c.pos++
	return true
}

// Record returns the record Next advanced to.
func (c *SliceCursor) Record() driver.Record { return c.current }

// Err returns the error that ended iteration, if any.
func (c *SliceCursor) Err() error { return c.err }

// Close releases nothing; snapshots have no backing resources.
func (c *SliceCursor) Close() error { return nil }
