// Package record implements the in-process document operations the
// embedded drivers share: equality matching, projection, and deep copying
// of decoded record trees.
package record

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/jacentio/espalier/driver"
)

const idField = "_id"

// ErrMixedProjection is returned when a projection lists both included and
// excluded fields, which leaves the fate of unlisted fields undefined.
var ErrMixedProjection = errors.New("record: projection mixes included and excluded fields")

// Matches reports whether every filter field matches the record by
// equality. A nil filter value matches a field that is null or missing;
// any other value requires the field to be present and equal.
func Matches(rec driver.Record, filter driver.Filter) bool {
	for field, want := range filter {
		got, present := rec[field]
		if want == nil {
			if present && got != nil {
				return false
			}
			continue
		}
		if !present || !Equal(got, want) {
			return false
		}
	}
	return true
}

// Equal compares two stored values, coercing across the numeric and
// timestamp representations different decoders produce for the same
// document.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return va == vb
		}
	case bool:
		if vb, ok := b.(bool); ok {
			return va == vb
		}
	case time.Time:
		tb, ok := toTime(b)
		return ok && va.Equal(tb)
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := toTime(a)
		return ok && ta.Equal(tb)
	}
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

// toTime recovers a timestamp from the forms decoders produce.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// toFloat widens any numeric representation for comparison. Stored
// integers fit float64 exactly within the ranges documents use.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Project copies the record through a projection. True values list the
// fields to keep, false values list the fields to drop; the two modes
// cannot be mixed except for the identifier, which is kept by default in
// keep-mode and may be dropped from either. A nil or empty projection
// copies everything.
func Project(rec driver.Record, proj driver.Projection) (driver.Record, error) {
	if len(proj) == 0 {
		return Clone(rec), nil
	}
	var inclusive, exclusive bool
	for field, keep := range proj {
		if field == idField {
			continue
		}
		if keep {
			inclusive = true
		} else {
			exclusive = true
		}
	}
	if inclusive && exclusive {
		return nil, ErrMixedProjection
	}
	if !inclusive && !exclusive {
		// Only the identifier is listed; its polarity picks the mode.
		inclusive = proj[idField]
	}

	out := make(driver.Record, len(rec))
	if inclusive {
		for field, keep := range proj {
			if !keep {
				continue
			}
			if v, ok := rec[field]; ok {
				out[field] = CloneValue(v)
			}
		}
		if _, listed := proj[idField]; !listed {
			if v, ok := rec[idField]; ok {
				out[idField] = CloneValue(v)
			}
		}
		return out, nil
	}
	for field, v := range rec {
		if keep, listed := proj[field]; listed && !keep {
			continue
		}
		out[field] = CloneValue(v)
	}
	return out, nil
}

// Clone deep-copies a record: mappings and lists recursively, scalars as
// values.
func Clone(rec driver.Record) driver.Record {
	if rec == nil {
		return nil
	}
	out := make(driver.Record, len(rec))
	for k, v := range rec {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies one stored value.
func CloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = CloneValue(e)
		}
		return out
	}
	return v
}
