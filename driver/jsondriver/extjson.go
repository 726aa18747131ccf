package jsondriver

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jacentio/espalier/driver"
)

// dateKey marks a timestamp in the encoded file: {"$date": "..."} in
// RFC 3339 form. Plain JSON has no timestamp type; without the marker,
// times would come back as bare strings and lose their type across a
// reload. Numbers decode as json.Number for the same reason, so integer
// counters do not surface as floats.
const dateKey = "$date"

func encodeFile(state fileData) ([]byte, error) {
	out := fileData{
		Collections: make(map[string][]driver.Record, len(state.Collections)),
		Metadata:    state.Metadata,
	}
	for name, recs := range state.Collections {
		encoded := make([]driver.Record, len(recs))
		for i, rec := range recs {
			encoded[i] = encodeValue(rec).(driver.Record)
		}
		out.Collections[name] = encoded
	}
	return json.MarshalIndent(out, "", "  ")
}

func decodeFile(data []byte) (fileData, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var state fileData
	if err := dec.Decode(&state); err != nil {
		return fileData{}, err
	}
	if state.Collections == nil {
		state.Collections = make(map[string][]driver.Record)
	}
	for _, recs := range state.Collections {
		for i, rec := range recs {
			recs[i] = decodeValue(rec).(driver.Record)
		}
	}
	return state, nil
}

// encodeValue rewrites a record tree for marshaling, wrapping timestamps
// in their marker object.
func encodeValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return map[string]any{dateKey: tv.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = encodeValue(e)
		}
		return out
	}
	return v
}

// decodeValue undoes encodeValue, restoring marker objects to time.Time.
// A genuine single-field "$date" mapping that fails to parse stays a
// mapping.
func decodeValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		if len(tv) == 1 {
			if s, ok := tv[dateKey].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			}
		}
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = decodeValue(e)
		}
		return out
	}
	return v
}
