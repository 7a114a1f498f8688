// Package record defines the log record model shared across the pipeline:
// the field-map Record type, redaction metadata, canonical field resolution
// via alias tables, and pre-sanitization validation limits.
package record

import "encoding/json"

// Record is a parsed log record: a mapping from field names to values.
// Records are created by an ingestion source, consumed once, and never
// mutated in place; sanitization yields a new Record.
type Record map[string]any

// Redaction describes one sensitive span that was replaced by a token.
// It never carries the original value.
type Redaction struct {
	Field  string `json:"field"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Entity string `json:"entity"`
	Token  string `json:"token"`
}

// HashedField carries a keyed hash of a redacted field value so downstream
// consumers can correlate records without seeing raw values. The hash is
// deterministic for a fixed secret; changing the secret invalidates
// cross-run correlation by design.
type HashedField struct {
	Field string `json:"field"`
	Hash  string `json:"hash"`
}

// Clone returns a deep copy of the record. Nested maps and slices are
// copied; scalar values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, sub := range val {
			m[k] = cloneValue(sub)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, sub := range val {
			s[i] = cloneValue(sub)
		}
		return s
	default:
		return v
	}
}

// Normalize returns a copy of the record with single-element array values
// unwrapped to their element. Multi-element and empty arrays are left
// unchanged. Some shippers array-wrap every scalar; downstream stages
// expect plain scalars.
func (r Record) Normalize() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = UnwrapValue(v)
	}
	return out
}

// UnwrapValue returns the sole element of a single-element slice, or the
// value unchanged otherwise.
func UnwrapValue(v any) any {
	if s, ok := v.([]any); ok && len(s) == 1 {
		return s[0]
	}
	return v
}

// MarshalBytes serializes the record as compact JSON.
func (r Record) MarshalBytes() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}

// Depth returns the maximum nesting depth of the record. A flat record
// has depth 1.
func (r Record) Depth() int {
	return valueDepth(map[string]any(r), 0)
}

func valueDepth(v any, current int) int {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return current + 1
		}
		max := current + 1
		for _, sub := range val {
			if d := valueDepth(sub, current+1); d > max {
				max = d
			}
		}
		return max
	case Record:
		return valueDepth(map[string]any(val), current)
	case []any:
		if len(val) == 0 {
			return current + 1
		}
		max := current + 1
		for _, sub := range val {
			if d := valueDepth(sub, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}
