// Package sanitize composes detection, keyed hashing, and token
// resolution into per-record sanitization.
//
// Sanitize never mutates its input: it returns a new record in which
// every detected sensitive span is replaced by a stable token, plus the
// redaction metadata and keyed field hashes that keep records
// correlatable without exposing raw values.
package sanitize

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/logsift/logsift/internal/hashutil"
	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/redact"
	"github.com/logsift/logsift/internal/tokenstore"
)

// Metadata keys attached to sanitized records.
const (
	redactionsKey   = "redactions"
	hashedFieldsKey = "hashed_fields"
)

// Result is the output of sanitizing one record.
type Result struct {
	Record       record.Record
	Redactions   []record.Redaction
	HashedFields []record.HashedField
}

// Engine sanitizes records. Safe for concurrent use; the token store is
// the only shared-mutation point.
type Engine struct {
	detector *redact.Detector
	keyer    *hashutil.Keyer
	store    tokenstore.Store
}

// NewEngine creates an Engine from its three collaborators.
func NewEngine(detector *redact.Detector, keyer *hashutil.Keyer, store tokenstore.Store) *Engine {
	return &Engine{detector: detector, keyer: keyer, store: store}
}

// Sanitize normalizes the record, detects sensitive spans in every string
// leaf, and substitutes stable tokens. The serialized result contains no
// substring equal to any detector-matched value (bounded by detector
// recall, not a leakage proof).
func (e *Engine) Sanitize(ctx context.Context, rec record.Record) (Result, error) {
	out := rec.Clone().Normalize()

	var redactions []record.Redaction
	var hashed []record.HashedField

	for _, leaf := range stringLeaves(out) {
		candidates := e.detector.Detect(ctx, leaf.value)
		if len(candidates) == 0 {
			continue
		}

		sanitized, fieldRedactions, err := e.substitute(ctx, leaf.field, leaf.value, candidates)
		if err != nil {
			return Result{}, err
		}
		setPath(out, leaf.path, sanitized)
		redactions = append(redactions, fieldRedactions...)

		// One keyed hash per redacted field, derived from the first
		// detected value so reruns are reproducible.
		hashed = append(hashed, record.HashedField{
			Field: leaf.field,
			Hash:  e.keyer.Hash(candidates[0].Value),
		})
	}

	sort.Slice(redactions, func(i, j int) bool {
		if redactions[i].Field != redactions[j].Field {
			return redactions[i].Field < redactions[j].Field
		}
		return redactions[i].Start < redactions[j].Start
	})
	sort.Slice(hashed, func(i, j int) bool { return hashed[i].Field < hashed[j].Field })

	if len(redactions) > 0 {
		out[redactionsKey] = redactions
		hashedMap := make(map[string]string, len(hashed))
		for _, h := range hashed {
			hashedMap[h.Field] = h.Hash
		}
		out[hashedFieldsKey] = hashedMap
	}

	return Result{Record: out, Redactions: redactions, HashedFields: hashed}, nil
}

// substitute rebuilds value with each candidate span replaced by its
// token. Candidates arrive ordered by start offset and non-overlapping.
func (e *Engine) substitute(ctx context.Context, field, value string, candidates []redact.Candidate) (string, []record.Redaction, error) {
	var b strings.Builder
	b.Grow(len(value))

	redactions := make([]record.Redaction, 0, len(candidates))
	cursor := 0
	for _, c := range candidates {
		fingerprint := e.keyer.Fingerprint(c.Entity, c.Value)
		token, err := e.store.GetOrCreate(ctx, c.Entity, fingerprint)
		if err != nil {
			return "", nil, fmt.Errorf("resolve token for %s span: %w", c.Entity, err)
		}

		b.WriteString(value[cursor:c.Start])
		b.WriteString(token)
		cursor = c.End

		redactions = append(redactions, record.Redaction{
			Field:  field,
			Start:  c.Start,
			End:    c.End,
			Entity: c.Entity,
			Token:  token,
		})
	}
	b.WriteString(value[cursor:])
	return b.String(), redactions, nil
}

type leaf struct {
	path  []string
	field string
	value string
}

// stringLeaves returns every string leaf in the record with its path.
// Paths use dotted notation with numeric indices for slice elements.
func stringLeaves(r record.Record) []leaf {
	var leaves []leaf
	var walk func(path []string, v any)
	walk = func(path []string, v any) {
		switch val := v.(type) {
		case string:
			p := make([]string, len(path))
			copy(p, path)
			leaves = append(leaves, leaf{path: p, field: strings.Join(p, "."), value: val})
		case map[string]any:
			for k, sub := range val {
				walk(append(path, k), sub)
			}
		case []any:
			for i, sub := range val {
				walk(append(path, strconv.Itoa(i)), sub)
			}
		}
	}
	for k, v := range r {
		walk([]string{k}, v)
	}

	// Map iteration order is random; sort for reproducible output.
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].field < leaves[j].field })
	return leaves
}

// setPath writes value at the dotted path inside the record.
func setPath(r record.Record, path []string, value string) {
	var target any = map[string]any(r)
	for _, k := range path[:len(path)-1] {
		switch t := target.(type) {
		case map[string]any:
			target = t[k]
		case []any:
			idx, err := strconv.Atoi(k)
			if err != nil || idx < 0 || idx >= len(t) {
				return
			}
			target = t[idx]
		default:
			return
		}
	}

	last := path[len(path)-1]
	switch t := target.(type) {
	case map[string]any:
		t[last] = value
	case []any:
		if idx, err := strconv.Atoi(last); err == nil && idx >= 0 && idx < len(t) {
			t[idx] = value
		}
	}
}
