// Package journey groups sanitized records into ordered per-correlation-key
// event sequences and collapses them into deduplicated test scenarios.
package journey

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/logsift/logsift/internal/record"
)

// Journey is an ordered sequence of event labels sharing one correlation
// key, built incrementally in stream order.
type Journey struct {
	Key    string
	Labels []string
}

// ResolveKey returns the correlation key for a sanitized record: an
// explicit session or journey id when present, else the first hashed
// field (sorted by field name for stability), else a hash of stable
// record attributes. An empty key means the record joins no journey.
func ResolveKey(rec record.Record) string {
	for _, k := range []string{"session_id", "journey_id"} {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}

	if hashed, ok := rec["hashed_fields"].(map[string]string); ok && len(hashed) > 0 {
		fields := make([]string, 0, len(hashed))
		for f := range hashed {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		return hashed[fields[0]]
	}

	// Fall back to attributes stable across a session.
	if src, ok := rec["source"].(string); ok && src != "" {
		h := fnv.New64a()
		h.Write([]byte(src))
		return fmt.Sprintf("src-%x", h.Sum64())
	}
	return ""
}

// Assembler builds journeys incrementally. A journey finalizes when the
// stream ends or when its key goes idle: more than idleEviction records
// pass through the assembler without touching it. Idle eviction bounds
// memory for unbounded-cardinality key spaces.
//
// Assembler is not safe for concurrent use; the pipeline partitions keys
// across workers so a single worker owns a given key.
type Assembler struct {
	idleEviction int
	open         map[string]*openJourney
	clock        int
}

type openJourney struct {
	labels    []string
	lastTouch int
}

// NewAssembler creates an Assembler. idleEviction <= 0 disables eviction.
func NewAssembler(idleEviction int) *Assembler {
	return &Assembler{
		idleEviction: idleEviction,
		open:         make(map[string]*openJourney),
	}
}

// Append records one event label for the given key, in stream order, and
// returns any journeys finalized by idle eviction during this step.
func (a *Assembler) Append(key, label string) []Journey {
	a.clock++

	j, ok := a.open[key]
	if !ok {
		j = &openJourney{}
		a.open[key] = j
	}
	j.labels = append(j.labels, label)
	j.lastTouch = a.clock

	return a.evictIdle()
}

// FinalizeAll closes every open journey at end-of-stream, ordered by key
// for reproducible output.
func (a *Assembler) FinalizeAll() []Journey {
	keys := make([]string, 0, len(a.open))
	for k := range a.open {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Journey, 0, len(keys))
	for _, k := range keys {
		out = append(out, Journey{Key: k, Labels: a.open[k].labels})
	}
	a.open = make(map[string]*openJourney)
	return out
}

// OpenCount returns the number of journeys currently held in memory.
func (a *Assembler) OpenCount() int {
	return len(a.open)
}

func (a *Assembler) evictIdle() []Journey {
	if a.idleEviction <= 0 {
		return nil
	}

	var evicted []Journey
	for k, j := range a.open {
		if a.clock-j.lastTouch >= a.idleEviction {
			evicted = append(evicted, Journey{Key: k, Labels: j.labels})
			delete(a.open, k)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].Key < evicted[j].Key })
	return evicted
}
