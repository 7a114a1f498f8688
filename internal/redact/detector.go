// Package redact detects sensitive spans in log text.
//
// Detection has two layers: a fixed catalog of high-confidence regular
// expressions with validation predicates, and an optional injected entity
// recognizer contributing lower-precision spans. Pattern matches win on
// overlapping spans; candidates are returned ordered by start offset.
// Detection itself has no side effects and performs no substitution.
package redact

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Layer identifies which detection layer produced a candidate.
type Layer int

const (
	LayerPattern Layer = iota
	LayerCapability
)

// Candidate is one detected sensitive span within a text value.
type Candidate struct {
	Entity string // entity kind: EMAIL, IBAN, ACCOUNT, ...
	Start  int    // byte offset of the span start
	End    int    // byte offset one past the span end
	Value  string // the matched text
	Layer  Layer
}

// Span is a recognizer-reported entity span.
type Span struct {
	Entity string
	Start  int
	End    int
}

// Recognizer is the optional capability layer: an injected entity
// recognizer returning lower-precision spans. Absence is a first-class
// configuration state, not an error path.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// Detector finds sensitive spans using the pattern catalog and, when
// configured, the recognizer capability. Safe for concurrent use.
type Detector struct {
	patterns   []Pattern
	recognizer Recognizer
	logger     zerolog.Logger

	warnOnce sync.Once
	failOnce sync.Once
}

// NewDetector creates a Detector over the named patterns. If names is
// empty the default pattern set is used. recognizer may be nil; detection
// then degrades to pattern-only with a one-time warning at first use.
func NewDetector(names []string, recognizer Recognizer, logger zerolog.Logger) *Detector {
	patterns := GetPatterns(names)
	if len(patterns) == 0 {
		patterns = GetPatterns(DefaultPatterns())
	}
	return &Detector{
		patterns:   patterns,
		recognizer: recognizer,
		logger:     logger,
	}
}

// Detect returns the sensitive spans found in text, ordered by start
// offset. Overlapping spans are resolved in favor of the pattern layer;
// within a layer the earlier, longer span wins.
func (d *Detector) Detect(ctx context.Context, text string) []Candidate {
	candidates := d.patternCandidates(text)
	candidates = dedupeOverlaps(candidates)

	for _, span := range d.capabilitySpans(ctx, text) {
		if overlapsAny(span.Start, span.End, candidates) {
			continue
		}
		candidates = append(candidates, Candidate{
			Entity: span.Entity,
			Start:  span.Start,
			End:    span.End,
			Value:  text[span.Start:span.End],
			Layer:  LayerCapability,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})
	return candidates
}

func (d *Detector) patternCandidates(text string) []Candidate {
	var out []Candidate
	for _, p := range d.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if p.Validate != nil && !p.Validate(match) {
				continue
			}
			out = append(out, Candidate{
				Entity: p.Entity,
				Start:  loc[0],
				End:    loc[1],
				Value:  match,
				Layer:  LayerPattern,
			})
		}
	}
	return out
}

func (d *Detector) capabilitySpans(ctx context.Context, text string) []Span {
	if d.recognizer == nil {
		d.warnOnce.Do(func() {
			d.logger.Warn().Msg("entity recognizer not configured; detection degrades to pattern layer only")
		})
		return nil
	}

	spans, err := d.recognizer.Recognize(ctx, text)
	if err != nil {
		d.failOnce.Do(func() {
			d.logger.Warn().Err(err).Msg("entity recognizer failed; continuing with pattern layer only")
		})
		return nil
	}

	valid := spans[:0]
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		valid = append(valid, s)
	}
	return valid
}

// dedupeOverlaps keeps a non-overlapping subset of candidates, preferring
// earlier starts and, on equal starts, longer spans.
func dedupeOverlaps(candidates []Candidate) []Candidate {
	// Stable sort keeps catalog order for identical spans, so the more
	// specific pattern claims the span.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	var out []Candidate
	for _, c := range candidates {
		if len(out) == 0 || c.Start >= out[len(out)-1].End {
			out = append(out, c)
		}
	}
	return out
}

func overlapsAny(start, end int, candidates []Candidate) bool {
	for _, c := range candidates {
		if start < c.End && end > c.Start {
			return true
		}
	}
	return false
}
