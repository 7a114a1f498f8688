// Package enrich defines the external-capability interfaces the pipeline
// consumes (entity recognition, record enrichment, event classification)
// and the built-in implementations: an Ollama-backed model capability and
// a rule-based classifier.
//
// Capabilities are best-effort and independently failable. Absence or
// failure of a capability degrades the affected record, never the run.
package enrich

import (
	"context"
	"errors"

	"github.com/logsift/logsift/internal/record"
)

// Annotations are pass-through enrichment results attached to the run
// report, keyed by annotation name.
type Annotations map[string]string

// Enricher annotates a sanitized record. Implementations must be safe
// for concurrent use and respect context cancellation.
type Enricher interface {
	Enrich(ctx context.Context, rec record.Record) (Annotations, error)
}

// Classifier assigns an event label to a sanitized record. It is a total
// function: unmatched input yields the default label, never an error.
type Classifier interface {
	Classify(rec record.Record) string
}

// DefaultLabel is the classification for records matching no rule.
const DefaultLabel = "generic_event"

// Common capability errors.
var (
	// ErrUnavailable indicates the capability backend is not reachable.
	ErrUnavailable = errors.New("enrichment capability is not reachable")

	// ErrInvalidResponse indicates the backend returned an unparseable
	// response.
	ErrInvalidResponse = errors.New("capability returned invalid response")
)
