// Package pipeline orchestrates the full sanitization run: streaming
// intake, concurrent sanitization, classification, journey assembly,
// scenario generation, compliance evaluation, and privacy-preserving
// publication of aggregate counts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/compliance"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/enrich"
	"github.com/logsift/logsift/internal/journey"
	"github.com/logsift/logsift/internal/privacy"
	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/sanitize"
	"github.com/logsift/logsift/internal/stream"
	"github.com/logsift/logsift/internal/tokenstore"
)

// Sink receives each sanitized record in stream order.
type Sink interface {
	Write(rec record.Record) error
}

// Deps are the orchestrator's collaborators. Validator, Engine, Store,
// Classifier, and Aggregator are required; the rest are optional.
type Deps struct {
	Validator  *record.Validator
	Engine     *sanitize.Engine
	Store      tokenstore.Store
	Classifier enrich.Classifier
	Enricher   enrich.Enricher
	Aggregator *privacy.Aggregator
	Compliance *compliance.BankingEngine
	Fraud      *compliance.FraudEngine
	Sink       Sink
	Logger     zerolog.Logger
}

// Orchestrator drives one run over a record stream.
type Orchestrator struct {
	cfg  config.PipelineConfig
	deps Deps

	enrichWarn sync.Once
}

// New creates an Orchestrator. Zero worker or chunk settings fall back
// to the defaults.
func New(cfg config.PipelineConfig, deps Deps) *Orchestrator {
	def := config.Defaults().Pipeline
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.JourneyIdleEviction == 0 {
		cfg.JourneyIdleEviction = def.JourneyIdleEviction
	}
	if cfg.EnrichSample == 0 {
		cfg.EnrichSample = def.EnrichSample
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// workerResult carries one record through the parallel sanitize phase,
// indexed so stream order survives the fan-out.
type workerResult struct {
	rec     record.Record
	label   string
	spans   int
	summary string
	err     error
}

// Run processes the stream to completion. Context cancellation is a
// graceful stop: intake halts, in-flight records drain, and the report
// covers everything processed so far. A token store flush failure halts
// the run; the error wraps tokenstore.ErrFlush.
func (o *Orchestrator) Run(ctx context.Context, src stream.Stream) (*Result, error) {
	start := time.Now()
	state := newRunState(o.cfg.Workers, o.cfg.JourneyIdleEviction)

	var runErr error

intake:
	for {
		chunk, invalid, err := o.readChunk(ctx, src)
		state.skipped += invalid

		if perr := o.processChunk(ctx, chunk, state); perr != nil {
			runErr = perr
			break intake
		}

		switch {
		case err == nil:
		case errors.Is(err, stream.ErrDone):
			break intake
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			o.deps.Logger.Info().Msg("intake stopped, draining")
			break intake
		default:
			runErr = fmt.Errorf("read stream: %w", err)
			break intake
		}
	}

	result := o.finalize(state, start)

	// The mapping batch must land before the run is declared done.
	if runErr == nil && o.deps.Store != nil {
		if err := o.deps.Store.Flush(context.WithoutCancel(ctx)); err != nil {
			runErr = err
		}
	}
	return result, runErr
}

// readChunk pulls up to ChunkSize records, counting and skipping invalid
// lines instead of ending the chunk.
func (o *Orchestrator) readChunk(ctx context.Context, src stream.Stream) ([]record.Record, int, error) {
	chunk := make([]record.Record, 0, o.cfg.ChunkSize)
	invalid := 0

	for len(chunk) < o.cfg.ChunkSize {
		rec, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, record.ErrInvalid) {
				invalid++
				continue
			}
			return chunk, invalid, err
		}
		chunk = append(chunk, rec)
	}
	return chunk, invalid, nil
}

// processChunk sanitizes and classifies the chunk across the worker
// pool, then feeds the ordered results through journey assembly. The
// token store is the only state shared between workers.
func (o *Orchestrator) processChunk(ctx context.Context, chunk []record.Record, state *runState) error {
	if len(chunk) == 0 {
		return nil
	}

	results := make([]workerResult, len(chunk))

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(chunk); i += o.cfg.Workers {
				results[i] = o.processRecord(ctx, chunk[i], state, w)
			}
		}(w)
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			if errors.Is(res.err, tokenstore.ErrFlush) {
				return res.err
			}
			o.deps.Logger.Warn().Err(res.err).Msg("record skipped")
			state.skipped++
			continue
		}

		if o.deps.Sink != nil {
			if err := o.deps.Sink.Write(res.rec); err != nil {
				return fmt.Errorf("write sanitized record: %w", err)
			}
		}

		state.records++
		state.redactions += res.spans
		if res.summary != "" {
			state.enrichment = append(state.enrichment, res.summary)
		}

		ev := compliance.Event{Record: res.rec, Label: res.label}
		if o.deps.Compliance != nil {
			o.deps.Compliance.Observe(ev)
		}
		if o.deps.Fraud != nil {
			o.deps.Fraud.Observe(ev)
		}

		if key := journey.ResolveKey(res.rec); key != "" {
			state.appendJourney(key, res.label)
		}
	}
	return nil
}

// processRecord validates, sanitizes, enriches, and classifies one
// record, tallying its label into the worker's counter shard.
func (o *Orchestrator) processRecord(ctx context.Context, rec record.Record, state *runState, w int) workerResult {
	if err := o.deps.Validator.Validate(rec); err != nil {
		return workerResult{err: err}
	}

	result, err := o.deps.Engine.Sanitize(ctx, rec)
	if err != nil {
		return workerResult{err: err}
	}

	summary := o.enrich(ctx, result.Record, state)

	label := o.deps.Classifier.Classify(result.Record)
	state.counts[w][label]++

	return workerResult{rec: result.Record, label: label, spans: len(result.Redactions), summary: summary}
}

// enrich annotates one sanitized record, consuming a slot of the per-run
// sample. A failing capability warns once and the record continues
// without its annotation; later records are still attempted.
func (o *Orchestrator) enrich(ctx context.Context, rec record.Record, state *runState) string {
	if o.deps.Enricher == nil || !state.takeEnrichSlot(o.cfg.EnrichSample) {
		return ""
	}

	annotations, err := o.deps.Enricher.Enrich(ctx, rec)
	if err != nil {
		o.enrichWarn.Do(func() {
			o.deps.Logger.Warn().Err(err).Msg("enrichment degraded, continuing without annotations")
		})
		return ""
	}
	return annotations["summary"]
}

// runState accumulates per-run aggregates. Counter maps are sharded per
// worker and merged at finalize; journeys are partitioned by key hash so
// exactly one assembler owns any given key. Sanitized records flow
// through to the sink and the rule engines without being retained.
type runState struct {
	counts     []map[string]int
	assemblers []*journey.Assembler
	generator  *journey.Generator

	scenarios  []string
	enrichment []string

	enrichAttempts atomic.Int64

	records    int
	skipped    int
	redactions int
}

// takeEnrichSlot consumes one slot of the enrichment sample. A negative
// limit means no cap.
func (s *runState) takeEnrichSlot(limit int) bool {
	if limit < 0 {
		return true
	}
	return s.enrichAttempts.Add(1) <= int64(limit)
}

func newRunState(workers, idle int) *runState {
	s := &runState{
		counts:     make([]map[string]int, workers),
		assemblers: make([]*journey.Assembler, workers),
		generator:  journey.NewGenerator(),
	}
	for i := 0; i < workers; i++ {
		s.counts[i] = make(map[string]int)
		s.assemblers[i] = journey.NewAssembler(idle)
	}
	return s
}

func (s *runState) appendJourney(key, label string) {
	h := fnv.New32a()
	h.Write([]byte(key))
	p := int(h.Sum32()) % len(s.assemblers)
	if p < 0 {
		p += len(s.assemblers)
	}

	for _, j := range s.assemblers[p].Append(key, label) {
		s.emitScenario(j)
	}
}

func (s *runState) emitScenario(j journey.Journey) {
	if sc, ok := s.generator.Generate(j); ok {
		s.scenarios = append(s.scenarios, sc.Gherkin)
	}
}

func (s *runState) mergedCounts() map[string]int {
	merged := make(map[string]int)
	for _, shard := range s.counts {
		for label, n := range shard {
			merged[label] += n
		}
	}
	return merged
}
