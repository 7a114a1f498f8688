// Package privacy implements epsilon-differentially-private publication
// of aggregate counts via the Laplace mechanism.
//
// The aggregator only ever receives pre-aggregated category counts, never
// per-record data. Each Publish call over k categories spends k*epsilon
// of a tracked cumulative budget; once the configured ceiling is
// exceeded, further queries are refused instead of silently degrading
// the guarantee.
package privacy

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// ErrBudgetExhausted is returned when a publication would exceed the
// cumulative epsilon ceiling. The remaining counts stay unpublished;
// they are never fabricated.
var ErrBudgetExhausted = errors.New("privacy budget exhausted")

// Aggregator publishes noised counts under a tracked epsilon budget.
// Safe for concurrent use.
type Aggregator struct {
	epsilon     float64
	sensitivity float64
	ceiling     float64
	logger      zerolog.Logger

	mu    sync.Mutex
	spent float64
}

// NewAggregator creates an Aggregator. Epsilon and sensitivity must be
// positive; a zero ceiling disables the budget check.
func NewAggregator(epsilon, sensitivity, ceiling float64, logger zerolog.Logger) (*Aggregator, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %v", epsilon)
	}
	if sensitivity <= 0 {
		return nil, fmt.Errorf("sensitivity must be positive, got %v", sensitivity)
	}
	return &Aggregator{
		epsilon:     epsilon,
		sensitivity: sensitivity,
		ceiling:     ceiling,
		logger:      logger,
	}, nil
}

// Publish returns noised versions of the exact per-category counts.
// Each category is one independent query consuming epsilon of budget.
// Noised counts are clamped at zero; the exact counts must be discarded
// by the caller after publication.
func (a *Aggregator) Publish(counts map[string]int) (map[string]int, error) {
	cost := float64(len(counts)) * a.epsilon

	a.mu.Lock()
	if a.ceiling > 0 && a.spent+cost > a.ceiling {
		spent := a.spent
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: spent %.3f, query costs %.3f, ceiling %.3f", ErrBudgetExhausted, spent, cost, a.ceiling)
	}
	a.spent += cost
	a.mu.Unlock()

	scale := a.sensitivity / a.epsilon
	noised := make(map[string]int, len(counts))
	for category, exact := range counts {
		noise, err := laplace(scale)
		if err != nil {
			return nil, fmt.Errorf("sample noise: %w", err)
		}
		v := int(math.Round(float64(exact) + noise))
		if v < 0 {
			v = 0
		}
		noised[category] = v
	}

	a.logger.Debug().Int("categories", len(counts)).Float64("epsilon_spent", a.Spent()).Msg("published noised counts")
	return noised, nil
}

// Spent returns the cumulative epsilon consumed so far.
func (a *Aggregator) Spent() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent
}

// Remaining returns the budget left before the ceiling, or +Inf when no
// ceiling is configured.
func (a *Aggregator) Remaining() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ceiling <= 0 {
		return math.Inf(1)
	}
	return a.ceiling - a.spent
}

// laplace draws one sample from Laplace(0, scale) using inverse-CDF
// sampling over a cryptographically strong uniform.
func laplace(scale float64) (float64, error) {
	u, err := uniformOpen()
	if err != nil {
		return 0, err
	}
	// u is uniform in (-1/2, 1/2); invert the Laplace CDF.
	return -scale * math.Copysign(math.Log(1-2*math.Abs(u)), u), nil
}

// uniformOpen returns a uniform sample in the open interval (-1/2, 1/2),
// excluding the endpoints so the log above is finite.
func uniformOpen() (float64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		// 53 random bits -> uniform in [0, 1).
		u := float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
		if u == 0 {
			continue
		}
		return u - 0.5, nil
	}
}
