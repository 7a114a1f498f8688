package record

import (
	"errors"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/logsift/logsift/internal/config"
)

// ErrInvalid marks records that must be skipped and counted, never
// processed. All validation failures wrap it.
var ErrInvalid = errors.New("invalid record")

// Limits bounds the structural size of a record before it is allowed to
// reach the sanitization engine.
type Limits struct {
	MaxBytes  int // maximum serialized size
	MaxDepth  int // maximum nesting depth
	MaxFields int // maximum top-level field count
}

// DefaultLimits returns the production validation limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:  1 << 20,
		MaxDepth:  20,
		MaxFields: 10000,
	}
}

// Validator rejects malformed or oversized records and checks the
// required-field contract. It is safe for concurrent use; the fastjson
// parsers are pooled.
type Validator struct {
	limits   Limits
	resolver *FieldResolver
	pool     fastjson.ParserPool
}

// NewValidator creates a Validator with the given limits and resolver.
// Zero limit fields fall back to the defaults.
func NewValidator(limits Limits, resolver *FieldResolver) *Validator {
	def := DefaultLimits()
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = def.MaxBytes
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = def.MaxDepth
	}
	if limits.MaxFields <= 0 {
		limits.MaxFields = def.MaxFields
	}
	if resolver == nil {
		resolver = NewFieldResolver(config.LogFormatConfig{})
	}
	return &Validator{limits: limits, resolver: resolver}
}

// ValidateRaw checks a raw NDJSON line against the structural limits
// without fully decoding it. It reports whether the line may proceed to
// record decoding.
func (v *Validator) ValidateRaw(line []byte) error {
	if len(line) > v.limits.MaxBytes {
		return fmt.Errorf("%w: record too large: %d bytes (max %d)", ErrInvalid, len(line), v.limits.MaxBytes)
	}

	p := v.pool.Get()
	defer v.pool.Put(p)

	val, err := p.ParseBytes(line)
	if err != nil {
		// Not JSON; plain-text lines are handled by the source layer.
		return nil
	}
	if val.Type() != fastjson.TypeObject {
		return nil
	}
	obj, _ := val.Object()
	if obj.Len() > v.limits.MaxFields {
		return fmt.Errorf("%w: record has too many fields: %d (max %d)", ErrInvalid, obj.Len(), v.limits.MaxFields)
	}
	if d := jsonDepth(val, 0); d > v.limits.MaxDepth {
		return fmt.Errorf("%w: record nesting too deep: %d levels (max %d)", ErrInvalid, d, v.limits.MaxDepth)
	}
	return nil
}

// Validate checks a decoded record against the structural limits and the
// required-field contract: a record is valid only when both a timestamp
// and a message resolve to non-empty values.
func (v *Validator) Validate(r Record) error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalid)
	}
	if len(r) > v.limits.MaxFields {
		return fmt.Errorf("%w: record has too many fields: %d (max %d)", ErrInvalid, len(r), v.limits.MaxFields)
	}
	if d := r.Depth(); d > v.limits.MaxDepth {
		return fmt.Errorf("%w: record nesting too deep: %d levels (max %d)", ErrInvalid, d, v.limits.MaxDepth)
	}
	if _, _, ok := v.resolver.Timestamp(r); !ok {
		return fmt.Errorf("%w: missing required field: timestamp (or time, ts, @timestamp, date, datetime, created_at, logged_at)", ErrInvalid)
	}
	if _, _, ok := v.resolver.Message(r); !ok {
		return fmt.Errorf("%w: missing required field: message (or msg, text, log, body, content, description, summary)", ErrInvalid)
	}
	return nil
}

// Resolver exposes the field resolver used for validation so callers can
// reuse the same alias configuration.
func (v *Validator) Resolver() *FieldResolver {
	return v.resolver
}

func jsonDepth(val *fastjson.Value, current int) int {
	switch val.Type() {
	case fastjson.TypeObject:
		obj, _ := val.Object()
		max := current + 1
		obj.Visit(func(_ []byte, sub *fastjson.Value) {
			if d := jsonDepth(sub, current+1); d > max {
				max = d
			}
		})
		return max
	case fastjson.TypeArray:
		arr, _ := val.Array()
		max := current + 1
		for _, sub := range arr {
			if d := jsonDepth(sub, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}
