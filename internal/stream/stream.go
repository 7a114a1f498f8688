// Package stream provides a lazy, finite, non-restartable record sequence.
//
// The Stream contract makes chunk boundaries and memory bounds explicit:
// a consumer pulls records one at a time (or in bounded chunks) and a
// drained stream stays drained. Sources produce Streams; the pipeline
// consumes them exactly once.
package stream

import (
	"context"
	"errors"

	"github.com/logsift/logsift/internal/record"
)

// ErrDone signals the end of a stream. Next never returns records after
// the first ErrDone.
var ErrDone = errors.New("stream exhausted")

// Stream is a lazy, finite, non-restartable sequence of records.
// Implementations are not safe for concurrent Next calls.
type Stream interface {
	// Next returns the next record. It returns ErrDone when the stream
	// is exhausted, and the context error when ctx is cancelled.
	Next(ctx context.Context) (record.Record, error)

	// Close releases underlying resources. Close is idempotent.
	Close() error
}

// Func adapts a pull function into a Stream.
type Func func(ctx context.Context) (record.Record, error)

// Next implements Stream.
func (f Func) Next(ctx context.Context) (record.Record, error) { return f(ctx) }

// Close implements Stream.
func (f Func) Close() error { return nil }

// FromSlice returns a Stream over the given records, mainly for tests.
func FromSlice(records []record.Record) Stream {
	i := 0
	return Func(func(ctx context.Context) (record.Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(records) {
			return nil, ErrDone
		}
		r := records[i]
		i++
		return r, nil
	})
}

// Concat chains streams end to end, draining each in order.
func Concat(streams ...Stream) Stream {
	idx := 0
	return Func(func(ctx context.Context) (record.Record, error) {
		for idx < len(streams) {
			r, err := streams[idx].Next(ctx)
			if errors.Is(err, ErrDone) {
				_ = streams[idx].Close()
				idx++
				continue
			}
			return r, err
		}
		return nil, ErrDone
	})
}

// NextChunk pulls up to n records from the stream. It returns the records
// read so far together with ErrDone once the stream is exhausted; a final
// short chunk and ErrDone may arrive together.
func NextChunk(ctx context.Context, s Stream, n int) ([]record.Record, error) {
	if n <= 0 {
		n = 1
	}
	chunk := make([]record.Record, 0, n)
	for len(chunk) < n {
		r, err := s.Next(ctx)
		if err != nil {
			return chunk, err
		}
		chunk = append(chunk, r)
	}
	return chunk, nil
}
