// Package output writes run artifacts: the sanitized NDJSON stream,
// the JSON run report, the generated scenario file, and a terminal
// summary.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/logsift/logsift/internal/record"
)

// RecordSink streams sanitized records as NDJSON, optionally wrapped in
// a zstd frame. It implements pipeline.Sink. Not safe for concurrent
// Write; the pipeline funnels records through one goroutine.
type RecordSink struct {
	raw     io.WriteCloser
	zw      *zstd.Encoder
	bw      *bufio.Writer
	written int
}

// NewRecordSink creates a sink over w. With compress set, output is a
// single zstd frame finished on Close.
func NewRecordSink(w io.WriteCloser, compress bool) (*RecordSink, error) {
	s := &RecordSink{raw: w}
	var target io.Writer = w
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create compressor: %w", err)
		}
		s.zw = zw
		target = zw
	}
	s.bw = bufio.NewWriter(target)
	return s, nil
}

// NewFileRecordSink creates a sink writing to path. A ".zst" suffix
// enables compression.
func NewFileRecordSink(path string) (*RecordSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return NewRecordSink(f, strings.HasSuffix(path, ".zst"))
}

// Write appends one record as a JSON line.
func (s *RecordSink) Write(rec record.Record) error {
	data, err := rec.MarshalBytes()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := s.bw.Write(data); err != nil {
		return err
	}
	if err := s.bw.WriteByte('\n'); err != nil {
		return err
	}
	s.written++
	return nil
}

// Written returns the number of records written so far.
func (s *RecordSink) Written() int {
	return s.written
}

// Close flushes buffers, finishes the zstd frame, and closes the
// underlying writer.
func (s *RecordSink) Close() error {
	if err := s.bw.Flush(); err != nil {
		return err
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			return err
		}
	}
	return s.raw.Close()
}

// WriteJSON writes v as indented JSON to w.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSONFile writes v as indented JSON to path.
func WriteJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteJSON(f, v); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteScenarios writes the generated scenarios as one feature file,
// separated by blank lines.
func WriteScenarios(w io.Writer, scenarios []string) error {
	for i, s := range scenarios {
		if i > 0 {
			if _, err := io.WriteString(w, "\n\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	if len(scenarios) > 0 {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteScenariosFile writes the scenario feature file to path.
func WriteScenariosFile(path string, scenarios []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteScenarios(f, scenarios); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
