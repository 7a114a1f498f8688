package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/stream"
)

const maxLineBytes = 4 << 20

// NewJSONLines is the "json-lines" connector factory. It reads
// newline-delimited JSON; a line that is not a JSON object degrades to a
// plain-text record with the whole line as its message. With
// opts.Follow set the stream stays open and tails the file.
func NewJSONLines(opts Options, validator *record.Validator, logger zerolog.Logger) (stream.Stream, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("json-lines connector requires a path")
	}

	if opts.Follow {
		return newFollowStream(opts, validator, logger)
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	return &jsonLinesStream{
		file:      f,
		reader:    bufio.NewReaderSize(f, 64*1024),
		validator: validator,
	}, nil
}

type jsonLinesStream struct {
	file      *os.File
	reader    *bufio.Reader
	validator *record.Validator
	done      bool
}

// Next returns the next decoded record. A validation failure or an
// over-limit line surfaces as record.ErrInvalid without ending the
// stream; callers count and skip.
func (s *jsonLinesStream) Next(ctx context.Context) (record.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.done {
			return nil, stream.ErrDone
		}

		line, err := s.readLine()
		if err == io.EOF {
			s.done = true
			return nil, stream.ErrDone
		}
		if err != nil {
			if errors.Is(err, record.ErrInvalid) {
				return nil, err
			}
			s.done = true
			return nil, fmt.Errorf("read input: %w", err)
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return decodeLine(line, s.validator)
	}
}

// readLine returns the next line without its terminator. The final line
// is returned even without a trailing newline; io.EOF marks end of
// input. A line over maxLineBytes is consumed through its newline and
// reported as record.ErrInvalid so the lines after it stay reachable.
func (s *jsonLinesStream) readLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				tooLong = true
				line = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		if tooLong {
			return nil, fmt.Errorf("line exceeds %d bytes: %w", maxLineBytes, record.ErrInvalid)
		}
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
}

func (s *jsonLinesStream) Close() error {
	s.done = true
	return s.file.Close()
}

// decodeLine validates and decodes one input line. Non-JSON lines become
// plain-text records so mixed-format files keep flowing.
func decodeLine(line []byte, validator *record.Validator) (record.Record, error) {
	if validator != nil {
		if err := validator.ValidateRaw(line); err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(line)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var rec record.Record
		if err := json.Unmarshal(trimmed, &rec); err == nil {
			return rec, nil
		}
	}

	return record.Record{"message": strings.TrimRight(string(trimmed), "\r")}, nil
}
