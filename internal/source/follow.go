package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/stream"
)

const rotateReopenTimeout = 10 * time.Second

// followStream tails a file: it reads the existing content, then watches
// for appends and emits new lines until Close. Log rotation is followed
// by re-opening the path when FollowRotate is set, otherwise it ends the
// stream.
type followStream struct {
	opts      Options
	validator *record.Validator
	logger    zerolog.Logger

	lines  chan []byte
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}

	file   *os.File
	offset int64
}

func newFollowStream(opts Options, validator *record.Validator, logger zerolog.Logger) (stream.Stream, error) {
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &followStream{
		opts:      opts,
		validator: validator,
		logger:    logger,
		lines:     make(chan []byte, 64),
		errs:      make(chan error, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
		file:      f,
	}
	go s.run(ctx)
	return s, nil
}

// Next returns the next decoded record, blocking until one is appended,
// the stream is closed, or the context ends.
func (s *followStream) Next(ctx context.Context) (record.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, err
	case line, ok := <-s.lines:
		if !ok {
			return nil, stream.ErrDone
		}
		return decodeLine(line, s.validator)
	}
}

func (s *followStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *followStream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.lines)
	defer func() {
		if s.file != nil {
			s.file.Close()
		}
	}()

	if err := s.emitNewContent(ctx); err != nil {
		s.fail(err)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.fail(fmt.Errorf("create watcher: %w", err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.opts.Path); err != nil {
		s.fail(fmt.Errorf("watch input: %w", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				s.fail(fmt.Errorf("watcher closed unexpectedly"))
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				if err := s.emitNewContent(ctx); err != nil {
					s.fail(err)
					return
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if !s.opts.FollowRotate {
					s.logger.Info().Str("path", s.opts.Path).Msg("input rotated, ending stream")
					return
				}
				if err := s.reopenRotated(ctx, watcher); err != nil {
					s.fail(err)
					return
				}
				if err := s.emitNewContent(ctx); err != nil {
					s.fail(err)
					return
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				s.fail(fmt.Errorf("watcher error channel closed"))
				return
			}
			s.fail(fmt.Errorf("watch input: %w", err))
			return
		}
	}
}

// emitNewContent reads from the last known offset to EOF and sends each
// non-empty newline-terminated line. A trailing line without its newline
// is a half-written append; the offset stays before it so the next write
// event re-reads the completed line. An over-limit line is skipped and
// surfaced as record.ErrInvalid; it never ends the stream.
func (s *followStream) emitNewContent(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	if _, err := s.file.Seek(s.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek input: %w", err)
	}

	reader := bufio.NewReaderSize(s.file, 64*1024)
	for {
		line, consumed, err := readTerminatedLine(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil && !errors.Is(err, record.ErrInvalid) {
			return fmt.Errorf("read input: %w", err)
		}
		s.offset += consumed
		if err != nil {
			s.logger.Warn().Str("path", s.opts.Path).Msg("oversized line skipped")
			s.fail(err)
			continue
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)

		select {
		case <-ctx.Done():
			return nil
		case s.lines <- out:
		}
	}
}

// readTerminatedLine reads one newline-terminated line, returning the
// line without its terminator and the bytes consumed including it. A
// trailing line with no newline yields io.EOF and is left for the next
// read; a line over maxLineBytes is consumed through its newline and
// reported as record.ErrInvalid.
func readTerminatedLine(r *bufio.Reader) ([]byte, int64, error) {
	var line []byte
	var consumed int64
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		consumed += int64(len(chunk))
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
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err != nil {
			return nil, 0, err
		}
		if tooLong {
			return nil, consumed, fmt.Errorf("line exceeds %d bytes: %w", maxLineBytes, record.ErrInvalid)
		}
		return bytes.TrimRight(line, "\r\n"), consumed, nil
	}
}

// reopenRotated waits for the rotated path to reappear and resumes from
// offset zero.
func (s *followStream) reopenRotated(ctx context.Context, watcher *fsnotify.Watcher) error {
	s.file.Close()
	s.file = nil

	timeout := time.After(rotateReopenTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout:
			return fmt.Errorf("timeout waiting for rotated input %s", s.opts.Path)
		case <-ticker.C:
			f, err := os.Open(s.opts.Path)
			if err != nil {
				continue
			}
			s.file = f
			s.offset = 0
			if err := watcher.Add(s.opts.Path); err != nil {
				return fmt.Errorf("watch rotated input: %w", err)
			}
			s.logger.Info().Str("path", s.opts.Path).Msg("input rotated, following new file")
			return nil
		}
	}
}

func (s *followStream) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
