package tokenstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

const (
	shardCount        = 16
	defaultBatchSize  = 100
	flushAttempts     = 3
	flushBackoffStart = 50 * time.Millisecond
)

// FileStore is a durable Store backed by an append-only NDJSON file.
// New entries are buffered and appended in batches; with compression
// enabled each batch is written as an independent zstd frame, so the file
// remains appendable and a reader just decodes the concatenated frames.
//
// A crash between flushes loses only the unflushed batch, and because
// minting is deterministic a restart re-mints identical tokens, so the
// loss does not break cross-run referential consistency.
type FileStore struct {
	path      string
	batchSize int
	compress  bool
	logger    zerolog.Logger

	shards [shardCount]struct {
		mu      sync.RWMutex
		mapping map[key]string
	}

	pendingMu sync.Mutex
	pending   []Entry
	broken    bool // set after a persistent flush failure

	encoder *zstd.Encoder
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithBatchSize overrides the flush batch size (default 100).
func WithBatchSize(n int) FileOption {
	return func(s *FileStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithCompression enables zstd compression of persisted batches.
func WithCompression(enabled bool) FileOption {
	return func(s *FileStore) { s.compress = enabled }
}

// NewFile opens (or creates) a file-backed store at path and loads any
// previously persisted mappings.
func NewFile(path string, logger zerolog.Logger, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
	for i := range s.shards {
		s.shards[i].mapping = make(map[key]string)
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.encoder = enc
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create token store directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreate implements Store. The read-check-create sequence is atomic
// per shard, so concurrent callers never mint different tokens for the
// same fingerprint.
func (s *FileStore) GetOrCreate(ctx context.Context, namespace, fingerprint string) (string, error) {
	k := key{namespace, fingerprint}
	shard := &s.shards[shardIndex(fingerprint)]

	shard.mu.RLock()
	token, ok := shard.mapping[k]
	shard.mu.RUnlock()
	if ok {
		return token, nil
	}

	s.pendingMu.Lock()
	broken := s.broken
	s.pendingMu.Unlock()
	if broken {
		// Minting against unflushed state after a durability failure
		// would silently drop mappings.
		return "", fmt.Errorf("%w: store is read-only after flush failure", ErrFlush)
	}

	shard.mu.Lock()
	if token, ok = shard.mapping[k]; ok {
		shard.mu.Unlock()
		return token, nil
	}
	token = Mint(namespace, fingerprint)
	shard.mapping[k] = token
	shard.mu.Unlock()

	s.pendingMu.Lock()
	s.pending = append(s.pending, Entry{Namespace: namespace, Fingerprint: fingerprint, Token: token})
	needFlush := len(s.pending) >= s.batchSize
	s.pendingMu.Unlock()

	if needFlush {
		if err := s.Flush(ctx); err != nil {
			return "", err
		}
	}
	return token, nil
}

// Flush appends all pending entries to the store file, retrying with
// bounded backoff. A persistent failure marks the store broken and
// returns ErrFlush; the pipeline must halt rather than continue minting.
func (s *FileStore) Flush(ctx context.Context) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	if s.broken {
		return ErrFlush
	}

	payload, err := s.encodeBatch(s.pending)
	if err != nil {
		return fmt.Errorf("encode token batch: %w", err)
	}

	backoff := flushBackoffStart
	var lastErr error
	for attempt := 0; attempt < flushAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = s.appendFile(payload); lastErr == nil {
			s.pending = s.pending[:0]
			return nil
		}
		s.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("token store flush failed, retrying")
	}

	s.broken = true
	s.logger.Error().Err(lastErr).Msg("token store flush failed persistently; refusing further mints")
	return fmt.Errorf("%w: %v", ErrFlush, lastErr)
}

// Close flushes pending entries and releases the encoder.
func (s *FileStore) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if s.encoder != nil {
		s.encoder.Close()
	}
	return err
}

// Len implements Store.
func (s *FileStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].mapping)
		s.shards[i].mu.RUnlock()
	}
	return n
}

func (s *FileStore) encodeBatch(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	if !s.compress {
		return buf.Bytes(), nil
	}
	return s.encoder.EncodeAll(buf.Bytes(), nil), nil
}

func (s *FileStore) appendFile(payload []byte) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token store: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	if s.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("decompress token store: %w", err)
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	loaded := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			s.logger.Warn().Err(err).Msg("skipping corrupt token store entry")
			continue
		}
		shard := &s.shards[shardIndex(e.Fingerprint)]
		shard.mapping[key{e.Namespace, e.Fingerprint}] = e.Token
		loaded++
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("scan token store: %w", err)
	}

	if loaded > 0 {
		s.logger.Debug().Int("entries", loaded).Str("path", s.path).Msg("loaded token store")
	}
	return nil
}

func shardIndex(fingerprint string) int {
	if len(fingerprint) == 0 {
		return 0
	}
	// Fingerprints are uniformly distributed hex digests; the first byte
	// is as good as any hash.
	return int(fingerprint[0]) % shardCount
}
