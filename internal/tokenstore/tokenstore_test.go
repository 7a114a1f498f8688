package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/logsift/logsift/internal/logging"
)

func TestMintDeterministic(t *testing.T) {
	t1 := Mint("ACCOUNT", "fp-1")
	t2 := Mint("ACCOUNT", "fp-1")
	if t1 != t2 {
		t.Errorf("Mint() not deterministic: %s != %s", t1, t2)
	}
	if !IsToken(t1) {
		t.Errorf("Mint() = %q, not in token format", t1)
	}
	if Mint("ACCOUNT", "fp-1") == Mint("PHONE", "fp-1") {
		t.Error("Mint() identical across namespaces")
	}
}

func TestMintNoCollisions(t *testing.T) {
	// Bounded no-collision: a large sample of distinct fingerprints
	// must mint distinct tokens.
	seen := make(map[string]string, 20000)
	for i := 0; i < 20000; i++ {
		fp := fmt.Sprintf("fingerprint-%d", i)
		token := Mint("ACCOUNT", fp)
		if prev, ok := seen[token]; ok {
			t.Fatalf("Mint collision: %q and %q both yield %s", prev, fp, token)
		}
		seen[token] = fp
	}
}

func TestMemoryStoreIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "ACCOUNT", "fp-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := s.GetOrCreate(ctx, "ACCOUNT", "fp-a")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if first != second {
		t.Errorf("GetOrCreate() returned %s then %s for same fingerprint", first, second)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestFileStorePersistsAndReloads(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tokens.ndjson")
			ctx := context.Background()

			s, err := NewFile(path, logging.Nop(), WithBatchSize(2), WithCompression(compress))
			if err != nil {
				t.Fatalf("NewFile() error = %v", err)
			}

			var tokens []string
			for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
				tok, err := s.GetOrCreate(ctx, "ACCOUNT", fp)
				if err != nil {
					t.Fatalf("GetOrCreate(%s) error = %v", fp, err)
				}
				tokens = append(tokens, tok)
			}
			if err := s.Close(ctx); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			// Reload from disk: same tokens, no re-minting drift.
			reloaded, err := NewFile(path, logging.Nop(), WithCompression(compress))
			if err != nil {
				t.Fatalf("NewFile(reload) error = %v", err)
			}
			if reloaded.Len() != 3 {
				t.Errorf("reloaded Len() = %d, want 3", reloaded.Len())
			}
			for i, fp := range []string{"fp-1", "fp-2", "fp-3"} {
				tok, err := reloaded.GetOrCreate(ctx, "ACCOUNT", fp)
				if err != nil {
					t.Fatalf("GetOrCreate(%s) after reload error = %v", fp, err)
				}
				if tok != tokens[i] {
					t.Errorf("token for %s changed across reload: %s != %s", fp, tok, tokens[i])
				}
			}
			_ = reloaded.Close(ctx)
		})
	}
}

func TestFileStoreFlushBatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.ndjson")
	ctx := context.Background()

	s, err := NewFile(path, logging.Nop(), WithBatchSize(100))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if _, err := s.GetOrCreate(ctx, "ACCOUNT", "fp-only"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	// Below the batch threshold nothing is persisted yet.
	fresh, err := NewFile(path, logging.Nop())
	if err != nil {
		t.Fatalf("NewFile(pre-flush) error = %v", err)
	}
	if fresh.Len() != 0 {
		t.Errorf("Len() before flush = %d, want 0", fresh.Len())
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	flushed, err := NewFile(path, logging.Nop())
	if err != nil {
		t.Fatalf("NewFile(post-flush) error = %v", err)
	}
	if flushed.Len() != 1 {
		t.Errorf("Len() after flush = %d, want 1", flushed.Len())
	}
	_ = s.Close(ctx)
}

func TestFileStoreConcurrentMintingMatchesSerial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.ndjson")
	ctx := context.Background()

	s, err := NewFile(path, logging.Nop())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	const workers = 8
	const values = 200

	results := make([]map[string]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			local := make(map[string]string, values)
			for i := 0; i < values; i++ {
				fp := fmt.Sprintf("fp-%d", i) // all workers overlap on every value
				tok, err := s.GetOrCreate(ctx, "ACCOUNT", fp)
				if err != nil {
					t.Errorf("GetOrCreate() error = %v", err)
					return
				}
				local[fp] = tok
			}
			results[w] = local
		}(w)
	}
	wg.Wait()

	if s.Len() != values {
		t.Errorf("Len() = %d, want %d (no duplicate mints)", s.Len(), values)
	}

	// Every worker observed the same token per fingerprint, and it
	// matches a single-threaded mint over the same input.
	serial := NewMemory()
	for i := 0; i < values; i++ {
		fp := fmt.Sprintf("fp-%d", i)
		want, _ := serial.GetOrCreate(ctx, "ACCOUNT", fp)
		for w := 0; w < workers; w++ {
			if results[w][fp] != want {
				t.Fatalf("worker %d token for %s = %s, want %s", w, fp, results[w][fp], want)
			}
		}
	}
	_ = s.Close(ctx)
}

func TestFileStoreBrokenAfterFlushFailure(t *testing.T) {
	// Point the store at a path whose parent is a file, so appends fail.
	dir := t.TempDir()
	s, err := NewFile(filepath.Join(dir, "tokens.ndjson"), logging.Nop(), WithBatchSize(1))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	s.path = filepath.Join(dir, "missing", "sub", "tokens.ndjson")

	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, "ACCOUNT", "fp-x"); !errors.Is(err, ErrFlush) {
		t.Fatalf("GetOrCreate() error = %v, want ErrFlush", err)
	}

	// The store now refuses to mint against unflushed state.
	if _, err := s.GetOrCreate(ctx, "ACCOUNT", "fp-y"); !errors.Is(err, ErrFlush) {
		t.Errorf("GetOrCreate() after broken flush error = %v, want ErrFlush", err)
	}
}
