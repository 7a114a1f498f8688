// Package tokenstore owns the durable mapping from (namespace,
// fingerprint) to stable token. It is the only contended shared-mutation
// point in the pipeline; implementations serialize the read-check-create
// sequence per fingerprint, not per store.
//
// Plaintext values never enter this package: callers pass keyed
// fingerprints computed by hashutil.
package tokenstore

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Token format: [TOKEN_<24 uppercase hex chars>].
const (
	tokenPrefix = "[TOKEN_"
	tokenSuffix = "]"
	tokenBytes  = 12
)

// ErrFlush marks a persistent flush failure. Once flushing fails for
// good, the store refuses to mint further tokens: referential integrity
// across runs can no longer be guaranteed, so the pipeline must halt.
var ErrFlush = errors.New("token store flush failed")

// Entry is one persisted token mapping.
type Entry struct {
	Namespace   string `json:"namespace"`
	Fingerprint string `json:"fingerprint"`
	Token       string `json:"token"`
}

// Store maps (namespace, fingerprint) pairs to stable tokens.
// Implementations are safe for concurrent use.
type Store interface {
	// GetOrCreate returns the token for the fingerprint, minting and
	// recording a new one on first sight. Identical inputs always yield
	// the identical token for the store's lifetime.
	GetOrCreate(ctx context.Context, namespace, fingerprint string) (string, error)

	// Flush persists entries minted since the last flush.
	Flush(ctx context.Context) error

	// Close flushes pending entries and releases resources.
	Close(ctx context.Context) error

	// Len returns the number of known mappings.
	Len() int
}

// Mint derives the token for a fingerprint. Minting is deterministic, so
// a post-crash restart coins the same token for a previously-seen
// fingerprint even if the mapping batch was lost before a flush.
func Mint(namespace, fingerprint string) string {
	h, _ := blake2b.New(tokenBytes, nil)
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	digest := h.Sum(nil)
	return tokenPrefix + strings.ToUpper(hex.EncodeToString(digest)) + tokenSuffix
}

// IsToken reports whether s has the token literal shape.
func IsToken(s string) bool {
	return strings.HasPrefix(s, tokenPrefix) && strings.HasSuffix(s, tokenSuffix) &&
		len(s) == len(tokenPrefix)+2*tokenBytes+len(tokenSuffix)
}

type key struct {
	namespace   string
	fingerprint string
}
