// Package hashutil provides the keyed digests used for referential
// integrity: field hashes and token-store fingerprints. Digests are
// deterministic for a fixed secret; plaintext is never recoverable
// without it.
package hashutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// DefaultSecret is used when no secret is configured. Deployments relying
// on it get a mandatory warning: the hashing guarantee is weakened because
// the key is public.
const DefaultSecret = "logsift-default-secret"

// Algorithm names accepted by NewKeyer.
const (
	AlgoBlake2b    = "blake2b"
	AlgoHMACSHA256 = "hmac-sha256"
)

// Keyer computes keyed 256-bit digests of sensitive values.
// Safe for concurrent use.
type Keyer struct {
	algo          string
	secret        []byte
	defaultSecret bool

	logger   zerolog.Logger
	warnOnce sync.Once
}

// NewKeyer creates a Keyer for the given algorithm and secret. An empty
// secret falls back to DefaultSecret; the fallback is observable via
// UsingDefaultSecret and is warned about exactly once on first use.
func NewKeyer(algo, secret string, logger zerolog.Logger) (*Keyer, error) {
	switch strings.ToLower(algo) {
	case "", AlgoBlake2b:
		algo = AlgoBlake2b
	case AlgoHMACSHA256:
		algo = AlgoHMACSHA256
	default:
		return nil, fmt.Errorf("unknown hash algorithm: %s (supported: %s, %s)", algo, AlgoBlake2b, AlgoHMACSHA256)
	}

	k := &Keyer{algo: algo, secret: []byte(secret), logger: logger}
	if secret == "" {
		k.secret = []byte(DefaultSecret)
		k.defaultSecret = true
	}

	// blake2b keys are capped at 64 bytes; longer secrets are pre-hashed.
	if algo == AlgoBlake2b && len(k.secret) > 64 {
		sum := sha256.Sum256(k.secret)
		k.secret = sum[:]
	}
	return k, nil
}

// Hash returns the hex-encoded keyed 256-bit digest of value.
func (k *Keyer) Hash(value string) string {
	k.warnIfDefault()
	return hex.EncodeToString(k.digest([]byte(value)))
}

// Fingerprint returns the token-store fingerprint for a value within a
// namespace. The namespace is bound into the digest so equal values in
// different namespaces produce distinct fingerprints.
func (k *Keyer) Fingerprint(namespace, value string) string {
	k.warnIfDefault()
	payload := make([]byte, 0, len(namespace)+len(value)+1)
	payload = append(payload, namespace...)
	payload = append(payload, 0)
	payload = append(payload, value...)
	return hex.EncodeToString(k.digest(payload))
}

// UsingDefaultSecret reports whether the Keyer fell back to the built-in
// secret. Reports must surface this so a misconfigured deployment is
// never indistinguishable from a configured one.
func (k *Keyer) UsingDefaultSecret() bool {
	return k.defaultSecret
}

// Algorithm returns the configured algorithm name.
func (k *Keyer) Algorithm() string {
	return k.algo
}

func (k *Keyer) digest(payload []byte) []byte {
	switch k.algo {
	case AlgoHMACSHA256:
		mac := hmac.New(sha256.New, k.secret)
		mac.Write(payload)
		return mac.Sum(nil)
	default:
		h, err := blake2b.New256(k.secret)
		if err != nil {
			// Key length is validated in NewKeyer; unreachable.
			panic(err)
		}
		h.Write(payload)
		return h.Sum(nil)
	}
}

func (k *Keyer) warnIfDefault() {
	if !k.defaultSecret {
		return
	}
	k.warnOnce.Do(func() {
		k.logger.Warn().Msg("LOGSIFT_HASH_SECRET not set; using built-in default secret, hashed values are not confidential")
	})
}
