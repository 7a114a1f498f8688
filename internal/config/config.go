// Package config provides configuration types and helpers for logsift.
package config

import (
	"encoding/json"
	"strings"
	"time"
)

// Config holds the application-wide configuration.
type Config struct {
	Verbose    bool             `mapstructure:"verbose"`
	LogLevel   string           `mapstructure:"log_level"`
	Sanitizer  SanitizerConfig  `mapstructure:"sanitizer"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
	TokenStore TokenStoreConfig `mapstructure:"token_store"`
	LogFormat  LogFormatConfig  `mapstructure:"log_format"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Output     OutputConfig     `mapstructure:"output"`
}

// SanitizerConfig holds configuration for the sanitization engine.
type SanitizerConfig struct {
	// Patterns specifies which detection patterns to use.
	// Available: email, iban, account, card, phone, ssn
	Patterns []string `mapstructure:"patterns"`

	// HashAlgorithm selects the keyed digest: "blake2b" or "hmac-sha256"
	HashAlgorithm string `mapstructure:"hash_algorithm"`

	// HashSecret is the keyed-hash secret. Usually left empty here and
	// supplied via the LOGSIFT_HASH_SECRET environment variable instead.
	HashSecret string `mapstructure:"hash_secret"`
}

// PrivacyConfig holds configuration for the differential privacy layer.
type PrivacyConfig struct {
	// Epsilon is the per-query privacy budget (lower is stronger privacy)
	Epsilon float64 `mapstructure:"epsilon"`

	// Sensitivity is the query sensitivity; 1 for counting queries
	Sensitivity float64 `mapstructure:"sensitivity"`

	// BudgetCeiling caps cumulative epsilon spent across a run.
	// Once exceeded, further aggregate queries are refused.
	BudgetCeiling float64 `mapstructure:"budget_ceiling"`
}

// TokenStoreConfig holds configuration for the durable token store.
type TokenStoreConfig struct {
	// Backend selects the store implementation: "file", "postgres", "memory"
	Backend string `mapstructure:"backend"`

	// Path is the snapshot file location for the file backend
	Path string `mapstructure:"path"`

	// FlushBatchSize is the number of new tokens buffered before a flush
	FlushBatchSize int `mapstructure:"flush_batch_size"`

	// Compress enables zstd compression of file snapshots
	Compress bool `mapstructure:"compress"`

	// DSN is the connection string for the postgres backend
	DSN string `mapstructure:"dsn"`
}

// LogFormatConfig holds optional custom field names for canonical fields.
// If set, the custom key is tried before the built-in aliases.
type LogFormatConfig struct {
	TimestampField string `mapstructure:"timestamp_field"`
	MessageField   string `mapstructure:"message_field"`
	SeverityField  string `mapstructure:"severity_field"`
}

// RecognizerConfig holds configuration for the optional entity-recognizer
// and enrichment capability backed by a local model server.
type RecognizerConfig struct {
	// Enabled controls whether the capability is initialized at all.
	// Disabled is a first-class state: the pipeline degrades to
	// pattern-only detection with a single startup warning.
	Enabled bool `mapstructure:"enabled"`

	// Host is the Ollama API endpoint (e.g., "http://localhost:11434")
	Host string `mapstructure:"host"`

	// Model is the model name used for recognition and enrichment
	Model string `mapstructure:"model"`

	// Timeout bounds each capability call; a timed-out call degrades
	// that record to "no enrichment" instead of stalling the pipeline
	Timeout time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// ChunkSize is the number of records processed per chunk
	ChunkSize int `mapstructure:"chunk_size"`

	// Workers is the number of concurrent sanitization workers
	Workers int `mapstructure:"workers"`

	// JourneyIdleEviction finalizes a journey after this many records
	// pass through its partition without touching the key
	JourneyIdleEviction int `mapstructure:"journey_idle_eviction"`

	// EnrichSample caps the records annotated by the enrichment
	// capability per run; a negative value removes the cap
	EnrichSample int `mapstructure:"enrich_sample"`

	// MaxRecordBytes rejects records larger than this when serialized
	MaxRecordBytes int `mapstructure:"max_record_bytes"`

	// MaxNestingDepth rejects records nested deeper than this
	MaxNestingDepth int `mapstructure:"max_nesting_depth"`

	// MaxFieldCount rejects records with more fields than this
	MaxFieldCount int `mapstructure:"max_field_count"`
}

// OutputConfig holds settings for the sanitized stream and report sinks.
type OutputConfig struct {
	// Compress writes the sanitized NDJSON stream through zstd
	Compress bool `mapstructure:"compress"`
}

// Defaults returns a Config populated with production defaults.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Sanitizer: SanitizerConfig{
			Patterns:      []string{"email", "iban", "ssn", "card", "account", "phone"},
			HashAlgorithm: "blake2b",
		},
		Privacy: PrivacyConfig{
			Epsilon:       1.0,
			Sensitivity:   1.0,
			BudgetCeiling: 10.0,
		},
		TokenStore: TokenStoreConfig{
			Backend:        "file",
			Path:           ".logsift/tokens.ndjson",
			FlushBatchSize: 100,
		},
		Recognizer: RecognizerConfig{
			Host:    "http://localhost:11434",
			Model:   "llama3.2",
			Timeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			ChunkSize:           1000,
			Workers:             4,
			JourneyIdleEviction: 10000,
			EnrichSample:        10,
			MaxRecordBytes:      1 << 20,
			MaxNestingDepth:     20,
			MaxFieldCount:       10000,
		},
	}
}

// Severity represents a normalized log severity level.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
	SeverityUnknown
)

// String returns the string representation of a Severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON implements json.Marshaler for Severity.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler for Severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "dbg", "trace":
		return SeverityDebug
	case "info", "inf", "notice":
		return SeverityInfo
	case "warn", "warning":
		return SeverityWarn
	case "error", "err":
		return SeverityError
	case "fatal", "crit", "critical", "panic":
		return SeverityFatal
	default:
		return SeverityUnknown
	}
}
