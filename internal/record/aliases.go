package record

import (
	"github.com/logsift/logsift/internal/config"
)

// Built-in aliases: the first key present in the record with a non-empty
// value counts as the canonical field.
var (
	timestampAliases = []string{
		"timestamp", "time", "ts", "@timestamp",
		"date", "datetime", "created_at", "logged_at",
	}
	messageAliases = []string{
		"message", "msg", "text", "log",
		"body", "content", "description", "summary",
	}
	severityAliases = []string{
		"severity", "level", "log_level", "priority", "loglevel",
	}
)

// FieldResolver resolves canonical timestamp/message/severity fields
// against a record, trying an optional custom key before the built-in
// alias tables.
type FieldResolver struct {
	cfg config.LogFormatConfig
}

// NewFieldResolver creates a resolver from the log format configuration.
func NewFieldResolver(cfg config.LogFormatConfig) *FieldResolver {
	return &FieldResolver{cfg: cfg}
}

// TimestampKeys returns the ordered candidate keys for the timestamp field.
func (f *FieldResolver) TimestampKeys() []string {
	return keysWithCustom(f.cfg.TimestampField, timestampAliases)
}

// MessageKeys returns the ordered candidate keys for the message field.
func (f *FieldResolver) MessageKeys() []string {
	return keysWithCustom(f.cfg.MessageField, messageAliases)
}

// SeverityKeys returns the ordered candidate keys for the severity field.
func (f *FieldResolver) SeverityKeys() []string {
	return keysWithCustom(f.cfg.SeverityField, severityAliases)
}

func keysWithCustom(custom string, aliases []string) []string {
	if custom == "" {
		return aliases
	}
	keys := make([]string, 0, len(aliases)+1)
	keys = append(keys, custom)
	for _, k := range aliases {
		if k != custom {
			keys = append(keys, k)
		}
	}
	return keys
}

// Timestamp returns the resolved timestamp key and value, or ok=false
// when no candidate key holds a non-empty value.
func (f *FieldResolver) Timestamp(r Record) (key string, value any, ok bool) {
	return firstPresent(r, f.TimestampKeys())
}

// Message returns the resolved message key and value.
func (f *FieldResolver) Message(r Record) (key string, value any, ok bool) {
	return firstPresent(r, f.MessageKeys())
}

// Severity returns the resolved severity of the record, or
// SeverityUnknown when no severity-like field is present.
func (f *FieldResolver) Severity(r Record) config.Severity {
	_, v, ok := firstPresent(r, f.SeverityKeys())
	if !ok {
		return config.SeverityUnknown
	}
	s, ok := v.(string)
	if !ok {
		return config.SeverityUnknown
	}
	return config.ParseSeverity(s)
}

// firstPresent returns the first key in keys that exists in the record
// with a non-empty value. Single-element array values are unwrapped for
// the check, matching Normalize semantics.
func firstPresent(r Record, keys []string) (string, any, bool) {
	for _, k := range keys {
		v, exists := r[k]
		if !exists || v == nil {
			continue
		}
		v = UnwrapValue(v)
		if v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && trimEmpty(s) {
			continue
		}
		return k, v, true
	}
	return "", nil, false
}

func trimEmpty(s string) bool {
	for _, c := range s {
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}
