package record

import (
	"strings"
	"testing"

	"github.com/logsift/logsift/internal/config"
)

func TestNormalizeUnwrapsSingleElementArrays(t *testing.T) {
	tests := []struct {
		name  string
		input Record
		key   string
		want  any
	}{
		{
			name:  "single-element array unwraps",
			input: Record{"message": []any{"x"}},
			key:   "message",
			want:  "x",
		},
		{
			name:  "multi-element array untouched",
			input: Record{"message": []any{"x", "y"}},
			key:   "message",
			want:  []any{"x", "y"},
		},
		{
			name:  "empty array untouched",
			input: Record{"tags": []any{}},
			key:   "tags",
			want:  []any{},
		},
		{
			name:  "plain scalar untouched",
			input: Record{"message": "x"},
			key:   "message",
			want:  "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Normalize()[tt.key]
			switch want := tt.want.(type) {
			case []any:
				gotSlice, ok := got.([]any)
				if !ok || len(gotSlice) != len(want) {
					t.Fatalf("Normalize()[%q] = %v, want %v", tt.key, got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("Normalize()[%q] = %v, want %v", tt.key, got, tt.want)
				}
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Record{
		"message": "login",
		"meta":    map[string]any{"ip": "10.0.0.1"},
		"tags":    []any{"a", "b"},
	}
	clone := orig.Clone()

	clone["message"] = "changed"
	clone["meta"].(map[string]any)["ip"] = "changed"
	clone["tags"].([]any)[0] = "changed"

	if orig["message"] != "login" {
		t.Error("Clone() shares top-level values with the original")
	}
	if orig["meta"].(map[string]any)["ip"] != "10.0.0.1" {
		t.Error("Clone() shares nested maps with the original")
	}
	if orig["tags"].([]any)[0] != "a" {
		t.Error("Clone() shares nested slices with the original")
	}
}

func TestDepth(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want int
	}{
		{"flat", Record{"a": 1}, 1},
		{"nested map", Record{"a": map[string]any{"b": map[string]any{"c": 1}}}, 3},
		{"nested array", Record{"a": []any{[]any{1}}}, 3},
		{"empty", Record{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Depth(); got != tt.want {
				t.Errorf("Depth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFieldResolverAliases(t *testing.T) {
	resolver := NewFieldResolver(config.LogFormatConfig{})

	tests := []struct {
		name    string
		rec     Record
		wantKey string
		wantOK  bool
	}{
		{"canonical timestamp", Record{"timestamp": "2025-10-08T10:00:00Z"}, "timestamp", true},
		{"time alias", Record{"time": "2025-10-08T10:00:00Z"}, "time", true},
		{"at-timestamp alias", Record{"@timestamp": "2025-10-08T10:00:00Z"}, "@timestamp", true},
		{"empty string skipped", Record{"timestamp": "  ", "ts": "2025-10-08"}, "ts", true},
		{"array-wrapped unwraps", Record{"time": []any{"2025-10-08"}}, "time", true},
		{"missing", Record{"foo": "bar"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, ok := resolver.Timestamp(tt.rec)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("Timestamp() = (%q, %v), want (%q, %v)", key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestFieldResolverCustomKeyFirst(t *testing.T) {
	resolver := NewFieldResolver(config.LogFormatConfig{MessageField: "log_line"})

	rec := Record{"log_line": "custom wins", "message": "alias loses"}
	key, val, ok := resolver.Message(rec)
	if !ok || key != "log_line" || val != "custom wins" {
		t.Errorf("Message() = (%q, %v, %v), want custom key first", key, val, ok)
	}

	// Custom key absent falls back to aliases.
	rec = Record{"msg": "fallback"}
	key, _, ok = resolver.Message(rec)
	if !ok || key != "msg" {
		t.Errorf("Message() = (%q, %v), want fallback to msg alias", key, ok)
	}
}

func TestFieldResolverSeverity(t *testing.T) {
	resolver := NewFieldResolver(config.LogFormatConfig{})

	if got := resolver.Severity(Record{"level": "error"}); got != config.SeverityError {
		t.Errorf("Severity(level=error) = %v, want %v", got, config.SeverityError)
	}
	if got := resolver.Severity(Record{"nope": "x"}); got != config.SeverityUnknown {
		t.Errorf("Severity(missing) = %v, want %v", got, config.SeverityUnknown)
	}
}

func TestValidatorRequiredFields(t *testing.T) {
	v := NewValidator(Limits{}, nil)

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{
			name:    "time alias and msg alias valid",
			rec:     Record{"time": "2025-10-08T10:00:00Z", "msg": "login"},
			wantErr: false,
		},
		{
			name:    "timestamp only invalid",
			rec:     Record{"timestamp": "2025-10-08T10:00:00Z"},
			wantErr: true,
		},
		{
			name:    "message only invalid",
			rec:     Record{"message": "login"},
			wantErr: true,
		},
		{
			name:    "nil record invalid",
			rec:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errorsIsInvalid(err) {
				t.Errorf("Validate() error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func errorsIsInvalid(err error) bool {
	return strings.Contains(err.Error(), "invalid record")
}

func TestValidatorLimits(t *testing.T) {
	v := NewValidator(Limits{MaxBytes: 64, MaxDepth: 3, MaxFields: 2}, nil)

	t.Run("raw line too large", func(t *testing.T) {
		line := []byte(`{"message": "` + strings.Repeat("x", 100) + `"}`)
		if err := v.ValidateRaw(line); err == nil {
			t.Error("ValidateRaw() = nil, want size error")
		}
	})

	t.Run("too many fields", func(t *testing.T) {
		rec := Record{"a": 1, "b": 2, "c": 3, "time": "t", "message": "m"}
		if err := v.Validate(rec); err == nil {
			t.Error("Validate() = nil, want field count error")
		}
	})

	t.Run("too deep", func(t *testing.T) {
		rec := Record{
			"time":    "2025-10-08",
			"message": "m",
			"a":       map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}},
		}
		if err := v.Validate(rec); err == nil {
			t.Error("Validate() = nil, want depth error")
		}
	})

	t.Run("non-json raw passes structural check", func(t *testing.T) {
		if err := v.ValidateRaw([]byte("plain text line")); err != nil {
			t.Errorf("ValidateRaw(plain text) = %v, want nil", err)
		}
	})
}

func TestValidateRawDepth(t *testing.T) {
	v := NewValidator(Limits{MaxDepth: 2}, nil)

	if err := v.ValidateRaw([]byte(`{"a": {"b": {"c": 1}}}`)); err == nil {
		t.Error("ValidateRaw(nested) = nil, want depth error")
	}
	if err := v.ValidateRaw([]byte(`{"a": 1}`)); err != nil {
		t.Errorf("ValidateRaw(flat) = %v, want nil", err)
	}
}
