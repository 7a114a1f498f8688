package redact

import (
	"context"
	"errors"
	"testing"

	"github.com/logsift/logsift/internal/logging"
)

func TestValidLuhn(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"4111111111111111", true},
		{"4111 1111 1111 1111", true},
		{"4111-1111-1111-1111", true},
		{"4111111111111112", false},
		{"1234567890123456", false},
		{"411111", false},        // too short
		{"abcd111111111111", false}, // non-digit
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidLuhn(tt.input); got != tt.want {
				t.Errorf("ValidLuhn(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidIBAN(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"DE89370400440532013000", true},
		{"GB82WEST12345698765432", true},
		{"DE89370400440532013001", false}, // bad check digits
		{"DE8937", false},                 // too short
		{"XX00!!!!0000000000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidIBAN(tt.input); got != tt.want {
				t.Errorf("ValidIBAN(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectorPatternLayer(t *testing.T) {
	d := NewDetector(nil, nil, logging.Nop())
	ctx := context.Background()

	tests := []struct {
		name       string
		text       string
		wantEntity []string
	}{
		{
			name:       "email",
			text:       "login by alice@bank.example failed",
			wantEntity: []string{"EMAIL"},
		},
		{
			name:       "iban with valid checksum",
			text:       "transfer to DE89370400440532013000 completed",
			wantEntity: []string{"IBAN"},
		},
		{
			name:       "iban with bad checksum skipped, digits still account-free",
			text:       "ref DE89370400440532013001 noted",
			wantEntity: nil,
		},
		{
			name:       "account number",
			text:       "Payment for account 987654321012",
			wantEntity: []string{"ACCOUNT"},
		},
		{
			name:       "luhn-valid card",
			text:       "card 4111111111111111 charged",
			wantEntity: []string{"CARD"},
		},
		{
			name:       "ssn",
			text:       "ssn 123-45-6789 on file",
			wantEntity: []string{"SSN"},
		},
		{
			name:       "multiple candidates sorted by offset",
			text:       "alice@bank.example paid account 987654321012",
			wantEntity: []string{"EMAIL", "ACCOUNT"},
		},
		{
			name:       "clean text",
			text:       "user logged in",
			wantEntity: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(ctx, tt.text)
			if len(got) != len(tt.wantEntity) {
				t.Fatalf("Detect(%q) = %d candidates %v, want %d", tt.text, len(got), got, len(tt.wantEntity))
			}
			for i, c := range got {
				if c.Entity != tt.wantEntity[i] {
					t.Errorf("Detect()[%d].Entity = %q, want %q", i, c.Entity, tt.wantEntity[i])
				}
				if c.Value != tt.text[c.Start:c.End] {
					t.Errorf("Detect()[%d].Value = %q, span text = %q", i, c.Value, tt.text[c.Start:c.End])
				}
			}
		})
	}
}

func TestDetectorCandidatesSorted(t *testing.T) {
	d := NewDetector(nil, nil, logging.Nop())
	text := "a@b.example then 987654321012 then c@d.example"

	got := d.Detect(context.Background(), text)
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].End {
			t.Errorf("candidates overlap or unsorted: %v", got)
		}
	}
}

type fakeRecognizer struct {
	spans []Span
	err   error
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ string) ([]Span, error) {
	return f.spans, f.err
}

func TestDetectorCapabilityLayer(t *testing.T) {
	text := "wire to 987654321012 for Jane Doe"
	// "Jane Doe" occupies bytes 25..33.

	t.Run("non-overlapping capability span retained", func(t *testing.T) {
		rec := &fakeRecognizer{spans: []Span{{Entity: "PERSON", Start: 25, End: 33}}}
		d := NewDetector(nil, rec, logging.Nop())

		got := d.Detect(context.Background(), text)
		if len(got) != 2 {
			t.Fatalf("Detect() = %v, want pattern + capability candidates", got)
		}
		if got[0].Entity != "ACCOUNT" || got[1].Entity != "PERSON" {
			t.Errorf("Detect() entities = [%s %s], want [ACCOUNT PERSON]", got[0].Entity, got[1].Entity)
		}
		if got[1].Layer != LayerCapability {
			t.Errorf("capability candidate layer = %v, want LayerCapability", got[1].Layer)
		}
	})

	t.Run("pattern wins on overlap", func(t *testing.T) {
		rec := &fakeRecognizer{spans: []Span{{Entity: "CARDINAL", Start: 8, End: 20}}}
		d := NewDetector(nil, rec, logging.Nop())

		got := d.Detect(context.Background(), text)
		if len(got) != 1 || got[0].Entity != "ACCOUNT" {
			t.Errorf("Detect() = %v, want single ACCOUNT candidate", got)
		}
	})

	t.Run("recognizer failure degrades to pattern layer", func(t *testing.T) {
		rec := &fakeRecognizer{err: errors.New("model offline")}
		d := NewDetector(nil, rec, logging.Nop())

		got := d.Detect(context.Background(), text)
		if len(got) != 1 || got[0].Entity != "ACCOUNT" {
			t.Errorf("Detect() = %v, want pattern-only result", got)
		}
	})

	t.Run("out-of-range spans dropped", func(t *testing.T) {
		rec := &fakeRecognizer{spans: []Span{{Entity: "PERSON", Start: -1, End: 4}, {Entity: "PERSON", Start: 30, End: 1000}}}
		d := NewDetector(nil, rec, logging.Nop())

		got := d.Detect(context.Background(), text)
		for _, c := range got {
			if c.Layer == LayerCapability {
				t.Errorf("invalid capability span survived: %v", c)
			}
		}
	})
}

func TestGetPatternsIgnoresUnknown(t *testing.T) {
	got := GetPatterns([]string{"email", "bogus", "ssn"})
	if len(got) != 2 {
		t.Errorf("GetPatterns() returned %d patterns, want 2", len(got))
	}
}
