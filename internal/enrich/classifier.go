package enrich

import (
	"strings"

	"github.com/logsift/logsift/internal/record"
)

// RuleClassifier labels records with a fixed rule chain: explicit event
// field, transaction type, error indicators, then message keywords.
type RuleClassifier struct{}

// NewRuleClassifier creates the default classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(rec record.Record) string {
	if event, ok := rec["event"].(string); ok && event != "" {
		return normalizeLabel(event)
	}

	if tt, ok := rec["transaction_type"].(string); ok && tt != "" {
		return normalizeLabel(tt) + "_event"
	}

	if _, ok := rec["error"]; ok {
		return "error_event"
	}
	for _, k := range []string{"level", "severity"} {
		if v, ok := rec[k].(string); ok && strings.EqualFold(v, "ERROR") {
			return "error_event"
		}
	}

	if msg, ok := rec["message"].(string); ok {
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "exception") || strings.Contains(lower, "fail"):
			return "error_event"
		case strings.Contains(lower, "login") || strings.Contains(lower, "authenticate"):
			return "login_event"
		case strings.Contains(lower, "transaction") || strings.Contains(lower, "transfer"):
			return "transaction_event"
		}
	}

	if _, ok := rec["transaction"]; ok {
		return "transaction_event"
	}
	if _, ok := rec["transaction_id"]; ok {
		return "transaction_event"
	}

	return DefaultLabel
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}
