// Package compliance implements rule engines that inspect sanitized,
// classified records for banking compliance gaps and fraud patterns.
// Both engines consume events incrementally through Observe, holding
// only the per-rule tallies the checks need, never the records
// themselves; Findings drains the accumulated state into findings.
package compliance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/logsift/logsift/internal/record"
)

// accountPattern flags digit runs long enough to be an unmasked account
// or card number surviving in a sanitized payload.
var accountPattern = regexp.MustCompile(`\b\d{12,18}\b`)

// Event pairs a sanitized record with its classification label.
type Event struct {
	Record record.Record
	Label  string
}

// Finding is one triggered compliance rule with supporting evidence.
type Finding struct {
	Rule        string   `json:"rule"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

// maxEvidence caps the evidence lines retained per rule so a run over a
// pathological input stays bounded.
const maxEvidence = 25

// BankingEngine performs lightweight compliance validations on sanitized
// banking logs: audit-trail completeness for transactions, PCI account
// masking, and GDPR access logging. Not safe for concurrent Observe.
type BankingEngine struct {
	auditFailures []string
	pciIssues     []string
	gdprGaps      []string
}

// NewBankingEngine creates the default compliance engine.
func NewBankingEngine() *BankingEngine {
	return &BankingEngine{}
}

// Observe applies every rule to one event, accumulating evidence.
func (e *BankingEngine) Observe(ev Event) {
	rec := ev.Record
	text := recordText(rec)
	hashed := hashedFields(rec)
	_, hasTimestamp := rec["timestamp"].(string)

	if ev.Label == "transaction_event" && (!hasTimestamp || len(hashed) == 0) {
		e.auditFailures = appendEvidence(e.auditFailures, fmt.Sprintf(
			"transaction record missing timestamp or hashed identifiers: %s",
			correlationID(rec)))
	}

	if accountPattern.MatchString(text) {
		e.pciIssues = appendEvidence(e.pciIssues,
			"potential unmasked account number detected in sanitized payload")
	}

	if ev.Label == "generic_event" && strings.Contains(strings.ToLower(text), "data access") && len(hashed) == 0 {
		e.gdprGaps = appendEvidence(e.gdprGaps,
			"customer data access event missing hashed identifier")
	}
}

// Findings returns at most one finding per rule, carrying the collected
// evidence.
func (e *BankingEngine) Findings() []Finding {
	var findings []Finding
	if len(e.auditFailures) > 0 {
		findings = append(findings, Finding{
			Rule:        "AuditTrailCompleteness",
			Severity:    "high",
			Description: "Some transactions lack timestamp or hashed identifiers.",
			Evidence:    e.auditFailures,
		})
	}
	if len(e.pciIssues) > 0 {
		findings = append(findings, Finding{
			Rule:        "PCIAccountMasking",
			Severity:    "critical",
			Description: "Detected possible card/account numbers that were not tokenized.",
			Evidence:    e.pciIssues,
		})
	}
	if len(e.gdprGaps) > 0 {
		findings = append(findings, Finding{
			Rule:        "GDPRAccessLogging",
			Severity:    "medium",
			Description: "Customer data access events require hashed customer identifiers.",
			Evidence:    e.gdprGaps,
		})
	}
	return findings
}

// Evaluate inspects a finished event slice on a fresh engine. Streaming
// callers use Observe and Findings directly.
func (e *BankingEngine) Evaluate(events []Event) []Finding {
	scratch := NewBankingEngine()
	for _, ev := range events {
		scratch.Observe(ev)
	}
	return scratch.Findings()
}

func appendEvidence(items []string, item string) []string {
	if len(items) >= maxEvidence {
		return items
	}
	return append(items, item)
}

// GenerateTests renders one Gherkin scenario per finding, quoting up to
// five evidence lines.
func (e *BankingEngine) GenerateTests(findings []Finding) []string {
	scenarios := make([]string, 0, len(findings))
	for _, f := range findings {
		var b strings.Builder
		fmt.Fprintf(&b, "Feature: Compliance rule %s\n", f.Rule)
		fmt.Fprintf(&b, "  Scenario: Validate %s remediation\n", f.Rule)
		b.WriteString("    Given sanitized banking logs with potential non-compliance\n")
		b.WriteString("    When the compliance engine inspects the records\n")
		fmt.Fprintf(&b, "    Then it flags %s severity for %s\n", f.Severity, f.Rule)
		if len(f.Evidence) > 0 {
			b.WriteString("    And supporting evidence includes:\n")
			for _, item := range truncate(f.Evidence, 5) {
				fmt.Fprintf(&b, "      - %s\n", item)
			}
		}
		scenarios = append(scenarios, strings.TrimRight(b.String(), "\n"))
	}
	return scenarios
}

// recordText concatenates every top-level string value of the record,
// message first, for substring rules.
func recordText(rec record.Record) string {
	var parts []string
	if msg, ok := rec["message"].(string); ok {
		parts = append(parts, msg)
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := rec[k].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func hashedFields(rec record.Record) map[string]string {
	hashed, _ := rec["hashed_fields"].(map[string]string)
	return hashed
}

func correlationID(rec record.Record) string {
	for _, k := range []string{"journey_id", "session_id"} {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}

func truncate(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
