package compliance

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/tokenstore"
)

const velocityWindow = 10 * time.Minute

var amountPattern = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)`)

// FraudFinding is one triggered fraud heuristic with the accounts and
// metrics behind it. Accounts are tokens or keyed hashes, never raw
// identifiers.
type FraudFinding struct {
	Category    string             `json:"category"`
	Severity    string             `json:"severity"`
	Description string             `json:"description"`
	Accounts    []string           `json:"accounts"`
	Metrics     map[string]float64 `json:"metrics"`
}

// FraudEngine applies heuristic fraud checks over sanitized events:
// transaction velocity, high-value transfers, and repeated login
// failures. Observe holds only per-account tallies and the timestamps
// still inside the velocity window. Not safe for concurrent Observe.
type FraudEngine struct {
	accountEvents   map[string][]time.Time
	velocityFlagged map[string]struct{}
	highValue       map[string]float64
	loginFailures   map[string]float64
}

// NewFraudEngine creates the default fraud engine.
func NewFraudEngine() *FraudEngine {
	return &FraudEngine{
		accountEvents:   make(map[string][]time.Time),
		velocityFlagged: make(map[string]struct{}),
		highValue:       make(map[string]float64),
		loginFailures:   make(map[string]float64),
	}
}

// Observe applies every heuristic to one event.
func (e *FraudEngine) Observe(ev Event) {
	rec := ev.Record
	hashed := hashedFields(rec)
	accounts := extractAccounts(rec, hashed)
	ts, hasTS := parseTimestamp(rec)
	total := totalAmount(rec)
	message := strings.ToLower(recordText(rec))

	for _, account := range accounts {
		if hasTS {
			e.recordEventTime(account, ts)
		}
		if total > 5000 {
			if total > e.highValue[account] {
				e.highValue[account] = total
			}
		}
	}

	if ev.Label == "login_event" && (strings.Contains(message, "failed") || strings.Contains(message, "denied")) {
		suspects := accounts
		if len(suspects) == 0 {
			for _, h := range hashed {
				suspects = append(suspects, h)
			}
		}
		for _, account := range suspects {
			e.loginFailures[account]++
		}
	}
}

// recordEventTime tracks one transaction timestamp for an account. An
// account that trips the velocity check is flagged and its timestamps
// dropped; otherwise timestamps that can no longer pair with new events
// inside the window are pruned.
func (e *FraudEngine) recordEventTime(account string, ts time.Time) {
	if _, flagged := e.velocityFlagged[account]; flagged {
		return
	}
	times := append(e.accountEvents[account], ts)
	if exceedsVelocity(times) {
		e.velocityFlagged[account] = struct{}{}
		delete(e.accountEvents, account)
		return
	}

	newest := times[0]
	for _, t := range times[1:] {
		if t.After(newest) {
			newest = t
		}
	}
	kept := times[:0]
	for _, t := range times {
		if newest.Sub(t) <= velocityWindow {
			kept = append(kept, t)
		}
	}
	e.accountEvents[account] = kept
}

// Findings returns at most one finding per heuristic. Account lists are
// sorted for reproducible reports.
func (e *FraudEngine) Findings() []FraudFinding {
	var findings []FraudFinding

	if len(e.velocityFlagged) > 0 {
		velocity := make([]string, 0, len(e.velocityFlagged))
		for account := range e.velocityFlagged {
			velocity = append(velocity, account)
		}
		sort.Strings(velocity)
		findings = append(findings, FraudFinding{
			Category:    "VelocityCheck",
			Severity:    "high",
			Description: "Account shows unusually high transaction velocity within 10 minute window.",
			Accounts:    velocity,
			Metrics:     map[string]float64{"account_count": float64(len(velocity))},
		})
	}

	if len(e.highValue) > 0 {
		findings = append(findings, FraudFinding{
			Category:    "HighValueTransfers",
			Severity:    "medium",
			Description: "Transactions exceeding $5000 detected.",
			Accounts:    sortedKeys(e.highValue),
			Metrics:     e.highValue,
		})
	}

	suspects := make(map[string]float64)
	for account, count := range e.loginFailures {
		if count >= 3 {
			suspects[account] = count
		}
	}
	if len(suspects) > 0 {
		findings = append(findings, FraudFinding{
			Category:    "FailedLoginVelocity",
			Severity:    "medium",
			Description: "Multiple failed logins detected for the same account.",
			Accounts:    sortedKeys(suspects),
			Metrics:     suspects,
		})
	}

	return findings
}

// Evaluate inspects a finished event slice on a fresh engine. Streaming
// callers use Observe and Findings directly.
func (e *FraudEngine) Evaluate(events []Event) []FraudFinding {
	scratch := NewFraudEngine()
	for _, ev := range events {
		scratch.Observe(ev)
	}
	return scratch.Findings()
}

// GenerateTests renders one Gherkin scenario per finding, listing up to
// five affected accounts.
func (e *FraudEngine) GenerateTests(findings []FraudFinding) []string {
	scenarios := make([]string, 0, len(findings))
	for _, f := range findings {
		var b strings.Builder
		b.WriteString("Feature: Fraud pattern " + f.Category + "\n")
		b.WriteString("  Scenario: Detect " + f.Category + "\n")
		b.WriteString("    Given sanitized banking activity logs\n")
		b.WriteString("    When the fraud detection module analyses account behaviour\n")
		b.WriteString("    Then it classifies the pattern as " + f.Severity + " severity\n")
		if len(f.Accounts) > 0 {
			b.WriteString("    And affected accounts include " + strings.Join(truncate(f.Accounts, 5), ", ") + "\n")
		}
		scenarios = append(scenarios, strings.TrimRight(b.String(), "\n"))
	}
	return scenarios
}

// extractAccounts gathers account identifiers for a record: sanitizer
// tokens found in string values plus the record's keyed field hashes.
func extractAccounts(rec record.Record, hashed map[string]string) []string {
	seen := make(map[string]struct{})
	for _, v := range rec {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, word := range strings.Fields(s) {
			word = strings.Trim(word, ".,;:")
			if tokenstore.IsToken(word) {
				seen[word] = struct{}{}
			}
		}
	}
	for _, h := range hashed {
		seen[h] = struct{}{}
	}

	accounts := make([]string, 0, len(seen))
	for a := range seen {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts
}

func parseTimestamp(rec record.Record) (time.Time, bool) {
	raw, ok := rec["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// totalAmount sums the record's explicit amount field with any dollar
// amounts written into string values.
func totalAmount(rec record.Record) float64 {
	var total float64
	switch v := rec["amount"].(type) {
	case float64:
		total += v
	case string:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err == nil {
			total += f
		}
	}

	for k, v := range rec {
		if k == "amount" {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, m := range amountPattern.FindAllStringSubmatch(s, -1) {
			if f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
				total += f
			}
		}
	}
	return total
}

// exceedsVelocity reports whether any four events fall inside the
// velocity window.
func exceedsVelocity(events []time.Time) bool {
	ordered := append([]time.Time(nil), events...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })
	for i := 0; i+3 < len(ordered); i++ {
		if ordered[i+3].Sub(ordered[i]) <= velocityWindow {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
