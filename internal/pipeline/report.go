package pipeline

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/compliance"
	"github.com/logsift/logsift/internal/privacy"
)

// Report is the run summary. Event counts are noised before they reach
// this struct; exact per-label counts never leave the run state.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Duration    string    `json:"duration"`

	Records    int `json:"records"`
	Skipped    int `json:"skipped"`
	Redactions int `json:"redactions"`
	Tokens     int `json:"tokens"`

	EventCounts     map[string]int `json:"event_counts,omitempty"`
	CountsPublished bool           `json:"counts_published"`
	EpsilonSpent    float64        `json:"epsilon_spent"`

	Enrichment []string `json:"enrichment,omitempty"`

	ComplianceFindings []compliance.Finding      `json:"compliance_findings"`
	FraudFindings      []compliance.FraudFinding `json:"fraud_findings"`

	ScenarioCount int `json:"scenario_count"`
}

// Result bundles the report with the generated scenario texts.
type Result struct {
	Report    Report
	Scenarios []string
}

// finalize closes every open journey, evaluates the rule engines,
// publishes the noised counts, and assembles the report.
func (o *Orchestrator) finalize(state *runState, start time.Time) *Result {
	for _, a := range state.assemblers {
		for _, j := range a.FinalizeAll() {
			state.emitScenario(j)
		}
	}

	report := Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Duration:    time.Since(start).Round(time.Millisecond).String(),
		Records:     state.records,
		Skipped:     state.skipped,
		Redactions:  state.redactions,
		Enrichment:  state.enrichment,
	}
	if o.deps.Store != nil {
		report.Tokens = o.deps.Store.Len()
	}

	if o.deps.Aggregator != nil {
		noised, err := o.deps.Aggregator.Publish(state.mergedCounts())
		switch {
		case err == nil:
			report.EventCounts = noised
			report.CountsPublished = true
		case errors.Is(err, privacy.ErrBudgetExhausted):
			o.deps.Logger.Warn().Err(err).Msg("event counts withheld, privacy budget exhausted")
		default:
			o.deps.Logger.Error().Err(err).Msg("event count publication failed")
		}
		report.EpsilonSpent = o.deps.Aggregator.Spent()
	}

	if o.deps.Compliance != nil {
		report.ComplianceFindings = o.deps.Compliance.Findings()
		state.scenarios = append(state.scenarios, o.deps.Compliance.GenerateTests(report.ComplianceFindings)...)
	}
	if o.deps.Fraud != nil {
		report.FraudFindings = o.deps.Fraud.Findings()
		state.scenarios = append(state.scenarios, o.deps.Fraud.GenerateTests(report.FraudFindings)...)
	}

	report.ScenarioCount = len(state.scenarios)
	return &Result{Report: report, Scenarios: state.scenarios}
}

// CISummary is the compact machine-readable digest written for CI/CD
// gates.
type CISummary struct {
	TotalRecords         int                       `json:"total_records"`
	SkippedRecords       int                       `json:"skipped_records"`
	HighSeverityFindings int                       `json:"high_severity_findings"`
	ScenarioCount        int                       `json:"scenario_count"`
	EpsilonSpent         float64                   `json:"epsilon_spent"`
	ComplianceFindings   []compliance.Finding      `json:"compliance_findings"`
	FraudFindings        []compliance.FraudFinding `json:"fraud_findings"`
}

// Summarize condenses a report for CI consumption. Critical and high
// severity findings from both engines count toward the gate.
func Summarize(r Report) CISummary {
	high := 0
	for _, f := range r.ComplianceFindings {
		if isHighSeverity(f.Severity) {
			high++
		}
	}
	for _, f := range r.FraudFindings {
		if isHighSeverity(f.Severity) {
			high++
		}
	}

	return CISummary{
		TotalRecords:         r.Records,
		SkippedRecords:       r.Skipped,
		HighSeverityFindings: high,
		ScenarioCount:        r.ScenarioCount,
		EpsilonSpent:         r.EpsilonSpent,
		ComplianceFindings:   r.ComplianceFindings,
		FraudFindings:        r.FraudFindings,
	}
}

func isHighSeverity(s string) bool {
	switch strings.ToLower(s) {
	case "critical", "high":
		return true
	}
	return false
}
