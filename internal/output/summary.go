package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/logsift/logsift/internal/pipeline"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// ColorMode determines when to use colored output.
type ColorMode int

const (
	ColorAuto   ColorMode = iota // detect TTY
	ColorAlways
	ColorNever
)

func shouldColorize(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if f, ok := w.(*os.File); ok {
			return term.IsTerminal(int(f.Fd()))
		}
		return false
	}
}

func colorizeSeverity(severity, text string, color bool) string {
	if !color {
		return text
	}
	switch strings.ToLower(severity) {
	case "critical":
		return colorBold + colorRed + text + colorReset
	case "high":
		return colorRed + text + colorReset
	case "medium":
		return colorYellow + text + colorReset
	case "low":
		return colorGray + text + colorReset
	default:
		return text
	}
}

// WriteSummary prints a human-readable digest of the run.
func WriteSummary(w io.Writer, r pipeline.Report, mode ColorMode) error {
	color := shouldColorize(mode, w)

	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, r.Duration)
	fmt.Fprintf(w, "  records:    %d sanitized, %d skipped\n", r.Records, r.Skipped)
	fmt.Fprintf(w, "  redactions: %d spans, %d tokens in store\n", r.Redactions, r.Tokens)
	fmt.Fprintf(w, "  scenarios:  %d\n", r.ScenarioCount)

	if r.CountsPublished {
		fmt.Fprintf(w, "  event counts (noised, epsilon spent %.2f):\n", r.EpsilonSpent)
		labels := make([]string, 0, len(r.EventCounts))
		for label := range r.EventCounts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(w, "    %-24s %d\n", label, r.EventCounts[label])
		}
	} else {
		fmt.Fprintf(w, "  event counts: withheld (epsilon spent %.2f)\n", r.EpsilonSpent)
	}

	if len(r.ComplianceFindings)+len(r.FraudFindings) == 0 {
		fmt.Fprintln(w, "  findings:   none")
		return nil
	}

	fmt.Fprintln(w, "  findings:")
	for _, f := range r.ComplianceFindings {
		line := fmt.Sprintf("[%s] %s: %s", f.Severity, f.Rule, f.Description)
		fmt.Fprintf(w, "    %s\n", colorizeSeverity(f.Severity, line, color))
	}
	for _, f := range r.FraudFindings {
		line := fmt.Sprintf("[%s] %s: %s", f.Severity, f.Category, f.Description)
		fmt.Fprintf(w, "    %s\n", colorizeSeverity(f.Severity, line, color))
	}
	return nil
}
