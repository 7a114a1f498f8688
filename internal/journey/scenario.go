package journey

import (
	"fmt"
	"strings"
)

// Scenario is a deduplicated structural test case derived from journeys
// sharing an event signature.
type Scenario struct {
	JourneyKey string   // representative journey identifier
	Signature  []string // ordered event labels after duplicate collapsing
	Gherkin    string
}

// Generator emits one Scenario per unique journey signature seen in a
// run. Not safe for concurrent use; the pipeline funnels finalized
// journeys through a single generator.
type Generator struct {
	seen map[string]struct{}
}

// NewGenerator creates an empty Generator.
func NewGenerator() *Generator {
	return &Generator{seen: make(map[string]struct{})}
}

// Generate collapses consecutive duplicate labels, computes the journey's
// structural signature, and returns a Scenario if the signature has not
// been emitted this run. ok is false for empty journeys and repeats.
func (g *Generator) Generate(j Journey) (Scenario, bool) {
	sig := CollapseLabels(j.Labels)
	if len(sig) == 0 {
		return Scenario{}, false
	}

	sigKey := strings.Join(sig, "\x1f")
	if _, dup := g.seen[sigKey]; dup {
		return Scenario{}, false
	}
	g.seen[sigKey] = struct{}{}

	return Scenario{
		JourneyKey: j.Key,
		Signature:  sig,
		Gherkin:    renderGherkin(j.Key, sig),
	}, true
}

// Count returns the number of unique scenarios emitted so far.
func (g *Generator) Count() int {
	return len(g.seen)
}

// CollapseLabels removes consecutive duplicate labels while preserving
// order.
func CollapseLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := []string{labels[0]}
	for _, l := range labels[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}

// renderGherkin formats a journey signature as a structured test case:
// one When clause per distinct ordered event, terminated by the fixed
// compliance assertion.
func renderGherkin(key string, signature []string) string {
	short := key
	if len(short) > 32 {
		short = short[:32]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Feature: Journey %s\n", short)
	fmt.Fprintf(&b, "  Scenario: Validate journey %s\n", short)
	b.WriteString("  Given a sanitized transaction journey\n")
	for _, event := range signature {
		fmt.Fprintf(&b, "  When the system observes %s\n", event)
	}
	b.WriteString("  Then the compliance checks pass")
	return b.String()
}
