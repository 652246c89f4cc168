package rigor

import (
	"strings"
	"sync/atomic"

	"github.com/smestern/patchAgent/internal/logging"
)

// Decision is the admission verdict for a code submission.
type Decision string

const (
	Admit             Decision = "ADMIT"
	AdmitWithWarnings Decision = "ADMIT_WITH_WARNINGS"
	Reject            Decision = "REJECT"
)

// Submission is a code submission to be scanned: opaque source text plus the
// names of the arrays/values it declares it will read. The gate never sees
// the data itself, only the names.
type Submission struct {
	Source         string
	DeclaredInputs []string
}

// Match records one rule that fired, in rule-table declaration order.
type Match struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ScanResult is the outcome of scanning one submission. For a fixed table
// and submission the result is deterministic and bit-identical across calls.
type ScanResult struct {
	Decision     Decision `json:"decision"`
	Matches      []Match  `json:"matches,omitempty"`
	TableVersion string   `json:"table_version"`
}

// Blocked reports whether the decision forbids execution.
func (r ScanResult) Blocked() bool { return r.Decision == Reject }

// BlockMessages returns the messages of Block-severity matches, verbatim,
// for the orchestrator to surface to the caller.
func (r ScanResult) BlockMessages() []string {
	var out []string
	for _, m := range r.Matches {
		if m.Severity == Block {
			out = append(out, m.Message)
		}
	}
	return out
}

// WarnMessages returns the messages of Warn-severity matches, verbatim.
func (r ScanResult) WarnMessages() []string {
	var out []string
	for _, m := range r.Matches {
		if m.Severity == Warn {
			out = append(out, m.Message)
		}
	}
	return out
}

// EmptySubmissionRuleID is the synthetic match reported for a blank
// submission. There is nothing to admit, so the decision is Reject.
const EmptySubmissionRuleID = "EMPTY_SUBMISSION"

// Gate scans code submissions against a rule table. The table pointer is
// swapped atomically on reload, so concurrent scans always see a complete
// table, never a torn one.
type Gate struct {
	table atomic.Pointer[RuleTable]
}

// NewGate creates an admission gate over the given table.
func NewGate(table *RuleTable) *Gate {
	g := &Gate{}
	g.table.Store(table)
	return g
}

// Table returns the rule table currently in force.
func (g *Gate) Table() *RuleTable { return g.table.Load() }

// Replace swaps in a new rule table. Full replacement only; rules are never
// mutated in place.
func (g *Gate) Replace(table *RuleTable) {
	old := g.table.Swap(table)
	logging.Rigor("rule table replaced: %s -> %s (%d rules)", old.Version, table.Version, table.Len())
}

// Scan evaluates every rule against the submission's source text and reports
// matches in table declaration order. The decision short-circuits on the
// first Block hit, but matching continues so the caller gets exhaustive
// diagnostics and can fix all issues at once. Scan never returns an error:
// malformed input yields a Reject result.
func (g *Gate) Scan(sub Submission) ScanResult {
	table := g.table.Load()
	result := ScanResult{Decision: Admit, TableVersion: table.Version}

	if strings.TrimSpace(sub.Source) == "" {
		result.Decision = Reject
		result.Matches = []Match{{
			RuleID:   EmptySubmissionRuleID,
			Severity: Block,
			Message:  "Empty or blank code submission: nothing to admit.",
		}}
		return result
	}

	for i := range table.rules {
		rule := &table.rules[i]
		if !rule.Matches(sub.Source) {
			continue
		}
		result.Matches = append(result.Matches, Match{
			RuleID:   rule.ID,
			Severity: rule.Severity,
			Message:  rule.Message,
		})
		switch rule.Severity {
		case Block:
			result.Decision = Reject
		case Warn:
			if result.Decision == Admit {
				result.Decision = AdmitWithWarnings
			}
		}
	}

	if result.Blocked() {
		logging.Rigor("submission rejected: %d match(es), table %s", len(result.Matches), table.Version)
	} else {
		logging.RigorDebug("submission %s: %d match(es)", result.Decision, len(result.Matches))
	}
	return result
}
