// Package rigor implements the code admission gate: an ordered, versioned
// table of scientific-rigor rules evaluated against every code submission
// before execution. Rules come in two tiers: Block rules veto execution
// outright, Warn rules are surfaced but do not stop the run.
//
// The rule-to-severity mapping is policy, not algorithm. The built-in table
// reproduces the canonical patchAgent policy; operators can replace it with
// their own yaml table without touching orchestration code.
package rigor

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is the enforcement tier of a rule.
type Severity string

const (
	// Block rules reject the submission. Execution must not proceed.
	Block Severity = "block"
	// Warn rules flag the submission but allow it through.
	Warn Severity = "warn"
)

// Rule is one admission rule: a textual predicate over the submission's
// source plus the enforcement tier and the message reported on a match.
type Rule struct {
	ID       string   `yaml:"id"`
	Pattern  string   `yaml:"pattern"`
	Severity Severity `yaml:"severity"`
	Message  string   `yaml:"message"`

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern occurs in source.
func (r *Rule) Matches(source string) bool {
	return r.re.MatchString(source)
}

// RuleTable is an ordered, versioned, immutable set of admission rules.
// Build one at startup and never mutate it; reloads replace the whole table.
type RuleTable struct {
	Version string
	rules   []Rule
}

// Rules returns the rules in declaration order.
func (t *RuleTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules.
func (t *RuleTable) Len() int { return len(t.rules) }

// ruleFile is the on-disk yaml shape of a rule table.
type ruleFile struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// NewTable compiles a rule table, validating totality: every rule needs a
// unique id, a compilable pattern, a recognized severity, and a message.
// Patterns are matched case-insensitively.
func NewTable(version string, rules []Rule) (*RuleTable, error) {
	t := &RuleTable{Version: version, rules: make([]Rule, 0, len(rules))}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: empty id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		switch r.Severity {
		case Block, Warn:
		default:
			return nil, fmt.Errorf("rule %q: unknown severity %q", r.ID, r.Severity)
		}
		if r.Message == "" {
			return nil, fmt.Errorf("rule %q: empty message", r.ID)
		}

		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: bad pattern: %w", r.ID, err)
		}
		r.re = re
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Load reads and compiles a yaml rule table from disk.
func Load(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rule table %s: %w", path, err)
	}
	if strings.TrimSpace(rf.Version) == "" {
		return nil, fmt.Errorf("rule table %s: missing version", path)
	}
	return NewTable(rf.Version, rf.Rules)
}

// DefaultTable returns the canonical admission policy: synthetic data and
// result manipulation are hard blocks; reproducibility hygiene and
// reimplementation-of-vetted-primitives issues are warnings.
func DefaultTable() *RuleTable {
	t, err := NewTable("2026.08", []Rule{
		// ── Hard blocks: fabricated data and forced results ──
		{
			ID:       "synthetic-random-numpy",
			Pattern:  `np\.random\.(rand|randn|random|uniform|normal|choice)\s*\(`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Random/synthetic data generation detected. Use real experimental data only.",
		},
		{
			ID:       "synthetic-random-stdlib",
			Pattern:  `random\.(random|uniform|gauss|choice)\s*\(`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Random data generation detected. Use real experimental data only.",
		},
		{
			ID:       "synthetic-random-go",
			Pattern:  `rand\.(Float64|Float32|NormFloat64|ExpFloat64|Intn|Perm)\s*\(`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Random/synthetic data generation detected. Use real experimental data only.",
		},
		{
			ID:       "fabricated-data-markers",
			Pattern:  `fake|dummy|synthetic|simulated`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Code references fake/synthetic data. Use real experimental data only.",
		},
		{
			ID:       "p-value-conditioned-result",
			Pattern:  `if.*p.?value.*[<>].*0\.05.*[:{].*=`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Conditional result modification based on p-value detected.",
		},
		{
			ID:       "result-forced-to-expectation",
			Pattern:  `result\s*:?=\s*(expected|hypothesis|target)`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Result forced to match expected/hypothesis value.",
		},
		{
			ID:       "suspicious-comment",
			Pattern:  `(#|//).*(hack|fudge|fake)`,
			Severity: Block,
			Message:  "RIGOR VIOLATION: Code contains suspicious comments suggesting data manipulation.",
		},

		// ── Warnings: surfaced, never suppressed, never fatal ──
		{
			ID:       "fixed-random-seed",
			Pattern:  `np\.random\.seed|rand\.Seed\s*\(`,
			Severity: Warn,
			Message:  "Random seed set. Ensure this is for reproducibility, not cherry-picking.",
		},
		{
			ID:       "outlier-removal",
			Pattern:  `outlier.*remove|remove.*outlier`,
			Severity: Warn,
			Message:  "Outlier removal detected. Document criteria and report how many were removed.",
		},
		{
			ID:       "data-exclusion",
			Pattern:  `exclude|skip|ignore`,
			Severity: Warn,
			Message:  "Data exclusion detected. Document criteria and report what was excluded.",
		},
		{
			ID:       "peak-finder-on-voltage",
			Pattern:  `find_peaks\s*\(\s*voltage|find_peaks\s*\(\s*v[^a]|FindPeaks\s*\(\s*voltage`,
			Severity: Warn,
			Message:  "Generic peak finder applied to a voltage trace. Use the detect_spikes tool; dV/dt-based detection is more appropriate for action potentials.",
		},
		{
			ID:       "custom-dvdt-threshold",
			Pattern:  `dvdt.*threshold|dv_dt.*threshold|dv/dt`,
			Severity: Warn,
			Message:  "Custom dV/dt threshold code detected. Use the detect_spikes tool instead.",
		},
		{
			ID:       "custom-spike-detection",
			Pattern:  `(def|func)\s+\w*(detect\w*spike|find\w*spike|spike\w*detect)`,
			Severity: Warn,
			Message:  "Custom spike detection function detected. Use the detect_spikes tool instead.",
		},
		{
			ID:       "custom-spike-features",
			Pattern:  `(def|func)\s+\w*(extract\w*spike\w*feature|spike\w*feature|ap_feature)`,
			Severity: Warn,
			Message:  "Custom spike feature extraction detected. Use the extract_spike_features tool instead.",
		},
		{
			ID:       "custom-input-resistance",
			Pattern:  `(def|func)\s+\w*(calc\w*input\w*resist|measure\w*resist|compute\w*rm)`,
			Severity: Warn,
			Message:  "Custom input resistance calculation detected. Consider the calculate_input_resistance tool first unless custom fitting is needed.",
		},
		{
			ID:       "custom-time-constant",
			Pattern:  `(def|func)\s+\w*(calc\w*tau|fit\w*tau|membrane\w*tau)`,
			Severity: Warn,
			Message:  "Custom time constant calculation detected. Consider the calculate_time_constant tool first unless a specialized fit is needed.",
		},
	})
	if err != nil {
		// The built-in table is covered by tests; failing to compile it is a
		// programming error.
		panic(err)
	}
	return t
}
