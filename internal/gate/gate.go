// Package gate orchestrates the guarded execution pipeline. It is the only
// component callers talk to: code submissions pass through the admission
// scan before any execution, and every computed result comes back with its
// integrity findings and bounds flags attached.
//
// The gate never executes anything that has not been admitted, and it never
// suppresses a non-blocking finding. A Block-rule match is the only condition
// that stops a request from completing; everything else is computed,
// attached, and passed through.
package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smestern/patchAgent/internal/audit"
	"github.com/smestern/patchAgent/internal/bounds"
	"github.com/smestern/patchAgent/internal/integrity"
	"github.com/smestern/patchAgent/internal/logging"
	"github.com/smestern/patchAgent/internal/resolver"
	"github.com/smestern/patchAgent/internal/rigor"
)

// State is a stage in the execution pipeline. Rejected and Reported are
// terminal.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateScanning         State = "SCANNING"
	StateRejected         State = "REJECTED"
	StateAdmitted         State = "ADMITTED"
	StateExecuting        State = "EXECUTING"
	StateValidatingOutput State = "VALIDATING_OUTPUT"
	StateBoundsChecking   State = "BOUNDS_CHECKING"
	StateReported         State = "REPORTED"
)

// ExecResult is what an Executor returns for an admitted submission:
// captured textual output, derived named arrays, and named scalar
// measurements to be bounds-checked.
type ExecResult struct {
	Output  string
	Arrays  map[string][]float64
	Scalars map[string]float64
}

// Executor runs an admitted code submission against its declared inputs.
// Execution is external to the pipeline; internal/sandbox provides a default
// interpreted implementation.
type Executor interface {
	Execute(ctx context.Context, source string, inputs map[string][]float64) (*ExecResult, error)
}

// Request is a code-bearing pipeline request: opaque source text plus the
// named arrays it declares it will read.
type Request struct {
	Source string
	Inputs map[string][]float64
}

// Outcome is the terminal report for one request. Every Warn-severity scan
// match, integrity finding, and bounds flag the pipeline computed is carried
// here verbatim.
type Outcome struct {
	ID    string           `json:"id"`
	State State            `json:"state"`
	Scan  rigor.ScanResult `json:"scan"`

	Output        string             `json:"output,omitempty"`
	InputReports  []integrity.Report `json:"input_reports,omitempty"`
	OutputReports []integrity.Report `json:"output_reports,omitempty"`
	Bounds        []bounds.Result    `json:"bounds,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Findings returns every CRITICAL/WARNING integrity finding across input and
// output reports.
func (o *Outcome) Findings() []integrity.Finding {
	var out []integrity.Finding
	for _, r := range o.InputReports {
		out = append(out, r.Findings...)
	}
	for _, r := range o.OutputReports {
		out = append(out, r.Findings...)
	}
	return out
}

// OutOfRange returns the bounds results flagged as outside their declared
// range.
func (o *Outcome) OutOfRange() []bounds.Result {
	var out []bounds.Result
	for _, b := range o.Bounds {
		if !b.InRange {
			out = append(out, b)
		}
	}
	return out
}

// PolicyRejection is returned when a Block rule matched. It carries every
// blocking message verbatim; the submission was not executed.
type PolicyRejection struct {
	Scan rigor.ScanResult
}

func (e *PolicyRejection) Error() string {
	return "code blocked by rigor policy:\n" + strings.Join(e.Scan.BlockMessages(), "\n")
}

// Gate wires the admission scanner, the integrity validator, the bounds
// table, and the data resolver into one pipeline. All dependencies are
// injected at construction; the gate holds no hidden global state.
type Gate struct {
	scanner  *rigor.Gate
	bounds   *bounds.Table
	resolver *resolver.Resolver
	audit    *audit.Store // optional
}

// New creates an execution gate. resolver may be nil for callers that only
// submit code; audit is optional and attached via WithAudit.
func New(scanner *rigor.Gate, table *bounds.Table, res *resolver.Resolver) *Gate {
	return &Gate{scanner: scanner, bounds: table, resolver: res}
}

// WithAudit attaches an audit store; every scan and execution is recorded.
func (g *Gate) WithAudit(store *audit.Store) *Gate {
	g.audit = store
	return g
}

// SubmitCode scans a submission without executing it.
func (g *Gate) SubmitCode(source string, declaredInputs []string) rigor.ScanResult {
	scan := g.scanner.Scan(rigor.Submission{Source: source, DeclaredInputs: declaredInputs})
	g.recordScan(source, scan)
	return scan
}

// ResolveDataset resolves a dataset view through the cache. Data-only
// requests never touch the admission scanner.
func (g *Gate) ResolveDataset(ctx context.Context, source string, filter resolver.FilterSpec) (*resolver.Payload, error) {
	if g.resolver == nil {
		return nil, fmt.Errorf("no resolver configured")
	}
	return g.resolver.Resolve(ctx, source, filter)
}

// ValidateArray runs the integrity validator on a named array.
func (g *Gate) ValidateArray(values []float64, name string) integrity.Report {
	return integrity.Validate(values, name)
}

// CheckBounds validates a named scalar against the bounds table.
func (g *Gate) CheckBounds(name string, value float64) bounds.Result {
	return g.bounds.Check(name, value)
}

// Run drives a code-bearing request through the full pipeline:
// scan -> execute -> validate output -> bounds-check -> report.
//
// A Block match returns the terminal Rejected outcome and a *PolicyRejection;
// the executor is never invoked. An executor failure returns the partial
// outcome and the wrapped error. Otherwise the outcome is Reported, carrying
// every warning, finding, and flag verbatim.
func (g *Gate) Run(ctx context.Context, req Request, exec Executor) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{ID: uuid.NewString(), State: StateReceived}
	logging.GateDebug("[%s] received request (%d input arrays)", outcome.ID, len(req.Inputs))

	// RECEIVED -> SCANNING: always, for code-bearing requests.
	outcome.State = StateScanning
	outcome.Scan = g.scanner.Scan(rigor.Submission{
		Source:         req.Source,
		DeclaredInputs: inputNames(req.Inputs),
	})
	scanID := g.recordScan(req.Source, outcome.Scan)

	if outcome.Scan.Blocked() {
		outcome.State = StateRejected
		outcome.Duration = time.Since(start)
		logging.GateLog("[%s] rejected: %v", outcome.ID, outcome.Scan.BlockMessages())
		return outcome, &PolicyRejection{Scan: outcome.Scan}
	}
	outcome.State = StateAdmitted

	// Inspect declared inputs before handing them to the executor. Findings
	// are attached, never acted on: no auto-fix, no silent exclusion.
	for _, name := range inputNames(req.Inputs) {
		outcome.InputReports = append(outcome.InputReports, integrity.Validate(req.Inputs[name], name))
	}

	outcome.State = StateExecuting
	if exec == nil {
		return outcome, fmt.Errorf("no executor provided")
	}
	result, err := exec.Execute(ctx, req.Source, req.Inputs)
	if err != nil {
		outcome.Duration = time.Since(start)
		g.recordExecution(scanID, req.Source, outcome, false)
		return outcome, fmt.Errorf("execution failed: %w", err)
	}
	outcome.Output = result.Output

	// VALIDATING_OUTPUT: every derived array, in name order for
	// reproducible reports.
	outcome.State = StateValidatingOutput
	for _, name := range sortedKeys(result.Arrays) {
		outcome.OutputReports = append(outcome.OutputReports, integrity.Validate(result.Arrays[name], name))
	}

	// BOUNDS_CHECKING: every named scalar measurement. Values are
	// annotated, never corrected or dropped.
	outcome.State = StateBoundsChecking
	for _, name := range sortedKeys(result.Scalars) {
		outcome.Bounds = append(outcome.Bounds, g.bounds.Check(name, result.Scalars[name]))
	}

	outcome.State = StateReported
	outcome.Duration = time.Since(start)
	g.recordExecution(scanID, req.Source, outcome, true)
	logging.GateLog("[%s] reported: %d warning(s), %d finding(s), %d out-of-range",
		outcome.ID, len(outcome.Scan.WarnMessages()), len(outcome.Findings()), len(outcome.OutOfRange()))
	return outcome, nil
}

func (g *Gate) recordScan(source string, scan rigor.ScanResult) string {
	if g.audit == nil {
		return ""
	}
	ids := make([]string, 0, len(scan.Matches))
	for _, m := range scan.Matches {
		ids = append(ids, m.RuleID)
	}
	id, err := g.audit.RecordScan(source, string(scan.Decision), scan.TableVersion, ids)
	if err != nil {
		logging.Get(logging.CategoryAudit).Error("record scan: %v", err)
		return ""
	}
	return id
}

func (g *Gate) recordExecution(scanID, source string, outcome *Outcome, success bool) {
	if g.audit == nil {
		return
	}
	var findings []string
	for _, f := range outcome.Findings() {
		findings = append(findings, string(f.Kind))
	}
	var flagged []string
	for _, b := range outcome.OutOfRange() {
		flagged = append(flagged, b.Name)
	}
	_, err := g.audit.RecordExecution(audit.ExecutionRecord{
		ScanID:     scanID,
		Source:     source,
		Success:    success,
		Output:     outcome.Output,
		Findings:   findings,
		OutOfRange: flagged,
		DurationMs: outcome.Duration.Milliseconds(),
	})
	if err != nil {
		logging.Get(logging.CategoryAudit).Error("record execution: %v", err)
	}
}

// inputNames returns map keys sorted for deterministic report order.
func inputNames(inputs map[string][]float64) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
