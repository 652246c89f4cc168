package integrity

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// noisySine builds a plausible-looking trace: a slow oscillation with
// deterministic high-frequency ripple standing in for instrument noise.
func noisySine(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = -65 + 5*math.Sin(x/40) + 0.3*math.Sin(x*1.7)
	}
	return out
}

func hasFinding(r Report, kind Kind) bool {
	for _, f := range r.Findings {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func findingSeverity(r Report, kind Kind) Status {
	for _, f := range r.Findings {
		if f.Kind == kind {
			return f.Severity
		}
	}
	return StatusOK
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name       string
		values     []float64
		wantStatus Status
		wantKinds  []Kind
	}{
		{
			name:       "clean_trace",
			values:     noisySine(2000),
			wantStatus: StatusOK,
		},
		{
			name:       "single_sample",
			values:     []float64{20000},
			wantStatus: StatusOK,
		},
		{
			name:       "empty_array",
			values:     nil,
			wantStatus: StatusCritical,
			wantKinds:  []Kind{MissingValues},
		},
		{
			name:       "some_nan",
			values:     []float64{1, 2, math.NaN(), 4, 5, 6, 7, 8, 9, 10},
			wantStatus: StatusWarning,
			wantKinds:  []Kind{MissingValues},
		},
		{
			name: "mostly_nan",
			values: []float64{
				math.NaN(), math.NaN(), math.NaN(), math.NaN(),
				math.NaN(), math.NaN(), 1, 2, 3, 4,
			},
			wantStatus: StatusCritical,
			wantKinds:  []Kind{MissingValues},
		},
		{
			name:       "some_inf",
			values:     []float64{1, 2, math.Inf(1), 4, 5, 6, 7, 8, 9, 10},
			wantStatus: StatusWarning,
			wantKinds:  []Kind{NonFinite},
		},
		{
			name: "mostly_inf",
			values: []float64{
				math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(1),
				math.Inf(1), math.Inf(1), 1, 2, 3, 4,
			},
			wantStatus: StatusCritical,
			wantKinds:  []Kind{NonFinite},
		},
		{
			name:       "flat_trace",
			values:     []float64{-65, -65, -65, -65, -65, -65},
			wantStatus: StatusCritical,
			wantKinds:  []Kind{ZeroVariance},
		},
		{
			name:       "all_zeros",
			values:     make([]float64, 100),
			wantStatus: StatusCritical,
			wantKinds:  []Kind{ZeroVariance, AllZeros},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := Validate(tc.values, tc.name)
			if report.Status != tc.wantStatus {
				t.Fatalf("status = %v, want %v (findings %#v)", report.Status, tc.wantStatus, report.Findings)
			}
			for _, kind := range tc.wantKinds {
				if !hasFinding(report, kind) {
					t.Errorf("missing finding %s: %#v", kind, report.Findings)
				}
			}
			if len(tc.wantKinds) == 0 && len(report.Findings) != 0 {
				t.Errorf("unexpected findings: %#v", report.Findings)
			}
		})
	}
}

func TestValidate_SixtyPercentMissingIsCritical(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		if i < 60 {
			values[i] = math.NaN()
		} else {
			values[i] = float64(i)
		}
	}

	report := Validate(values, "response")
	if report.Status != StatusCritical {
		t.Fatalf("status = %v, want CRITICAL", report.Status)
	}
	if sev := findingSeverity(report, MissingValues); sev != StatusCritical {
		t.Fatalf("MISSING_VALUES severity = %v, want CRITICAL", sev)
	}
}

func TestValidate_SuspiciousSmoothness(t *testing.T) {
	// A pure linear ramp over >1000 samples has essentially no
	// sample-to-sample noise relative to its overall spread.
	ramp := make([]float64, 1500)
	for i := range ramp {
		ramp[i] = float64(i) * 1e-3
	}

	report := Validate(ramp, "fitted")
	if !hasFinding(report, SuspiciouslySmooth) {
		t.Fatalf("missing SUSPICIOUSLY_SMOOTH: %#v", report.Findings)
	}
	if report.Status != StatusWarning {
		t.Fatalf("status = %v, want WARNING", report.Status)
	}

	// Shorter traces are exempt: smoothness is only meaningful with
	// enough samples.
	short := Validate(ramp[:500], "fitted")
	if hasFinding(short, SuspiciouslySmooth) {
		t.Fatalf("short trace flagged smooth: %#v", short.Findings)
	}
}

func TestValidate_FindingsAreIndependent(t *testing.T) {
	// NaN and Inf in one array raise both findings at once.
	values := []float64{1, 2, 3, math.NaN(), math.Inf(1), 6, 7, 8, 9, 10}
	report := Validate(values, "mixed")
	if !hasFinding(report, MissingValues) || !hasFinding(report, NonFinite) {
		t.Fatalf("expected both MISSING_VALUES and NON_FINITE: %#v", report.Findings)
	}
}

func TestValidate_Deterministic(t *testing.T) {
	values := append(noisySine(1200), math.NaN(), math.Inf(1))
	a := Validate(values, "trace")
	b := Validate(values, "trace")
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("reports differ between identical calls:\n%s", diff)
	}
}

func TestValidate_StatsIgnoreNonFinite(t *testing.T) {
	values := []float64{math.NaN(), 1, 2, 3, math.Inf(1)}
	report := Validate(values, "trace")
	if report.Stats == nil {
		t.Fatal("Stats = nil")
	}
	if report.Stats.NValid != 3 || report.Stats.NTotal != 5 {
		t.Fatalf("NValid/NTotal = %d/%d, want 3/5", report.Stats.NValid, report.Stats.NTotal)
	}
	if report.Stats.Min != 1 || report.Stats.Max != 3 {
		t.Fatalf("Min/Max = %g/%g, want 1/3", report.Stats.Min, report.Stats.Max)
	}
	if report.Stats.Mean != 2 {
		t.Fatalf("Mean = %g, want 2", report.Stats.Mean)
	}
}
