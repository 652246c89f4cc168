// Package integrity inspects numeric arrays for corruption signatures before
// their contents are trusted: missing values, non-finite entries, degenerate
// variance, and implausible smoothness. Validation is a pure read-only
// inspection; it never mutates or discards data, and every anomaly is
// reported rather than corrected.
package integrity

import (
	"fmt"
	"math"
)

// Status ranks finding severity. Critical > Warning > OK.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusCritical:
		return "CRITICAL"
	case StatusWarning:
		return "WARNING"
	default:
		return "OK"
	}
}

// Kind identifies a corruption signature.
type Kind string

const (
	MissingValues      Kind = "MISSING_VALUES"      // NaN entries
	NonFinite          Kind = "NON_FINITE"          // +/-Inf entries (amplifier saturation)
	ZeroVariance       Kind = "ZERO_VARIANCE"       // flat trace: disconnection or recording failure
	AllZeros           Kind = "ALL_ZEROS"           // every entry exactly zero
	SuspiciouslySmooth Kind = "SUSPICIOUSLY_SMOOTH" // noise-free trace: real instruments are never this clean
)

// Finding is one detected corruption signature. Findings are independent:
// a single array can carry several at once.
type Finding struct {
	Kind     Kind   `json:"kind"`
	Severity Status `json:"severity"`
	Detail   string `json:"detail"`
}

// Stats summarizes the finite portion of the array for reporting.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	NValid int     `json:"n_valid"`
	NTotal int     `json:"n_total"`
}

// Report is the structured outcome of validating one array.
type Report struct {
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Findings []Finding `json:"findings,omitempty"`
	Stats    *Stats    `json:"stats,omitempty"`
}

// OK reports whether no findings were raised.
func (r Report) OK() bool { return len(r.Findings) == 0 }

// Validation thresholds. The smoothness heuristic compares the standard
// deviation of the first difference to that of the raw trace; genuine
// instrument noise keeps the ratio well above the floor.
const (
	missingCriticalFraction  = 0.5
	nonFiniteDominantFraction = 0.5
	zeroVarianceEps           = 1e-12
	smoothnessRatioFloor      = 1e-4
	smoothnessMinSamples      = 1000
)

// Validate inspects values for corruption signatures. Checks run in a fixed
// order and contribute independent findings; the report status is the maximum
// severity across findings, or OK when the list is empty.
func Validate(values []float64, name string) Report {
	report := Report{Name: name}

	n := len(values)
	if n == 0 {
		report.addFinding(Finding{
			Kind:     MissingValues,
			Severity: StatusCritical,
			Detail:   fmt.Sprintf("%s: empty array, no data to analyze", name),
		})
		return report
	}

	nanCount := 0
	infCount := 0
	allZero := true
	clean := make([]float64, 0, n)
	for _, v := range values {
		switch {
		case math.IsNaN(v):
			nanCount++
		case math.IsInf(v, 0):
			infCount++
		default:
			clean = append(clean, v)
			if v != 0 {
				allZero = false
			}
		}
	}

	// 1. Missing values
	if nanCount > 0 {
		frac := float64(nanCount) / float64(n)
		sev := StatusWarning
		detail := fmt.Sprintf("%s: %.1f%% NaN values detected", name, frac*100)
		if frac > missingCriticalFraction {
			sev = StatusCritical
			detail = fmt.Sprintf("%s: %.1f%% NaN values, data may be corrupted", name, frac*100)
		}
		report.addFinding(Finding{Kind: MissingValues, Severity: sev, Detail: detail})
	}

	// 2. Non-finite entries
	if infCount > 0 {
		frac := float64(infCount) / float64(n)
		sev := StatusWarning
		if frac > nonFiniteDominantFraction {
			sev = StatusCritical
		}
		report.addFinding(Finding{
			Kind:     NonFinite,
			Severity: sev,
			Detail:   fmt.Sprintf("%s: %d Inf values detected, check amplifier saturation", name, infCount),
		})
	}

	mean, std := meanStd(clean)

	// 3. Zero variance. A single sample has no variance to speak of, so the
	// check needs at least two valid entries.
	if len(clean) > 1 && std < zeroVarianceEps {
		report.addFinding(Finding{
			Kind:     ZeroVariance,
			Severity: StatusCritical,
			Detail:   fmt.Sprintf("%s: zero variance, possible recording failure or disconnection", name),
		})
	}

	// 4. All zeros
	if len(clean) > 0 && allZero {
		report.addFinding(Finding{
			Kind:     AllZeros,
			Severity: StatusCritical,
			Detail:   fmt.Sprintf("%s: all zeros, check amplifier connection", name),
		})
	}

	// 5. Suspicious smoothness
	if len(clean) > smoothnessMinSamples {
		_, diffStd := meanStd(diff(clean))
		ratio := diffStd / (std + 1e-10)
		if ratio < smoothnessRatioFloor {
			report.addFinding(Finding{
				Kind:     SuspiciouslySmooth,
				Severity: StatusWarning,
				Detail:   fmt.Sprintf("%s: suspiciously smooth (noise ratio %.2g), real recordings have noise", name, ratio),
			})
		}
	}

	if len(clean) > 0 {
		minV, maxV := clean[0], clean[0]
		for _, v := range clean[1:] {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		report.Stats = &Stats{
			Min:    minV,
			Max:    maxV,
			Mean:   mean,
			Std:    std,
			NValid: len(clean),
			NTotal: n,
		}
	}

	return report
}

// addFinding appends a finding and bumps the report status to the maximum
// severity seen so far.
func (r *Report) addFinding(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity > r.Status {
		r.Status = f.Severity
	}
}

// meanStd returns the population mean and standard deviation.
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}

// diff returns the first difference of values.
func diff(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}
