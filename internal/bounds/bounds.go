// Package bounds validates named scalar measurements against a declared
// [min,max] plausibility table. A check never alters or discards a value:
// it only annotates it, and downstream reporting is required to surface the
// annotation rather than hide an out-of-range result.
package bounds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry declares the plausible range for one named measurement.
type Entry struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Unit string  `yaml:"unit"`
}

// Result is the outcome of checking one value.
type Result struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	InRange bool    `json:"in_range"`
	// Note carries NoteNoBoundsDefined for unknown measurements, or a
	// human-readable explanation when the value falls outside its range.
	Note string `json:"note,omitempty"`
}

// NoteNoBoundsDefined marks a measurement the table does not cover.
// Unknown measurements are not penalized, only unchecked.
const NoteNoBoundsDefined = "NO_BOUNDS_DEFINED"

// Table is an immutable set of measurement bounds. Construct once at startup
// and share freely: concurrent reads need no locking.
type Table struct {
	entries map[string]Entry
	order   []string
}

// FromEntries builds a table, validating that every entry is total:
// non-empty name, min <= max, no duplicates.
func FromEntries(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("bounds entry %d: empty measurement name", i)
		}
		if e.Min > e.Max {
			return nil, fmt.Errorf("bounds entry %q: min %g > max %g", e.Name, e.Min, e.Max)
		}
		if _, dup := t.entries[e.Name]; dup {
			return nil, fmt.Errorf("bounds entry %q: duplicate measurement", e.Name)
		}
		t.entries[e.Name] = e
		t.order = append(t.order, e.Name)
	}
	return t, nil
}

// Load reads a yaml bounds table from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bounds table: %w", err)
	}
	var doc struct {
		Bounds []Entry `yaml:"bounds"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bounds table %s: %w", path, err)
	}
	return FromEntries(doc.Bounds)
}

// DefaultTable returns the canonical physiological bounds for patch-clamp
// measurements. Values mirror the ranges the agent's prompts document, so a
// flagged result always matches what the model was told to expect.
func DefaultTable() *Table {
	t, err := FromEntries([]Entry{
		{Name: "input_resistance_MOhm", Min: 10, Max: 2000, Unit: "MOhm"},
		{Name: "membrane_time_constant_ms", Min: 1, Max: 200, Unit: "ms"},
		{Name: "resting_potential_mV", Min: -100, Max: -30, Unit: "mV"},
		{Name: "sag_ratio", Min: 0, Max: 1, Unit: ""},
		{Name: "capacitance_pF", Min: 5, Max: 500, Unit: "pF"},
		{Name: "access_resistance_MOhm", Min: 1, Max: 40, Unit: "MOhm"},
		{Name: "series_resistance_MOhm", Min: 1, Max: 100, Unit: "MOhm"},
		{Name: "spike_threshold_mV", Min: -60, Max: -10, Unit: "mV"},
		{Name: "spike_amplitude_mV", Min: 30, Max: 140, Unit: "mV"},
		{Name: "spike_width_ms", Min: 0.1, Max: 5, Unit: "ms"},
		{Name: "rheobase_pA", Min: 0, Max: 2000, Unit: "pA"},
		{Name: "max_firing_rate_Hz", Min: 0, Max: 500, Unit: "Hz"},
		{Name: "adaptation_ratio", Min: 0, Max: 2, Unit: ""},
		{Name: "holding_current_pA", Min: -500, Max: 500, Unit: "pA"},
	})
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return t
}

// Lookup returns the declared entry for a measurement, if any.
func (t *Table) Lookup(name string) (Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Names returns measurement names in declaration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of declared measurements.
func (t *Table) Len() int { return len(t.order) }

// Check validates a value against its declared range. Unknown measurements
// come back in-range with a NoteNoBoundsDefined annotation.
func (t *Table) Check(name string, value float64) Result {
	e, ok := t.entries[name]
	if !ok {
		return Result{Name: name, Value: value, InRange: true, Note: NoteNoBoundsDefined}
	}

	res := Result{Name: name, Value: value, InRange: e.Min <= value && value <= e.Max}
	if !res.InRange {
		res.Note = fmt.Sprintf(
			"value %g for %q is outside physiological range [%g, %g] %s; possible recording issue, analysis error, or genuinely unusual cell",
			value, name, e.Min, e.Max, e.Unit)
	}
	return res
}
