package formats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ATFReader parses Axon Text File exports: a two-line magic header, a block
// of quoted header records, then tab-separated columns where column 0 is time
// in seconds and each remaining column is one sweep's response trace.
//
// ATF carries no command waveform, so Command is zero-filled per sweep and
// the clamp mode is left unknown unless a header record names it.
type ATFReader struct{}

// NewATFReader returns a reader for .atf text exports.
func NewATFReader() *ATFReader { return &ATFReader{} }

// Parse implements Reader.
func (a *ATFReader) Parse(ctx context.Context, source string) (*Recording, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, &ParseError{Source: source, Format: "atf", Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	// Line 1: "ATF<tab>1.0"
	if !sc.Scan() {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("empty file")}
	}
	magic := strings.Fields(sc.Text())
	if len(magic) < 1 || magic[0] != "ATF" {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("missing ATF magic")}
	}

	// Line 2: "<nHeaderRecords><tab><nDataColumns>"
	if !sc.Scan() {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("truncated header")}
	}
	counts := strings.Fields(sc.Text())
	if len(counts) < 2 {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("malformed count line %q", sc.Text())}
	}
	nHeader, err := strconv.Atoi(counts[0])
	if err != nil {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("bad header count: %w", err)}
	}

	meta := make(map[string]string)
	for i := 0; i < nHeader; i++ {
		if !sc.Scan() {
			return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("truncated header records")}
		}
		key, val, ok := splitHeaderRecord(sc.Text())
		if ok {
			meta[key] = val
		}
	}

	// Column title line, then data rows.
	if !sc.Scan() {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("missing column titles")}
	}

	var times []float64
	var columns [][]float64
	row := 0
	for sc.Scan() {
		if row%4096 == 0 {
			select {
			case <-ctx.Done():
				return nil, &ParseError{Source: source, Format: "atf", Err: ctx.Err()}
			default:
			}
		}
		row++

		fields := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
		if len(fields) < 2 {
			continue
		}
		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("row %d: bad time value %q", row, fields[0])}
		}
		times = append(times, t)

		if columns == nil {
			columns = make([][]float64, len(fields)-1)
		}
		for i, field := range fields[1:] {
			if i >= len(columns) {
				break
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("row %d col %d: bad value %q", row, i+1, field)}
			}
			columns[i] = append(columns[i], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Source: source, Format: "atf", Err: err}
	}
	if len(times) < 2 || len(columns) == 0 {
		return nil, &ParseError{Source: source, Format: "atf", Err: fmt.Errorf("no data rows")}
	}

	rate := 1.0 / (times[1] - times[0])

	mode := UnknownClamp
	if m, ok := meta["ClampMode"]; ok {
		switch strings.ToUpper(m) {
		case "CC", "IC", "CURRENTCLAMP":
			mode = CurrentClamp
		case "VC", "VOLTAGECLAMP":
			mode = VoltageClamp
		}
	}

	rec := &Recording{
		Source:       source,
		SamplingRate: rate,
		Mode:         mode,
		Metadata:     meta,
		Sweeps:       make([]Sweep, len(columns)),
	}
	for i, col := range columns {
		rec.Sweeps[i] = Sweep{
			Time:     times,
			Response: col,
			Command:  make([]float64, len(col)),
			Mode:     mode,
		}
	}
	return rec, nil
}

// splitHeaderRecord parses a quoted "Key=Value" ATF header record.
func splitHeaderRecord(line string) (key, val string, ok bool) {
	line = strings.Trim(strings.TrimSpace(line), `"`)
	if line == "" {
		return "", "", false
	}
	if k, v, found := strings.Cut(line, "="); found {
		return strings.TrimSpace(k), strings.TrimSpace(v), true
	}
	return line, "", true
}
