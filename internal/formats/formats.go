// Package formats defines the FormatReader capability consumed by the data
// resolver: given a source identifier, produce structured sweep data plus
// recording metadata. Binary container formats (ABF, NWB) are parsed by
// external collaborators that implement Reader; this package owns only the
// contract, the extension-based registry, and a plain-text ATF reader used
// by the CLI and tests.
//
// Readers must not cache. Caching is the resolver's exclusive responsibility,
// so two independent cache layers can never disagree about freshness.
package formats

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ClampMode identifies the recording configuration of a sweep.
type ClampMode string

const (
	CurrentClamp ClampMode = "CC"
	VoltageClamp ClampMode = "VC"
	UnknownClamp ClampMode = ""
)

// Sweep is one repetition of a stimulus-response recording:
// time (s), response (mV or pA), and the command waveform driving it.
type Sweep struct {
	Time     []float64
	Response []float64
	Command  []float64

	// Protocol is the stimulus protocol label for this sweep, when the
	// container records one (NWB does, ABF usually does not).
	Protocol string
	Mode     ClampMode
}

// Recording is the parsed form of one source file.
// Once returned by a Reader it is treated as immutable everywhere downstream.
type Recording struct {
	Source       string
	SamplingRate float64 // Hz
	Mode         ClampMode
	Sweeps       []Sweep
	Metadata     map[string]string
}

// SweepCount returns the number of sweeps in the recording.
func (r *Recording) SweepCount() int { return len(r.Sweeps) }

// ParseError is the typed failure a Reader must return for unreadable or
// unknown-format input. It always wraps the underlying cause.
type ParseError struct {
	Source string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("parse %s (%s): %v", e.Source, e.Format, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrUnknownFormat is returned when no reader is registered for a source's
// extension.
var ErrUnknownFormat = errors.New("unknown recording format")

// Reader parses a source identifier into a Recording.
// Implementations must honor ctx cancellation for any underlying I/O and
// must return *ParseError on unreadable input.
type Reader interface {
	Parse(ctx context.Context, source string) (*Recording, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context, source string) (*Recording, error)

// Parse implements Reader.
func (f ReaderFunc) Parse(ctx context.Context, source string) (*Recording, error) {
	return f(ctx, source)
}

// Registry dispatches to a Reader by source file extension.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader // keyed by lowercase extension including dot
}

// NewRegistry creates an empty format registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

// Register binds a reader to a file extension (".atf", ".abf", ".nwb").
// Later registrations for the same extension replace earlier ones.
func (r *Registry) Register(ext string, reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[strings.ToLower(ext)] = reader
}

// Extensions returns the registered extensions, for diagnostics.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		exts = append(exts, ext)
	}
	return exts
}

// Parse implements Reader by dispatching on the source's extension.
func (r *Registry) Parse(ctx context.Context, source string) (*Recording, error) {
	ext := strings.ToLower(filepath.Ext(source))

	r.mu.RLock()
	reader, ok := r.readers[ext]
	r.mu.RUnlock()

	if !ok {
		return nil, &ParseError{Source: source, Format: ext, Err: ErrUnknownFormat}
	}
	return reader.Parse(ctx, source)
}
