package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/smestern/patchAgent/internal/formats"
)

// countingReader fabricates one recording per source and counts parses, so
// tests can assert exactly how many loads reached the backing store.
type countingReader struct {
	parses atomic.Int64
	fail   atomic.Bool
	block  chan struct{} // when non-nil, Parse waits on it
}

func (r *countingReader) Parse(ctx context.Context, source string) (*formats.Recording, error) {
	if r.block != nil {
		<-r.block
	}
	r.parses.Add(1)
	if r.fail.Load() {
		return nil, &formats.ParseError{Source: source, Format: "test", Err: errors.New("backing store down")}
	}
	return &formats.Recording{
		Source:       source,
		SamplingRate: 20000,
		Sweeps: []formats.Sweep{
			{Protocol: "long_square", Mode: formats.CurrentClamp, Response: []float64{-65, -64, -66}},
			{Protocol: "long_square", Mode: formats.CurrentClamp, Response: []float64{-65, -63, -67}},
			{Protocol: "ramp", Mode: formats.VoltageClamp, Response: []float64{0, 1, 2}},
		},
	}, nil
}

func TestResolve_CacheHit(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 10)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{})
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Fatal("hit returned a different payload object")
	}
	if n := reader.parses.Load(); n != 1 {
		t.Fatalf("parses = %d, want 1", n)
	}

	stats := r.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestResolve_FilterIsPartOfIdentity(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 10)
	ctx := context.Background()

	full, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{})
	if err != nil {
		t.Fatal(err)
	}
	filtered, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{Protocol: "ramp"})
	if err != nil {
		t.Fatal(err)
	}

	if full == filtered {
		t.Fatal("distinct filters shared one cache entry")
	}
	if n := reader.parses.Load(); n != 2 {
		t.Fatalf("parses = %d, want 2", n)
	}
	if got := filtered.Recording.SweepCount(); got != 1 {
		t.Fatalf("filtered sweeps = %d, want 1", got)
	}
	if full.Recording.SweepCount() != 3 {
		t.Fatalf("full sweeps = %d, want 3", full.Recording.SweepCount())
	}
}

func TestResolve_EquivalentSweepSetsShareEntry(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 10)
	ctx := context.Background()

	// Selection is a set: order and duplicates don't change identity.
	a, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{Sweeps: []int{2, 0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{Sweeps: []int{0, 1, 1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("equivalent sweep sets resolved to different payloads")
	}
	if n := reader.parses.Load(); n != 1 {
		t.Fatalf("parses = %d, want 1", n)
	}
}

func TestResolve_SingleFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := &countingReader{block: make(chan struct{})}
	r := New(reader, 10)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	payloads := make([]*Payload, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payloads[i], errs[i] = r.Resolve(ctx, "cell_01.abf", FilterSpec{})
		}(i)
	}

	close(reader.block) // release all pending parses
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if payloads[i] != payloads[0] {
			t.Fatalf("caller %d got a different payload", i)
		}
	}
	if n := reader.parses.Load(); n != 1 {
		t.Fatalf("parses = %d, want 1 coalesced load", n)
	}
}

func TestResolve_LRUEviction(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 2)
	ctx := context.Background()

	for _, src := range []string{"a.abf", "b.abf", "c.abf"} {
		if _, err := r.Resolve(ctx, src, FilterSpec{}); err != nil {
			t.Fatal(err)
		}
	}

	// a.abf was least recently used and must be gone; b and c are resident.
	stats := r.Stats()
	if stats.Size != 2 || stats.Evictions != 1 {
		t.Fatalf("stats = %+v, want size 2, evictions 1", stats)
	}

	want := []Handle{{Source: "c.abf"}, {Source: "b.abf"}}
	if diff := cmp.Diff(want, r.Handles()); diff != "" {
		t.Fatalf("resident handles:\n%s", diff)
	}

	// Re-resolving a.abf is a fresh parse.
	before := reader.parses.Load()
	if _, err := r.Resolve(ctx, "a.abf", FilterSpec{}); err != nil {
		t.Fatal(err)
	}
	if reader.parses.Load() != before+1 {
		t.Fatal("evicted entry served without re-parsing")
	}
}

func TestResolve_RecencyRefreshOnHit(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 2)
	ctx := context.Background()

	mustResolve := func(src string) {
		t.Helper()
		if _, err := r.Resolve(ctx, src, FilterSpec{}); err != nil {
			t.Fatal(err)
		}
	}

	mustResolve("a.abf")
	mustResolve("b.abf")
	mustResolve("a.abf") // refresh a; b becomes the eviction candidate
	mustResolve("c.abf") // evicts b

	want := []Handle{{Source: "c.abf"}, {Source: "a.abf"}}
	if diff := cmp.Diff(want, r.Handles()); diff != "" {
		t.Fatalf("resident handles:\n%s", diff)
	}
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	reader := &countingReader{}
	reader.fail.Store(true)
	r := New(reader, 10)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{})
	var dle *DataLoadError
	if !errors.As(err, &dle) {
		t.Fatalf("err = %v, want *DataLoadError", err)
	}
	var pe *formats.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, does not unwrap to *ParseError", err)
	}

	// Backing store recovers; the retry must reach it instead of replaying
	// the cached failure.
	reader.fail.Store(false)
	payload, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{})
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if payload == nil || payload.Recording.SweepCount() != 3 {
		t.Fatalf("retry payload = %+v", payload)
	}
	if n := reader.parses.Load(); n != 2 {
		t.Fatalf("parses = %d, want 2", n)
	}
}

func TestInvalidate(t *testing.T) {
	reader := &countingReader{}
	r := New(reader, 10)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{}); err != nil {
		t.Fatal(err)
	}
	if !r.Invalidate("cell_01.abf", FilterSpec{}) {
		t.Fatal("Invalidate = false for resident entry")
	}
	if r.Invalidate("cell_01.abf", FilterSpec{}) {
		t.Fatal("Invalidate = true for absent entry")
	}

	if _, err := r.Resolve(ctx, "cell_01.abf", FilterSpec{}); err != nil {
		t.Fatal(err)
	}
	if n := reader.parses.Load(); n != 2 {
		t.Fatalf("parses = %d, want 2 after invalidation", n)
	}
}

func TestResolve_ConcurrentMixedKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := &countingReader{}
	r := New(reader, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				src := fmt.Sprintf("cell_%02d.abf", j%6)
				if _, err := r.Resolve(ctx, src, FilterSpec{}); err != nil {
					t.Errorf("resolve %s: %v", src, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	if stats.Size > 4 {
		t.Fatalf("size = %d exceeds capacity 4", stats.Size)
	}
}

func TestHandleString(t *testing.T) {
	plain := Handle{Source: "cell_01.abf"}
	if got := plain.String(); got != "cell_01.abf" {
		t.Fatalf("String = %q", got)
	}

	filtered := Handle{Source: "cell_01.abf", Filter: FilterSpec{Protocol: "ramp", Sweeps: []int{3, 1}}}
	got := filtered.String()
	if got == plain.String() {
		t.Fatal("filtered handle renders same as plain")
	}
}
