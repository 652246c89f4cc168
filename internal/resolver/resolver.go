// Package resolver provides cached access to parsed recordings. It wraps a
// formats.Reader with an identity-keyed, bounded, least-recently-used cache:
// repeated requests for the same (source, filter) view return the same
// payload object without re-parsing, and concurrent first requests for one
// key coalesce into a single load.
//
// Payloads are immutable once loaded. Eviction only drops the cache index
// entry; callers already holding a payload keep using it safely.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smestern/patchAgent/internal/formats"
	"github.com/smestern/patchAgent/internal/logging"
)

// DefaultCapacity is the default number of resident cache entries.
const DefaultCapacity = 50

// Payload is a cached, filtered view of one recording. Treat as read-only.
type Payload struct {
	Handle    Handle
	Recording *formats.Recording
	LoadedAt  time.Time
	// SizeCost approximates resident bytes (samples * 8), for diagnostics.
	SizeCost int64
}

// DataLoadError reports a failed resolution. The failure is never cached:
// a retry attempts the load again instead of replaying a stale error.
type DataLoadError struct {
	Handle Handle
	Err    error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Handle, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// entry is one cache slot, threaded onto the intrusive recency list.
type entry struct {
	key        string
	payload    *Payload
	lastAccess time.Time
	prev, next *entry
}

// Stats is a snapshot of cache behavior.
type Stats struct {
	Size      int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Resolver is the caching data-access layer. Safe for concurrent use.
type Resolver struct {
	reader   formats.Reader
	capacity int

	mu    sync.Mutex
	index map[string]*entry
	// Intrusive doubly-linked recency list: head is most recently used,
	// tail is the eviction candidate.
	head, tail *entry

	hits, misses, evictions int64

	group singleflight.Group
}

// New creates a resolver over reader with the given cache capacity.
// A capacity <= 0 falls back to DefaultCapacity.
func New(reader formats.Reader, capacity int) *Resolver {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Resolver{
		reader:   reader,
		capacity: capacity,
		index:    make(map[string]*entry, capacity),
	}
}

// Resolve returns the payload for (source, filter), loading and caching it on
// first use. Concurrent misses on the same key trigger exactly one underlying
// parse; all callers receive the same payload. Failures surface as
// *DataLoadError and leave nothing behind in the cache.
func (r *Resolver) Resolve(ctx context.Context, source string, filter FilterSpec) (*Payload, error) {
	handle := Handle{Source: source, Filter: filter}
	key := handle.key()

	if p := r.lookup(key); p != nil {
		logging.ResolverDebug("cache hit: %s", handle)
		return p, nil
	}

	// Single-flight load: the first miss parses, concurrent misses on the
	// same key wait for its result instead of parsing again.
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Re-check under the group: we may have lost the race to a caller
		// that already populated the slot.
		if p := r.peek(key); p != nil {
			return p, nil
		}
		return r.load(ctx, handle, key)
	})
	if err != nil {
		var dle *DataLoadError
		if errors.As(err, &dle) {
			return nil, dle
		}
		return nil, &DataLoadError{Handle: handle, Err: err}
	}
	return v.(*Payload), nil
}

// lookup returns the resident payload for key and refreshes its recency,
// or nil on a miss.
func (r *Resolver) lookup(key string) *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[key]
	if !ok {
		r.misses++
		return nil
	}
	r.hits++
	e.lastAccess = time.Now()
	r.moveToFront(e)
	return e.payload
}

// peek is lookup without miss accounting, for the re-check inside a
// coalesced load.
func (r *Resolver) peek(key string) *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[key]
	if !ok {
		return nil
	}
	e.lastAccess = time.Now()
	r.moveToFront(e)
	return e.payload
}

// load parses, filters, and inserts one payload. Runs inside singleflight.
func (r *Resolver) load(ctx context.Context, handle Handle, key string) (*Payload, error) {
	timer := logging.StartTimer(logging.CategoryResolver, "load "+handle.String())
	defer timer.Stop()

	rec, err := r.reader.Parse(ctx, handle.Source)
	if err != nil {
		logging.Get(logging.CategoryResolver).Error("load failed: %s: %v", handle, err)
		return nil, &DataLoadError{Handle: handle, Err: err}
	}

	payload := &Payload{
		Handle:    handle,
		Recording: applyFilter(rec, handle.Filter),
		LoadedAt:  time.Now(),
	}
	payload.SizeCost = sizeCost(payload.Recording)

	r.insert(key, payload)
	logging.Resolver("loaded %s: %d sweep(s), %.0f Hz", handle, payload.Recording.SweepCount(), payload.Recording.SamplingRate)
	return payload, nil
}

// insert stores a payload and evicts the least-recently-used entry when the
// capacity is exceeded.
func (r *Resolver) insert(key string, payload *Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[key]; exists {
		// A racing insert won; keep the resident entry.
		return
	}

	e := &entry{key: key, payload: payload, lastAccess: time.Now()}
	r.index[key] = e
	r.pushFront(e)

	for len(r.index) > r.capacity {
		victim := r.tail
		if victim == nil {
			break
		}
		r.unlink(victim)
		delete(r.index, victim.key)
		r.evictions++
		logging.ResolverDebug("evicted %s", victim.payload.Handle)
	}
}

// Invalidate drops the cached view, if resident. The next Resolve re-parses.
func (r *Resolver) Invalidate(source string, filter FilterSpec) bool {
	key := Handle{Source: source, Filter: filter}.key()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[key]
	if !ok {
		return false
	}
	r.unlink(e)
	delete(r.index, key)
	return true
}

// Stats returns a snapshot of cache behavior.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Size:      len(r.index),
		Capacity:  r.capacity,
		Hits:      r.hits,
		Misses:    r.misses,
		Evictions: r.evictions,
	}
}

// Handles returns the resident handles from most to least recently used.
func (r *Resolver) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.index))
	for e := r.head; e != nil; e = e.next {
		out = append(out, e.payload.Handle)
	}
	return out
}

// ── Intrusive recency list (callers hold r.mu) ──

func (r *Resolver) pushFront(e *entry) {
	e.prev = nil
	e.next = r.head
	if r.head != nil {
		r.head.prev = e
	}
	r.head = e
	if r.tail == nil {
		r.tail = e
	}
}

func (r *Resolver) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (r *Resolver) moveToFront(e *entry) {
	if r.head == e {
		return
	}
	r.unlink(e)
	r.pushFront(e)
}

// applyFilter produces the filtered view of a recording. The parsed recording
// is shared, never copied: sweeps are selected by reference, and the view
// carries the parent's rate and metadata.
func applyFilter(rec *formats.Recording, filter FilterSpec) *formats.Recording {
	if filter.IsZero() {
		return rec
	}

	var subset map[int]bool
	if len(filter.Sweeps) > 0 {
		subset = make(map[int]bool, len(filter.Sweeps))
		for _, i := range filter.Sweeps {
			subset[i] = true
		}
	}

	view := &formats.Recording{
		Source:       rec.Source,
		SamplingRate: rec.SamplingRate,
		Mode:         rec.Mode,
		Metadata:     rec.Metadata,
	}
	for i, sw := range rec.Sweeps {
		if filter.Protocol != "" && sw.Protocol != filter.Protocol {
			continue
		}
		if filter.ClampMode != formats.UnknownClamp && sw.Mode != filter.ClampMode {
			continue
		}
		if subset != nil && !subset[i] {
			continue
		}
		view.Sweeps = append(view.Sweeps, sw)
	}
	return view
}

// sizeCost approximates resident bytes for one payload.
func sizeCost(rec *formats.Recording) int64 {
	var samples int64
	for _, sw := range rec.Sweeps {
		samples += int64(len(sw.Time) + len(sw.Response) + len(sw.Command))
	}
	return samples * 8
}
