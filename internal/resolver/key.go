package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/smestern/patchAgent/internal/formats"
)

// FilterSpec shapes a resolved dataset: category filters (stimulus protocol,
// clamp mode) and an explicit sweep subset. Filters intersect: a sweep
// survives only if it passes every populated field. The filter is part of the
// cache identity, so two different views of one file never share an entry.
type FilterSpec struct {
	Protocol  string
	ClampMode formats.ClampMode
	Sweeps    []int
}

// IsZero reports whether no filters are set.
func (f FilterSpec) IsZero() bool {
	return f.Protocol == "" && f.ClampMode == formats.UnknownClamp && len(f.Sweeps) == 0
}

// canonical renders the filter in a stable order so that logically identical
// specs always produce the same cache key. The sweep subset is sorted and
// de-duplicated; selection is a set, not a sequence.
func (f FilterSpec) canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "protocol=%s;mode=%s;sweeps=", f.Protocol, f.ClampMode)
	if len(f.Sweeps) > 0 {
		sweeps := append([]int(nil), f.Sweeps...)
		sort.Ints(sweeps)
		prev := -1
		for _, s := range sweeps {
			if s == prev {
				continue
			}
			prev = s
			fmt.Fprintf(&b, "%d,", s)
		}
	}
	return b.String()
}

// Handle is the identity of a resolved dataset view.
type Handle struct {
	Source string
	Filter FilterSpec
}

// String renders the handle for logs and diagnostics.
func (h Handle) String() string {
	if h.Filter.IsZero() {
		return h.Source
	}
	return h.Source + "?" + h.Filter.canonical()
}

// key digests the handle into a fixed-width cache key.
func (h Handle) key() string {
	sum := blake3.Sum256([]byte(h.Source + "\x00" + h.Filter.canonical()))
	return fmt.Sprintf("%x", sum[:16])
}
