package rigor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smestern/patchAgent/internal/logging"
)

// TableWatcher watches a yaml rule file for changes and hot-swaps the gate's
// table on edit. Reload is full replacement: a table that fails to compile is
// discarded and the previous table stays in force.
type TableWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	gate        *Gate
	rulePath    string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closed      bool

	stats TableWatcherStats
}

// TableWatcherStats tracks watcher activity for diagnostics.
type TableWatcherStats struct {
	ReloadsApplied int
	ReloadsFailed  int
	LastEventTime  time.Time
	LastVersion    string
}

// NewTableWatcher creates a watcher that keeps gate in sync with rulePath.
func NewTableWatcher(rulePath string, gate *Gate) (*TableWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TableWatcher{
		watcher:     watcher,
		gate:        gate,
		rulePath:    rulePath,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the rule file's directory. Non-blocking; the watcher
// runs in a goroutine until Stop or ctx cancellation.
func (tw *TableWatcher) Start(ctx context.Context) error {
	tw.mu.Lock()
	if tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = true
	tw.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch would be lost after the first rename.
	dir := filepath.Dir(tw.rulePath)
	if err := tw.watcher.Add(dir); err != nil {
		tw.mu.Lock()
		tw.running = false
		tw.closed = true
		tw.mu.Unlock()
		tw.watcher.Close()
		return err
	}
	logging.Rigor("watching rule table: %s", tw.rulePath)

	go tw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup. Safe to call whether or not
// Start ever ran; the underlying watcher is closed either way.
func (tw *TableWatcher) Stop() {
	tw.mu.Lock()
	if !tw.running {
		if !tw.closed {
			tw.closed = true
			tw.watcher.Close()
		}
		tw.mu.Unlock()
		return
	}
	tw.running = false
	tw.closed = true
	tw.mu.Unlock()

	close(tw.stopCh)
	<-tw.doneCh
	tw.watcher.Close()
}

// Stats returns a snapshot of watcher activity.
func (tw *TableWatcher) Stats() TableWatcherStats {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.stats
}

func (tw *TableWatcher) run(ctx context.Context) {
	defer close(tw.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tw.stopCh:
			return
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(tw.rulePath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if tw.debounced(event.Name) {
				continue
			}
			tw.reload()
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryRigor).Warn("rule watcher error: %v", err)
		}
	}
}

// debounced reports whether this event falls inside the debounce window for
// its path, and records the event time.
func (tw *TableWatcher) debounced(path string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	now := time.Now()
	if last, ok := tw.debounceMap[path]; ok && now.Sub(last) < tw.debounceDur {
		return true
	}
	tw.debounceMap[path] = now
	return false
}

func (tw *TableWatcher) reload() {
	table, err := Load(tw.rulePath)

	tw.mu.Lock()
	tw.stats.LastEventTime = time.Now()
	if err != nil {
		tw.stats.ReloadsFailed++
		tw.mu.Unlock()
		logging.Get(logging.CategoryRigor).Error("rule table reload failed, keeping previous table: %v", err)
		return
	}
	tw.stats.ReloadsApplied++
	tw.stats.LastVersion = table.Version
	tw.mu.Unlock()

	tw.gate.Replace(table)
}
