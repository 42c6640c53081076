package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conduit-bus/conduit/internal/lifecycle"
)

// ChangeKind classifies a debounced filesystem event.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

// Change is one debounced add/modify/remove event for a manifest path.
type Change struct {
	Kind ChangeKind
	Path string
}

// WatcherSource is the lowest-priority reference strategy of §4.1: it
// emits debounced add/modify/remove events for a watched directory
// instead of a one-shot Discover scan.
type WatcherSource struct {
	Dir      string
	Resolve  FactoryResolver
	Debounce time.Duration

	onChange func(Change)
}

// NewWatcherSource constructs a watcher over dir with the given
// debounce interval, invoking onChange for each settled event.
func NewWatcherSource(dir string, debounce time.Duration, resolve FactoryResolver, onChange func(Change)) *WatcherSource {
	return &WatcherSource{Dir: dir, Resolve: resolve, Debounce: debounce, onChange: onChange}
}

func (s *WatcherSource) Name() string  { return "fs-watcher" }
func (s *WatcherSource) Priority() int { return 10 }
func (s *WatcherSource) Enabled() bool { return s.Dir != "" }
func (s *WatcherSource) DefaultIsolation() lifecycle.IsolationLevel {
	return lifecycle.IsolationStandard
}

// Discover performs an initial directory scan; ongoing changes are
// reported via Run's debounced callback, not repeated Discover calls.
func (s *WatcherSource) Discover(ctx context.Context) ([]DiscoveredComponent, error) {
	dirSource := NewDirectorySource(s.Dir, s.Resolve)
	return dirSource.Discover(ctx)
}

// Run watches Dir until ctx is cancelled, coalescing bursts of events
// on the same path within Debounce into a single callback invocation.
func (s *WatcherSource) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.Dir); err != nil {
		return err
	}

	pending := make(map[string]*time.Timer)
	var mu sync.Mutex

	schedule := func(path string, kind ChangeKind) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok {
			t.Stop()
		}
		pending[path] = time.AfterFunc(s.Debounce, func() {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			if s.onChange != nil {
				s.onChange(Change{Kind: kind, Path: path})
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Create):
				schedule(event.Name, ChangeAdded)
			case event.Has(fsnotify.Write):
				schedule(event.Name, ChangeModified)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				schedule(event.Name, ChangeRemoved)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				continue
			}
		}
	}
}
