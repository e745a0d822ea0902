package workspace

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tracker records file modification times from file system events.
// fsnotify is not recursive, so every non-ignored directory is watched.
type Tracker struct {
	root    string
	ignore  *Ignore
	watcher *fsnotify.Watcher
	now     func() time.Time

	mu       sync.RWMutex
	modified map[string]time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewTracker(root string, ignore *Ignore) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	t := &Tracker{
		root:     root,
		ignore:   ignore,
		watcher:  watcher,
		now:      time.Now,
		modified: make(map[string]time.Time),
		done:     make(chan struct{}),
	}

	if err := t.watchTree(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	t.wg.Add(1)
	go t.run()
	return t, nil
}

func (t *Tracker) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != t.root && t.ignore.Match(t.rel(path), true) {
			return filepath.SkipDir
		}
		if err := t.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (t *Tracker) rel(path string) string {
	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return path
	}
	return rel
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handle(ev)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

func (t *Tracker) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		t.mu.Lock()
		delete(t.modified, ev.Name)
		t.mu.Unlock()
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && !t.ignore.Match(t.rel(ev.Name), true) {
				_ = t.watchTree(ev.Name)
			}
			return
		}
		if t.ignore.Match(t.rel(ev.Name), false) {
			return
		}
		t.Touch(ev.Name)
	}
}

// Touch records path as modified now.
func (t *Tracker) Touch(path string) {
	t.mu.Lock()
	t.modified[path] = t.now()
	t.mu.Unlock()
}

// ModifiedSince returns files modified after since that still exist, newest first.
func (t *Tracker) ModifiedSince(since time.Time) []string {
	t.mu.RLock()
	type entry struct {
		path string
		at   time.Time
	}
	var found []entry
	for path, at := range t.modified {
		if at.After(since) {
			found = append(found, entry{path, at})
		}
	}
	t.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool {
		if found[i].at.Equal(found[j].at) {
			return found[i].path < found[j].path
		}
		return found[i].at.After(found[j].at)
	})

	out := make([]string, 0, len(found))
	for _, e := range found {
		if info, err := os.Stat(e.path); err == nil && !info.IsDir() {
			out = append(out, e.path)
		}
	}
	return out
}

// Close stops the watcher and waits for the event loop to exit.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.watcher.Close()
		t.wg.Wait()
	})
	return err
}
