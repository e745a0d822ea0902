package model

import "sync"

// FileEntry is one path in the relevance map.
type FileEntry struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// FileRelevance maps absolute paths to an enabled flag. Iteration follows
// insertion order. Safe for concurrent use.
type FileRelevance struct {
	mu      sync.RWMutex
	order   []string
	enabled map[string]bool
}

func NewFileRelevance() *FileRelevance {
	return &FileRelevance{enabled: make(map[string]bool)}
}

// Set records path with the given state, adding it if unknown.
func (f *FileRelevance) Set(path string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(path, enabled)
}

// AddIfAbsent records path only if it is not known yet. Reports whether it was added.
func (f *FileRelevance) AddIfAbsent(path string, enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.enabled[path]; ok {
		return false
	}
	f.setLocked(path, enabled)
	return true
}

func (f *FileRelevance) setLocked(path string, enabled bool) {
	if _, ok := f.enabled[path]; !ok {
		f.order = append(f.order, path)
	}
	f.enabled[path] = enabled
}

// Toggle flips a known path. Unknown paths are ignored.
func (f *FileRelevance) Toggle(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.enabled[path]
	if !ok {
		return false
	}
	f.enabled[path] = !state
	return true
}

// Retain disables every enabled path not in keep.
func (f *FileRelevance) Retain(keep []string) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for path, on := range f.enabled {
		if _, ok := keepSet[path]; on && !ok {
			f.enabled[path] = false
		}
	}
}

func (f *FileRelevance) IsEnabled(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled[path]
}

// Enabled returns enabled paths in insertion order.
func (f *FileRelevance) Enabled() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for _, p := range f.order {
		if f.enabled[p] {
			out = append(out, p)
		}
	}
	return out
}

func (f *FileRelevance) Entries() []FileEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FileEntry, len(f.order))
	for i, p := range f.order {
		out[i] = FileEntry{Path: p, Enabled: f.enabled[p]}
	}
	return out
}

func (f *FileRelevance) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}
