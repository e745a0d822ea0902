package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrOutsideRoot is returned for paths that resolve outside the project root.
var ErrOutsideRoot = errors.New("path outside project root")

const maxTreeEntries = 300

// FS is the file system view the context builder and tools work against.
type FS interface {
	Root() string
	Resolve(path string) (string, error)
	Exists(path string) bool
	IsDirectory(path string) bool
	Stat(path string) (fs.FileInfo, error)
	IsText(path string) bool
	ReadText(path string) (string, error)
	ListModifiedSince(t time.Time) []string
	Tree(depth int) string
}

// Workspace is the project directory on local disk.
type Workspace struct {
	root    string
	ignore  *Ignore
	tracker *Tracker
}

type Option func(*Workspace)

// WithTracker answers ListModifiedSince from file system events instead of a walk.
func WithTracker(t *Tracker) Option {
	return func(w *Workspace) { w.tracker = t }
}

func New(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	w := &Workspace{root: abs, ignore: LoadIgnore(abs)}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Workspace) Root() string { return w.root }

func (w *Workspace) Ignore() *Ignore { return w.ignore }

// Resolve returns the absolute form of path, which may be relative to the
// root. Paths outside the root are rejected.
func (w *Workspace) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	path = filepath.Clean(path)
	if !WithinRoot(w.root, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return path, nil
}

// WithinRoot reports whether path is root or below it.
func WithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns path relative to the root, or path itself if that fails.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

func (w *Workspace) Exists(path string) bool {
	_, err := w.Stat(path)
	return err == nil
}

func (w *Workspace) IsDirectory(path string) bool {
	info, err := w.Stat(path)
	return err == nil && info.IsDir()
}

func (w *Workspace) Stat(path string) (fs.FileInfo, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// IsText sniffs the file content. Empty files count as text.
func (w *Workspace) IsText(path string) bool {
	abs, err := w.Resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return false
	}
	if info.Size() == 0 {
		return true
	}
	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return false
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (w *Workspace) ReadText(path string) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteText writes content, creating parent directories as needed.
func (w *Workspace) WriteText(path, content string) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return err
	}
	if w.tracker != nil {
		w.tracker.Touch(abs)
	}
	return nil
}

// ListModifiedSince returns non-ignored files changed after t, newest first.
func (w *Workspace) ListModifiedSince(t time.Time) []string {
	if w.tracker != nil {
		return w.tracker.ModifiedSince(t)
	}

	type entry struct {
		path string
		mod  time.Time
	}
	var found []entry
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == w.root {
			return nil
		}
		if w.ignore.Match(w.Rel(path), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(t) {
			found = append(found, entry{path: path, mod: info.ModTime()})
		}
		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.path
	}
	return out
}

// Tree renders the project as an indented listing, directories first,
// skipping ignored entries and stopping at depth levels below the root.
func (w *Workspace) Tree(depth int) string {
	var sb strings.Builder
	count := 0
	w.writeTree(&sb, w.root, 0, depth, &count)
	if count >= maxTreeEntries {
		sb.WriteString("... and more\n")
	}
	if sb.Len() == 0 {
		return "directory is empty"
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (w *Workspace) writeTree(sb *strings.Builder, dir string, level, depth int, count *int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	indent := strings.Repeat("  ", level)
	for _, e := range entries {
		if *count >= maxTreeEntries {
			return
		}
		full := filepath.Join(dir, e.Name())
		if w.ignore.Match(w.Rel(full), e.IsDir()) {
			continue
		}
		*count++
		if e.IsDir() {
			fmt.Fprintf(sb, "%s- %s/\n", indent, e.Name())
			if level+1 < depth {
				w.writeTree(sb, full, level+1, depth, count)
			}
			continue
		}
		fmt.Fprintf(sb, "%s- %s\n", indent, e.Name())
	}
}
