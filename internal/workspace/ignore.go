package workspace

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var defaultIgnores = []string{".git/", "node_modules/", "vendor/", "__pycache__/", "dist/", "build/", ".venv/", ".idea/", ".DS_Store"}

// Ignore matches project-relative paths against .gitignore style patterns.
// Negated patterns ("!foo") are not supported and are skipped.
type Ignore struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	dirOnly bool
}

// LoadIgnore reads root/.gitignore on top of the built-in patterns.
func LoadIgnore(root string) *Ignore {
	ig := NewIgnore(defaultIgnores...)

	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return ig
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	ig.add(lines...)
	return ig
}

func NewIgnore(patterns ...string) *Ignore {
	ig := &Ignore{}
	ig.add(patterns...)
	return ig
}

func (ig *Ignore) add(lines ...string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		p := ignorePattern{}
		if strings.HasSuffix(line, "/") {
			p.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}

		// A pattern with a slash before its end is anchored at the root.
		if strings.Contains(line, "/") {
			p.glob = strings.TrimPrefix(line, "/")
		} else {
			p.glob = "**/" + line
		}

		if doublestar.ValidatePattern(p.glob) {
			ig.patterns = append(ig.patterns, p)
		}
	}
}

// Match reports whether rel (slash or OS separated, relative to the root) is ignored.
// Anything below an ignored directory is ignored too.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}

	for _, p := range ig.patterns {
		if (!p.dirOnly || isDir) && doublestar.MatchUnvalidated(p.glob, rel) {
			return true
		}
		// Parents are directories, so dirOnly patterns apply to them.
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if doublestar.MatchUnvalidated(p.glob, dir) {
				return true
			}
		}
	}
	return false
}
