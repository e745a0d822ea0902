package workspace

import (
	"fmt"
	"strings"
)

const (
	TooLargePlaceholder = "File is too large to read"
	NotTextPlaceholder  = "File is not a text file, skipping reading"
)

// ReadContent returns the text of path, or a placeholder when the file is
// larger than maxSize bytes, is not text, or cannot be read.
func ReadContent(fsys FS, path string, maxSize int64) string {
	info, err := fsys.Stat(path)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return TooLargePlaceholder
	}
	if !fsys.IsText(path) {
		return NotTextPlaceholder
	}
	content, err := fsys.ReadText(path)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return content
}

// NumberLines prefixes every line with its 1-based number, right-aligned to four columns.
func NumberLines(content string) string {
	lines := strings.Split(content, "\n")
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%4d|%s", i+1, line)
	}
	return sb.String()
}

// IsPlaceholder reports whether s came from ReadContent's failure paths.
func IsPlaceholder(s string) bool {
	return s == TooLargePlaceholder || s == NotTextPlaceholder || strings.HasPrefix(s, "Error reading file: ")
}
