package tools

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

// UnifiedDiff renders a line diff of before and after for path, with a few
// lines of context around each change. Returns "" when nothing changed.
func UnifiedDiff(path, before, after string) string {
	before = withTrailingNewline(before)
	after = withTrailingNewline(after)
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	type line struct {
		op   diffmatchpatch.Operation
		text string
	}
	var all []line
	for _, d := range diffs {
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l != "" {
				all = append(all, line{op: d.Type, text: strings.TrimSuffix(l, "\n")})
			}
		}
	}

	// keep[i] marks lines within diffContextLines of a change
	keep := make([]bool, len(all))
	for i, l := range all {
		if l.op == diffmatchpatch.DiffEqual {
			continue
		}
		for j := max(0, i-diffContextLines); j <= min(len(all)-1, i+diffContextLines); j++ {
			keep[j] = true
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	oldLine, newLine := 1, 1
	inHunk := false
	for i, l := range all {
		if keep[i] {
			if !inHunk {
				fmt.Fprintf(&sb, "@@ -%d +%d @@\n", oldLine, newLine)
				inHunk = true
			}
			switch l.op {
			case diffmatchpatch.DiffEqual:
				sb.WriteString(" " + l.text + "\n")
			case diffmatchpatch.DiffDelete:
				sb.WriteString("-" + l.text + "\n")
			case diffmatchpatch.DiffInsert:
				sb.WriteString("+" + l.text + "\n")
			}
		} else {
			inHunk = false
		}
		if l.op != diffmatchpatch.DiffInsert {
			oldLine++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newLine++
		}
	}
	return sb.String()
}

func withTrailingNewline(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}
