package shell

import (
	"regexp"
	"strings"
)

const (
	maxOutputLines = 100
	keepHeadLines  = 5
	keepTailLines  = 95
	maxOutputChars = 5000
	omittedMarker  = "(some command output omitted)..."
)

// TrimOutput keeps the first 5 and last 95 lines of long output, then the
// last 5000 characters.
func TrimOutput(out string) string {
	lines := strings.Split(out, "\n")
	if len(lines) > maxOutputLines {
		kept := make([]string, 0, keepHeadLines+keepTailLines+1)
		kept = append(kept, lines[:keepHeadLines]...)
		kept = append(kept, omittedMarker)
		kept = append(kept, lines[len(lines)-keepTailLines:]...)
		out = strings.Join(kept, "\n")
	}
	if len(out) > maxOutputChars {
		out = omittedMarker + "\n" + out[len(out)-maxOutputChars:]
	}
	return out
}

var ansiSequence = regexp.MustCompile(`[\x1b\x{9b}][\[()#;?]*(?:[0-9]{1,4}(?:;[0-9]{0,4})*)?[0-9A-ORZcf-nqry=><]`)

// StripANSI removes terminal color and cursor sequences.
func StripANSI(out string) string {
	return ansiSequence.ReplaceAllString(out, "")
}
