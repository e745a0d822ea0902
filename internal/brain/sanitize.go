package brain

import "regexp"

// fileChangesPattern matches the diff blocks that edit tools append to their results.
var fileChangesPattern = regexp.MustCompile(`(?s)<changes_made_to_file>.*?</changes_made_to_file>`)

// StripFileChanges removes diff blocks from a tool result. History summaries
// only need to know that a file changed, not how. Returns the cleaned content
// and the number of blocks removed.
func StripFileChanges(content string) (string, int) {
	matches := fileChangesPattern.FindAllStringIndex(content, -1)
	count := len(matches)
	if count == 0 {
		return content, 0
	}
	return fileChangesPattern.ReplaceAllString(content, ""), count
}
