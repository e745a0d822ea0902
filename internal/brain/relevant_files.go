package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

const relevantFilesHeader = "\n\nCurrent content of the files (do not read these files again. Do not thank me for providing these files):\n<relevant_files_contents>"

type targetFileArgs struct {
	TargetFile string `json:"targetFile"`
}

// collectRelevantFiles updates the relevance map from tool calls and disk
// changes since the last scan and returns the enabled files, capped at
// MaxCombinedFiles. Files touched since the last scan come first.
func (b *ContextBuilder) collectRelevantFiles(conv *model.Conversation) []string {
	scan := conv.Scan()
	msgs := conv.Backend()
	scanAt := b.now()

	seen := make(map[string]struct{})
	var touched []string
	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		touched = append(touched, path)
	}

	for i := len(msgs) - 1; i >= 0 && msgs[i].ID > scan.LastToolScanID; i-- {
		m := msgs[i]
		if m.Role != llm.RoleAssistant {
			continue
		}
		for j := len(m.ToolCalls) - 1; j >= 0; j-- {
			args, err := llm.ParseToolArguments[targetFileArgs](m.ToolCalls[j].Arguments)
			if err != nil || strings.TrimSpace(args.TargetFile) == "" {
				continue
			}
			abs, err := b.fs.Resolve(args.TargetFile)
			if err != nil || !b.fs.Exists(abs) || b.fs.IsDirectory(abs) {
				continue
			}
			add(abs)
		}
	}
	for _, path := range b.fs.ListModifiedSince(scan.LastScanAt) {
		add(path)
	}

	for _, path := range touched {
		conv.Files.Set(path, true)
	}

	combined := touched
	for _, path := range conv.Files.Enabled() {
		if _, dup := seen[path]; !dup {
			seen[path] = struct{}{}
			combined = append(combined, path)
		}
	}
	if len(combined) > b.cfg.MaxCombinedFiles {
		for _, path := range combined[b.cfg.MaxCombinedFiles:] {
			conv.Files.Set(path, false)
		}
		combined = combined[:b.cfg.MaxCombinedFiles]
	}

	if len(msgs) > 0 {
		scan.LastToolScanID = msgs[len(msgs)-1].ID
	}
	scan.LastScanAt = scanAt
	conv.SetScan(scan)
	return combined
}

// FileContents renders paths as line-numbered file blocks.
func (b *ContextBuilder) FileContents(paths []string) string {
	blocks := make([]string, len(paths))
	for i, path := range paths {
		content := workspace.ReadContent(b.fs, path, b.cfg.MaxFileSize)
		if !workspace.IsPlaceholder(content) {
			content = workspace.NumberLines(content)
		}
		blocks[i] = fmt.Sprintf("\n<file_content file=\"%s\">\n%s\n</file_content>", path, content)
	}
	return strings.Join(blocks, "\n\n")
}

// RelevantFilesSection renders the enabled files with the section header, or "".
func (b *ContextBuilder) RelevantFilesSection(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return relevantFilesHeader + b.FileContents(paths) + "\n</relevant_files_contents>"
}

// relevantFilesSection collects, renders and if needed reduces the relevant files.
func (b *ContextBuilder) relevantFilesSection(ctx context.Context, conv *model.Conversation, taskSummary func() string) string {
	paths := b.collectRelevantFiles(conv)
	if len(paths) == 0 {
		return ""
	}
	contents := b.FileContents(paths)
	contents = b.reduceRelevantFiles(ctx, conv, paths, contents, taskSummary)
	if contents == "" {
		return ""
	}
	return relevantFilesHeader + contents + "\n</relevant_files_contents>"
}

// reduceRelevantFiles asks the model which files still matter when the
// contents are over the token ceiling and there are more files than the cap.
// The retained contents never exceed the ceiling. At most one reduction runs
// per ReductionInterval messages. Any failure returns contents unchanged.
func (b *ContextBuilder) reduceRelevantFiles(ctx context.Context, conv *model.Conversation, paths []string, contents string, taskSummary func() string) string {
	if len(paths) <= b.cfg.MaxRelevantFilesCount || b.counter.Count(contents) <= b.cfg.MaxRelevantFilesTokens {
		return contents
	}

	scan := conv.Scan()
	lastID := conv.LastID()
	if scan.Reduced && lastID-scan.LastReductionID < int64(b.cfg.ReductionInterval) {
		return contents
	}
	scan.Reduced = true
	scan.LastReductionID = lastID
	conv.SetScan(scan)

	ranked, err := b.rankFiles(ctx, conv, taskSummary(), contents)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "relevant file reduction failed, keeping all files", "error", err)
		}
		return contents
	}

	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[p] = struct{}{}
	}
	var keep []string
	for _, p := range ranked {
		if _, ok := known[p]; !ok {
			continue
		}
		delete(known, p)
		keep = append(keep, p)
		if len(keep) == b.cfg.MaxRelevantFilesCount {
			break
		}
	}
	if len(keep) == 0 {
		slog.WarnContext(ctx, "relevant file reduction kept no known files, ignoring")
		return contents
	}

	// Lowest ranked files go first until the contents fit the ceiling.
	contents = ""
	for len(keep) > 0 {
		contents = b.FileContents(keep)
		if b.counter.Count(contents) <= b.cfg.MaxRelevantFilesTokens {
			break
		}
		keep = keep[:len(keep)-1]
		contents = ""
	}

	conv.Files.Retain(keep)
	slog.InfoContext(ctx, "relevant files reduced", "before", len(paths), "after", len(keep))
	return contents
}

type rankedFiles struct {
	Files []string `json:"files" jsonschema_description:"File paths exactly as listed, most needed first"`
}

var rankedFilesSchema = llm.GenerateSchema[rankedFiles]()

var errNotAnArray = errors.New("ranking result is not an array")

func (b *ContextBuilder) rankFiles(ctx context.Context, conv *model.Conversation, taskSummary, contents string) ([]string, error) {
	var raw struct {
		Files json.RawMessage `json:"files"`
	}
	resp, err := b.llm.Chat(ctx, llm.Request{
		UserPrompt:  fmt.Sprintf(reductionPrompt, taskSummary, contents),
		SchemaName:  "relevant_files",
		Schema:      rankedFilesSchema,
		Temperature: llm.Temp(0),
	}, &raw)
	if err != nil {
		return nil, err
	}
	conv.AddUsage(b.llm.Model(), resp.PromptTokens, resp.CompletionTokens)

	var files []string
	if err := json.Unmarshal(raw.Files, &files); err != nil || files == nil {
		return nil, errNotAnArray
	}
	return files, nil
}
