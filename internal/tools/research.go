package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/workspace"
)

const (
	ReadFilesName      = "read_files"
	SearchCodebaseName = "search_codebase"

	filenamesOnlyResults = 30
	fullSearchResults    = 10
)

type ReadFilesArgs struct {
	FilePaths []string `json:"filePaths" jsonschema_description:"Paths of the files to read, relative to the project root"`
}

type SearchCodebaseArgs struct {
	Query         string `json:"query" jsonschema_description:"Natural language description of the code to find"`
	FilenamesOnly bool   `json:"filenamesOnly,omitempty" jsonschema_description:"Return only matching file names, for a broader overview"`
}

// NewResearchSet returns the read-only tools a research agent may use plus
// the output tool carrying outputSchema.
func NewResearchSet(fsys workspace.FS, codebase CodebaseSearcher, maxFileSize int64, outputSchema any) *Set {
	return NewSet(
		readFilesTool(fsys, maxFileSize),
		searchCodebaseTool(codebase),
		Output(outputSchema),
	)
}

func readFilesTool(fsys workspace.FS, maxFileSize int64) ActionTool {
	return NewAction(Spec{
		Name:        ReadFilesName,
		Description: "Read the content of one or more files. Request every file you need in a single call.",
		Parameters:  llm.GenerateSchema[ReadFilesArgs](),
	}, func(_ context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[ReadFilesArgs](raw)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(args.FilePaths))
		for _, path := range args.FilePaths {
			if !fsys.Exists(path) || fsys.IsDirectory(path) {
				parts = append(parts, fmt.Sprintf("File with filepath '%s' does not exist", path))
				continue
			}
			parts = append(parts, fmt.Sprintf("<filecontent filename=%q>\n%s\n</filecontent>",
				path, workspace.ReadContent(fsys, path, maxFileSize)))
		}
		return strings.Join(parts, "\n"), nil
	}, nil)
}

func searchCodebaseTool(codebase CodebaseSearcher) ActionTool {
	return NewAction(Spec{
		Name:        SearchCodebaseName,
		Description: "Find files and code snippets related to a query.",
		Parameters:  llm.GenerateSchema[SearchCodebaseArgs](),
	}, func(ctx context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[SearchCodebaseArgs](raw)
		if err != nil {
			return "", err
		}
		if codebase == nil {
			return "No results found", nil
		}

		limit := fullSearchResults
		if args.FilenamesOnly {
			limit = filenamesOnlyResults
		}
		results, err := codebase.Search(ctx, args.Query, limit)
		if err != nil {
			return "", fmt.Errorf("codebase search: %w", err)
		}
		if len(results) == 0 {
			return "No results found", nil
		}

		if args.FilenamesOnly {
			seen := make(map[string]struct{}, len(results))
			names := make([]string, 0, len(results))
			for _, r := range results {
				if _, dup := seen[r.Path]; dup {
					continue
				}
				seen[r.Path] = struct{}{}
				names = append(names, r.Path)
			}
			return strings.Join(names, "\n"), nil
		}

		data, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshal search results: %w", err)
		}
		return string(data), nil
	}, nil)
}
