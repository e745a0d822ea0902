package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/shell"
	"basegraph.app/companion/internal/workspace"
)

const (
	CreateFileName   = "create_or_overwrite_file"
	ReplaceCodeName  = "replace_code"
	ReadFileName     = "read_file"
	RunShellName     = "run_shell_command"
	SearchName       = "search"
	UpdatePlanName   = "update_task_plan"
	codebaseResults  = 10
	missingTargetMsg = "Please provide a target file name in a correct format."
)

// FileSystem is the project view the file tools read and write.
type FileSystem interface {
	Resolve(path string) (string, error)
	Exists(path string) bool
	IsDirectory(path string) bool
	ReadText(path string) (string, error)
	WriteText(path, content string) error
}

// CodebaseSearcher ranks project files for a natural language query.
type CodebaseSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]workspace.SearchResult, error)
}

// WebSearcher answers web queries. Optional.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// PlanWriter receives plan replacements from update_task_plan.
type PlanWriter interface {
	SetPlan(steps []model.TaskPlanStep)
}

// Env holds what the agent tools act on.
type Env struct {
	Files    FileSystem
	Terminal shell.Terminal
	Codebase CodebaseSearcher
	Web      WebSearcher
}

type CreateFileArgs struct {
	TargetFile string `json:"targetFile" jsonschema_description:"Path of the file to create or overwrite, relative to the project root"`
	CreateText string `json:"createText" jsonschema_description:"The complete content of the file"`
	PlanStep
}

type ReplaceCodeArgs struct {
	TargetFile      string `json:"targetFile" jsonschema_description:"Path of the file to edit"`
	StartLineNumber int    `json:"startLineNumber" jsonschema_description:"First line to replace (1-based; inclusive)"`
	EndLineNumber   int    `json:"endLineNumber" jsonschema_description:"Last line to replace (inclusive). Use startLineNumber-1 to insert without replacing"`
	ReplaceWith     string `json:"replaceWith" jsonschema_description:"The new code that replaces the line range"`
	PlanStep
}

type ReadFileArgs struct {
	TargetFile string `json:"targetFile" jsonschema_description:"Path of the file to read"`
	PlanStep
}

type RunShellArgs struct {
	Command    string `json:"command" jsonschema_description:"The shell command to run in the project directory"`
	Background bool   `json:"background,omitempty" jsonschema_description:"Run without waiting for completion; use for servers and watchers"`
	PlanStep
}

type SearchArgs struct {
	Type  string `json:"type" jsonschema:"enum=codebase,enum=web" jsonschema_description:"Where to search"`
	Query string `json:"query" jsonschema_description:"What to look for"`
	PlanStep
}

type PlanStepArg struct {
	Title       string `json:"step_title" jsonschema_description:"Short step title"`
	Description string `json:"step_detailed_description" jsonschema_description:"What the step involves"`
	Completed   bool   `json:"completed,omitempty"`
}

type UpdatePlanArgs struct {
	UpdatedTaskPlan []PlanStepArg `json:"updatedTaskPlan" jsonschema_description:"The full replacement task plan"`
	PlanStep
}

// NewAgentSet returns the tools offered to the agent loop.
func NewAgentSet(env Env, plan PlanWriter) *Set {
	return NewSet(
		createFileTool(env),
		replaceCodeTool(env),
		readFileTool(env),
		runShellTool(env),
		searchTool(env),
		updatePlanTool(plan),
	)
}

func createFileTool(env Env) ActionTool {
	return NewAction(Spec{
		Name:             CreateFileName,
		Description:      "Create a new file or overwrite an existing one with the given content.",
		Parameters:       llm.GenerateSchema[CreateFileArgs](),
		ApprovalRequired: true,
	}, func(_ context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[CreateFileArgs](raw)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(args.TargetFile) == "" {
			return missingTargetMsg, nil
		}
		if err := env.Files.WriteText(args.TargetFile, args.CreateText); err != nil {
			return "", fmt.Errorf("write %s: %w", args.TargetFile, err)
		}
		return fmt.Sprintf("File '%s' created successfully", args.TargetFile), nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[CreateFileArgs](raw)
		if err != nil {
			return ""
		}
		preview := fmt.Sprintf("Creating a file %s", args.TargetFile)
		if env.Files.Exists(args.TargetFile) && !env.Files.IsDirectory(args.TargetFile) {
			if current, err := env.Files.ReadText(args.TargetFile); err == nil {
				return preview + "\n" + UnifiedDiff(args.TargetFile, current, args.CreateText)
			}
		}
		return preview + "\n```\n" + args.CreateText + "\n```"
	})
}

func replaceCodeTool(env Env) ActionTool {
	return NewAction(Spec{
		Name:             ReplaceCodeName,
		Description:      "Replace a range of lines in an existing file. Line numbers refer to the numbered file contents you were given.",
		Parameters:       llm.GenerateSchema[ReplaceCodeArgs](),
		ApprovalRequired: true,
	}, func(_ context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[ReplaceCodeArgs](raw)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(args.TargetFile) == "" {
			return missingTargetMsg, nil
		}
		current, updated, err := replaceLines(env.Files, args)
		if err != nil {
			return "", err
		}
		if err := env.Files.WriteText(args.TargetFile, updated); err != nil {
			return "", fmt.Errorf("write %s: %w", args.TargetFile, err)
		}
		return fmt.Sprintf("File %s updated successfully.\n<changes_made_to_file>%s</changes_made_to_file>",
			args.TargetFile, UnifiedDiff(args.TargetFile, current, updated)), nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[ReplaceCodeArgs](raw)
		if err != nil {
			return ""
		}
		current, updated, err := replaceLines(env.Files, args)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("Updating code in %s:\n%s", args.TargetFile, UnifiedDiff(args.TargetFile, current, updated))
	})
}

// replaceLines returns the file content before and after replacing the
// inclusive 1-based line range with args.ReplaceWith.
func replaceLines(files FileSystem, args ReplaceCodeArgs) (string, string, error) {
	if !files.Exists(args.TargetFile) || files.IsDirectory(args.TargetFile) {
		return "", "", fmt.Errorf("file with filepath '%s' does not exist", args.TargetFile)
	}
	if args.StartLineNumber < 1 || args.EndLineNumber < args.StartLineNumber-1 {
		return "", "", fmt.Errorf("invalid line range: %d-%d", args.StartLineNumber, args.EndLineNumber)
	}
	current, err := files.ReadText(args.TargetFile)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", args.TargetFile, err)
	}

	lines := strings.Split(current, "\n")
	start := min(args.StartLineNumber-1, len(lines))
	end := min(args.EndLineNumber, len(lines))

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:start]...)
	if args.ReplaceWith != "" {
		out = append(out, args.ReplaceWith)
	}
	out = append(out, lines[end:]...)
	return current, strings.Join(out, "\n"), nil
}

func readFileTool(env Env) ActionTool {
	return NewAction(Spec{
		Name:        ReadFileName,
		Description: "Add a file to the set of files whose current content you are shown. The content appears in the next message.",
		Parameters:  llm.GenerateSchema[ReadFileArgs](),
	}, func(_ context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[ReadFileArgs](raw)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(args.TargetFile) == "" {
			return missingTargetMsg, nil
		}
		if !env.Files.Exists(args.TargetFile) || env.Files.IsDirectory(args.TargetFile) {
			return "", fmt.Errorf("file with filepath '%s' does not exist", args.TargetFile)
		}
		return fmt.Sprintf("File \"%s\" was read.", args.TargetFile), nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[ReadFileArgs](raw)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("Reading %s", args.TargetFile)
	})
}

func runShellTool(env Env) ActionTool {
	return NewAction(Spec{
		Name:             RunShellName,
		Description:      "Run a shell command in the project directory and return its output. Long output is trimmed.",
		Parameters:       llm.GenerateSchema[RunShellArgs](),
		ApprovalRequired: true,
	}, func(ctx context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[RunShellArgs](raw)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(args.Command) == "" {
			return "", errors.New("empty command")
		}
		if args.Background {
			if err := env.Terminal.Start(args.Command); err != nil {
				return "", err
			}
			return "Command started in the background", nil
		}

		out, err := env.Terminal.Run(ctx, args.Command)
		if err != nil {
			return "", err
		}
		out = shell.TrimOutput(strings.TrimSpace(shell.StripANSI(out)))
		if out == "" {
			out = "command executed successfully. Terminal command output was empty."
		}
		return fmt.Sprintf("Command executed: '%s'\nOutput:\n'%s'", args.Command, out), nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[RunShellArgs](raw)
		if err != nil {
			return ""
		}
		return "Executing shell command:\n```console\n" + args.Command + "\n```"
	})
}

func searchTool(env Env) ActionTool {
	return NewAction(Spec{
		Name:        SearchName,
		Description: "Search the project codebase for code related to a query, or search the web.",
		Parameters:  llm.GenerateSchema[SearchArgs](),
	}, func(ctx context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[SearchArgs](raw)
		if err != nil {
			return "", err
		}
		if args.Type == "web" {
			if env.Web == nil {
				return "Web search is not available", nil
			}
			return env.Web.Search(ctx, args.Query)
		}
		if env.Codebase == nil {
			return "Codebase search is not available", nil
		}

		results, err := env.Codebase.Search(ctx, args.Query, codebaseResults)
		if err != nil {
			return "", fmt.Errorf("codebase search: %w", err)
		}
		if len(results) == 0 {
			return "No results found", nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Codebase search result for \"%s\":\n", args.Query)
		for _, r := range results {
			sb.WriteString(r.Path + "\n")
			for _, s := range r.Snippet {
				sb.WriteString("  " + s + "\n")
			}
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[SearchArgs](raw)
		if err != nil {
			return ""
		}
		where := args.Type
		if where == "" {
			where = "codebase"
		}
		return fmt.Sprintf("Searching %s for '%s'", where, args.Query)
	})
}

func updatePlanTool(plan PlanWriter) ActionTool {
	return NewAction(Spec{
		Name:        UpdatePlanName,
		Description: "Replace the task plan when the work turns out to need different steps.",
		Parameters:  llm.GenerateSchema[UpdatePlanArgs](),
	}, func(_ context.Context, raw string) (string, error) {
		args, err := llm.ParseToolArguments[UpdatePlanArgs](raw)
		if err != nil {
			return "", err
		}
		steps := make([]model.TaskPlanStep, len(args.UpdatedTaskPlan))
		for i, s := range args.UpdatedTaskPlan {
			steps[i] = model.TaskPlanStep{Title: s.Title, Description: s.Description, Completed: s.Completed}
		}
		plan.SetPlan(steps)
		return "Task plan updated successfully", nil
	}, func(raw string) string {
		args, err := llm.ParseToolArguments[UpdatePlanArgs](raw)
		if err != nil {
			return ""
		}
		titles := make([]string, len(args.UpdatedTaskPlan))
		for i, s := range args.UpdatedTaskPlan {
			titles[i] = fmt.Sprintf("%d. %s", i+1, s.Title)
		}
		return "Updating task plan:\n" + strings.Join(titles, "\n")
	})
}
