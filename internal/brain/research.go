package brain

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

// ErrUnknownProvider is returned when a research item names a provider that is not registered.
var ErrUnknownProvider = errors.New("unknown additional information provider")

const (
	ModelSmall = "small"
	ModelLarge = "large"

	TaskRelevantFilesItem = "task_relevant_files"
)

// ResearchItem configures one research sub-agent run.
type ResearchItem struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Prompt       string         `yaml:"prompt"`
	OutputFormat map[string]any `yaml:"output_format"`
	Providers    []string       `yaml:"additional_information"`
	Cacheable    bool           `yaml:"cache"`
	Model        string         `yaml:"model"`
	MaxSteps     int            `yaml:"max_steps"`
}

// ResearchItems is the static research configuration.
type ResearchItems struct {
	Research       []ResearchItem `yaml:"research_items"`
	Classification ResearchItem   `yaml:"task_classification"`
	Plan           ResearchItem   `yaml:"task_plan"`
}

func (r ResearchItems) All() []ResearchItem {
	return append(append([]ResearchItem(nil), r.Research...), r.Classification, r.Plan)
}

//go:embed research_items.yaml
var defaultResearchItems []byte

// LoadResearchItems parses the built-in research configuration.
func LoadResearchItems() (ResearchItems, error) {
	return ParseResearchItems(defaultResearchItems)
}

func ParseResearchItems(data []byte) (ResearchItems, error) {
	var items ResearchItems
	if err := yaml.Unmarshal(data, &items); err != nil {
		return ResearchItems{}, fmt.Errorf("parse research items: %w", err)
	}
	for _, item := range items.All() {
		if item.Name == "" {
			return ResearchItems{}, errors.New("research item without a name")
		}
		if len(item.OutputFormat) == 0 {
			return ResearchItems{}, fmt.Errorf("research item %s: empty output_format", item.Name)
		}
		if item.Model != "" && item.Model != ModelSmall && item.Model != ModelLarge {
			return ResearchItems{}, fmt.Errorf("research item %s: unknown model %q", item.Name, item.Model)
		}
	}
	return items, nil
}

// ResearchInput is what providers can draw on during one planning pass.
type ResearchInput struct {
	Conversation *model.Conversation
	Results      map[string]any // research results gathered so far, by item name
}

// Provider renders one block of additional information, or "".
type Provider func(ctx context.Context, in ResearchInput) string

// Providers maps provider names to implementations.
type Providers map[string]Provider

// Validate checks that every provider named by items is registered.
func (p Providers) Validate(items ...ResearchItem) error {
	for _, item := range items {
		for _, name := range item.Providers {
			if _, ok := p[name]; !ok {
				return fmt.Errorf("%w: %s (research item %s)", ErrUnknownProvider, name, item.Name)
			}
		}
	}
	return nil
}

// Render runs the named providers in order and joins the non-empty blocks.
func (p Providers) Render(ctx context.Context, names []string, in ResearchInput) string {
	var blocks []string
	for _, name := range names {
		provider, ok := p[name]
		if !ok {
			continue
		}
		if block := provider(ctx, in); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n")
}

const projectStructureDepth = 2

// DefaultProviders returns the built-in providers. files renders the content
// of the conversation's enabled files.
func DefaultProviders(fs workspace.FS, files *ContextBuilder) Providers {
	return Providers{
		"projectStructure": func(context.Context, ResearchInput) string {
			return fmt.Sprintf("<projectStructure depth=\"%d\">\n%s\n</projectStructure>", projectStructureDepth, fs.Tree(projectStructureDepth))
		},
		"getTaskDescription": func(_ context.Context, in ResearchInput) string {
			return "<taskDescription>\n" + in.Conversation.Description() + "\n</taskDescription>"
		},
		"additionalContext": func(_ context.Context, in ResearchInput) string {
			rendered := RenderTaskContext(in.Results)
			if rendered == "" {
				return ""
			}
			return "<additionalContext>\n" + rendered + "\n</additionalContext>"
		},
		"taskRelevantFilesContent": func(_ context.Context, in ResearchInput) string {
			return files.RelevantFilesSection(in.Conversation.Files.Enabled())
		},
		"potentiallyRelevantFiles": func(_ context.Context, in ResearchInput) string {
			_, potential := relevantFileLists(in.Results)
			if len(potential) == 0 {
				return ""
			}
			return "<potentiallyRelevantFiles>\n" + strings.Join(potential, "\n") + "\n</potentiallyRelevantFiles>"
		},
	}
}

// relevantFileLists extracts the file lists of the task_relevant_files result.
func relevantFileLists(results map[string]any) (direct, potential []string) {
	r, ok := results[TaskRelevantFilesItem].(map[string]any)
	if !ok {
		return nil, nil
	}
	return stringList(r["directly_related_files"]), stringList(r["potentially_related_files"])
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RenderTaskContext renders research results as a markdown document, items in
// name order.
func RenderTaskContext(results map[string]any) string {
	names := make([]string, 0, len(results))
	for name, v := range results {
		if v != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString("## " + titleCase(name) + "\n")
		renderValue(&sb, results[name], 0)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func renderValue(sb *strings.Builder, v any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if val[k] == nil {
				continue
			}
			switch val[k].(type) {
			case map[string]any, []any:
				sb.WriteString(indent + "- **" + titleCase(k) + "**:\n")
				renderValue(sb, val[k], depth+1)
			default:
				fmt.Fprintf(sb, "%s- **%s**: %v\n", indent, titleCase(k), val[k])
			}
		}
	case []any:
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				sb.WriteString(indent + "-\n")
				renderValue(sb, item, depth+1)
			default:
				fmt.Fprintf(sb, "%s- %v\n", indent, item)
			}
		}
	default:
		fmt.Fprintf(sb, "%s%v\n", indent, val)
	}
}

func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// resolveExisting maps model-reported paths to absolute paths of existing files.
func resolveExisting(fs workspace.FS, paths []string) []string {
	var out []string
	for _, p := range paths {
		abs, err := fs.Resolve(filepath.Clean(p))
		if err != nil || !fs.Exists(abs) || fs.IsDirectory(abs) {
			continue
		}
		out = append(out, abs)
	}
	return out
}
