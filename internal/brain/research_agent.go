package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/companion/common/cache"
	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/internal/tools"
	"basegraph.app/companion/internal/workspace"
)

const defaultResearchSteps = 4

// Researcher runs one research item to a structured result.
type Researcher interface {
	Research(ctx context.Context, item ResearchItem, in ResearchInput) (json.RawMessage, error)
}

// ResearchAgent runs a bounded tool-calling loop per research item. The last
// allowed step offers only the output tool and forces it.
type ResearchAgent struct {
	small       llm.AgentClient
	large       llm.AgentClient
	fs          workspace.FS
	codebase    tools.CodebaseSearcher
	cache       cache.Cache
	providers   Providers
	maxSteps    int
	maxFileSize int64
}

type ResearchAgentConfig struct {
	MaxSteps    int
	MaxFileSize int64
}

func NewResearchAgent(
	small, large llm.AgentClient,
	fs workspace.FS,
	codebase tools.CodebaseSearcher,
	store cache.Cache,
	providers Providers,
	cfg ResearchAgentConfig,
) *ResearchAgent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultResearchSteps
	}
	if large == nil {
		large = small
	}
	return &ResearchAgent{
		small:       small,
		large:       large,
		fs:          fs,
		codebase:    codebase,
		cache:       store,
		providers:   providers,
		maxSteps:    cfg.MaxSteps,
		maxFileSize: cfg.MaxFileSize,
	}
}

// Research returns the item's output arguments, or nil when the step budget
// runs out without an output call. Cacheable items are served from and
// stored in the cache under the project root.
func (a *ResearchAgent) Research(ctx context.Context, item ResearchItem, in ResearchInput) (json.RawMessage, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ResearchItem: logger.Ptr(item.Name),
		Component:    "companion.brain.research",
	})
	span := logger.StartSpan(ctx, "research."+item.Name)
	defer span.End()
	ctx = span.Context()

	if item.Cacheable && a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, a.fs.Root(), item.Name)
		if err != nil {
			slog.WarnContext(ctx, "research cache read failed", "error", err)
		} else if ok {
			slog.DebugContext(ctx, "research served from cache")
			return cached, nil
		}
	}

	client := a.small
	if item.Model == ModelLarge {
		client = a.large
	}
	steps := item.MaxSteps
	if steps <= 0 {
		steps = a.maxSteps
	}

	set := tools.NewResearchSet(a.fs, a.codebase, a.maxFileSize, llm.ObjectSchema(item.OutputFormat))
	messages := a.seed(ctx, item, in)
	start := time.Now()

	for step := 0; step < steps; step++ {
		req := llm.AgentRequest{Messages: messages}
		if step == steps-1 {
			req.Tools, _ = set.Only(tools.OutputToolName)
			req.ToolChoice = llm.ForceTool(tools.OutputToolName)
		} else {
			req.Tools = set.Definitions()
			req.ToolChoice = llm.RequireTool()
		}

		resp, err := client.ChatWithTools(ctx, req)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("research %s step %d: %w", item.Name, step+1, err)
		}
		if in.Conversation != nil {
			in.Conversation.AddUsage(client.Model(), resp.PromptTokens, resp.CompletionTokens)
		}

		slog.DebugContext(ctx, "research step completed",
			"step", step+1,
			"tool_calls", len(resp.ToolCalls),
			"prompt_tokens", resp.PromptTokens,
			"completion_tokens", resp.CompletionTokens)

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			}
			continue
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			result, output := a.handleToolCall(ctx, set, tc)
			if output {
				a.store(ctx, item, result)
				slog.InfoContext(ctx, "research completed",
					"steps", step+1,
					"duration_ms", time.Since(start).Milliseconds())
				return json.RawMessage(tc.Arguments), nil
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: tc.ID})
		}
	}

	slog.WarnContext(ctx, "research ended without output", "steps", steps)
	return nil, nil
}

// handleToolCall executes an action tool and returns its result, or reports
// that the call was the output tool.
func (a *ResearchAgent) handleToolCall(ctx context.Context, set *tools.Set, tc llm.ToolCall) (string, bool) {
	t, err := set.Get(tc.Name)
	if err != nil {
		return "Error: " + err.Error(), false
	}
	switch t := t.(type) {
	case tools.TerminalTool:
		return tc.Arguments, true
	case tools.ActionTool:
		result, err := t.Execute(ctx, tc.Arguments)
		if err != nil {
			slog.DebugContext(ctx, "research tool failed", "tool", tc.Name, "error", err)
			return "Error: " + err.Error(), false
		}
		return result, false
	default:
		panic(fmt.Sprintf("unhandled tool type %T", t))
	}
}

func (a *ResearchAgent) store(ctx context.Context, item ResearchItem, result string) {
	if !item.Cacheable || a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, a.fs.Root(), item.Name, json.RawMessage(result)); err != nil {
		slog.WarnContext(ctx, "research cache write failed", "error", err)
	}
}

func (a *ResearchAgent) seed(ctx context.Context, item ResearchItem, in ResearchInput) []llm.Message {
	system := strings.NewReplacer(
		"{description}", item.Description,
		"{additionalInformation}", a.providers.Render(ctx, item.Providers, in),
		"{currentDirectory}", a.fs.Root(),
	).Replace(researchSystemTemplate)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: item.Prompt},
	}
}

// decodeResult unmarshals a research result into a generic value. Invalid
// JSON yields nil.
func decodeResult(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

var _ Researcher = (*ResearchAgent)(nil)
