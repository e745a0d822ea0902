package brain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/core/config"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

// TokenCounter counts tokens of text or structured values.
type TokenCounter interface {
	Count(v any) int
}

// ContextBuilder assembles the [system, user] message pair for each agent
// turn from the conversation, the relevant files and the project state.
type ContextBuilder struct {
	fs      workspace.FS
	counter TokenCounter
	llm     llm.Client
	cfg     config.ContextConfig
	env     config.WorkspaceConfig
	now     func() time.Time

	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// NewContextBuilder creates a ContextBuilder. client is used for history
// compression, file reduction and the complexity judgement.
func NewContextBuilder(fs workspace.FS, counter TokenCounter, client llm.Client, cfg config.ContextConfig, env config.WorkspaceConfig) *ContextBuilder {
	bg, stop := context.WithCancel(context.Background())
	return &ContextBuilder{
		fs:         fs,
		counter:    counter,
		llm:        client,
		cfg:        cfg,
		env:        env,
		now:        time.Now,
		background: bg,
		stop:       stop,
	}
}

// Wait blocks until background compressions finish.
func (b *ContextBuilder) Wait() {
	b.wg.Wait()
}

// Close cancels background compressions and waits for them.
func (b *ContextBuilder) Close() {
	b.stop()
	b.wg.Wait()
}

// BuildMessages returns the system and user messages for the next model call.
// It never fails; parts that cannot be produced are left out or replaced by
// placeholders.
func (b *ContextBuilder) BuildMessages(ctx context.Context, conv *model.Conversation, userText string) []llm.Message {
	if conv.ApplyPendingSummary() {
		slog.DebugContext(ctx, "applied compressed history", "high_water", conv.Summary().HighWater)
	}

	system := b.systemPrompt(ctx, conv)

	taskHeader := b.taskSection(conv)
	history := b.historySection(conv)
	files := b.relevantFilesSection(ctx, conv, func() string { return taskHeader + history })

	sections := []string{
		taskHeader,
		b.planSection(conv),
		b.projectStateSection() + files,
		history,
		userSection(userText),
	}
	var nonEmpty []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	text := strings.Join(nonEmpty, "\n")

	user := llm.Message{Role: llm.RoleUser, Content: text}
	if images := collectImages(conv); len(images) > 0 {
		user.Content = ""
		user.Parts = append(images, llm.ContentPart{Type: llm.PartText, Text: text})
	}

	return []llm.Message{{Role: llm.RoleSystem, Content: system}, user}
}

func (b *ContextBuilder) systemPrompt(ctx context.Context, conv *model.Conversation) string {
	isComplex, known := conv.Complex()
	if !known && !hasAssistantTurn(conv) {
		isComplex = b.judgeComplexity(ctx, conv)
	}

	prompt := executionPrompt
	if isComplex && !conv.HasPlan() {
		prompt = planningPrompt
	}
	if conv.BackendLen() > b.cfg.FinishTaskThreshold || !isComplex {
		prompt += "\n\n" + finishTaskPrompt
	}
	if instructions := b.instructions(); instructions != "" {
		prompt += "\n\n" + instructions
	}

	return strings.NewReplacer("{osName}", b.env.OSName, "{shellType}", b.env.Shell).Replace(prompt)
}

func hasAssistantTurn(conv *model.Conversation) bool {
	for _, m := range conv.Backend() {
		if m.Role == llm.RoleAssistant {
			return true
		}
	}
	return false
}

func (b *ContextBuilder) instructions() string {
	if b.env.InstructionsFile == "" || !b.fs.Exists(b.env.InstructionsFile) {
		return ""
	}
	content, err := b.fs.ReadText(b.env.InstructionsFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(content)
}

type complexityResult struct {
	Result bool `json:"result" jsonschema_description:"true if the task needs planning"`
}

var complexitySchema = llm.GenerateSchema[complexityResult]()

// judgeComplexity asks the model whether a task without a classification needs
// planning. The verdict is stored on the conversation. Failures count as simple.
func (b *ContextBuilder) judgeComplexity(ctx context.Context, conv *model.Conversation) bool {
	var result complexityResult
	resp, err := b.llm.Chat(ctx, llm.Request{
		UserPrompt:  fmt.Sprintf(complexityPrompt, conv.Description()),
		SchemaName:  "needs_plan",
		Schema:      complexitySchema,
		Temperature: llm.Temp(0),
	}, &result)
	if err != nil {
		slog.WarnContext(ctx, "complexity judgement failed, treating task as simple", "error", err)
		return false
	}
	conv.AddUsage(b.llm.Model(), resp.PromptTokens, resp.CompletionTokens)
	conv.SetComplex(result.Result)
	return result.Result
}

func (b *ContextBuilder) taskSection(conv *model.Conversation) string {
	s := "<task>\n" + conv.Description() + "\n</task>\n"
	if tc := conv.TaskContext(); tc != nil && tc.Rendered != "" {
		s += "<task_context>\n" + tc.Rendered + "\n</task_context>\n"
	}
	return s
}

func (b *ContextBuilder) planSection(conv *model.Conversation) string {
	return RenderPlan(conv.Plan())
}

// RenderPlan renders plan steps with their 1-based ids, or "" for an empty plan.
func RenderPlan(steps []model.TaskPlanStep) string {
	if len(steps) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<task_plan>\n")
	for i, s := range steps {
		status := ""
		if s.Completed {
			status = " (completed)"
		}
		fmt.Fprintf(&sb, "%d. %s%s\n", i+1, s.Title, status)
		if s.Description != "" {
			sb.WriteString("   " + strings.ReplaceAll(strings.TrimSpace(s.Description), "\n", "\n   ") + "\n")
		}
	}
	sb.WriteString("</task_plan>\n")
	return sb.String()
}

func (b *ContextBuilder) projectStateSection() string {
	root := b.fs.Root()
	state := fmt.Sprintf("Current directory is '%s'. The full path to this directory is '%s'", filepath.Base(root), root)
	if tree := b.fs.Tree(b.env.StructureDepth); tree != "" {
		state += "\nThe contents of this directory (excluding files from .gitignore): \n" + tree
	}
	return "\n<current_project_state>\n" + state + "\n</current_project_state>\n"
}

func userSection(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return "<user>" + text + "</user>\n"
}

// collectImages returns the image parts of all backend messages in order.
func collectImages(conv *model.Conversation) []llm.ContentPart {
	var images []llm.ContentPart
	for _, m := range conv.Backend() {
		images = append(images, m.Images()...)
	}
	return images
}
