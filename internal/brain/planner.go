package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

// Planner prepares a new task: it classifies it, researches existing projects
// and writes an implementation plan for multi-step work.
type Planner struct {
	researcher Researcher
	items      ResearchItems
	fs         workspace.FS
	publisher  Publisher
}

func NewPlanner(researcher Researcher, items ResearchItems, fs workspace.FS, publisher Publisher) *Planner {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Planner{
		researcher: researcher,
		items:      items,
		fs:         fs,
		publisher:  publisher,
	}
}

type planResult struct {
	Plan []model.TaskPlanStep `json:"plan"`
}

// Run executes the planning stages for conv. Whatever a stage writes to the
// conversation stays there when a later stage fails or ctx is cancelled.
func (p *Planner) Run(ctx context.Context, conv *model.Conversation) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conv.ID),
		Component:      "companion.brain.planner",
	})
	span := logger.StartSpan(ctx, "planner.run")
	defer span.End()
	ctx = span.Context()
	start := time.Now()

	cl, err := p.classify(ctx, conv)
	if err != nil {
		span.RecordError(err)
		return err
	}
	slog.InfoContext(ctx, "task classified",
		"project_status", cl.ProjectStatus,
		"task_type", cl.TaskType,
		"title", cl.Title)

	results := map[string]any{}
	if cl.NeedsResearch() {
		results, err = p.research(ctx, conv)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	if cl.NeedsPlan() {
		if err := p.plan(ctx, conv, results); err != nil {
			span.RecordError(err)
			return err
		}
	}

	slog.InfoContext(ctx, "planning completed",
		"research_items", len(results),
		"plan_steps", len(conv.Plan()),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// classify stores the classification. A missing or malformed verdict
// defaults to an existing multi-step task.
func (p *Planner) classify(ctx context.Context, conv *model.Conversation) (model.Classification, error) {
	raw, err := p.researcher.Research(ctx, p.items.Classification, ResearchInput{Conversation: conv})
	if err != nil {
		return model.Classification{}, fmt.Errorf("classify task: %w", err)
	}

	var cl model.Classification
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cl); err != nil {
			slog.WarnContext(ctx, "invalid classification, using defaults", "error", err)
			cl = model.Classification{}
		}
	}
	cl = cl.Normalize()
	conv.SetClassification(cl)
	return cl, nil
}

// research runs every research item concurrently and merges what completes.
// A failed item is dropped. Cancellation aborts the fan-out but keeps the
// results gathered so far.
func (p *Planner) research(ctx context.Context, conv *model.Conversation) (map[string]any, error) {
	var (
		mu      sync.Mutex
		results = map[string]any{}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range p.items.Research {
		g.Go(func() error {
			raw, err := p.researcher.Research(gctx, item, ResearchInput{Conversation: conv})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.WarnContext(ctx, "research item failed",
					"item", item.Name,
					"error", err)
				return nil
			}
			v := decodeResult(raw)
			if v == nil {
				slog.WarnContext(ctx, "research item produced no result", "item", item.Name)
				return nil
			}
			mu.Lock()
			results[item.Name] = v
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	p.applyResearch(ctx, conv, results)
	if waitErr != nil {
		return results, fmt.Errorf("research: %w", waitErr)
	}
	return results, nil
}

func (p *Planner) applyResearch(ctx context.Context, conv *model.Conversation, results map[string]any) {
	if len(results) == 0 {
		return
	}
	direct, potential := relevantFileLists(results)
	for _, path := range resolveExisting(p.fs, direct) {
		conv.Files.Set(path, true)
	}
	for _, path := range resolveExisting(p.fs, potential) {
		conv.Files.AddIfAbsent(path, false)
	}

	tc := &model.TaskContext{Results: results, Rendered: RenderTaskContext(results)}
	conv.SetTaskContext(tc)
	emit(ctx, p.publisher, conv, model.FrontendMessage{
		Role:    llm.RoleAssistant,
		Kind:    model.FrontendTaskContext,
		Content: tc.Rendered,
	})
}

func (p *Planner) plan(ctx context.Context, conv *model.Conversation, results map[string]any) error {
	raw, err := p.researcher.Research(ctx, p.items.Plan, ResearchInput{Conversation: conv, Results: results})
	if err != nil {
		return fmt.Errorf("plan task: %w", err)
	}
	if len(raw) == 0 {
		slog.WarnContext(ctx, "planning produced no plan")
		return nil
	}

	var out planResult
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.WarnContext(ctx, "invalid plan, continuing without one", "error", err)
		return nil
	}

	steps := make([]model.TaskPlanStep, 0, len(out.Plan))
	for _, s := range out.Plan {
		s.Completed = false
		steps = append(steps, s)
		for _, path := range resolveExisting(p.fs, s.FilesToModify) {
			conv.Files.Set(path, true)
		}
	}
	conv.SetPlan(steps)
	if len(steps) == 0 {
		return nil
	}

	emit(ctx, p.publisher, conv, model.FrontendMessage{
		Role:    llm.RoleAssistant,
		Kind:    model.FrontendPlan,
		Content: RenderPlan(steps),
	})
	return nil
}
