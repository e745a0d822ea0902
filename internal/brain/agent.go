package brain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/core/config"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/tools"
)

const (
	defaultMaxTurns = 50

	rejectedFrontend = "Action was rejected"
	rejectedBackend  = "User rejected function call"
	abortedFrontend  = "Request was aborted"
)

// ApprovalRequest describes a pending tool call the user has to allow.
type ApprovalRequest struct {
	ID             string
	ConversationID int64
	ToolName       string
	Arguments      string
	Preview        string
}

// Approver blocks until the user decides on req or ctx ends.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// MessageBuilder assembles the model input for the next turn.
type MessageBuilder interface {
	BuildMessages(ctx context.Context, conv *model.Conversation, userText string) []llm.Message
}

// ToolDispatcher runs one tool call: approval, execution, and recording of
// the result on both message streams.
type ToolDispatcher struct {
	tools            *tools.Set
	approver         Approver
	publisher        Publisher
	approvalRequired bool
}

func NewToolDispatcher(set *tools.Set, approver Approver, publisher Publisher, approvalRequired bool) *ToolDispatcher {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ToolDispatcher{
		tools:            set,
		approver:         approver,
		publisher:        publisher,
		approvalRequired: approvalRequired,
	}
}

func (d *ToolDispatcher) Definitions() []llm.Tool {
	return d.tools.Definitions()
}

// Dispatch handles tc and reports whether the agent loop should continue.
// A false result with a nil error means the user rejected the call or a
// terminal tool ended the turn. Errors are reserved for cancellation.
func (d *ToolDispatcher) Dispatch(ctx context.Context, conv *model.Conversation, tc llm.ToolCall) (bool, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ToolName: logger.Ptr(tc.Name)})

	t, err := d.tools.Get(tc.Name)
	if err != nil {
		d.recordError(ctx, conv, tc, err)
		return true, nil
	}

	switch t := t.(type) {
	case tools.TerminalTool:
		d.recordResult(ctx, conv, tc, tc.Arguments)
		return false, nil
	case tools.ActionTool:
		return d.dispatchAction(ctx, conv, t, tc)
	default:
		panic(fmt.Sprintf("unhandled tool type %T", t))
	}
}

func (d *ToolDispatcher) dispatchAction(ctx context.Context, conv *model.Conversation, t tools.ActionTool, tc llm.ToolCall) (bool, error) {
	preview := t.Preview(tc.Arguments)

	if d.approvalRequired && t.Spec().ApprovalRequired && d.approver != nil {
		req := ApprovalRequest{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			ToolName:       tc.Name,
			Arguments:      tc.Arguments,
			Preview:        preview,
		}
		ctx = logger.WithLogFields(ctx, logger.LogFields{ApprovalID: logger.Ptr(req.ID)})
		emit(ctx, d.publisher, conv, model.FrontendMessage{
			Role:       llm.RoleAssistant,
			Kind:       model.FrontendApproval,
			Content:    "Waiting for approval",
			Preview:    preview,
			ToolName:   tc.Name,
			ApprovalID: req.ID,
		})

		approved, err := d.approver.Approve(ctx, req)
		if err != nil {
			return false, fmt.Errorf("await approval for %s: %w", tc.Name, err)
		}
		if !approved {
			slog.InfoContext(ctx, "tool call rejected")
			d.record(ctx, conv,
				model.Message{Role: llm.RoleUser, Content: rejectedBackend},
				model.FrontendMessage{Role: llm.RoleAssistant, Kind: model.FrontendError, Content: rejectedFrontend, ToolName: tc.Name})
			return false, nil
		}
	} else if preview != "" {
		emit(ctx, d.publisher, conv, model.FrontendMessage{
			Role:     llm.RoleAssistant,
			Kind:     model.FrontendToolCall,
			Content:  preview,
			ToolName: tc.Name,
		})
	}

	start := time.Now()
	result, err := t.Execute(ctx, tc.Arguments)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		d.recordError(ctx, conv, tc, err)
		return true, nil
	}
	slog.DebugContext(ctx, "tool executed",
		"duration_ms", time.Since(start).Milliseconds(),
		"result", logger.Truncate(result, 200))

	d.recordResult(ctx, conv, tc, result)
	if id, ok := tools.PlanStepID(tc.Arguments); ok && conv.HasPlan() {
		conv.CompleteTaskPlanStep(id)
		emit(ctx, d.publisher, conv, model.FrontendMessage{
			Role:    llm.RoleAssistant,
			Kind:    model.FrontendPlan,
			Content: RenderPlan(conv.Plan()),
		})
	}
	return true, nil
}

func (d *ToolDispatcher) recordResult(ctx context.Context, conv *model.Conversation, tc llm.ToolCall, result string) {
	d.record(ctx, conv,
		model.Message{Role: llm.RoleTool, Content: result, ToolCallID: tc.ID},
		model.FrontendMessage{Role: llm.RoleTool, Kind: model.FrontendToolResult, Content: result, ToolName: tc.Name})
}

func (d *ToolDispatcher) recordError(ctx context.Context, conv *model.Conversation, tc llm.ToolCall, err error) {
	slog.WarnContext(ctx, "tool call failed", "error", err)
	d.record(ctx, conv,
		model.Message{Role: llm.RoleTool, Content: "Error: " + err.Error(), ToolCallID: tc.ID},
		model.FrontendMessage{Role: llm.RoleAssistant, Kind: model.FrontendError, Content: "Error occurred. " + err.Error(), ToolName: tc.Name})
}

// record appends both entries under one id and publishes the display entry.
func (d *ToolDispatcher) record(ctx context.Context, conv *model.Conversation, backend model.Message, frontend model.FrontendMessage) {
	frontend.CreatedAt = time.Now()
	frontend.ID = conv.Append(&backend, &frontend)
	publish(ctx, d.publisher, conv, frontend)
}

// Agent drives the tool-calling loop for one user turn.
type Agent struct {
	client      llm.AgentClient
	builder     MessageBuilder
	dispatcher  *ToolDispatcher
	publisher   Publisher
	maxTurns    int
	temperature float64
}

func NewAgent(client llm.AgentClient, builder MessageBuilder, dispatcher *ToolDispatcher, publisher Publisher, cfg config.AgentConfig) *Agent {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	return &Agent{
		client:      client,
		builder:     builder,
		dispatcher:  dispatcher,
		publisher:   publisher,
		maxTurns:    cfg.MaxTurns,
		temperature: cfg.Temperature,
	}
}

// Send records a user message and runs the loop until the model stops
// calling tools, the user rejects a call, or ctx is cancelled. Cancellation
// is reported to the user and is not an error. Empty text without images
// records nothing and works from the task description alone.
func (a *Agent) Send(ctx context.Context, conv *model.Conversation, text string, images ...llm.ContentPart) error {
	if text != "" || len(images) > 0 {
		msg := model.Message{Role: llm.RoleUser, Content: text}
		if len(images) > 0 {
			msg.Content = ""
			msg.Parts = append([]llm.ContentPart(nil), images...)
			if text != "" {
				msg.Parts = append(msg.Parts, llm.ContentPart{Type: llm.PartText, Text: text})
			}
		}
		front := model.FrontendMessage{Role: llm.RoleUser, Kind: model.FrontendText, Content: text, CreatedAt: time.Now()}
		front.ID = conv.Append(&msg, &front)
		publish(ctx, a.publisher, conv, front)
	}

	return a.run(ctx, conv, text)
}

// Retry resumes after a failed turn. Display-only messages after the last
// backend message, such as the error itself, are dropped first.
func (a *Agent) Retry(ctx context.Context, conv *model.Conversation) error {
	backend := conv.Backend()
	if len(backend) == 0 {
		conv.DeleteMessagesAfter(0)
		return a.run(ctx, conv, "")
	}
	last := backend[len(backend)-1]
	conv.DeleteMessagesAfter(last.ID)

	userText := ""
	if last.Role == llm.RoleUser {
		userText = last.Text()
	}
	return a.run(ctx, conv, userText)
}

func (a *Agent) run(ctx context.Context, conv *model.Conversation, userText string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conv.ID),
		TurnID:         logger.Ptr(uuid.NewString()),
		Component:      "companion.brain.agent",
	})
	span := logger.StartSpan(ctx, "agent.turn")
	defer span.End()
	ctx = span.Context()

	for turn := 0; turn < a.maxTurns; turn++ {
		messages := a.builder.BuildMessages(ctx, conv, userText)
		userText = ""

		req := llm.AgentRequest{
			Messages:    messages,
			Tools:       a.dispatcher.Definitions(),
			Temperature: llm.Temp(a.temperature),
			OnDelta: func(delta string) {
				publish(ctx, a.publisher, conv, model.FrontendMessage{
					Role:    llm.RoleAssistant,
					Kind:    model.FrontendDelta,
					Content: delta,
				})
			},
		}

		resp, err := a.client.ChatWithTools(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				a.aborted(ctx, conv)
				return nil
			}
			span.RecordError(err)
			slog.ErrorContext(ctx, "model call failed", "turn", turn+1, "error", err)
			emit(ctx, a.publisher, conv, model.FrontendMessage{
				Role:    llm.RoleAssistant,
				Kind:    model.FrontendError,
				Content: "Error occurred. " + err.Error(),
			})
			return fmt.Errorf("agent turn %d: %w", turn+1, err)
		}
		conv.AddUsage(a.client.Model(), resp.PromptTokens, resp.CompletionTokens)

		// One tool runs per turn; extra calls are neither recorded nor run.
		if len(resp.ToolCalls) > 1 {
			slog.WarnContext(ctx, "model returned several tool calls, running the first", "count", len(resp.ToolCalls))
			resp.ToolCalls = resp.ToolCalls[:1]
		}

		a.recordAssistant(ctx, conv, resp)
		if len(resp.ToolCalls) == 0 {
			slog.InfoContext(ctx, "agent turn completed", "turns", turn+1)
			return nil
		}

		cont, err := a.dispatcher.Dispatch(ctx, conv, resp.ToolCalls[0])
		if err != nil {
			if ctx.Err() != nil {
				a.aborted(ctx, conv)
				return nil
			}
			return err
		}
		if !cont {
			return nil
		}
	}

	slog.WarnContext(ctx, "agent stopped at turn limit", "max_turns", a.maxTurns)
	return nil
}

func (a *Agent) recordAssistant(ctx context.Context, conv *model.Conversation, resp *llm.AgentResponse) {
	backend := model.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
	if resp.Content == "" {
		conv.AddBackend(backend)
		return
	}
	front := model.FrontendMessage{Role: llm.RoleAssistant, Kind: model.FrontendText, Content: resp.Content, CreatedAt: time.Now()}
	front.ID = conv.Append(&backend, &front)
	publish(ctx, a.publisher, conv, front)
}

func (a *Agent) aborted(ctx context.Context, conv *model.Conversation) {
	ctx = context.WithoutCancel(ctx)
	slog.InfoContext(ctx, "agent turn aborted")
	emit(ctx, a.publisher, conv, model.FrontendMessage{
		Role:    llm.RoleAssistant,
		Kind:    model.FrontendError,
		Content: abortedFrontend,
	})
}
