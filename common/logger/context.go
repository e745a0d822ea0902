package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every log record written with a context that carries them.
type LogFields struct {
	ConversationID *int64
	TurnID         *string // one user message and the agent loop it started
	ResearchItem   *string
	ToolName       *string
	ApprovalID     *string
	Model          *string
	Component      string // e.g. "companion.brain.planner"
}

// WithLogFields merges fields into ctx. Non-empty values in fields win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	return context.WithValue(ctx, logFieldsKey, merge(GetLogFields(ctx), fields))
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func merge(base, over LogFields) LogFields {
	out := base
	out.ConversationID = pick(base.ConversationID, over.ConversationID)
	out.TurnID = pick(base.TurnID, over.TurnID)
	out.ResearchItem = pick(base.ResearchItem, over.ResearchItem)
	out.ToolName = pick(base.ToolName, over.ToolName)
	out.ApprovalID = pick(base.ApprovalID, over.ApprovalID)
	out.Model = pick(base.Model, over.Model)
	if over.Component != "" {
		out.Component = over.Component
	}
	return out
}

func pick[T any](base, over *T) *T {
	if over != nil {
		return over
	}
	return base
}

// Ptr returns a pointer to v, for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to maxLen bytes, appending "..." when it cuts.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
