package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/companion/core/config"
)

// Setup installs the default slog logger. Production exports through OTel when
// an endpoint is configured and writes JSON otherwise; development writes text.
// The CLI logs to stderr so stdout stays clean for the conversation.
func Setup(cfg config.Config, service config.ServiceType) {
	var out io.Writer = os.Stdout
	if service == config.ServiceTypeCLI {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		handler = NewTraceHandler(otelslog.NewHandler(
			cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		))
	case cfg.IsProduction():
		handler = NewTraceHandler(slog.NewJSONHandler(out, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(out, opts))
	}

	slog.SetDefault(slog.New(handler))
}

// TraceHandler adds trace ids and context LogFields to each record.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	r.AddAttrs(Attrs(GetLogFields(ctx))...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// Attrs renders the set fields as slog attributes.
func Attrs(f LogFields) []slog.Attr {
	var attrs []slog.Attr
	if f.ConversationID != nil {
		attrs = append(attrs, slog.Int64("conversation_id", *f.ConversationID))
	}
	if f.TurnID != nil {
		attrs = append(attrs, slog.String("turn_id", *f.TurnID))
	}
	if f.ResearchItem != nil {
		attrs = append(attrs, slog.String("research_item", *f.ResearchItem))
	}
	if f.ToolName != nil {
		attrs = append(attrs, slog.String("tool", *f.ToolName))
	}
	if f.ApprovalID != nil {
		attrs = append(attrs, slog.String("approval_id", *f.ApprovalID))
	}
	if f.Model != nil {
		attrs = append(attrs, slog.String("model", *f.Model))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}
