package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "basegraph.app/companion"

// SpanContext wraps an OTel span for managed lifecycle.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span and copies the context LogFields onto it.
//
//	sc := logger.StartSpan(ctx, "brain.research_item")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	if attrs := spanAttrs(GetLogFields(ctx)); len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return &SpanContext{ctx: ctx, span: span}
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err on the span and marks it failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

func (sc *SpanContext) Span() trace.Span {
	return sc.span
}

func spanAttrs(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, a := range Attrs(f) {
		switch v := a.Value.Any().(type) {
		case int64:
			attrs = append(attrs, attribute.Int64("companion."+a.Key, v))
		case string:
			attrs = append(attrs, attribute.String("companion."+a.Key, v))
		}
	}
	return attrs
}
