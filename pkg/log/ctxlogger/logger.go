// Package ctxlogger enriches loggers with the identifiers that follow an
// event from publish to delivery: the correlation ID minted at publish time,
// the active trace span, and the subject being delivered.
package ctxlogger

import (
	"context"

	"github.com/tracklane/tracklane/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type subjectKey struct{}

// ContextWithEventSubject records the subject of the event being delivered.
// Empty subjects leave the context untouched.
func ContextWithEventSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// WithContext returns base with correlation_id, trace identifiers and the
// event subject attached. A missing correlation ID is minted on the spot so
// delivery logs are always joinable.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}
	return base.With(eventFields(ctx)...)
}

func eventFields(ctx context.Context) []zap.Field {
	cid := correlation.ExtractCorrelationID(ctx)
	if cid == "" {
		_, cid = correlation.EnsureCorrelationID(ctx)
	}

	var traceID, spanID string
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
		spanID = sc.SpanID().String()
	}

	fields := []zap.Field{
		zap.String("correlation_id", cid),
		zap.String("trace_id", traceID),
		zap.String("span_id", spanID),
	}
	if subject, ok := ctx.Value(subjectKey{}).(string); ok && subject != "" {
		fields = append(fields, zap.String("event_subject", subject))
	}
	return fields
}
