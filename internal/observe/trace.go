package observe

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every span the reader starts.
const tracerName = "github.com/MrWong99/cartomancer"

// StartSpan opens a span named name under the globally registered tracer
// provider, tagged with attrs. The caller ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// FailSpan marks span as failed with err. scrub, when non-nil, rewrites the
// message before it is exported; readings carry the seeker's credential and
// upstream errors sometimes echo it.
func FailSpan(span trace.Span, err error, scrub func(string) string) {
	msg := err.Error()
	if scrub != nil {
		msg = scrub(msg)
	}
	span.AddEvent("exception", trace.WithAttributes(
		attribute.String("exception.type", fmt.Sprintf("%T", err)),
		attribute.String("exception.message", msg),
	))
	span.SetStatus(codes.Error, msg)
}

// CorrelationID is the hex trace ID of the span in ctx, or "" outside one.
// Clients see it as the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default tagged with the trace_id and span_id of ctx, so a
// reading's log lines can be joined with its spans. Outside a span it is
// slog.Default unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
