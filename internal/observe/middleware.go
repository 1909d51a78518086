package observe

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCorrelationID carries the trace ID back to the caller.
const HeaderCorrelationID = "X-Correlation-ID"

// statusRecorder keeps the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets event-stream handlers push data through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	quiet   []string
	headers map[string]string
}

// WithQuietPaths logs completions of the given paths at debug instead of
// info. Probes and scrapes arrive every few seconds and drown out readings.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.quiet = append(c.quiet, paths...)
	}
}

// WithHeaderAttributes copies request headers onto the span and the
// completion log. The map goes from header name to attribute key, for
// example "X-Turn-ID" to "turn_id".
func WithHeaderAttributes(headers map[string]string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		for h, key := range headers {
			c.headers[h] = key
		}
	}
}

// Middleware wraps a handler with a server span continuing any W3C trace
// context from the caller, the [HeaderCorrelationID] response header, a
// duration sample keyed by route pattern and a completion log line.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middlewareConfig
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			var extra []attribute.KeyValue
			for h, key := range cfg.headers {
				if v := r.Header.Get(h); v != "" {
					extra = append(extra, attribute.String(key, v))
				}
			}

			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
				trace.WithAttributes(extra...),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set(HeaderCorrelationID, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The mux fills in the pattern while routing. Keying on it keeps
			// the path label bounded.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			span.SetName(route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)

			level := slog.LevelInfo
			if slices.Contains(cfg.quiet, r.URL.Path) {
				level = slog.LevelDebug
			}
			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			for _, kv := range extra {
				attrs = append(attrs, slog.String(string(kv.Key), kv.Value.AsString()))
			}
			slog.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}
