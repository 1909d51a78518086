package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const upstreamTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// testSetup installs a manual metric reader and an in-memory span exporter.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// readerMux mimics the reading server's routes.
func readerMux(status int) *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
	mux.HandleFunc("POST /api/audio/upload", ok)
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /cards/{name}", ok)
	return mux
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/audio/upload", nil))

	if len(captured) != 32 {
		t.Fatalf("correlation ID %q is not a trace ID", captured)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != captured {
		t.Errorf("%s = %q, want %q", HeaderCorrelationID, got, captured)
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("POST", "/api/audio/upload", nil)
	req.Header.Set("traceparent", "00-"+upstreamTraceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != upstreamTraceID {
		t.Errorf("correlation ID = %q, want %q", captured, upstreamTraceID)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != upstreamTraceID {
		t.Errorf("%s = %q, want %q", HeaderCorrelationID, got, upstreamTraceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, upstreamTraceID) {
		t.Errorf("traceparent not injected into the response: %q", tp)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	tests := []struct {
		method, path string
		want         string
	}{
		{"POST", "/api/audio/upload", "POST /api/audio/upload"},
		{"GET", "/cards/the-moon", "GET /cards/{name}"},
		{"GET", "/nowhere", "unmatched"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m, _, exp := testSetup(t)
			Middleware(m)(readerMux(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.want {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.want)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	handler := Middleware(m)(readerMux(http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cards/the-sun", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cards/the-star", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/random/123", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met, ok := lookup(rm, "cartomancer.http.request.duration")
	if !ok {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != "GET" {
			t.Errorf("method attribute = %q", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	if counts["GET /cards/{name}"] != 2 {
		t.Errorf("samples for the card route = %d, want 2 (all %v)", counts["GET /cards/{name}"], counts)
	}
	if counts["unmatched"] != 1 {
		t.Errorf("samples for unmatched = %d, want 1", counts["unmatched"])
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exp := testSetup(t)
	rec := httptest.NewRecorder()
	Middleware(m)(readerMux(http.StatusUnauthorized)).ServeHTTP(rec, httptest.NewRequest("POST", "/api/audio/upload", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("response status = %d, want 401", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 401 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_HeaderAttributes(t *testing.T) {
	m, _, exp := testSetup(t)
	handler := Middleware(m, WithHeaderAttributes(map[string]string{
		"X-Turn-ID":    "turn_id",
		"X-Request-ID": "request_id",
	}))(readerMux(http.StatusOK))

	req := httptest.NewRequest("POST", "/api/audio/upload", nil)
	req.Header.Set("X-Turn-ID", "3")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := make(map[string]string)
	for _, a := range spans[0].Attributes {
		got[string(a.Key)] = a.Value.Emit()
	}
	if got["turn_id"] != "3" {
		t.Errorf("turn_id attribute = %q, want 3", got["turn_id"])
	}
	if _, ok := got["request_id"]; ok {
		t.Error("absent header became an attribute")
	}
}

func TestMiddleware_QuietPaths(t *testing.T) {
	m, _, _ := testSetup(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	handler := Middleware(m,
		WithQuietPaths("/healthz"),
		WithHeaderAttributes(map[string]string{"X-Turn-ID": "turn_id"}),
	)(readerMux(http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("probe logged at info: %s", buf.String())
	}

	req := httptest.NewRequest("POST", "/api/audio/upload", nil)
	req.Header.Set("X-Turn-ID", "9")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	line := buf.String()
	if !strings.Contains(line, "request completed") || !strings.Contains(line, "turn_id=9") {
		t.Errorf("upload completion log = %q", line)
	}
}

func TestMiddleware_Flushes(t *testing.T) {
	m, _, _ := testSetup(t)
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: hi\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush through middleware: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/audio/stream", nil))
	if !rec.Flushed {
		t.Error("recorder was not flushed")
	}
}
