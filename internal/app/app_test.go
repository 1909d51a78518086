package app_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cartomancer/internal/app"
	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/internal/observe"
	"github.com/MrWong99/cartomancer/internal/reading"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	llmmock "github.com/MrWong99/cartomancer/pkg/provider/llm/mock"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	sttmock "github.com/MrWong99/cartomancer/pkg/provider/stt/mock"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cartomancer/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// testConfig returns a minimal server config with defaults applied.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr:      "127.0.0.1:0",
			LogLevel:        config.LogInfo,
			ShutdownTimeout: 2 * time.Second,
		},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "mock", Model: "whisper-1"},
			LLM: config.ProviderEntry{Name: "mock", Model: "gpt-4-turbo"},
			TTS: config.ProviderEntry{Name: "mock", Model: "tts-1"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// mockRegistry builds providers that answer every reading with the Lovers.
func mockRegistry(sttErr error) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: "will I find love", Err: sttErr}, nil
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "The Lovers smile on you."}}}, nil
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	return reg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, reg *config.Registry, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# scraped\n")
		})),
	}
	a, err := app.New(cfg, reg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func submit(t *testing.T, baseURL string) (*relay.Response, error) {
	t.Helper()
	c, err := relay.New(baseURL, relay.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	return c.Submit(context.Background(), relay.Request{
		Audio:      []byte("RIFF-question"),
		Credential: "sk-seeker-1234",
		TurnID:     1,
	})
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.LLM = config.ProviderEntry{}

	_, err := app.New(cfg, mockRegistry(nil), app.WithMetrics(testMetrics(t)))
	if err == nil || !strings.Contains(err.Error(), "providers.llm.name") {
		t.Fatalf("New = %v, want the missing llm reported", err)
	}
}

func TestNew_RequiresRegistry(t *testing.T) {
	t.Parallel()
	if _, err := app.New(testConfig(), nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("New without registry succeeded")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), mockRegistry(nil))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code, body := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz = %d %s", code, body)
	}
	if code, body := get(t, srv.URL+"/metrics"); code != http.StatusOK || body != "# scraped\n" {
		t.Errorf("/metrics = %d %q", code, body)
	}

	resp, err := submit(t, srv.URL)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Transcription != "will I find love" || resp.Reply != "The Lovers smile on you." {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandler_ReadyzReportsOpenBreakers(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Resilience.MaxFailures = 1
	a := newApp(t, cfg, mockRegistry(errors.New("upstream outage")))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	_, err := submit(t, srv.URL)
	var rerr *relay.Error
	if !errors.As(err, &rerr) || rerr.Status != http.StatusInternalServerError {
		t.Fatalf("Submit = %v, want a 500 relay error", err)
	}

	code, body := get(t, srv.URL+"/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "stt") {
		t.Errorf("/readyz = %d %s, want 503 naming stt", code, body)
	}

	// The breaker is open now, so the next reading is refused upfront.
	_, err = submit(t, srv.URL)
	if !errors.As(err, &rerr) || rerr.Status != http.StatusServiceUnavailable {
		t.Errorf("Submit = %v, want a 503 relay error", err)
	}
}

func TestWithStageFactory_SkipsRegistry(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers = config.ProvidersConfig{}
	factory := reading.StageFactoryFunc(func(string) (*reading.Stages, error) {
		return &reading.Stages{
			STT: &sttmock.Provider{Text: "hello"},
			LLM: &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "Greetings, seeker."}}},
			TTS: &ttsmock.Provider{},
		}, nil
	})
	a := newApp(t, cfg, nil, app.WithStageFactory(factory))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := submit(t, srv.URL)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Reply != "Greetings, seeker." {
		t.Errorf("Reply = %q", resp.Reply)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	lv := new(slog.LevelVar)
	oldCfg := testConfig()
	a := newApp(t, oldCfg, mockRegistry(nil), app.WithLevelVar(lv))

	newCfg := testConfig()
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Reading.Voice = "nova"
	newCfg.Reading.Persona = "You are a cheerful fortune teller."
	newCfg.Server.ListenAddr = ":9999"
	a.ApplyConfig(oldCfg, newCfg)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	s := a.Pipeline().Settings()
	if s.Voice != "nova" || s.Persona != "You are a cheerful fortune teller." {
		t.Errorf("settings = %+v, want reloaded voice and persona", s)
	}

	// Removing the persona restores the built-in one.
	a.ApplyConfig(newCfg, testConfig())
	if got := a.Pipeline().Settings().Persona; got != reading.DefaultPersona {
		t.Errorf("persona = %q, want the default", got)
	}
}

func TestServe_GracefulShutdownEndsStreams(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), mockRegistry(nil), app.WithHeartbeat(time.Hour))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + relay.StreamPath)
	if err != nil {
		cancel()
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.Contains(line, "connected") {
		cancel()
		t.Fatalf("first line = %q, %v", line, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after a clean shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return; the open stream blocked shutdown")
	}

	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Error("server still accepting connections after shutdown")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newApp(t, cfg, mockRegistry(nil))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run with an invalid address succeeded")
	}
}
