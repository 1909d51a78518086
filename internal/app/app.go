// Package app wires the cartomancer subsystems into a running reading server.
//
// The App struct owns the server lifecycle: New builds the pipeline, routes
// and middleware from the config, Serve answers requests until its context is
// cancelled, and then drains readiness and shuts the HTTP server down.
//
// For testing, inject doubles via functional options (WithStageFactory,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config and the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/internal/health"
	"github.com/MrWong99/cartomancer/internal/observe"
	"github.com/MrWong99/cartomancer/internal/reading"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/internal/resilience"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns the reading server and everything it serves.
type App struct {
	cfg *config.Config

	factory  *StageFactory
	stages   reading.StageFactory
	pipeline *reading.Pipeline
	handler  *reading.Handler
	health   *health.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	heartbeat      time.Duration

	srv *http.Server
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStageFactory replaces the registry-backed stage factory. Readiness then
// has no breakers to report on.
func WithStageFactory(f reading.StageFactory) Option {
	return func(a *App) { a.stages = f }
}

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler replaces the handler served on /metrics. The default is
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets the app change the log level of a logger built on lv
// when the config file changes.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(a *App) { a.heartbeat = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Providers are looked up in reg per request, so
// reg must stay populated for the life of the App.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Slog())
	}

	// ── 1. Stage factory ─────────────────────────────────────────────────
	var checkers []health.Checker
	if a.stages == nil {
		if reg == nil {
			return nil, errors.New("app: a provider registry is required")
		}
		if err := config.RequireServerProviders(cfg); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.factory = NewStageFactory(reg, cfg.Providers, cfg.Resilience,
			WithBreakerObserver(func(provider string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), provider, to.String())
			}))
		a.stages = a.factory
		checkers = append(checkers,
			health.Checker{
				Name:  "providers",
				Check: func(context.Context) error { return a.factory.openBreakerCheck() },
			},
			health.Checker{
				Name:     "breakers",
				Check:    func(context.Context) error { return a.factory.trippedBreakerCheck() },
				Optional: true,
			},
		)
	}

	// ── 2. Pipeline and routes ───────────────────────────────────────────
	a.pipeline = reading.New(a.stages,
		reading.WithMetrics(a.metrics),
		reading.WithSettings(reading.SettingsFromConfig(cfg.Reading)),
	)
	a.handler = reading.NewHandler(a.pipeline,
		reading.WithHandlerMetrics(a.metrics),
		reading.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		reading.WithHeartbeat(a.heartbeat),
	)
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.handler.Register(mux)

	// ── 3. HTTP server ───────────────────────────────────────────────────
	root := observe.Middleware(a.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", "/metrics"),
		observe.WithHeaderAttributes(map[string]string{
			relay.HeaderRequestID: "request_id",
			relay.HeaderTurnID:    "turn_id",
		}),
	)(mux)
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.srv.RegisterOnShutdown(a.handler.CloseStreams)

	return a, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// Pipeline returns the reading pipeline.
func (a *App) Pipeline() *reading.Pipeline { return a.pipeline }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the parts of newCfg that can change at runtime. It has
// the signature of a [config.Watcher] callback.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ReadingChanged {
		a.pipeline.SetSettings(reading.SettingsFromConfig(newCfg.Reading))
		slog.Info("reading settings reloaded",
			"voice", newCfg.Reading.Voice,
			"language", newCfg.Reading.Language,
			"follow_up", newCfg.Reading.FollowUpEnabled(),
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve answers requests on ln until ctx is cancelled, then marks the server
// as draining, ends open event streams and waits up to the shutdown timeout
// for in-flight readings. A clean shutdown returns nil.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)

		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		slog.Info("shutting down reading server", "timeout", timeout)
		if err := a.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})

	slog.Info("reading server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}
