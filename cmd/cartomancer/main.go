// Command cartomancer runs the tarot reading server or asks it a recorded
// question from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/cartomancer/internal/app"
	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: cartomancer <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  serve   run the reading server")
	fmt.Fprintln(w, "  ask     ask the reading server a recorded question")
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return 2
	}

	// A missing .env is normal; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cartomancer: load .env: %v\n", err)
		return 1
	}

	switch args[0] {
	case "serve":
		return serve(args[1:])
	case "ask":
		return ask(args[1:])
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "cartomancer: unknown command %q\n", args[0])
		usage(os.Stderr)
		return 2
	}
}

// loadConfig loads path and reports failures the way both commands need.
func loadConfig(path string) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cartomancer: config file %q not found; copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "cartomancer: %v\n", err)
		}
		return nil, false
	}
	return cfg, true
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	reloadInterval := fs.Duration("reload-interval", 5*time.Second, "how often to check the config file for changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}
	if err := config.RequireServerProviders(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cartomancer: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(level))

	slog.Info("cartomancer starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cartomancer",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	application, err := app.New(cfg, reg, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig,
		config.WithInterval(*reloadInterval),
		config.WithReloadOn(hup),
	)
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	go func() { _ = watcher.Run(ctx) }()

	printStartupSummary(cfg)

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Cartomancer  startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT, len(cfg.Providers.Fallbacks.STT))
	printProvider("LLM", cfg.Providers.LLM, len(cfg.Providers.Fallbacks.LLM))
	printProvider("TTS", cfg.Providers.TTS, len(cfg.Providers.Fallbacks.TTS))
	fmt.Printf("║  %-12s    : %-19s ║\n", "Voice", cfg.Reading.Voice)
	followUp := "on"
	if !cfg.Reading.FollowUpEnabled() {
		followUp = "off"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "Follow-up", followUp)
	tls := "off"
	if cfg.Server.TLS != nil {
		tls = "on"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", "TLS", tls)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry, fallbacks int) {
	value := e.Name
	if value == "" {
		value = "(not configured)"
	} else if e.Model != "" {
		value = e.Name + " / " + e.Model
	}
	if fallbacks > 0 {
		value += fmt.Sprintf(" +%d", fallbacks)
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
