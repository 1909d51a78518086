// Package config provides the configuration schema, loader, and provider registry
// for the cartomancer server and client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Reading    ReadingConfig    `yaml:"reading"`
	Client     ClientConfig     `yaml:"client"`
}

// ServerConfig holds network and logging settings for the reading server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the multipart upload size. Default: 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TraceSampleRatio is the fraction of new traces recorded, in [0, 1].
	// Zero records every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	// Fallbacks are tried in order when the primary of a stage fails or its
	// circuit breaker is open.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig lists the secondary providers per stage.
type FallbacksConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	LLM []ProviderEntry `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API. When empty, the
	// seeker's own bearer credential from the upload request is used.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4-turbo", "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Label names the entry in logs, metrics and circuit breakers.
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// ResilienceConfig tunes the circuit breakers guarding every provider.
type ResilienceConfig struct {
	// MaxFailures opens a breaker after this many consecutive failures. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls allowed while half-open. Default: 3.
	HalfOpenMax int `yaml:"half_open_max"`
}

// ReadingConfig shapes how the reader talks. The whole section is hot-reloaded
// into a running server.
type ReadingConfig struct {
	// Persona replaces the built-in Phantom Cartomancer system prompt.
	Persona string `yaml:"persona"`

	// Language is the ISO-639-1 transcription hint. Default: "en".
	Language string `yaml:"language"`

	// Voice is the TTS voice identifier. Default: "onyx".
	Voice string `yaml:"voice"`

	// Speed scales the speaking rate in [0.25, 4]. Zero keeps the provider default.
	Speed float64 `yaml:"speed"`

	// Temperature in [0, 2]. Default: 0.7.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each completion. Default: 150.
	MaxTokens int `yaml:"max_tokens"`

	// FollowUp enables the second completion that interprets drawn cards.
	// Default: true.
	FollowUp *bool `yaml:"follow_up"`

	// CardKeywords sends the card names to the STT provider as vocabulary
	// hints. Default: true.
	CardKeywords *bool `yaml:"card_keywords"`
}

// FollowUpEnabled reports whether the interpretation pass runs.
func (r ReadingConfig) FollowUpEnabled() bool { return r.FollowUp == nil || *r.FollowUp }

// CardKeywordsEnabled reports whether card names are sent as STT hints.
func (r ReadingConfig) CardKeywordsEnabled() bool { return r.CardKeywords == nil || *r.CardKeywords }

// ClientConfig configures the voice client run by the ask command.
type ClientConfig struct {
	// ServerURL is the reading server's base URL. Default: "http://localhost:8080".
	ServerURL string `yaml:"server_url"`

	// Timeout bounds one submission. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// FlushInterval is how often the recorder cuts a chunk. Default: 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// SampleRate and Channels are the capture constraints. Defaults: 16000, 1.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FPS is the mouth animation frame rate. Default: 60.
	FPS int `yaml:"fps"`

	// Preamble seeds the conversation with a system message.
	Preamble string `yaml:"preamble"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxUploadBytes  = 25 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLanguage        = "en"
	DefaultVoice           = "onyx"
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 150
	DefaultServerURL       = "http://localhost:8080"
)

// ApplyDefaults fills every unset field with its documented default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	r := &cfg.Resilience
	if r.MaxFailures == 0 {
		r.MaxFailures = 5
	}
	if r.ResetTimeout == 0 {
		r.ResetTimeout = 30 * time.Second
	}
	if r.HalfOpenMax == 0 {
		r.HalfOpenMax = 3
	}

	rd := &cfg.Reading
	if rd.Language == "" {
		rd.Language = DefaultLanguage
	}
	if rd.Voice == "" {
		rd.Voice = DefaultVoice
	}
	if rd.Temperature == 0 {
		rd.Temperature = DefaultTemperature
	}
	if rd.MaxTokens == 0 {
		rd.MaxTokens = DefaultMaxTokens
	}

	c := &cfg.Client
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = time.Second
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FPS == 0 {
		c.FPS = 60
	}
}
