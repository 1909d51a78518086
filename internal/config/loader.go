package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper", "deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for kind, entries := range map[string][]ProviderEntry{
		"stt": append([]ProviderEntry{cfg.Providers.STT}, cfg.Providers.Fallbacks.STT...),
		"llm": append([]ProviderEntry{cfg.Providers.LLM}, cfg.Providers.Fallbacks.LLM...),
		"tts": append([]ProviderEntry{cfg.Providers.TTS}, cfg.Providers.Fallbacks.TTS...),
	} {
		validateProviderName(kind, entries[0].Name)
		for i, e := range entries[1:] {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
				continue
			}
			if entries[0].Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s is set but providers.%s has no primary", kind, kind))
			}
			validateProviderName(kind, e.Name)
		}
		for _, e := range entries {
			if e.BaseURL == "" {
				continue
			}
			if _, err := url.ParseRequestURI(e.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s %q: base_url: %w", kind, e.Name, err))
			}
		}
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Reading
	rd := cfg.Reading
	if rd.Temperature < 0 || rd.Temperature > 2 {
		errs = append(errs, fmt.Errorf("reading.temperature %.2f is out of range [0, 2]", rd.Temperature))
	}
	if rd.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("reading.max_tokens %d must not be negative", rd.MaxTokens))
	}
	if rd.Speed != 0 && (rd.Speed < 0.25 || rd.Speed > 4) {
		errs = append(errs, fmt.Errorf("reading.speed %.2f is out of range [0.25, 4.0]", rd.Speed))
	}

	// Client
	c := cfg.Client
	if c.ServerURL != "" {
		if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("client.server_url %q must be an http(s) URL", c.ServerURL))
		}
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("client.sample_rate %d must not be negative", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("client.channels %d is invalid; valid values: 1, 2", c.Channels))
	}
	if c.FPS < 0 || c.FPS > 240 {
		errs = append(errs, fmt.Errorf("client.fps %d is out of range [1, 240]", c.FPS))
	}

	return errors.Join(errs...)
}

// RequireServerProviders reports an error for every stage without a primary
// provider. The client never needs them, so [Validate] does not check this.
func RequireServerProviders(cfg *Config) error {
	var errs []error
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
