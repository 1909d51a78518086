package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/cartomancer/pkg/provider/llm/openai"
	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	"github.com/MrWong99/cartomancer/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/cartomancer/pkg/provider/stt/openai"
	"github.com/MrWong99/cartomancer/pkg/provider/stt/whisper"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
	"github.com/MrWong99/cartomancer/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/cartomancer/pkg/provider/tts/openai"
)

// Models used when an openai entry leaves the model empty.
const (
	defaultSTTModel = "whisper-1"
	defaultLLMModel = "gpt-4-turbo"
	defaultTTSModel = "tts-1"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories run once per reading, since entries without an API key of their
// own take the seeker's credential.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.New(entry.APIKey, modelOr(entry.Model, defaultSTTModel), openaiOptions(entry)...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return llmopenai.New(entry.APIKey, modelOr(entry.Model, defaultLLMModel), openaiOptions(entry)...)
	})

	// The remaining backends share the same pattern: optional APIKey +
	// optional BaseURL. openai is served natively above.
	for _, backend := range anyllm.Backends {
		if backend == "openai" || backend == "ollama" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return ttsopenai.New(entry.APIKey, modelOr(entry.Model, defaultTTSModel), openaiOptions(entry)...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// openaiOptions maps the shared options of an OpenAI-compatible entry:
// base_url plus the organization, timeout and max_retries options.
func openaiOptions(entry config.ProviderEntry) []openaiclient.Option {
	var opts []openaiclient.Option
	if entry.BaseURL != "" {
		opts = append(opts, openaiclient.WithBaseURL(entry.BaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, openaiclient.WithOrganization(org))
	}
	if d := optDuration(entry.Options, "timeout"); d > 0 {
		opts = append(opts, openaiclient.WithTimeout(d))
	}
	if n, ok := optInt(entry.Options, "max_retries"); ok {
		opts = append(opts, openaiclient.WithMaxRetries(n))
	}
	return opts
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration extracts a duration written as a Go duration string ("20s").
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
