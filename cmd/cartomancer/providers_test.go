package main

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/cartomancer/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, want := range config.ValidProviderNames {
		got := reg.Names(kind)
		for _, name := range want {
			if !slices.Contains(got, name) {
				t.Errorf("%s provider %q not registered (have %v)", kind, name, got)
			}
		}
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "openai", APIKey: "sk-seeker-1234"}); err != nil {
		t.Errorf("CreateSTT(openai): %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-seeker-1234"}); err != nil {
		t.Errorf("CreateLLM(openai): %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai", APIKey: "sk-seeker-1234"}); err != nil {
		t.Errorf("CreateTTS(openai): %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("CreateSTT(whisper) without a server URL succeeded")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err == nil {
		t.Error("CreateTTS(elevenlabs) without an API key succeeded")
	}
}

func TestOptionHelpers(t *testing.T) {
	opts := map[string]any{
		"language":    "de",
		"max_retries": 2,
		"ratio":       3.0,
		"timeout":     "20s",
		"bad":         "soon",
	}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "max_retries"); got != "" {
		t.Errorf("optString on an int = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString on nil map = %q", got)
	}
	if n, ok := optInt(opts, "max_retries"); !ok || n != 2 {
		t.Errorf("optInt = %d, %v", n, ok)
	}
	if n, ok := optInt(opts, "ratio"); !ok || n != 3 {
		t.Errorf("optInt(float) = %d, %v", n, ok)
	}
	if _, ok := optInt(opts, "language"); ok {
		t.Error("optInt accepted a string")
	}
	if d := optDuration(opts, "timeout"); d != 20*time.Second {
		t.Errorf("optDuration = %v", d)
	}
	if d := optDuration(opts, "bad"); d != 0 {
		t.Errorf("optDuration(bad) = %v, want 0", d)
	}
	if got := modelOr("", "tts-1"); got != "tts-1" {
		t.Errorf("modelOr = %q", got)
	}
}

func TestRun_Usage(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	if code := run([]string{"divine"}); code != 2 {
		t.Errorf("run(divine) = %d, want 2", code)
	}
	if code := run([]string{"ask"}); code != 2 {
		t.Errorf("run(ask) without -in = %d, want 2", code)
	}
}
