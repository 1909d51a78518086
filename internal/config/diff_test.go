package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/cartomancer/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"org": "x"}}},
		Reading:   config.ReadingConfig{Voice: "onyx"},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Reading(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		old, new config.ReadingConfig
		want     bool
	}{
		{"voice", config.ReadingConfig{Voice: "onyx"}, config.ReadingConfig{Voice: "fable"}, true},
		{"persona", config.ReadingConfig{}, config.ReadingConfig{Persona: "You are a sibyl."}, true},
		{"follow up off", config.ReadingConfig{}, config.ReadingConfig{FollowUp: boolPtr(false)}, true},
		{"explicit default", config.ReadingConfig{}, config.ReadingConfig{FollowUp: boolPtr(true), CardKeywords: boolPtr(true)}, false},
		{"same pointers differ", config.ReadingConfig{FollowUp: boolPtr(false)}, config.ReadingConfig{FollowUp: boolPtr(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := config.Diff(&config.Config{Reading: tt.old}, &config.Config{Reading: tt.new})
			if d.ReadingChanged != tt.want {
				t.Errorf("ReadingChanged = %v, want %v", d.ReadingChanged, tt.want)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080"},
		Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "openai"}},
	}
	new := &config.Config{
		Server:     config.ServerConfig{ListenAddr: ":9090"},
		Providers:  config.ProvidersConfig{TTS: config.ProviderEntry{Name: "elevenlabs"}},
		Resilience: config.ResilienceConfig{MaxFailures: 1},
		Client:     config.ClientConfig{FPS: 30},
	}
	d := config.Diff(old, new)
	want := []string{"server", "providers", "resilience", "client"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.ReadingChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
