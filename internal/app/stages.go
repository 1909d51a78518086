package app

import (
	"errors"
	"fmt"

	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/internal/reading"
	"github.com/MrWong99/cartomancer/internal/resilience"
	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// StageFactory builds the providers of one reading from the config entries,
// wrapping every stage in a fallback group. Circuit breakers live in a
// [resilience.BreakerSet] keyed by provider label, so they outlive the
// per-request providers and see the failures of every caller.
type StageFactory struct {
	reg       *config.Registry
	providers config.ProvidersConfig
	breakers  *resilience.BreakerSet
}

var _ reading.StageFactory = (*StageFactory)(nil)

// StageOption configures a [StageFactory].
type StageOption func(*resilience.CircuitBreakerConfig)

// WithBreakerObserver reports every breaker state change to fn.
func WithBreakerObserver(fn func(provider string, from, to resilience.State)) StageOption {
	return func(c *resilience.CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// NewStageFactory creates a StageFactory over reg.
func NewStageFactory(reg *config.Registry, providers config.ProvidersConfig, res config.ResilienceConfig, opts ...StageOption) *StageFactory {
	cb := resilience.CircuitBreakerConfig{
		MaxFailures:  res.MaxFailures,
		ResetTimeout: res.ResetTimeout,
		HalfOpenMax:  res.HalfOpenMax,
	}
	for _, o := range opts {
		o(&cb)
	}
	return &StageFactory{
		reg:       reg,
		providers: providers,
		breakers:  resilience.NewBreakerSet(cb),
	}
}

// Breakers returns the shared breaker set.
func (f *StageFactory) Breakers() *resilience.BreakerSet { return f.breakers }

// Stages builds the STT, LLM and TTS stages for a caller. Entries without an
// API key of their own authenticate with credential.
func (f *StageFactory) Stages(credential string) (*reading.Stages, error) {
	fc := resilience.FallbackConfig{Breakers: f.breakers, Classify: reading.ClassifyUpstream}
	p := f.providers

	sttStage, err := buildGroup(p.STT, p.Fallbacks.STT, credential, f.reg.CreateSTT,
		func(primary stt.Provider, name string) (stt.Provider, func(string, stt.Provider)) {
			g := resilience.NewSTTFallback(primary, name, fc)
			return g, g.AddFallback
		})
	if err != nil {
		return nil, fmt.Errorf("app: stt: %w", err)
	}
	llmStage, err := buildGroup(p.LLM, p.Fallbacks.LLM, credential, f.reg.CreateLLM,
		func(primary llm.Provider, name string) (llm.Provider, func(string, llm.Provider)) {
			g := resilience.NewLLMFallback(primary, name, fc)
			return g, g.AddFallback
		})
	if err != nil {
		return nil, fmt.Errorf("app: llm: %w", err)
	}
	ttsStage, err := buildGroup(p.TTS, p.Fallbacks.TTS, credential, f.reg.CreateTTS,
		func(primary tts.Provider, name string) (tts.Provider, func(string, tts.Provider)) {
			g := resilience.NewTTSFallback(primary, name, fc)
			return g, g.AddFallback
		})
	if err != nil {
		return nil, fmt.Errorf("app: tts: %w", err)
	}

	return &reading.Stages{
		STT:     sttStage,
		LLM:     llmStage,
		TTS:     ttsStage,
		STTName: p.STT.Label(),
		LLMName: p.LLM.Label(),
		TTSName: p.TTS.Label(),
	}, nil
}

// buildGroup creates the primary and fallback providers of one stage and
// joins them with wrap.
func buildGroup[P any](
	primary config.ProviderEntry,
	fallbacks []config.ProviderEntry,
	credential string,
	create func(config.ProviderEntry) (P, error),
	wrap func(primary P, name string) (P, func(string, P)),
) (P, error) {
	var zero P
	if primary.Name == "" {
		return zero, errors.New("no provider configured")
	}
	first, err := create(withCredential(primary, credential))
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", primary.Label(), err)
	}
	group, add := wrap(first, primary.Label())
	for _, fb := range fallbacks {
		p, err := create(withCredential(fb, credential))
		if err != nil {
			return zero, fmt.Errorf("create fallback %s: %w", fb.Label(), err)
		}
		add(fb.Label(), p)
	}
	return group, nil
}

func withCredential(e config.ProviderEntry, credential string) config.ProviderEntry {
	if e.APIKey == "" {
		e.APIKey = credential
	}
	return e
}

// openBreakerCheck fails while every provider of some stage has an open
// breaker, which is exactly when uploads answer 503.
func (f *StageFactory) openBreakerCheck() error {
	states := f.breakers.States()
	var errs []error
	for _, s := range f.stageEntries() {
		open := 0
		for _, e := range s.entries {
			if states[e.Label()] == resilience.StateOpen {
				open++
			}
		}
		if open == len(s.entries) {
			errs = append(errs, fmt.Errorf("%s: all circuit breakers open", s.kind))
		}
	}
	return errors.Join(errs...)
}

// trippedBreakerCheck names every configured provider whose breaker is not
// closed. Readings still succeed through the remaining entries.
func (f *StageFactory) trippedBreakerCheck() error {
	states := f.breakers.States()
	var errs []error
	for _, s := range f.stageEntries() {
		for _, e := range s.entries {
			if st, ok := states[e.Label()]; ok && st != resilience.StateClosed {
				errs = append(errs, fmt.Errorf("%s %s: %s", s.kind, e.Label(), st))
			}
		}
	}
	return errors.Join(errs...)
}

type stageGroup struct {
	kind    string
	entries []config.ProviderEntry
}

func (f *StageFactory) stageEntries() []stageGroup {
	p := f.providers
	return []stageGroup{
		{"stt", append([]config.ProviderEntry{p.STT}, p.Fallbacks.STT...)},
		{"llm", append([]config.ProviderEntry{p.LLM}, p.Fallbacks.LLM...)},
		{"tts", append([]config.ProviderEntry{p.TTS}, p.Fallbacks.TTS...)},
	}
}
