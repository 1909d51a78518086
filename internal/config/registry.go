package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from a config entry. The entry's APIKey is
// already resolved, which may mean the seeker's own key, so factories run
// once per reading and must be cheap.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one stage's name-to-factory table.
type factories[P any] struct {
	kind   string
	byName map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	build, ok := f.byName[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry maps provider names to factories for each pipeline stage. The
// server fills it once at startup; lookups are safe from any goroutine.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactories[stt.Provider]("stt"),
		llm: newFactories[llm.Provider]("llm"),
		tts: newFactories[tts.Provider]("tts"),
	}
}

// RegisterSTT adds or replaces the transcription factory for name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = f
}

// RegisterLLM adds or replaces the interpretation factory for name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = f
}

// RegisterTTS adds or replaces the speech factory for name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

// CreateSTT builds the transcription provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateLLM builds the interpretation provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS builds the speech provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names lists the sorted provider names registered for kind ("stt", "llm"
// or "tts"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.byName))
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.byName))
	case r.tts.kind:
		return slices.Sorted(maps.Keys(r.tts.byName))
	}
	return nil
}
