package resilience

import (
	"context"

	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// STTFallback implements [stt.Provider] with failover across backends.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe sends the utterance to the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLMFallback implements [llm.Provider] with failover across backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete sends the request to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the primary's capabilities; they are static metadata
// and take no part in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.entries[0].value.Capabilities()
}

// TTSFallback implements [tts.Provider] with failover across backends. Each
// backend should carry its own default voice, since voice identifiers are
// not portable between vendors.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize renders text on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p tts.Provider) (*tts.Speech, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
