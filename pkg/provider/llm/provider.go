// Package llm defines the Provider interface for the language model that
// voices the reader.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) behind one request shape so the reading pipeline can
// switch backends, or fall back between them, without touching SDK types.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
)

// Usage holds token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages with the system role.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry is usually the
	// seeker's newest utterance.
	Messages []Message

	// Tools are the functions the model may call in its reply.
	Tools []ToolDefinition

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the reply text. Empty when the model answered only with
	// tool calls.
	Content string

	// ToolCalls lists the functions the model invoked, in order.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the whole reply. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}

// CapabilitiesFor returns best-known capabilities for a model name. Unknown
// models get a conservative default with tool calling enabled.
func CapabilitiesFor(model string) ModelCapabilities {
	caps := ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4-turbo"):
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		caps.MaxOutputTokens = 65_536
		caps.SupportsToolCalling = false
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
