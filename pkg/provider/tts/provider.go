// Package tts defines the Provider interface for text-to-speech backends.
//
// The reader speaks one reply at a time, so providers take the whole reply
// text and return a complete WAV file the client can decode and play.
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects and shapes the synthetic voice.
type Voice struct {
	// ID is the provider-specific voice identifier ("onyx", an ElevenLabs
	// voice id, ...).
	ID string

	// Speed scales the speaking rate. Zero uses the provider default.
	Speed float64

	// Instructions are free-form style hints for backends that accept them.
	Instructions string
}

// Speech is synthesised audio.
type Speech struct {
	// Audio is a complete WAV file.
	Audio []byte
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice. It returns promptly when ctx is
	// cancelled.
	Synthesize(ctx context.Context, text string, voice Voice) (*Speech, error)
}
