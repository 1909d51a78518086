// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Ctx   context.Context
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned as the speech of every call.
	Audio []byte

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// Synthesize records the call and returns Audio or Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	return &tts.Speech{Audio: p.Audio}, nil
}

// CallCount returns how many times Synthesize was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ tts.Provider = (*Provider)(nil)
