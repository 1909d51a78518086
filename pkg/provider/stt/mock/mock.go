// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cartomancer/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript of every call.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// Transcribe records the call and returns Text or Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	return &stt.Transcript{Text: p.Text, Language: req.Language}, nil
}

// CallCount returns how many times Transcribe was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
