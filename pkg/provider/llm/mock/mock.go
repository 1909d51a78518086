// Package mock provides a test double for the llm.Provider interface.
//
// Responses are served in order from Responses; once exhausted, the last one
// repeats. Every call is recorded for later assertions.
//
//	p := &mock.Provider{Responses: []*llm.CompletionResponse{{Content: "The veil parts..."}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cartomancer/pkg/provider/llm"
)

// Call records a single invocation of Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Hook, if set, runs before Complete returns. It may block on ctx to
	// simulate a slow backend.
	Hook func(ctx context.Context, req llm.CompletionRequest) error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// Calls records every invocation of Complete in order.
	Calls []Call
}

// Complete records the call and returns the next configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	n := len(p.Calls)
	hook, err := p.Hook, p.Err
	var resp *llm.CompletionResponse
	if len(p.Responses) > 0 {
		resp = p.Responses[min(n, len(p.Responses))-1]
	}
	p.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, req); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CallCount returns how many times Complete was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the request of the most recent call.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Calls[len(p.Calls)-1].Req
}

var _ llm.Provider = (*Provider)(nil)
