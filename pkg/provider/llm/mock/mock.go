// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline sends correct
// CompletionRequests and to feed controlled responses without a live
// LLM backend.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Hello!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/ragcore/ragcore/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete or CompleteStructured.
type CompleteCall struct {
	Ctx   context.Context
	Req   llm.CompletionRequest
	Shape llm.Shape // zero value for a plain Complete call
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse
	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StructuredFunc, if set, is called by CompleteStructured instead of
	// the default (Complete + llm.ParseStructured) behavior. Useful for
	// injecting a specific parsed result per shape in tests.
	StructuredFunc func(shape llm.Shape) (llm.StructuredResult, error)

	// CompleteCalls records every invocation in order (Complete calls
	// carry a zero Shape).
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CompleteStructured records the call and either delegates to
// StructuredFunc or falls back to parsing CompleteResponse.Content.
func (p *Provider) CompleteStructured(ctx context.Context, req llm.CompletionRequest, shape llm.Shape) (llm.StructuredResult, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req, Shape: shape})
	fn := p.StructuredFunc
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(shape)
	}
	if err != nil {
		return llm.StructuredResult{}, err
	}
	var raw string
	if resp != nil {
		raw = resp.Content
	}
	return llm.ParseStructured(raw, shape)
}

// CallCount returns the number of recorded calls (Complete + CompleteStructured).
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
