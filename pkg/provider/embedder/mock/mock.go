// Package mock provides a deterministic test double for embedder.Provider.
//
// Embed hashes its input text into a fixed-dimension vector so that
// identical texts always embed identically and distinct texts embed to
// (with overwhelming probability) distinct vectors, without a live
// model. Tests that need a specific cosine similarity between two
// texts should set EmbedFunc instead.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/ragcore/ragcore/pkg/provider/embedder"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// Provider is a mock implementation of embedder.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length returned by Dimensions and produced by
	// the default hash-based Embed. Defaults to 8 if zero.
	Dims int

	// Model is returned by ModelID.
	Model string

	// EmbedFunc, if set, overrides the default hash-based embedding.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedErr, if non-nil and EmbedFunc is nil, is returned by Embed.
	EmbedErr error

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

var _ embedder.Provider = (*Provider)(nil)

// Embed records the call and returns a deterministic vector (or the
// configured override/error).
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn, err := p.EmbedFunc, p.EmbedErr
	dims := p.Dims
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(text)
	}
	if dims <= 0 {
		dims = 8
	}
	return hashVector(text, dims), nil
}

// Dimensions implements embedder.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims <= 0 {
		return 8
	}
	return p.Dims
}

// ModelID implements embedder.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-embed-v1"
	}
	return p.Model
}

// CallCount returns the number of recorded Embed calls. Used by S1-style
// tests asserting a memory hit makes no embedder calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// hashVector deterministically turns text into a unit-ish vector of the
// given dimension using FNV-1a as a seedable PRNG source.
func hashVector(text string, dims int) []float32 {
	out := make([]float32, dims)
	h := fnv.New64a()
	for i := 0; i < dims; i++ {
		h.Reset()
		_, _ = h.Write([]byte(text))
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		sum := h.Sum64()
		// Map to [-1, 1].
		out[i] = float32(sum%2000)/1000.0 - 1.0
	}
	return out
}
