package qa

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/ragcore/ragcore/internal/observe"
	"github.com/ragcore/ragcore/pkg/provider/llm"
)

// gatedLLM wraps a shared [llm.Provider] so every call site inside this
// package's pipeline stages (C7 classify, C8 plan, C9 synthesize, C10
// verify) is admitted through one weighted semaphore, created per
// Pipeline in [New], enforcing LLM_MAX_INFLIGHT across a single query and
// across concurrent queries served by that Pipeline (spec §5). Grounded on
// [github.com/ragcore/ragcore/internal/resilience.LLMFallback]'s shape
// of wrapping llm.Provider with a single cross-cutting concern.
type gatedLLM struct {
	inner   llm.Provider
	sem     *semaphore.Weighted
	metrics *observe.Metrics
}

var _ llm.Provider = (*gatedLLM)(nil)

func newGatedLLM(inner llm.Provider, maxInflight int, metrics *observe.Metrics) *gatedLLM {
	return &gatedLLM{
		inner:   inner,
		sem:     semaphore.NewWeighted(int64(maxInflight)),
		metrics: metrics,
	}
}

func (g *gatedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	g.gauge(ctx, 1)
	defer g.gauge(ctx, -1)
	return g.inner.Complete(ctx, req)
}

func (g *gatedLLM) CompleteStructured(ctx context.Context, req llm.CompletionRequest, shape llm.Shape) (llm.StructuredResult, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return llm.StructuredResult{}, err
	}
	defer g.sem.Release(1)
	g.gauge(ctx, 1)
	defer g.gauge(ctx, -1)
	return g.inner.CompleteStructured(ctx, req, shape)
}

func (g *gatedLLM) gauge(ctx context.Context, delta int64) {
	if g.metrics == nil {
		return
	}
	g.metrics.InflightLLMCalls.Add(ctx, delta)
}
