// Package verify implements the answer verifier (C10): scoring how
// well a synthesized answer is grounded in the context it was drawn
// from. The verifier never suppresses an answer; it only reports a
// score for the caller to compare against a threshold.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/ragcore/internal/resilience"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// DefaultThreshold is VERIFICATION_THRESHOLD, the score below which the
// caller marks a response LowConfidence.
const DefaultThreshold = 0.7

const systemPrompt = `You assess whether an answer is faithfully grounded in the given context.
Respond with a single number between 0 and 1: 1 means every claim in the answer is supported by the context,
0 means the answer is unsupported or contradicts the context.`

// Verifier scores answer/context grounding via an LLM.
type Verifier struct {
	llm llm.Provider
}

// New creates a [Verifier] backed by provider.
func New(provider llm.Provider) *Verifier {
	return &Verifier{llm: provider}
}

// Score returns a grounding score in [0,1] for answer given question
// and the context chunks it was synthesized from. The verifier itself
// never suppresses or alters the answer (spec.md §4.10); the caller
// compares the returned score to [DefaultThreshold] (or an override) to
// set LowConfidence on the response envelope. The call is retried once
// with jitter on failure, since verification is an idempotent upstream
// read (spec §7).
func (v *Verifier) Score(ctx context.Context, question, answer string, chunks []ragtypes.ScoredChunk) (float64, error) {
	var ctxBlock strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&ctxBlock, "[%d] %s\n", i+1, c.Chunk.Text)
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(
				"Question: %s\n\nContext:\n%s\nAnswer to verify:\n%s",
				question, ctxBlock.String(), answer,
			)},
		},
	}

	var result llm.StructuredResult
	err := resilience.Retry(ctx, resilience.RetryConfig{}, func(ctx context.Context) error {
		r, err := v.llm.CompleteStructured(ctx, req, llm.ShapeScore01)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("verify: %w", err)
	}
	return result.Score, nil
}
