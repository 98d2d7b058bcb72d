// Package plan implements the subquestion planner (C8): decomposing a
// question into a small set of narrower subquestions the pipeline can
// answer independently before synthesizing an amplified final answer.
package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/ragcore/pkg/provider/llm"
)

// DefaultMaxSubquestions is MAX_SUBQUESTIONS, the cap on returned
// subquestions.
const DefaultMaxSubquestions = 4

// MinSubquestions is the minimum number of subquestions required for a
// plan to be usable; fewer than this and the caller proceeds
// unamplified.
const MinSubquestions = 2

// Planner decomposes a question into subquestions via an LLM.
type Planner struct {
	llm            llm.Provider
	maxSubquestions int
}

// Option configures a [Planner].
type Option func(*Planner)

// WithMaxSubquestions overrides [DefaultMaxSubquestions].
func WithMaxSubquestions(n int) Option {
	return func(p *Planner) { p.maxSubquestions = n }
}

// New creates a [Planner] backed by provider.
func New(provider llm.Provider, opts ...Option) *Planner {
	p := &Planner{llm: provider, maxSubquestions: DefaultMaxSubquestions}
	for _, o := range opts {
		o(p)
	}
	if p.maxSubquestions < MinSubquestions {
		p.maxSubquestions = DefaultMaxSubquestions
	}
	return p
}

// Plan asks the LLM to decompose question into independently
// answerable subquestions, grounded on contextDigest (a short summary
// of the selected chunks). Blank entries are discarded and the result
// is capped at maxSubquestions. If fewer than [MinSubquestions] survive,
// Plan returns (nil, nil): the caller (internal/qa) proceeds
// unamplified rather than treating this as an error (spec §4.8).
func (p *Planner) Plan(ctx context.Context, question, contextDigest string) ([]string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: "You decompose a user question into 2-4 narrower, independently answerable subquestions " +
			"given the available context. List each subquestion on its own line.",
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nAvailable context:\n%s", question, contextDigest)},
		},
	}

	result, err := p.llm.CompleteStructured(ctx, req, llm.ShapeQuestionList)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	sub := make([]string, 0, len(result.Questions))
	for _, q := range result.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		sub = append(sub, q)
		if len(sub) == p.maxSubquestions {
			break
		}
	}

	if len(sub) < MinSubquestions {
		return nil, nil
	}
	return sub, nil
}
