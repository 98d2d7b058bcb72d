// Package classify implements the chunk relevance classifier (C7): one
// LLM yes/no call per retrieved chunk, fanned out with bounded
// concurrency so a large top-k does not open one goroutine per chunk.
package classify

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ragcore/ragcore/internal/resilience"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// DefaultConcurrency is CLASSIFY_CONCURRENCY, the default bound on
// simultaneous classifier calls.
const DefaultConcurrency = 8

// DefaultMinKeep is MIN_KEEP, the floor below which the classifier's
// vote is overridden by a similarity-ranked fallback.
const DefaultMinKeep = 2

// Classifier runs the yes/no relevance prompt over a chunk set.
type Classifier struct {
	llm         llm.Provider
	concurrency int
	minKeep     int
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithConcurrency overrides [DefaultConcurrency].
func WithConcurrency(n int) Option {
	return func(c *Classifier) { c.concurrency = n }
}

// WithMinKeep overrides [DefaultMinKeep].
func WithMinKeep(n int) Option {
	return func(c *Classifier) { c.minKeep = n }
}

// New creates a [Classifier] backed by provider.
func New(provider llm.Provider, opts ...Option) *Classifier {
	c := &Classifier{
		llm:         provider,
		concurrency: DefaultConcurrency,
		minKeep:     DefaultMinKeep,
	}
	for _, o := range opts {
		o(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.minKeep < 1 {
		c.minKeep = 1
	}
	return c
}

// ClassifyAll classifies each chunk's relevance to question via one
// CompleteStructured(ShapeYesNo) call per chunk, bounded to
// [Classifier.concurrency] simultaneous calls via a semaphore channel —
// grounded on the teacher's wg.Go + buffered-channel fan-out shape, but
// bounded rather than launching one goroutine per item. A per-chunk LLM
// error or ambiguous parse marks that chunk unclassified and defaults
// it to not-relevant; it never aborts the rest of the group (spec
// §4.7/§5). chunks is returned in its original order with Classified
// and Relevant populated; if fewer than minKeep chunks are marked
// relevant, the top-minKeep chunks by similarity are kept regardless of
// classification.
func (c *Classifier) ClassifyAll(ctx context.Context, question string, chunks []ragtypes.ScoredChunk) ([]ragtypes.ScoredChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	out := make([]ragtypes.ScoredChunk, len(chunks))
	copy(out, chunks)

	sem := make(chan struct{}, c.concurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range out {
		i := i
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			defer func() { <-sem }()

			relevant, classified := c.classifyOne(egCtx, question, out[i].Chunk.Text)
			out[i].Relevant = relevant
			out[i].Classified = classified
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	if countRelevant(out) < c.minKeep {
		applyMinKeepFallback(out, c.minKeep)
	}

	return out, nil
}

// classifyOne runs a single yes/no classification call, retried once
// with jitter on failure (spec §7: classifier calls are idempotent
// upstream reads). Errors and ambiguous parses default the chunk to
// not-relevant, per spec §4.7.
func (c *Classifier) classifyOne(ctx context.Context, question, chunkText string) (relevant, classified bool) {
	req := llm.CompletionRequest{
		SystemPrompt: "You determine whether a document excerpt contains information that would help answer a question. Answer with exactly \"Yes\" or \"No\".",
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nExcerpt:\n%s", question, chunkText)},
		},
	}

	var result llm.StructuredResult
	err := resilience.Retry(ctx, resilience.RetryConfig{}, func(ctx context.Context) error {
		r, err := c.llm.CompleteStructured(ctx, req, llm.ShapeYesNo)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return false, false
	}
	return result.Bool, true
}

func countRelevant(chunks []ragtypes.ScoredChunk) int {
	n := 0
	for _, ch := range chunks {
		if ch.Relevant {
			n++
		}
	}
	return n
}

// applyMinKeepFallback marks the top-minKeep chunks by similarity as
// relevant, in place, when classification kept fewer than minKeep.
func applyMinKeepFallback(chunks []ragtypes.ScoredChunk, minKeep int) {
	ranked := make([]int, len(chunks))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		ia, ib := ranked[a], ranked[b]
		if chunks[ia].Similarity != chunks[ib].Similarity {
			return chunks[ia].Similarity > chunks[ib].Similarity
		}
		return chunks[ia].Chunk.ID < chunks[ib].Chunk.ID
	})
	if minKeep > len(ranked) {
		minKeep = len(ranked)
	}
	for _, idx := range ranked[:minKeep] {
		chunks[idx].Relevant = true
	}
}
