// Package retrieval wraps the store's vector search (C4): clamping and
// defaulting k, guaranteeing a stable result ordering, and deduplicating
// near-identical chunks before they reach the classifier.
package retrieval

import (
	"context"
	"sort"

	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

const (
	// DefaultK is the top-k used when a caller supplies zero or a
	// negative value.
	DefaultK = 5

	// MaxK is the upper clamp for top-k (spec.md §6 boundary: max_results>50 ⇒ clamp to 50).
	MaxK = 50

	// MinK is the lower clamp for top-k.
	MinK = 1
)

// Searcher performs top-k vector search over a [store.ChunkReader].
type Searcher struct {
	chunks store.ChunkReader
}

// NewSearcher creates a [Searcher] backed by reader.
func NewSearcher(reader store.ChunkReader) *Searcher {
	return &Searcher{chunks: reader}
}

// ClampK normalizes a caller-supplied k into [MinK, MaxK], defaulting to
// DefaultK when k <= 0.
func ClampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Search returns the top-k chunks by cosine similarity to qvec, ordered
// by descending similarity with ties broken by ascending chunk id (spec
// §5/§8 property 8). k is clamped via [ClampK] before the store call.
func (s *Searcher) Search(ctx context.Context, qvec []float32, k int) ([]ragtypes.ScoredChunk, error) {
	k = ClampK(k)
	hits, err := s.chunks.VectorSearch(ctx, qvec, k)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	return hits, nil
}
