// Package graphenrich fans out to the knowledge graph (C5) to surface
// the entities and communities touched by a retrieved chunk set. It is
// purely advisory: a failing Store never fails the pipeline, it only
// degrades the presentation layer.
package graphenrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// MaxEntities is the top-M cap on entities returned by [Enricher.Enrich],
// truncated by summed edge weight (spec §4.5).
const MaxEntities = 10

// Result is the graph context surfaced for a chunk set.
type Result struct {
	Entities    []ragtypes.EntityHit
	Communities []ragtypes.CommunityHit
}

// Enricher fans out to a [store.GraphReader] to build a [Result] for a
// set of chunk ids.
type Enricher struct {
	graph store.GraphReader
}

// NewEnricher creates an [Enricher] backed by reader.
func NewEnricher(reader store.GraphReader) *Enricher {
	return &Enricher{graph: reader}
}

// Enrich fetches the entities connected to chunkIDs, truncates to the
// top [MaxEntities] by summed edge weight (the Store already returns
// entities sorted by descending relevance, per
// [store.GraphReader.EntitiesForChunks]'s ordering contract), then fetches
// the communities those entities belong to. The two fetches are
// necessarily sequential — the community lookup needs the entity ids —
// so this is a pipeline rather than a fan-out: both reads run in the
// caller's goroutine under the caller's ctx, with no errgroup.
func (e *Enricher) Enrich(ctx context.Context, chunkIDs []int64) (Result, error) {
	if len(chunkIDs) == 0 {
		return Result{}, nil
	}

	entities, err := e.graph.EntitiesForChunks(ctx, chunkIDs)
	if err != nil {
		return Result{}, fmt.Errorf("graph enrich: entities for chunks: %w", err)
	}
	if len(entities) > MaxEntities {
		entities = entities[:MaxEntities]
	}
	if len(entities) == 0 {
		return Result{Entities: entities}, nil
	}

	ids := make([]string, len(entities))
	for i, ent := range entities {
		ids[i] = ent.EntityID
	}

	communities, err := e.graph.CommunitiesForEntities(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("graph enrich: communities for entities: %w", err)
	}

	return Result{Entities: entities, Communities: communities}, nil
}

// Guard wraps an [Enricher] and makes [Guard.Enrich] non-fatal: a Store
// failure is logged at warn and an empty [Result] is returned instead of
// propagating the error, since graph enrichment is advisory context
// only (spec §4.5/§7).
type Guard struct {
	enricher *Enricher
	degraded atomic.Bool
}

// NewGuard creates a [Guard] wrapping enricher.
func NewGuard(enricher *Enricher) *Guard {
	return &Guard{enricher: enricher}
}

// Enrich delegates to the wrapped [Enricher]. On failure it logs a
// warning, marks the guard degraded, and returns an empty [Result] with
// a nil error.
func (g *Guard) Enrich(ctx context.Context, chunkIDs []int64) Result {
	res, err := g.enricher.Enrich(ctx, chunkIDs)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("graph enrich: degraded, returning empty result",
			"chunk_count", len(chunkIDs),
			"error", err,
		)
		return Result{}
	}
	g.degraded.Store(false)
	return res
}

// IsDegraded reports whether the most recent Enrich call failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
