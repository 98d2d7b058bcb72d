// Package memorycache implements the persistent query-memory cache
// (C6): exact and semantic lookup of past (question -> answer) pairs
// with access accounting, and the insert-or-touch race resolution
// described in spec.md §4.3/§4.6/§5.
package memorycache

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// DefaultSimilarityThreshold is SIM_THRESHOLD, the cosine-similarity
// floor for a semantic memory hit.
const DefaultSimilarityThreshold = 0.95

// Hit is a memory cache hit: the matched entry plus its chunks
// re-fetched at read time so their text stays fresh even if the
// ingestion collaborator has since corrected or re-OCR'd them.
type Hit struct {
	Entry  ragtypes.MemoryEntry
	Chunks []ragtypes.Chunk
}

// Cache wraps a [store.MemoryStore] and [store.ChunkReader] to provide
// exact/semantic lookup and conflict-safe insertion.
type Cache struct {
	store               store.MemoryStore
	chunks              store.ChunkReader
	similarityThreshold float64
}

// Option configures a [Cache].
type Option func(*Cache)

// WithSimilarityThreshold overrides [DefaultSimilarityThreshold].
func WithSimilarityThreshold(threshold float64) Option {
	return func(c *Cache) { c.similarityThreshold = threshold }
}

// New creates a [Cache] backed by memStore for entries and chunkReader
// for fresh-text re-fetch.
func New(memStore store.MemoryStore, chunkReader store.ChunkReader, opts ...Option) *Cache {
	c := &Cache{
		store:               memStore,
		chunks:              chunkReader,
		similarityThreshold: DefaultSimilarityThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Normalize reduces text to its cache key form: trimmed, internal
// whitespace collapsed to single spaces, case-folded.
func Normalize(text string) string {
	fields := strings.Fields(text)
	return strings.ToLower(strings.Join(fields, " "))
}

// Lookup tries an exact match on the normalized question text, then a
// semantic match via qvec at the configured similarity threshold. On a
// hit, it touches the entry's access accounting and re-fetches its
// referenced chunks for fresh text. Returns (nil, nil) on a clean miss.
//
// Orchestrators that want to skip embedding the query on an exact hit
// (spec.md §4.11 step 1 is cheaper that way — see internal/qa's
// documented resolution of the step 1/2 ordering) should call
// [Cache.LookupExact] first and only embed + call [Cache.LookupSemantic]
// on a miss, rather than calling Lookup directly.
func (c *Cache) Lookup(ctx context.Context, question string, qvec []float32) (*Hit, error) {
	hit, err := c.LookupExact(ctx, question)
	if err != nil || hit != nil {
		return hit, err
	}
	return c.LookupSemantic(ctx, qvec)
}

// LookupExact tries an exact match on question's normalized text alone
// (no embedding required). On a hit it touches access accounting and
// re-fetches referenced chunks for fresh text.
func (c *Cache) LookupExact(ctx context.Context, question string) (*Hit, error) {
	entry, err := c.store.LookupExact(ctx, Normalize(question))
	if err != nil {
		return nil, fmt.Errorf("memory cache: lookup exact: %w", err)
	}
	return c.finishHit(ctx, entry)
}

// LookupSemantic tries a cosine-similarity match via qvec at the
// configured similarity threshold. On a hit it touches access
// accounting and re-fetches referenced chunks for fresh text.
func (c *Cache) LookupSemantic(ctx context.Context, qvec []float32) (*Hit, error) {
	entry, err := c.store.LookupSemantic(ctx, qvec, c.similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("memory cache: lookup semantic: %w", err)
	}
	return c.finishHit(ctx, entry)
}

func (c *Cache) finishHit(ctx context.Context, entry *ragtypes.MemoryEntry) (*Hit, error) {
	if entry == nil {
		return nil, nil
	}

	if err := c.store.Touch(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("memory cache: touch %d: %w", entry.ID, err)
	}
	// Reflect the access just recorded in the returned entry.
	entry.AccessCount++

	chunks, err := c.chunks.FetchChunks(ctx, entry.ChunkIDs)
	if err != nil {
		return nil, fmt.Errorf("memory cache: refetch chunks for entry %d: %w", entry.ID, err)
	}

	return &Hit{Entry: *entry, Chunks: chunks}, nil
}

// Insert records a new (question -> answer) entry. entry.Text is
// normalized before the conflict-then-touch attempt described in
// spec.md §4.3/§5: if a concurrent writer already inserted the same
// normalized text, the pre-existing entry is touched and returned with
// inserted=false instead of creating a duplicate row.
func (c *Cache) Insert(ctx context.Context, entry ragtypes.MemoryEntry) (id int64, inserted bool, err error) {
	entry.Text = Normalize(entry.Text)

	id, inserted, err = c.store.Insert(ctx, entry)
	if err != nil {
		return 0, false, fmt.Errorf("memory cache: insert: %w", err)
	}
	if inserted {
		return id, true, nil
	}

	// Lost the race: another writer's row already exists under this
	// normalized text. Touch it instead of treating this as an error.
	if err := c.store.Touch(ctx, id); err != nil {
		return 0, false, fmt.Errorf("memory cache: touch existing %d: %w", id, err)
	}
	return id, false, nil
}

// Get retrieves a memory entry by id, passthrough to the Store.
func (c *Cache) Get(ctx context.Context, id int64) (ragtypes.MemoryEntry, error) {
	return c.store.Get(ctx, id)
}

// Delete removes a memory entry (cascading to feedback/thread per
// spec §3), passthrough to the Store.
func (c *Cache) Delete(ctx context.Context, id int64) error {
	return c.store.Delete(ctx, id)
}

// Clear removes every memory entry, passthrough to the Store.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Stats returns aggregate memory statistics, passthrough to the Store.
func (c *Cache) Stats(ctx context.Context) (store.Stats, error) {
	return c.store.Stats(ctx)
}
