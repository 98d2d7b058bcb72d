// Package store defines the narrow persistence interfaces behind which
// all of ragcore's data access happens (C3). A single relational
// implementation with a vector-capable column type
// (pkg/store/postgres) satisfies all four sub-interfaces, split apart
// the way the teacher splits its three-layer memory architecture so
// that a single Go type can implement every method without name
// collisions.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// ChunkReader exposes read access to ingested chunks and the
// cosine-similarity nearest-neighbor search over their embeddings.
// Chunks are owned by the out-of-scope ingestion collaborator; this
// module never writes them.
type ChunkReader interface {
	// FetchChunks retrieves chunks by id. Missing ids are silently
	// omitted from the result; callers should check the returned count.
	FetchChunks(ctx context.Context, ids []int64) ([]ragtypes.Chunk, error)

	// FetchChunk retrieves a single chunk by id, or ragerr.NotFound.
	FetchChunk(ctx context.Context, id int64) (ragtypes.Chunk, error)

	// VectorSearch returns the k nearest chunks to qvec by cosine
	// similarity, descending, ties broken by ascending chunk id.
	VectorSearch(ctx context.Context, qvec []float32, k int) ([]ragtypes.ScoredChunk, error)
}

// GraphReader exposes read access to the entity/community knowledge
// graph built by the out-of-scope graph-build collaborator. Reads
// always use the latest processing-timestamp view.
type GraphReader interface {
	// EntitiesForChunks returns the entities connected to any of the
	// given chunk ids via a graph edge in the latest view.
	EntitiesForChunks(ctx context.Context, chunkIDs []int64) ([]ragtypes.EntityHit, error)

	// CommunitiesForEntities returns communities containing any of the
	// given entity ids in the latest view, with relevance = fraction of
	// entityIDs present in each community.
	CommunitiesForEntities(ctx context.Context, entityIDs []string) ([]ragtypes.CommunityHit, error)
}

// MemoryStore is the persistent query-memory cache (C6): exact +
// semantic lookup of past (question -> answer) pairs, with access
// accounting.
type MemoryStore interface {
	// LookupExact returns the entry whose normalized text matches text
	// exactly, or (nil, nil) if none exists.
	LookupExact(ctx context.Context, normalizedText string) (*ragtypes.MemoryEntry, error)

	// LookupSemantic returns the highest-similarity entry whose cosine
	// similarity to qvec is >= threshold (ties broken by most recent),
	// or (nil, nil) if none qualifies.
	LookupSemantic(ctx context.Context, qvec []float32, threshold float64) (*ragtypes.MemoryEntry, error)

	// Insert attempts to create a new entry keyed by its normalized
	// text. If a concurrent writer already inserted the same normalized
	// text, Insert returns that existing entry's id and inserted=false
	// instead of erroring (spec §4.6/§5's conflict-then-touch race).
	Insert(ctx context.Context, entry ragtypes.MemoryEntry) (id int64, inserted bool, err error)

	// Touch increments access_count and sets last_accessed = now for
	// the given entry id.
	Touch(ctx context.Context, id int64) error

	// Get retrieves a memory entry by id, or ragerr.NotFound.
	Get(ctx context.Context, id int64) (ragtypes.MemoryEntry, error)

	// Delete removes a memory entry (and cascades to its feedback and
	// thread per spec §3). Deleting a non-existent id is ragerr.NotFound.
	Delete(ctx context.Context, id int64) error

	// Clear removes every memory entry (and cascaded feedback/threads).
	Clear(ctx context.Context) error

	// Stats returns aggregate memory statistics for GET /memory/stats.
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarizes the memory cache's contents.
type Stats struct {
	TotalEntries    int
	TotalAccesses   int
	AverageAccesses float64
}

// DialogStore holds Feedback CRUD, Thread CRUD, and append-only
// ThreadMessage persistence (C12's storage layer).
type DialogStore interface {
	// CreateFeedback inserts a feedback row for a memory entry. At most
	// one feedback row may exist per memory id.
	CreateFeedback(ctx context.Context, fb ragtypes.Feedback) (int64, error)

	// UpdateFeedback updates the mutable fields (text/rating/favorite)
	// of an existing feedback row, setting UpdatedAt = now.
	UpdateFeedback(ctx context.Context, fb ragtypes.Feedback) error

	// GetFeedbackByMemoryID retrieves the feedback row bound to a memory
	// entry, or (nil, nil) if none exists.
	GetFeedbackByMemoryID(ctx context.Context, memoryID int64) (*ragtypes.Feedback, error)

	// GetFeedback retrieves a feedback row by its own id, or ragerr.NotFound.
	GetFeedback(ctx context.Context, id int64) (ragtypes.Feedback, error)

	// ListFavorites returns every feedback row with Favorite = true.
	ListFavorites(ctx context.Context) ([]ragtypes.Feedback, error)

	// ListThreads returns every feedback row with HasThread = true
	// (GET /threads).
	ListThreads(ctx context.Context) ([]ragtypes.Feedback, error)

	// MarkHasThread flips a feedback row's HasThread flag and records
	// the thread title once a thread is created for it.
	MarkHasThread(ctx context.Context, feedbackID int64, title string) error

	// AppendMessage appends a ThreadMessage to a thread (thread id =
	// feedback id) and returns it with its assigned, monotonically
	// increasing id.
	AppendMessage(ctx context.Context, msg ragtypes.ThreadMessage) (ragtypes.ThreadMessage, error)

	// ListMessages returns every message for a thread in created_at (and
	// id) order.
	ListMessages(ctx context.Context, threadID int64) ([]ragtypes.ThreadMessage, error)
}

// Store composes the four sub-interfaces; pkg/store/postgres.Store
// implements all of them over a single connection pool.
type Store interface {
	ChunkReader
	GraphReader
	MemoryStore
	DialogStore
}

// Now is overridden in tests that need deterministic timestamps.
var Now = time.Now
