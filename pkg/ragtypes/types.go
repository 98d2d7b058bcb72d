// Package ragtypes holds the tagged record types that cross package
// boundaries in ragcore: chunks, scored chunks, graph hits, references,
// and the subquestion trace. JSON encoding only happens at the HTTP edge
// (internal/httpapi); everything below this layer passes these structs
// directly.
package ragtypes

import "time"

// Chunk is an immutable unit of source text owned by the ingestion
// collaborator (out of scope for this module) and treated as read-only.
type Chunk struct {
	ID         int64
	Text       string
	Source     string
	Page       int
	Offset     int
	IngestedAt time.Time
	OCR        bool
	Hash       string
}

// ScoredChunk pairs a Chunk with its vector-search similarity and its
// classifier verdict once C7 has run.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
	Relevant   bool
	Classified bool
}

// EntityHit is one entity returned by the graph enricher (C5) for a set
// of chunks, with an aggregated edge-weight relevance score.
type EntityHit struct {
	EntityID  string
	Type      string
	Relevance float64
}

// CommunityHit is one community returned by the graph enricher (C5),
// with relevance = fraction of the input entities found in it.
type CommunityHit struct {
	CommunityID int64
	Summary     string
	Entities    []string
	Relevance   float64
}

// Reference is one entry in a synthesized answer's reference list, in
// citation order.
type Reference struct {
	ChunkID int64
	Source  string
}

// SubAnswer is one (subquestion, answer) pair produced during amplified
// synthesis (C9).
type SubAnswer struct {
	Question string
	Answer   string
}

// MemoryEntry is a persisted past (question -> answer) pair with access
// accounting, per spec §3.
type MemoryEntry struct {
	ID            int64
	Text          string
	Embedding     []float32
	Answer        string
	References    []Reference
	ChunkIDs      []int64
	Entities      []string
	Communities   []int64
	AccessCount   int
	CreatedAt     time.Time
	LastAccessed  time.Time
}

// Feedback is bound to a MemoryEntry; at most one per entry.
type Feedback struct {
	ID          int64
	MemoryID    int64
	Text        string
	Rating      int
	Favorite    bool
	HasThread   bool
	ThreadTitle string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ThreadMessage is one append-only turn in a thread's dialog.
type ThreadMessage struct {
	ID         int64
	ThreadID   int64
	Text       string
	IsUser     bool
	References []Reference
	ChunkIDs   []int64
	CreatedAt  time.Time
}
