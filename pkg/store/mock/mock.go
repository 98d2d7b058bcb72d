// Package mock provides an in-memory test double implementing every
// pkg/store sub-interface. Unlike a pure call-recording stub, it
// carries out real lookups, inserts, and similarity math against maps
// held in memory, so pipeline tests (including the memory-cache race
// and thread-ordering scenarios) can run against it without a live
// database. It is safe for concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// Store is an in-memory implementation of [store.Store].
type Store struct {
	mu sync.Mutex

	chunks     map[int64]ragtypes.Chunk
	embeddings map[int64][]float32

	entities    map[int64][]ragtypes.EntityHit   // chunk id -> entities
	communities map[string][]ragtypes.CommunityHit // entity id -> communities

	memory      map[int64]ragtypes.MemoryEntry
	memoryByKey map[string]int64 // normalized text -> id
	nextMemID   int64

	feedback         map[int64]ragtypes.Feedback
	feedbackByMemory map[int64]int64 // memory id -> feedback id
	nextFeedbackID   int64

	messages      map[int64][]ragtypes.ThreadMessage // feedback/thread id -> messages
	nextMessageID int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		chunks:           make(map[int64]ragtypes.Chunk),
		embeddings:       make(map[int64][]float32),
		entities:         make(map[int64][]ragtypes.EntityHit),
		communities:      make(map[string][]ragtypes.CommunityHit),
		memory:           make(map[int64]ragtypes.MemoryEntry),
		memoryByKey:      make(map[string]int64),
		feedback:         make(map[int64]ragtypes.Feedback),
		feedbackByMemory: make(map[int64]int64),
		messages:         make(map[int64][]ragtypes.ThreadMessage),
	}
}

// SeedChunk adds a chunk with its embedding and optional graph
// associations, for use by test setup code.
func (s *Store) SeedChunk(c ragtypes.Chunk, embedding []float32, entities []ragtypes.EntityHit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.ID] = c
	s.embeddings[c.ID] = embedding
	if entities != nil {
		s.entities[c.ID] = entities
	}
}

// SeedCommunities registers the communities an entity belongs to, for
// use by test setup code.
func (s *Store) SeedCommunities(entityID string, hits []ragtypes.CommunityHit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[entityID] = hits
}

// FetchChunks implements [store.ChunkReader].
func (s *Store) FetchChunks(_ context.Context, ids []int64) ([]ragtypes.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ragtypes.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FetchChunk implements [store.ChunkReader].
func (s *Store) FetchChunk(_ context.Context, id int64) (ragtypes.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return ragtypes.Chunk{}, ragerr.New(ragerr.NotFound, "chunk not found")
	}
	return c, nil
}

// VectorSearch implements [store.ChunkReader]. Ordering: descending
// similarity, ties broken by ascending chunk id.
func (s *Store) VectorSearch(_ context.Context, qvec []float32, k int) ([]ragtypes.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scored := make([]ragtypes.ScoredChunk, 0, len(s.chunks))
	for id, c := range s.chunks {
		scored = append(scored, ragtypes.ScoredChunk{
			Chunk:      c,
			Similarity: cosineSimilarity(qvec, s.embeddings[id]),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// EntitiesForChunks implements [store.GraphReader].
func (s *Store) EntitiesForChunks(_ context.Context, chunkIDs []int64) ([]ragtypes.EntityHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := make(map[string]ragtypes.EntityHit)
	for _, id := range chunkIDs {
		for _, hit := range s.entities[id] {
			existing, ok := agg[hit.EntityID]
			if !ok {
				agg[hit.EntityID] = hit
				continue
			}
			existing.Relevance += hit.Relevance
			agg[hit.EntityID] = existing
		}
	}
	out := make([]ragtypes.EntityHit, 0, len(agg))
	for _, hit := range agg {
		out = append(out, hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// CommunitiesForEntities implements [store.GraphReader].
func (s *Store) CommunitiesForEntities(_ context.Context, entityIDs []string) ([]ragtypes.CommunityHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]ragtypes.CommunityHit)
	for _, eid := range entityIDs {
		for _, hit := range s.communities[eid] {
			seen[hit.CommunityID] = hit
		}
	}
	out := make([]ragtypes.CommunityHit, 0, len(seen))
	for _, hit := range seen {
		out = append(out, hit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommunityID < out[j].CommunityID })
	return out, nil
}

// LookupExact implements [store.MemoryStore].
func (s *Store) LookupExact(_ context.Context, normalizedText string) (*ragtypes.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.memoryByKey[normalizedText]
	if !ok {
		return nil, nil
	}
	e := s.memory[id]
	return &e, nil
}

// LookupSemantic implements [store.MemoryStore].
func (s *Store) LookupSemantic(_ context.Context, qvec []float32, threshold float64) (*ragtypes.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *ragtypes.MemoryEntry
	bestSim := -2.0
	for _, e := range s.memory {
		sim := cosineSimilarity(qvec, e.Embedding)
		if sim < threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && e.LastAccessed.After(best.LastAccessed)) {
			entryCopy := e
			best = &entryCopy
			bestSim = sim
		}
	}
	return best, nil
}

// Insert implements [store.MemoryStore].
func (s *Store) Insert(_ context.Context, entry ragtypes.MemoryEntry) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.memoryByKey[entry.Text]; ok {
		return id, false, nil
	}
	s.nextMemID++
	entry.ID = s.nextMemID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = store.Now()
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}
	s.memory[entry.ID] = entry
	s.memoryByKey[entry.Text] = entry.ID
	return entry.ID, true, nil
}

// Touch implements [store.MemoryStore].
func (s *Store) Touch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.memory[id]
	if !ok {
		return ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	e.AccessCount++
	e.LastAccessed = store.Now()
	s.memory[id] = e
	return nil
}

// Get implements [store.MemoryStore].
func (s *Store) Get(_ context.Context, id int64) (ragtypes.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.memory[id]
	if !ok {
		return ragtypes.MemoryEntry{}, ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	return e, nil
}

// Delete implements [store.MemoryStore]. Cascades to feedback/threads.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.memory[id]
	if !ok {
		return ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	delete(s.memory, id)
	delete(s.memoryByKey, e.Text)
	if fbID, ok := s.feedbackByMemory[id]; ok {
		delete(s.feedback, fbID)
		delete(s.feedbackByMemory, id)
		delete(s.messages, fbID)
	}
	return nil
}

// Clear implements [store.MemoryStore].
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = make(map[int64]ragtypes.MemoryEntry)
	s.memoryByKey = make(map[string]int64)
	s.feedback = make(map[int64]ragtypes.Feedback)
	s.feedbackByMemory = make(map[int64]int64)
	s.messages = make(map[int64][]ragtypes.ThreadMessage)
	return nil
}

// Stats implements [store.MemoryStore].
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.memory)
	accesses := 0
	for _, e := range s.memory {
		accesses += e.AccessCount
	}
	avg := float64(0)
	if total > 0 {
		avg = float64(accesses) / float64(total)
	}
	return store.Stats{TotalEntries: total, TotalAccesses: accesses, AverageAccesses: avg}, nil
}

// CreateFeedback implements [store.DialogStore].
func (s *Store) CreateFeedback(_ context.Context, fb ragtypes.Feedback) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memory[fb.MemoryID]; !ok {
		return 0, ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	if _, ok := s.feedbackByMemory[fb.MemoryID]; ok {
		return 0, ragerr.New(ragerr.Conflict, "feedback already exists for this memory entry")
	}
	s.nextFeedbackID++
	fb.ID = s.nextFeedbackID
	now := store.Now()
	fb.CreatedAt, fb.UpdatedAt = now, now
	s.feedback[fb.ID] = fb
	s.feedbackByMemory[fb.MemoryID] = fb.ID
	return fb.ID, nil
}

// UpdateFeedback implements [store.DialogStore].
func (s *Store) UpdateFeedback(_ context.Context, fb ragtypes.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.feedback[fb.ID]
	if !ok {
		return ragerr.New(ragerr.NotFound, "feedback not found")
	}
	existing.Text = fb.Text
	existing.Rating = fb.Rating
	existing.Favorite = fb.Favorite
	existing.UpdatedAt = store.Now()
	s.feedback[fb.ID] = existing
	return nil
}

// GetFeedbackByMemoryID implements [store.DialogStore].
func (s *Store) GetFeedbackByMemoryID(_ context.Context, memoryID int64) (*ragtypes.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.feedbackByMemory[memoryID]
	if !ok {
		return nil, nil
	}
	fb := s.feedback[id]
	return &fb, nil
}

// GetFeedback implements [store.DialogStore].
func (s *Store) GetFeedback(_ context.Context, id int64) (ragtypes.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.feedback[id]
	if !ok {
		return ragtypes.Feedback{}, ragerr.New(ragerr.NotFound, "feedback not found")
	}
	return fb, nil
}

// ListFavorites implements [store.DialogStore].
func (s *Store) ListFavorites(_ context.Context) ([]ragtypes.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ragtypes.Feedback, 0)
	for _, fb := range s.feedback {
		if fb.Favorite {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListThreads implements [store.DialogStore].
func (s *Store) ListThreads(_ context.Context) ([]ragtypes.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ragtypes.Feedback, 0)
	for _, fb := range s.feedback {
		if fb.HasThread {
			out = append(out, fb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// MarkHasThread implements [store.DialogStore].
func (s *Store) MarkHasThread(_ context.Context, feedbackID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.feedback[feedbackID]
	if !ok {
		return ragerr.New(ragerr.NotFound, "feedback not found")
	}
	fb.HasThread = true
	fb.ThreadTitle = title
	fb.UpdatedAt = store.Now()
	s.feedback[feedbackID] = fb
	return nil
}

// AppendMessage implements [store.DialogStore]. Message ids are
// monotonically increasing across all threads, which trivially
// satisfies the per-thread monotonic ordering invariant.
func (s *Store) AppendMessage(_ context.Context, msg ragtypes.ThreadMessage) (ragtypes.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feedback[msg.ThreadID]; !ok {
		return ragtypes.ThreadMessage{}, ragerr.New(ragerr.NotFound, "thread not found")
	}
	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.CreatedAt = store.Now()
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], msg)
	return msg, nil
}

// ListMessages implements [store.DialogStore].
func (s *Store) ListMessages(_ context.Context, threadID int64) ([]ragtypes.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ragtypes.ThreadMessage, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
