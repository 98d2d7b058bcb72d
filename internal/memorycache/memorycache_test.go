package memorycache

import (
	"context"
	"testing"

	"github.com/ragcore/ragcore/pkg/ragtypes"
	storemock "github.com/ragcore/ragcore/pkg/store/mock"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  What Is Raft Consensus  ", "what is raft consensus"},
		{"multiple   spaces\tand\nnewlines", "multiple spaces and newlines"},
		{"ALREADY lower", "already lower"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func seedMemoryEntry(t *testing.T, st *storemock.Store, c *Cache, text string, qvec []float32) int64 {
	t.Helper()
	id, inserted, err := c.Insert(context.Background(), ragtypes.MemoryEntry{
		Text:      text,
		Embedding: qvec,
		Answer:    "answer for " + text,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected fresh insert for %q", text)
	}
	return id
}

func TestCache_Lookup_ExactHit(t *testing.T) {
	st := storemock.New()
	c := New(st, st)
	id := seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	hit, err := c.Lookup(context.Background(), "  What IS raft consensus ", []float32{1, 0})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a hit")
	}
	if hit.Entry.ID != id {
		t.Errorf("hit.Entry.ID = %d, want %d", hit.Entry.ID, id)
	}
	if hit.Entry.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 (touched once)", hit.Entry.AccessCount)
	}
}

func TestCache_Lookup_SemanticHit(t *testing.T) {
	st := storemock.New()
	c := New(st, st, WithSimilarityThreshold(0.90))
	id := seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	// A near-identical vector clears the 0.90 threshold but the
	// question text differs, so only the semantic path can match.
	hit, err := c.Lookup(context.Background(), "please explain the raft consensus algorithm", []float32{0.99, 0.14})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil {
		t.Fatal("expected a semantic hit")
	}
	if hit.Entry.ID != id {
		t.Errorf("hit.Entry.ID = %d, want %d", hit.Entry.ID, id)
	}
}

func TestCache_Lookup_Miss(t *testing.T) {
	st := storemock.New()
	c := New(st, st)
	seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	hit, err := c.Lookup(context.Background(), "totally unrelated question", []float32{0, 1})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit != nil {
		t.Errorf("expected a miss, got %+v", hit)
	}
}

func TestCache_Insert_ConflictTouchesExisting(t *testing.T) {
	st := storemock.New()
	c := New(st, st)

	id1, inserted1, err := c.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "What is raft consensus", Embedding: []float32{1, 0}, Answer: "a1",
	})
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if !inserted1 {
		t.Fatal("expected first insert to succeed")
	}

	id2, inserted2, err := c.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "  what IS raft consensus  ", Embedding: []float32{1, 0}, Answer: "a2",
	})
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if inserted2 {
		t.Error("expected second insert to detect conflict, not insert a duplicate")
	}
	if id2 != id1 {
		t.Errorf("conflicting insert returned id %d, want %d", id2, id1)
	}

	entry, err := c.Get(context.Background(), id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.AccessCount != 1 {
		t.Errorf("AccessCount after conflict = %d, want 1 (touched once)", entry.AccessCount)
	}
}

func TestCache_LookupExact_NoEmbeddingNeeded(t *testing.T) {
	st := storemock.New()
	c := New(st, st)
	id := seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	hit, err := c.LookupExact(context.Background(), "  What IS raft consensus ")
	if err != nil {
		t.Fatalf("LookupExact: %v", err)
	}
	if hit == nil || hit.Entry.ID != id {
		t.Fatalf("expected exact hit on entry %d, got %+v", id, hit)
	}
}

func TestCache_LookupExact_MissLeavesSemanticUntouched(t *testing.T) {
	st := storemock.New()
	c := New(st, st)
	seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	hit, err := c.LookupExact(context.Background(), "totally different text")
	if err != nil {
		t.Fatalf("LookupExact: %v", err)
	}
	if hit != nil {
		t.Errorf("expected an exact-match miss, got %+v", hit)
	}
}

func TestCache_LookupSemantic_MatchesByVectorAlone(t *testing.T) {
	st := storemock.New()
	c := New(st, st, WithSimilarityThreshold(0.90))
	id := seedMemoryEntry(t, st, c, "what is raft consensus", []float32{1, 0})

	hit, err := c.LookupSemantic(context.Background(), []float32{0.99, 0.14})
	if err != nil {
		t.Fatalf("LookupSemantic: %v", err)
	}
	if hit == nil || hit.Entry.ID != id {
		t.Fatalf("expected semantic hit on entry %d, got %+v", id, hit)
	}
}

func TestCache_Lookup_RefetchesChunksForFreshText(t *testing.T) {
	st := storemock.New()
	c := New(st, st)
	st.SeedChunk(ragtypes.Chunk{ID: 1, Text: "original text"}, []float32{1, 0}, nil)

	id, _, err := c.Insert(context.Background(), ragtypes.MemoryEntry{
		Text: "what is raft", Embedding: []float32{1, 0}, Answer: "a", ChunkIDs: []int64{1},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Simulate the ingestion collaborator correcting the chunk text
	// after the memory entry was cached.
	st.SeedChunk(ragtypes.Chunk{ID: 1, Text: "corrected text"}, []float32{1, 0}, nil)

	hit, err := c.Lookup(context.Background(), "what is raft", []float32{1, 0})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil || hit.Entry.ID != id {
		t.Fatalf("expected hit on entry %d", id)
	}
	if len(hit.Chunks) != 1 || hit.Chunks[0].Text != "corrected text" {
		t.Errorf("Chunks = %+v, want fresh text", hit.Chunks)
	}
}
