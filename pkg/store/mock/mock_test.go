package mock_test

import (
	"context"
	"testing"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store/mock"
)

func TestVectorSearch_OrdersBySimilarityThenID(t *testing.T) {
	s := mock.New()
	ctx := context.Background()

	s.SeedChunk(ragtypes.Chunk{ID: 2, Text: "b"}, []float32{1, 0}, nil)
	s.SeedChunk(ragtypes.Chunk{ID: 1, Text: "a"}, []float32{1, 0}, nil)
	s.SeedChunk(ragtypes.Chunk{ID: 3, Text: "c"}, []float32{0, 1}, nil)

	results, err := s.VectorSearch(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Chunk.ID != 1 || results[1].Chunk.ID != 2 {
		t.Fatalf("expected tie-break by ascending id (1 then 2), got %d then %d", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	if results[2].Chunk.ID != 3 {
		t.Fatalf("expected least-similar chunk last, got %d", results[2].Chunk.ID)
	}
}

func TestMemoryInsert_ConcurrentDuplicateResolvesToOneEntry(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	entry := ragtypes.MemoryEntry{Text: "what is raft consensus", Embedding: []float32{1, 0}, Answer: "..."}

	id1, inserted1, err := s.Insert(ctx, entry)
	if err != nil || !inserted1 {
		t.Fatalf("first insert: id=%d inserted=%v err=%v", id1, inserted1, err)
	}
	id2, inserted2, err := s.Insert(ctx, entry)
	if err != nil || inserted2 {
		t.Fatalf("second insert should not create a new row: id=%d inserted=%v err=%v", id2, inserted2, err)
	}
	if id1 != id2 {
		t.Fatalf("expected same memory id, got %d and %d", id1, id2)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEntries != 1 {
		t.Fatalf("expected exactly one memory entry, got %d", stats.TotalEntries)
	}
}

func TestFeedback_AtMostOnePerMemoryEntry(t *testing.T) {
	s := mock.New()
	ctx := context.Background()

	memID, _, err := s.Insert(ctx, ragtypes.MemoryEntry{Text: "q", Embedding: []float32{1}, Answer: "a"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := s.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memID}); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}
	if _, err := s.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memID}); ragerr.KindOf(err) != ragerr.Conflict {
		t.Fatalf("expected Conflict on duplicate feedback, got %v", err)
	}
}

func TestThreadMessages_MonotonicIDs(t *testing.T) {
	s := mock.New()
	ctx := context.Background()

	memID, _, err := s.Insert(ctx, ragtypes.MemoryEntry{Text: "q", Embedding: []float32{1}, Answer: "a"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	fbID, err := s.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memID})
	if err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}

	m1, err := s.AppendMessage(ctx, ragtypes.ThreadMessage{ThreadID: fbID, Text: "hello", IsUser: true})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	m2, err := s.AppendMessage(ctx, ragtypes.ThreadMessage{ThreadID: fbID, Text: "hi there", IsUser: false})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", m1.ID, m2.ID)
	}

	msgs, err := s.ListMessages(ctx, fbID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("unexpected message order: %+v", msgs)
	}

	if _, err := s.AppendMessage(ctx, ragtypes.ThreadMessage{ThreadID: 9999, Text: "x"}); ragerr.KindOf(err) != ragerr.NotFound {
		t.Fatalf("expected NotFound for unknown thread, got %v", err)
	}
}
