package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips
// the test if RAGCORE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RAGCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAGCORE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS thread_messages CASCADE",
		"DROP TABLE IF EXISTS feedback CASCADE",
		"DROP TABLE IF EXISTS memory CASCADE",
		"DROP TABLE IF EXISTS community_summaries CASCADE",
		"DROP TABLE IF EXISTS graph_edges CASCADE",
		"DROP TABLE IF EXISTS graph_nodes CASCADE",
		"DROP TABLE IF EXISTS chunk_embeddings CASCADE",
		"DROP TABLE IF EXISTS chunks CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func seedChunk(t *testing.T, ctx context.Context, st *postgres.Store, dsn string, id int64, text string, vec []float32) {
	t.Helper()
	pool := mustPool(t, ctx, dsn)
	defer pool.Close()
	if _, err := pool.Exec(ctx, `INSERT INTO chunks (id, text, source) VALUES ($1, $2, 'test')`, id, text); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	v := make([]float32, len(vec))
	copy(v, vec)
	if _, err := pool.Exec(ctx, `INSERT INTO chunk_embeddings (chunk_id, vec) VALUES ($1, $2)`, id, vecLiteral(v)); err != nil {
		t.Fatalf("seed chunk embedding: %v", err)
	}
}

// vecLiteral renders a float32 slice as a pgvector text literal, avoiding a
// direct pgvector.Vector import in test fixtures.
func vecLiteral(v []float32) string {
	s := "["
	for i, f := range v {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", f)
	}
	return s + "]"
}

func TestChunkReader_FetchAndVectorSearch(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	st := newTestStore(t)

	seedChunk(t, ctx, st, dsn, 1, "Raft uses a randomized election timeout.", []float32{1, 0, 0, 0})
	seedChunk(t, ctx, st, dsn, 2, "Paxos separates proposers and acceptors.", []float32{0, 1, 0, 0})

	got, err := st.FetchChunk(ctx, 1)
	if err != nil {
		t.Fatalf("FetchChunk: %v", err)
	}
	if got.Text == "" {
		t.Fatal("expected non-empty chunk text")
	}

	if _, err := st.FetchChunk(ctx, 999); ragerr.KindOf(err) != ragerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	results, err := st.VectorSearch(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != 1 {
		t.Fatalf("expected chunk 1 first, got %d", results[0].Chunk.ID)
	}
}

func TestMemoryStore_InsertLookupTouch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	entry := ragtypes.MemoryEntry{
		Text:      "what is raft consensus",
		Embedding: []float32{1, 0, 0, 0},
		Answer:    "Raft is a consensus algorithm.",
	}

	id1, inserted1, err := st.Insert(ctx, entry)
	if err != nil || !inserted1 {
		t.Fatalf("first insert: id=%d inserted=%v err=%v", id1, inserted1, err)
	}
	id2, inserted2, err := st.Insert(ctx, entry)
	if err != nil || inserted2 {
		t.Fatalf("second insert should hit existing row: id=%d inserted=%v err=%v", id2, inserted2, err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %d and %d", id1, id2)
	}

	found, err := st.LookupExact(ctx, entry.Text)
	if err != nil || found == nil {
		t.Fatalf("LookupExact: found=%v err=%v", found, err)
	}

	if err := st.Touch(ctx, id1); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after, err := st.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.AccessCount != 1 {
		t.Fatalf("expected access_count 1, got %d", after.AccessCount)
	}
}

func TestDialogStore_FeedbackAndThread(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	memID, _, err := st.Insert(ctx, ragtypes.MemoryEntry{
		Text: "what is paxos", Embedding: []float32{0, 1, 0, 0}, Answer: "Paxos is ...",
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	fbID, err := st.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memID, Favorite: true})
	if err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}

	if _, err := st.CreateFeedback(ctx, ragtypes.Feedback{MemoryID: memID}); ragerr.KindOf(err) != ragerr.Conflict {
		t.Fatalf("expected Conflict on duplicate feedback, got %v", err)
	}

	favs, err := st.ListFavorites(ctx)
	if err != nil || len(favs) != 1 {
		t.Fatalf("ListFavorites: favs=%v err=%v", favs, err)
	}

	if err := st.MarkHasThread(ctx, fbID, "paxos-dive"); err != nil {
		t.Fatalf("MarkHasThread: %v", err)
	}

	first, err := st.AppendMessage(ctx, ragtypes.ThreadMessage{ThreadID: fbID, Text: "what is paxos", IsUser: true})
	if err != nil {
		t.Fatalf("AppendMessage 1: %v", err)
	}
	second, err := st.AppendMessage(ctx, ragtypes.ThreadMessage{ThreadID: fbID, Text: "Paxos is ...", IsUser: false})
	if err != nil {
		t.Fatalf("AppendMessage 2: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", first.ID, second.ID)
	}

	msgs, err := st.ListMessages(ctx, fbID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListMessages: msgs=%v err=%v", msgs, err)
	}
}
