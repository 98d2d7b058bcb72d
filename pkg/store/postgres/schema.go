// Package postgres is a PostgreSQL-backed implementation of pkg/store's
// four sub-interfaces, all sharing one [pgxpool.Pool]. The pgvector
// extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	chunks, _ := st.VectorSearch(ctx, qvec, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Chunk + embedding DDL (C3/ChunkReader). Chunks themselves are written by the
// out-of-scope ingestion collaborator; this module only ever reads them, but
// owns the schema so tests can seed fixtures directly.
// ─────────────────────────────────────────────────────────────────────────────

const ddlChunks = `
CREATE TABLE IF NOT EXISTS chunks (
    id          BIGINT       PRIMARY KEY,
    text        TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    page        INT          NOT NULL DEFAULT 0,
    byte_offset INT          NOT NULL DEFAULT 0,
    ingested_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ocr         BOOLEAN      NOT NULL DEFAULT false,
    hash        TEXT         NOT NULL DEFAULT ''
);
`

// ddlChunkEmbeddings returns the chunk_embeddings DDL with the embedding
// dimension substituted; the vector width is baked into the column type
// at schema creation time, matching the configured embedder.
func ddlChunkEmbeddings(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_embeddings (
    chunk_id   BIGINT       PRIMARY KEY REFERENCES chunks (id) ON DELETE CASCADE,
    vec        vector(%d)   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_vec
    ON chunk_embeddings USING hnsw (vec vector_cosine_ops);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph DDL (C3/GraphReader). Nodes and edges are written by the
// out-of-scope graph-build collaborator. A node's id is either an entity id
// verbatim or "chunk:<id>" for a chunk node. "Latest view" selects rows with
// ts = the max ts present.
// ─────────────────────────────────────────────────────────────────────────────

const ddlGraphNodes = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    node_id     TEXT         NOT NULL,
    kind        TEXT         NOT NULL,
    entity_type TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL DEFAULT '',
    source      TEXT         NOT NULL DEFAULT '',
    ts          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (node_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_ts ON graph_nodes (ts);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_kind ON graph_nodes (kind);
`

const ddlGraphEdges = `
CREATE TABLE IF NOT EXISTS graph_edges (
    src      TEXT         NOT NULL,
    dst      TEXT         NOT NULL,
    weight   DOUBLE PRECISION NOT NULL DEFAULT 1,
    relation TEXT         NOT NULL DEFAULT '',
    ts       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (src, dst, relation, ts)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_src ON graph_edges (src);
CREATE INDEX IF NOT EXISTS idx_graph_edges_dst ON graph_edges (dst);
CREATE INDEX IF NOT EXISTS idx_graph_edges_ts ON graph_edges (ts);
`

const ddlCommunitySummaries = `
CREATE TABLE IF NOT EXISTS community_summaries (
    id       BIGINT       NOT NULL,
    summary  TEXT         NOT NULL DEFAULT '',
    entities JSONB        NOT NULL DEFAULT '[]',
    relations JSONB       NOT NULL DEFAULT '[]',
    counts   JSONB        NOT NULL DEFAULT '{}',
    ts       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (id, ts)
);

CREATE INDEX IF NOT EXISTS idx_community_summaries_ts ON community_summaries (ts);
`

// ─────────────────────────────────────────────────────────────────────────────
// Memory cache DDL (C3/MemoryStore, C6). The uniqueness constraint on
// normalized_text is what lets memory_insert resolve concurrent identical
// misses with a single INSERT ... ON CONFLICT statement.
// ─────────────────────────────────────────────────────────────────────────────

// ddlMemory returns the memory table DDL with the embedding dimension
// substituted.
func ddlMemory(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memory (
    id              BIGSERIAL    PRIMARY KEY,
    normalized_text TEXT         NOT NULL UNIQUE,
    text            TEXT         NOT NULL,
    embedding       vector(%d)   NOT NULL,
    answer          TEXT         NOT NULL,
    refs            JSONB        NOT NULL DEFAULT '[]',
    chunk_ids       JSONB        NOT NULL DEFAULT '[]',
    entities        JSONB        NOT NULL DEFAULT '[]',
    communities     JSONB        NOT NULL DEFAULT '[]',
    access_count    INT          NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_accessed   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_embedding
    ON memory USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dialog DDL (C3/DialogStore, C12). A thread's id is its owning feedback row's
// id; thread_messages.id is monotonically increasing via BIGSERIAL.
// ─────────────────────────────────────────────────────────────────────────────

const ddlFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id           BIGSERIAL    PRIMARY KEY,
    memory_id    BIGINT       NOT NULL UNIQUE REFERENCES memory (id) ON DELETE CASCADE,
    text         TEXT         NOT NULL DEFAULT '',
    rating       INT,
    favorite     BOOLEAN      NOT NULL DEFAULT false,
    has_thread   BOOLEAN      NOT NULL DEFAULT false,
    thread_title TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_favorite ON feedback (favorite) WHERE favorite;
`

const ddlThreadMessages = `
CREATE TABLE IF NOT EXISTS thread_messages (
    id          BIGSERIAL    PRIMARY KEY,
    feedback_id BIGINT       NOT NULL REFERENCES feedback (id) ON DELETE CASCADE,
    text        TEXT         NOT NULL,
    is_user     BOOLEAN      NOT NULL,
    refs        JSONB        NOT NULL DEFAULT '[]',
    chunk_ids   JSONB        NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_thread_messages_feedback
    ON thread_messages (feedback_id, created_at, id);
`

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE/INDEX IF NOT EXISTS) and safe to
// call on every application start.
//
// embeddingDimensions must match the configured embedder's output
// dimension (e.g. 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlChunks,
		ddlChunkEmbeddings(embeddingDimensions),
		ddlGraphNodes,
		ddlGraphEdges,
		ddlCommunitySummaries,
		ddlMemory(embeddingDimensions),
		ddlFeedback,
		ddlThreadMessages,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
