package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ragcore/ragcore/pkg/store"
)

// Compile-time interface checks. Unlike the teacher's L1/L2/L3 memory
// layers, none of the four pkg/store sub-interfaces collide on method
// names, so a single *Store value satisfies all of them directly.
var (
	_ store.ChunkReader = (*Store)(nil)
	_ store.GraphReader = (*Store)(nil)
	_ store.MemoryStore = (*Store)(nil)
	_ store.DialogStore = (*Store)(nil)
	_ store.Store       = (*Store)(nil)
)

// Store is the central PostgreSQL-backed store. It holds a single
// [pgxpool.Pool] and implements every pkg/store sub-interface directly.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every
// connection, and runs [Migrate] to ensure all required tables and
// extensions exist.
//
// embeddingDimensions must match the output dimension of the embedder
// in use (e.g. 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection
// pool. It should be called when the Store is no longer needed,
// typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the underlying connection pool can still reach the
// database, for use as a [health.Checker].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
