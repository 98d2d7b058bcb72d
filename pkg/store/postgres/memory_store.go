package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
	"github.com/ragcore/ragcore/pkg/store"
)

// LookupExact implements [store.MemoryStore].
func (s *Store) LookupExact(ctx context.Context, normalizedText string) (*ragtypes.MemoryEntry, error) {
	const q = memorySelect + `WHERE normalized_text = $1`

	rows, err := s.pool.Query(ctx, q, normalizedText)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "memory lookup exact", err)
	}
	entries, err := collectMemoryEntries(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "memory lookup exact: scan rows", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// LookupSemantic implements [store.MemoryStore]. It returns the
// highest-similarity entry at or above threshold, ties broken by most
// recent last_accessed.
func (s *Store) LookupSemantic(ctx context.Context, qvec []float32, threshold float64) (*ragtypes.MemoryEntry, error) {
	vec := pgvector.NewVector(qvec)

	q := memorySelect + `
		WHERE  1 - (embedding <=> $1) >= $2
		ORDER  BY 1 - (embedding <=> $1) DESC, last_accessed DESC
		LIMIT  1`

	rows, err := s.pool.Query(ctx, q, vec, threshold)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "memory lookup semantic", err)
	}
	entries, err := collectMemoryEntries(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "memory lookup semantic: scan rows", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Insert implements [store.MemoryStore]. Concurrent identical misses
// race to insert the same normalized_text; the unique constraint plus
// ON CONFLICT DO NOTHING guarantees exactly one row survives, and the
// loser is told which row won via inserted=false (spec §5/§8 property 4).
func (s *Store) Insert(ctx context.Context, entry ragtypes.MemoryEntry) (int64, bool, error) {
	refsJSON, err := json.Marshal(entry.References)
	if err != nil {
		return 0, false, ragerr.Wrap(ragerr.Internal, "marshal references", err)
	}
	chunkIDsJSON, err := json.Marshal(entry.ChunkIDs)
	if err != nil {
		return 0, false, ragerr.Wrap(ragerr.Internal, "marshal chunk ids", err)
	}
	entitiesJSON, err := json.Marshal(entry.Entities)
	if err != nil {
		return 0, false, ragerr.Wrap(ragerr.Internal, "marshal entities", err)
	}
	communitiesJSON, err := json.Marshal(entry.Communities)
	if err != nil {
		return 0, false, ragerr.Wrap(ragerr.Internal, "marshal communities", err)
	}
	vec := pgvector.NewVector(entry.Embedding)

	const q = `
		INSERT INTO memory
		    (normalized_text, text, embedding, answer, refs, chunk_ids, entities, communities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (normalized_text) DO NOTHING
		RETURNING id`

	var id int64
	err = s.pool.QueryRow(ctx, q,
		entry.Text, entry.Text, vec, entry.Answer,
		refsJSON, chunkIDsJSON, entitiesJSON, communitiesJSON,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != pgx.ErrNoRows {
		return 0, false, ragerr.Wrap(ragerr.Store, "memory insert", err)
	}

	// Lost the race: another writer already owns this normalized_text.
	existing, lookupErr := s.LookupExact(ctx, entry.Text)
	if lookupErr != nil {
		return 0, false, lookupErr
	}
	if existing == nil {
		return 0, false, ragerr.New(ragerr.Internal, "memory insert: conflict with no resolvable row")
	}
	return existing.ID, false, nil
}

// Touch implements [store.MemoryStore].
func (s *Store) Touch(ctx context.Context, id int64) error {
	const q = `
		UPDATE memory
		SET    access_count  = access_count + 1,
		       last_accessed = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return ragerr.Wrap(ragerr.Store, "memory touch", err)
	}
	if tag.RowsAffected() == 0 {
		return ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	return nil
}

// Get implements [store.MemoryStore].
func (s *Store) Get(ctx context.Context, id int64) (ragtypes.MemoryEntry, error) {
	q := memorySelect + `WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return ragtypes.MemoryEntry{}, ragerr.Wrap(ragerr.Store, "memory get", err)
	}
	entries, err := collectMemoryEntries(rows)
	if err != nil {
		return ragtypes.MemoryEntry{}, ragerr.Wrap(ragerr.Store, "memory get: scan rows", err)
	}
	if len(entries) == 0 {
		return ragtypes.MemoryEntry{}, ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	return entries[0], nil
}

// Delete implements [store.MemoryStore]. Feedback and thread rows are
// removed transitively via ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory WHERE id = $1`, id)
	if err != nil {
		return ragerr.Wrap(ragerr.Store, "memory delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ragerr.New(ragerr.NotFound, "memory entry not found")
	}
	return nil
}

// Clear implements [store.MemoryStore].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memory`); err != nil {
		return ragerr.Wrap(ragerr.Store, "memory clear", err)
	}
	return nil
}

// Stats implements [store.MemoryStore].
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	const q = `
		SELECT count(*), coalesce(sum(access_count), 0)
		FROM   memory`

	var total, accesses int
	if err := s.pool.QueryRow(ctx, q).Scan(&total, &accesses); err != nil {
		return store.Stats{}, ragerr.Wrap(ragerr.Store, "memory stats", err)
	}
	avg := float64(0)
	if total > 0 {
		avg = float64(accesses) / float64(total)
	}
	return store.Stats{TotalEntries: total, TotalAccesses: accesses, AverageAccesses: avg}, nil
}

const memorySelect = `
	SELECT id, text, embedding, answer, refs, chunk_ids, entities, communities,
	       access_count, created_at, last_accessed
	FROM   memory
	`

func collectMemoryEntries(rows pgx.Rows) ([]ragtypes.MemoryEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.MemoryEntry, error) {
		var (
			e                                            ragtypes.MemoryEntry
			vec                                          pgvector.Vector
			refsJSON, chunkIDsJSON, entitiesJSON, commsJ []byte
		)
		if err := row.Scan(
			&e.ID, &e.Text, &vec, &e.Answer,
			&refsJSON, &chunkIDsJSON, &entitiesJSON, &commsJ,
			&e.AccessCount, &e.CreatedAt, &e.LastAccessed,
		); err != nil {
			return ragtypes.MemoryEntry{}, err
		}
		e.Embedding = vec.Slice()
		if err := json.Unmarshal(refsJSON, &e.References); err != nil {
			return ragtypes.MemoryEntry{}, err
		}
		if err := json.Unmarshal(chunkIDsJSON, &e.ChunkIDs); err != nil {
			return ragtypes.MemoryEntry{}, err
		}
		if err := json.Unmarshal(entitiesJSON, &e.Entities); err != nil {
			return ragtypes.MemoryEntry{}, err
		}
		if err := json.Unmarshal(commsJ, &e.Communities); err != nil {
			return ragtypes.MemoryEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ragtypes.MemoryEntry{}
	}
	return entries, nil
}
