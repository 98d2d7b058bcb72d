package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// FetchChunks implements [store.ChunkReader]. Missing ids are silently
// omitted from the result.
func (s *Store) FetchChunks(ctx context.Context, ids []int64) ([]ragtypes.Chunk, error) {
	if len(ids) == 0 {
		return []ragtypes.Chunk{}, nil
	}

	const q = `
		SELECT id, text, source, page, byte_offset, ingested_at, ocr, hash
		FROM   chunks
		WHERE  id = ANY($1)`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "fetch chunks", err)
	}
	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "fetch chunks: scan rows", err)
	}
	return chunks, nil
}

// FetchChunk implements [store.ChunkReader].
func (s *Store) FetchChunk(ctx context.Context, id int64) (ragtypes.Chunk, error) {
	chunks, err := s.FetchChunks(ctx, []int64{id})
	if err != nil {
		return ragtypes.Chunk{}, err
	}
	if len(chunks) == 0 {
		return ragtypes.Chunk{}, ragerr.New(ragerr.NotFound, fmt.Sprintf("chunk %d not found", id))
	}
	return chunks[0], nil
}

// VectorSearch implements [store.ChunkReader]. Results are ordered by
// descending cosine similarity, ties broken by ascending chunk id, to
// satisfy the stable-ordering invariant selected chunks must carry
// through to citation numbering.
func (s *Store) VectorSearch(ctx context.Context, qvec []float32, k int) ([]ragtypes.ScoredChunk, error) {
	vec := pgvector.NewVector(qvec)

	const q = `
		SELECT c.id, c.text, c.source, c.page, c.byte_offset, c.ingested_at, c.ocr, c.hash,
		       1 - (e.vec <=> $1) AS similarity
		FROM   chunk_embeddings e
		JOIN   chunks c ON c.id = e.chunk_id
		ORDER  BY e.vec <=> $1, c.id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, vec, k)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "vector search", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.ScoredChunk, error) {
		var sc ragtypes.ScoredChunk
		if err := row.Scan(
			&sc.Chunk.ID, &sc.Chunk.Text, &sc.Chunk.Source, &sc.Chunk.Page,
			&sc.Chunk.Offset, &sc.Chunk.IngestedAt, &sc.Chunk.OCR, &sc.Chunk.Hash,
			&sc.Similarity,
		); err != nil {
			return ragtypes.ScoredChunk{}, err
		}
		return sc, nil
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "vector search: scan rows", err)
	}
	if results == nil {
		results = []ragtypes.ScoredChunk{}
	}
	return results, nil
}

func collectChunks(rows pgx.Rows) ([]ragtypes.Chunk, error) {
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.Chunk, error) {
		var c ragtypes.Chunk
		if err := row.Scan(&c.ID, &c.Text, &c.Source, &c.Page, &c.Offset, &c.IngestedAt, &c.OCR, &c.Hash); err != nil {
			return ragtypes.Chunk{}, err
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []ragtypes.Chunk{}
	}
	return chunks, nil
}
