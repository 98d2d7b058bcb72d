package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/ragcore/ragcore/pkg/ragerr"
	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// chunkNodeID is the graph_nodes/graph_edges convention for a chunk
// endpoint: the ingestion/graph-build collaborator addresses chunks by
// this synthetic node id rather than by their numeric id directly.
func chunkNodeID(id int64) string {
	return "chunk:" + formatInt(id)
}

func formatInt(id int64) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EntitiesForChunks implements [store.GraphReader]. It aggregates edge
// weight per entity across every edge whose other endpoint is one of
// the given chunks, restricted to the latest graph_edges/graph_nodes
// processing timestamp. The top-M truncation named in spec §4.5
// happens one layer up, in the graph enricher.
func (s *Store) EntitiesForChunks(ctx context.Context, chunkIDs []int64) ([]ragtypes.EntityHit, error) {
	if len(chunkIDs) == 0 {
		return []ragtypes.EntityHit{}, nil
	}

	nodeIDs := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		nodeIDs[i] = chunkNodeID(id)
	}

	const q = `
		WITH latest_edges AS (
			SELECT src, dst, weight FROM graph_edges
			WHERE ts = (SELECT max(ts) FROM graph_edges)
		),
		latest_nodes AS (
			SELECT node_id, entity_type FROM graph_nodes
			WHERE ts = (SELECT max(ts) FROM graph_nodes) AND kind = 'entity'
		),
		hits AS (
			SELECT e.dst AS entity_id, e.weight FROM latest_edges e
			WHERE e.src = ANY($1)
			UNION ALL
			SELECT e.src AS entity_id, e.weight FROM latest_edges e
			WHERE e.dst = ANY($1)
		)
		SELECT h.entity_id, coalesce(n.entity_type, ''), sum(h.weight) AS relevance
		FROM   hits h
		JOIN   latest_nodes n ON n.node_id = h.entity_id
		GROUP  BY h.entity_id, n.entity_type
		ORDER  BY relevance DESC, h.entity_id`

	rows, err := s.pool.Query(ctx, q, nodeIDs)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "entities for chunks", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ragtypes.EntityHit, error) {
		var h ragtypes.EntityHit
		if err := row.Scan(&h.EntityID, &h.Type, &h.Relevance); err != nil {
			return ragtypes.EntityHit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "entities for chunks: scan rows", err)
	}
	if hits == nil {
		hits = []ragtypes.EntityHit{}
	}
	return hits, nil
}

// CommunitiesForEntities implements [store.GraphReader]. Relevance for
// each returned community is the fraction of entityIDs that are
// members of it, computed in Go since JSONB array containment scoring
// is awkward to express set-wise in SQL.
func (s *Store) CommunitiesForEntities(ctx context.Context, entityIDs []string) ([]ragtypes.CommunityHit, error) {
	if len(entityIDs) == 0 {
		return []ragtypes.CommunityHit{}, nil
	}

	const q = `
		SELECT id, summary, entities
		FROM   community_summaries
		WHERE  ts = (SELECT max(ts) FROM community_summaries)
		  AND  entities ?| $1`

	rows, err := s.pool.Query(ctx, q, entityIDs)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "communities for entities", err)
	}

	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}

	type row struct {
		id        int64
		summary   string
		entitiesJ []byte
	}
	raw, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var out row
		if err := r.Scan(&out.id, &out.summary, &out.entitiesJ); err != nil {
			return row{}, err
		}
		return out, nil
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Store, "communities for entities: scan rows", err)
	}

	hits := make([]ragtypes.CommunityHit, 0, len(raw))
	for _, r := range raw {
		var members []string
		if err := json.Unmarshal(r.entitiesJ, &members); err != nil {
			return nil, ragerr.Wrap(ragerr.Internal, "communities for entities: unmarshal members", err)
		}
		overlap := 0
		for _, m := range members {
			if _, ok := wanted[m]; ok {
				overlap++
			}
		}
		relevance := float64(0)
		if len(entityIDs) > 0 {
			relevance = float64(overlap) / float64(len(entityIDs))
		}
		hits = append(hits, ragtypes.CommunityHit{
			CommunityID: r.id,
			Summary:     r.summary,
			Entities:    members,
			Relevance:   relevance,
		})
	}
	return hits, nil
}
