package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/graph"
)

const neighborsSQL = `
SELECT 0 AS ord,
       jsonb_build_object('_id', s.id, '_key', s.key, '_rev', s.rev) || s.data AS v,
       NULL::jsonb AS e
FROM vertices s
WHERE s.id = $1
UNION ALL
SELECT 1 AS ord,
       jsonb_build_object('_id', v.id, '_key', v.key, '_rev', v.rev) || v.data AS v,
       jsonb_build_object('_id', e.id, '_key', e.key, '_rev', e.rev, '_from', e.from_id, '_to', e.to_id) || e.data AS e
FROM edges e
JOIN vertices v ON v.id = CASE WHEN e.from_id = $1 THEN e.to_id ELSE e.from_id END
WHERE e.from_id = $1 OR e.to_id = $1
ORDER BY ord
`

const searchSQL = `
SELECT jsonb_build_object('_id', id, '_key', key, '_rev', rev) || data
FROM vertices
WHERE key = $2 OR data->>'description' ILIKE '%' || $1 || '%' ESCAPE '\'
ORDER BY (key = $2) DESC, id
LIMIT $3
`

// Neighbors returns the start vertex followed by one row per adjacent edge.
// Concurrent calls for the same vertex share one database round trip, so the
// returned rows must be treated as read-only.
func (s *GraphDBStorage) Neighbors(ctx context.Context, vertexID string) ([]common.ResultRow, error) {
	res, err, _ := s.lookups.Do(vertexID, func() (any, error) {
		return s.queryNeighbors(ctx, vertexID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]common.ResultRow), nil
}

func (s *GraphDBStorage) queryNeighbors(ctx context.Context, vertexID string) ([]common.ResultRow, error) {
	rows, err := s.conn.Query(ctx, neighborsSQL, vertexID)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	result := make([]common.ResultRow, 0)
	for rows.Next() {
		var (
			ord  int
			v, e []byte
		)
		if err := rows.Scan(&ord, &v, &e); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor row: %w", err)
		}
		row, err := decodeRow(v, e)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read neighbors: %w", err)
	}
	return result, nil
}

// Search matches term against vertex descriptions and, exactly, against the
// canonical key of the term.
func (s *GraphDBStorage) Search(ctx context.Context, term string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.conn.Query(ctx, searchSQL, escapeLike(term), graph.Identify(term), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vertices: %w", err)
	}
	defer rows.Close()

	docs := make([]map[string]any, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan vertex: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vertices: %w", err)
	}
	return docs, nil
}

func decodeRow(v, e []byte) (common.ResultRow, error) {
	var (
		row common.ResultRow
		err error
	)
	if row.V, err = decodeDocument(v); err != nil {
		return row, err
	}
	if row.E, err = decodeDocument(e); err != nil {
		return row, err
	}
	return row, nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
