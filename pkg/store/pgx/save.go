package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/graph"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/store"
)

const insertVertexSQL = `
INSERT INTO vertices (id, collection, key, rev, data)
VALUES ($1, $2, $3, $4, $5::jsonb)
ON CONFLICT (id) DO NOTHING
`

const insertEdgeSQL = `
INSERT INTO edges (id, collection, key, rev, from_id, to_id, data)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (collection, from_id, to_id) DO NOTHING
`

type vertexRow struct {
	ID         string
	Collection string
	Key        string
	Data       string
}

type edgeRow struct {
	Collection string
	From       string
	To         string
}

// SaveGraph writes the graph in a single transaction. Vertices go into the
// collection of their kind, edges into the collection named by their label.
// Existing documents win over new ones.
func (s *GraphDBStorage) SaveGraph(ctx context.Context, g common.Graph) error {
	if violations := graph.Validate(g); len(violations) > 0 {
		return fmt.Errorf("graph has %d edges with missing endpoints, first: %s", len(violations), violations[0])
	}

	vertices, refs, err := vertexRows(g.Nodes)
	if err != nil {
		return err
	}
	edges := edgeRows(g.Edges, refs)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = store.ChunkRange(len(vertices), s.chunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, v := range vertices[start:end] {
			batch.Queue(insertVertexSQL, v.ID, v.Collection, v.Key, newRev(), v.Data)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save vertices: %w", err)
	}

	err = store.ChunkRange(len(edges), s.chunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range edges[start:end] {
			key := newRev()
			batch.Queue(insertEdgeSQL, store.Reference(e.Collection, key), e.Collection, key, newRev(), e.From, e.To, "{}")
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save edges: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}

	logger.Debug("[Store] Graph saved", "vertices", len(vertices), "edges", len(edges))
	return nil
}

// vertexRows maps nodes to store documents and returns the reference of
// every node id.
func vertexRows(nodes []common.Node) ([]vertexRow, map[string]string, error) {
	rows := make([]vertexRow, 0, len(nodes))
	refs := make(map[string]string, len(nodes))

	for _, n := range nodes {
		collection := store.CollectionFor(n.Kind)
		key := n.ID
		ref := store.Reference(collection, key)
		if c, k, ok := strings.Cut(n.ID, "/"); ok && n.Kind == common.NodeKindVertex {
			// Nodes read back from the store already carry their reference.
			collection, key, ref = c, k, n.ID
		}

		data := make(map[string]any, len(n.Attributes)+1)
		for k, v := range n.Attributes {
			data[k] = v
		}
		data["description"] = util.SanitizePostgresText(n.Description)

		raw, err := json.Marshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode node %q: %w", n.ID, err)
		}

		refs[n.ID] = ref
		rows = append(rows, vertexRow{
			ID:         ref,
			Collection: collection,
			Key:        key,
			Data:       string(raw),
		})
	}

	return rows, refs, nil
}

func edgeRows(edges []common.Edge, refs map[string]string) []edgeRow {
	rows := make([]edgeRow, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, edgeRow{
			Collection: e.Label,
			From:       refs[e.Source],
			To:         refs[e.Target],
		})
	}
	return rows
}

func newRev() string {
	rev, err := gonanoid.New(12)
	if err != nil {
		return "0"
	}
	return rev
}
