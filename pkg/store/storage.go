package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/graphcrawl/backend/pkg/common"
)

// GraphStore defines the durable side of the system: crawl graphs are saved
// into it and the query path reads traversal rows back out of it.
type GraphStore interface {
	// SaveGraph persists nodes and edges. Nodes and edges that already
	// exist are left untouched.
	SaveGraph(ctx context.Context, g common.Graph) error

	// Neighbors returns the rows of a one step traversal in any direction
	// from the vertex with the given reference. The start vertex is
	// returned first; every following row carries an edge and the vertex
	// on its far side.
	Neighbors(ctx context.Context, vertexID string) ([]common.ResultRow, error)

	// Search returns stored vertices whose description matches term.
	Search(ctx context.Context, term string, limit int) ([]map[string]any, error)
}

// Vertex collections by node kind. Edge collections are named after the
// edge label.
var kindCollections = map[common.NodeKind]string{
	common.NodeKindSite:    "Site",
	common.NodeKindSearch:  "SearchTerm",
	common.NodeKindAuthor:  "Author",
	common.NodeKindArticle: "Article",
	common.NodeKindVertex:  "Vertex",
}

// CollectionFor returns the vertex collection of a node kind.
func CollectionFor(kind common.NodeKind) string {
	if c, ok := kindCollections[kind]; ok {
		return c
	}
	return kindCollections[common.NodeKindVertex]
}

// Reference builds the store reference of a document in a collection.
func Reference(collection, key string) string {
	return collection + "/" + key
}

var ErrNotFound = errors.New("not found")

type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// Run is the bookkeeping row of one background crawl.
type Run struct {
	ID          string          `json:"id"`
	Terms       []string        `json:"terms"`
	Status      RunStatus       `json:"status"`
	Report      json.RawMessage `json:"report,omitempty"`
	Error       string          `json:"error,omitempty"`
	SnapshotKey string          `json:"snapshot_key,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunStore tracks background crawls from enqueue to completion.
type RunStore interface {
	CreateRun(ctx context.Context, id string, terms []string) error
	MarkRunning(ctx context.Context, id string) error
	FinishRun(ctx context.Context, id string, status RunStatus, report []byte, errMsg, snapshotKey string) error
	// GetRun returns ErrNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (Run, error)
	// StaleRuns lists runs stuck in running for longer than olderThan.
	StaleRuns(ctx context.Context, olderThan time.Duration) ([]Run, error)
	// RequeueRun moves a running run back to queued.
	RequeueRun(ctx context.Context, id string) error
}
