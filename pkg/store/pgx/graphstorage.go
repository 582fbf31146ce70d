package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/singleflight"

	"github.com/graphcrawl/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const (
	defaultChunkSize   = 500
	defaultSearchLimit = 50
)

// GraphDBStorage implements store.GraphStore on PostgreSQL. Documents are
// kept in a vertices and an edges table, each row addressed by a
// "collection/key" reference.
type GraphDBStorage struct {
	conn      pgxIConn
	chunkSize int
	lookups   singleflight.Group
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithChunkSize sets how many documents are sent per batch.
func WithChunkSize(size int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

var _ store.GraphStore = (*GraphDBStorage)(nil)
