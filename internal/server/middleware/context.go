package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/graphcrawl/backend/internal/queue"
	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/pkg/metrics"
	"github.com/graphcrawl/backend/pkg/store"
)

// SnapshotReader reads crawl snapshots back from object storage.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, id string) (storage.Snapshot, error)
	DownloadLink(ctx context.Context, id, publicEndpoint string) (string, error)
}

// App holds the shared dependencies of every request. Runs and Snapshots
// may be nil when the service runs without bookkeeping or a bucket.
type App struct {
	Graphs         store.GraphStore
	Runs           store.RunStore
	Queue          queue.Publisher
	Snapshots      SnapshotReader
	Metrics        *metrics.Registry
	MaxRecords     int
	PublicEndpoint string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
