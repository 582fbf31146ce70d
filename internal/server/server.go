package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/graphcrawl/backend/internal/db"
	"github.com/graphcrawl/backend/internal/queue"
	mid "github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/metrics"
	pgstore "github.com/graphcrawl/backend/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	if app.Metrics == nil {
		app.Metrics = metrics.DefaultRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.Recover())
	e.Use(mid.MetricsMiddleware(app.Metrics))
	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e, app.Metrics)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(util.GetEnvString("MIGRATIONS_PATH", "migrations"), databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	app := &mid.App{
		Graphs:         pgstore.NewGraphDBStorageWithConnection(conn),
		Runs:           pgstore.NewRunStorageWithConnection(conn),
		Queue:          queue.NewChannelPublisher(ch),
		Metrics:        metrics.DefaultRegistry(),
		MaxRecords:     util.GetEnvInt("CRAWL_MAX_RECORDS", collector.DefaultMaxRecords),
		PublicEndpoint: util.GetEnv("AWS_PUBLIC_ENDPOINT"),
	}

	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	if s3Client != nil {
		app.Snapshots = storage.NewSnapshotStore(s3Client, util.GetEnv("AWS_BUCKET"))
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
