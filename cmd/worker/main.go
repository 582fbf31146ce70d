package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/graphcrawl/backend/internal/db"
	"github.com/graphcrawl/backend/internal/queue"
	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/collector/browser"
	"github.com/graphcrawl/backend/pkg/collector/static"
	"github.com/graphcrawl/backend/pkg/leaselock"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/logger/console"
	"github.com/graphcrawl/backend/pkg/metrics"
	pgstore "github.com/graphcrawl/backend/pkg/store/pgx"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	// database
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(util.GetEnvString("MIGRATIONS_PATH", "migrations"), databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	runs := pgstore.NewRunStorageWithConnection(pgConn)
	reg := metrics.DefaultRegistry()

	params := queue.NewCrawlProcessorParams{
		Graphs:      pgstore.NewGraphDBStorageWithConnection(pgConn),
		Runs:        runs,
		Locks:       leaselock.New(pgConn),
		Metrics:     reg,
		SiteName:    util.GetEnv("SITE_NAME"),
		SearchURL:   util.GetEnv("SEARCH_URL"),
		MaxRecords:  util.GetEnvInt("CRAWL_MAX_RECORDS", collector.DefaultMaxRecords),
		SettleDelay: util.GetEnvDuration("CRAWL_SETTLE_DELAY", collector.DefaultSettleDelay),
		LeaseTTL:    util.GetEnvDuration("CRAWL_LEASE_TTL", 5*time.Minute),
		NewSurface:  surfaceFactory(util.GetEnvString("CRAWL_SURFACE", "browser")),
	}

	// s3 snapshots
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	if s3Client != nil {
		params.Snapshots = storage.NewSnapshotStore(s3Client, util.GetEnv("AWS_BUCKET"))
	}

	processor, err := queue.NewCrawlProcessor(params)
	if err != nil {
		logger.Fatal("Failed to create crawl processor", "err", err)
	}

	// rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	publisher := queue.NewChannelPublisher(ch)

	if err := queue.RecoverStaleRuns(ctx, publisher, runs, util.GetEnvDuration("CRAWL_STALE_AFTER", 30*time.Minute)); err != nil {
		logger.Warn("Failed to recover stale runs", "err", err)
	}

	parallel := max(util.GetEnvInt("PARALLEL_CRAWLS", 1), 1)

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	// prefetch bounds deliveries to the number of browsers we run at once
	if err := consumerCh.Qos(parallel, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.CrawlQueue,
		queue.CrawlQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.CrawlQueue, "err", err)
	}

	go serveMetrics(ctx, reg)

	logger.Info("Listening for messages", "parallel", parallel)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

consume:
	for {
		select {
		case <-gctx.Done():
			break consume
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.CrawlQueue)
				break consume
			}
			g.Go(func() error {
				handleDelivery(gctx, processor, publisher, msg)
				return nil
			})
		}
	}

	logger.Info("Shutdown signal received, waiting for running crawls")
	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "err", err)
	}
}

func handleDelivery(ctx context.Context, processor *queue.CrawlProcessor, publisher queue.Publisher, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.CrawlQueue)

	err := processor.ProcessCrawlMessage(ctx, msg.Body)
	if err != nil {
		logger.Error("Error processing message", "queue", queue.CrawlQueue, "err", err)
		queue.HandleProcessingError(context.WithoutCancel(ctx), publisher, msg, queue.CrawlQueue)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
	logger.Info("Message processed successfully", "queue", queue.CrawlQueue, "duration", time.Since(startTime).Round(time.Second))
}

// surfaceFactory picks the page surface of the crawl. "static" fetches pages
// over plain HTTP without a browser.
func surfaceFactory(kind string) queue.SurfaceFactory {
	if kind == "static" {
		logger.Info("Using static surface")
		return newStaticSurface
	}
	return newBrowserSurface
}

func newStaticSurface(ctx context.Context) (collector.Surface, func(), error) {
	s := static.NewSurface(static.NewSurfaceParams{
		UserAgent: util.GetEnv("CHROME_USER_AGENT"),
		Timeout:   util.GetEnvDuration("STATIC_FETCH_TIMEOUT", 30*time.Second),
	})
	return s, func() {}, nil
}

func newBrowserSurface(ctx context.Context) (collector.Surface, func(), error) {
	s, err := browser.NewSurface(ctx, browser.NewSurfaceParams{
		ExecPath:   util.GetEnv("CHROME_PATH"),
		UserAgent:  util.GetEnv("CHROME_USER_AGENT"),
		ShowWindow: util.GetEnvBool("CHROME_SHOW_WINDOW", false),
		NoSandbox:  util.GetEnvBool("CHROME_NO_SANDBOX", false),
	})
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func serveMetrics(ctx context.Context, reg *metrics.Registry) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{})))
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	port := util.GetEnvString("METRICS_PORT", "9090")
	logger.Info("Serving metrics", "port", port)
	if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "err", err)
	}
}
