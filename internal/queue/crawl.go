package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/graph"
	"github.com/graphcrawl/backend/pkg/leaselock"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/metrics"
	"github.com/graphcrawl/backend/pkg/store"
)

const (
	saveAttempts  = 3
	saveBackoff   = time.Second
	finishTimeout = 30 * time.Second
)

// SurfaceFactory opens a dedicated render surface for one run. The returned
// func releases it.
type SurfaceFactory func(ctx context.Context) (collector.Surface, func(), error)

// Locker serializes runs sharing a key.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// SnapshotWriter uploads the result of a run.
type SnapshotWriter interface {
	PutSnapshot(ctx context.Context, snap storage.Snapshot) (string, error)
}

// CrawlProcessor executes crawl messages. It is safe for concurrent use;
// every message gets its own surface and session.
type CrawlProcessor struct {
	graphs      store.GraphStore
	runs        store.RunStore
	snapshots   SnapshotWriter
	locks       Locker
	newSurface  SurfaceFactory
	metrics     *metrics.Registry
	siteName    string
	searchURL   string
	maxRecords  int
	settleDelay time.Duration
	leaseTTL    time.Duration
}

// NewCrawlProcessorParams defines the configuration for a CrawlProcessor.
//
// Graphs and NewSurface are required. Runs, Snapshots and Locks are
// optional; without Locks identical crawls may run concurrently.
type NewCrawlProcessorParams struct {
	Graphs      store.GraphStore
	Runs        store.RunStore
	Snapshots   SnapshotWriter
	Locks       Locker
	NewSurface  SurfaceFactory
	Metrics     *metrics.Registry
	SiteName    string
	SearchURL   string
	MaxRecords  int
	SettleDelay time.Duration
	LeaseTTL    time.Duration
}

func NewCrawlProcessor(params NewCrawlProcessorParams) (*CrawlProcessor, error) {
	if params.Graphs == nil {
		return nil, fmt.Errorf("crawl processor requires a graph store")
	}
	if params.NewSurface == nil {
		return nil, fmt.Errorf("crawl processor requires a surface factory")
	}
	reg := params.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &CrawlProcessor{
		graphs:      params.Graphs,
		runs:        params.Runs,
		snapshots:   params.Snapshots,
		locks:       params.Locks,
		newSurface:  params.NewSurface,
		metrics:     reg,
		siteName:    params.SiteName,
		searchURL:   params.SearchURL,
		maxRecords:  params.MaxRecords,
		settleDelay: params.SettleDelay,
		leaseTTL:    params.LeaseTTL,
	}, nil
}

// ProcessCrawlMessage runs the crawl described by body. A run whose terms
// are already being crawled elsewhere fails with leaselock.ErrBusy so the
// message is retried later.
func (p *CrawlProcessor) ProcessCrawlMessage(ctx context.Context, body []byte) error {
	msg, err := decodeCrawlMsg(body)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Crawl started", "correlation_id", msg.CorrelationID, "terms", msg.Terms)

	if p.locks == nil {
		return p.run(ctx, msg)
	}
	key := leaselock.CrawlKey(collector.SearchTerms(msg.Terms))
	return p.locks.WithLease(ctx, key, leaselock.Options{TTL: p.leaseTTL}, func(ctx context.Context) error {
		return p.run(ctx, msg)
	})
}

func (p *CrawlProcessor) run(ctx context.Context, msg QueueCrawlMsg) error {
	start := time.Now()
	p.metrics.CrawlRunsInFlight.Inc()
	defer p.metrics.CrawlRunsInFlight.Dec()

	p.markRunning(ctx, msg)

	report, g, runErr := p.crawl(ctx, msg)

	status := store.RunDone
	if runErr != nil {
		status = store.RunFailed
	}

	// Whatever was assembled before a failure is kept.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	saveErr := p.save(finishCtx, g)
	if saveErr != nil {
		status = store.RunFailed
	}
	snapshotKey := p.snapshot(finishCtx, msg, report, g)

	err := errors.Join(runErr, saveErr)
	p.finish(finishCtx, msg, status, report, err, snapshotKey)
	p.metrics.RecordRun(string(status), time.Since(start))

	logger.Info("[Queue] Crawl finished",
		"correlation_id", msg.CorrelationID,
		"status", status,
		"nodes", len(g.Nodes),
		"edges", len(g.Edges),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return err
}

// crawl opens a surface and runs the controller into a fresh session. The
// graph is returned even when the run fails part way.
func (p *CrawlProcessor) crawl(ctx context.Context, msg QueueCrawlMsg) (collector.RunReport, common.Graph, error) {
	session := graph.NewSession()

	surface, release, err := p.newSurface(ctx)
	if err != nil {
		return collector.RunReport{}, session.Snapshot(), fmt.Errorf("failed to open surface: %w", err)
	}
	defer release()

	assembler, err := graph.NewAssembler(graph.NewAssemblerParams{
		Session:  session,
		SiteName: p.siteName,
	})
	if err != nil {
		return collector.RunReport{}, session.Snapshot(), err
	}

	maxRecords := msg.MaxRecords
	if maxRecords == 0 {
		maxRecords = p.maxRecords
	}
	controller, err := collector.NewController(collector.NewControllerParams{
		Surface:     surface,
		Assembler:   assembler,
		Metrics:     p.metrics,
		SearchURL:   p.searchURL,
		MaxRecords:  maxRecords,
		SettleDelay: p.settleDelay,
	})
	if err != nil {
		return collector.RunReport{}, session.Snapshot(), err
	}

	report, err := controller.Run(ctx, msg.Terms)
	return report, session.Snapshot(), err
}

func (p *CrawlProcessor) save(ctx context.Context, g common.Graph) error {
	if len(g.Nodes) == 0 {
		return nil
	}
	err := util.RetryErrWithContext(ctx, saveAttempts, saveBackoff, func(ctx context.Context) error {
		return p.graphs.SaveGraph(ctx, g)
	})
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

func (p *CrawlProcessor) snapshot(ctx context.Context, msg QueueCrawlMsg, report collector.RunReport, g common.Graph) string {
	if p.snapshots == nil {
		return ""
	}
	snap := storage.Snapshot{
		ID:        msg.CorrelationID,
		Terms:     msg.Terms,
		CreatedAt: time.Now().UTC(),
		Report:    report,
		Graph:     g,
	}
	key, err := util.RetryWithContext(ctx, saveAttempts, saveBackoff, func(ctx context.Context) (string, error) {
		return p.snapshots.PutSnapshot(ctx, snap)
	})
	if err != nil {
		logger.Error("[Queue] Failed to upload snapshot", "correlation_id", msg.CorrelationID, "err", err)
		return ""
	}
	return key
}

func (p *CrawlProcessor) markRunning(ctx context.Context, msg QueueCrawlMsg) {
	if p.runs == nil {
		return
	}
	err := p.runs.MarkRunning(ctx, msg.CorrelationID)
	if errors.Is(err, store.ErrNotFound) {
		if err = p.runs.CreateRun(ctx, msg.CorrelationID, msg.Terms); err == nil {
			err = p.runs.MarkRunning(ctx, msg.CorrelationID)
		}
	}
	if err != nil {
		logger.Warn("[Queue] Failed to mark run as running", "correlation_id", msg.CorrelationID, "err", err)
	}
}

func (p *CrawlProcessor) finish(ctx context.Context, msg QueueCrawlMsg, status store.RunStatus, report collector.RunReport, runErr error, snapshotKey string) {
	if p.runs == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		logger.Warn("[Queue] Failed to encode run report", "correlation_id", msg.CorrelationID, "err", err)
		raw = nil
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := p.runs.FinishRun(ctx, msg.CorrelationID, status, raw, errMsg, snapshotKey); err != nil {
		logger.Warn("[Queue] Failed to record run result", "correlation_id", msg.CorrelationID, "err", err)
	}
}
