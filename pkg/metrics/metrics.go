package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metrics of the crawler and the API.
type Registry struct {
	// Crawl metrics
	CrawlTermsTotal   *prometheus.CounterVec
	CrawlRecordsTotal prometheus.Counter
	CrawlSkippedTotal prometheus.Counter
	CrawlScrollSteps  prometheus.Histogram
	CrawlRunDuration  *prometheus.HistogramVec
	CrawlRunsInFlight prometheus.Gauge

	// Query path metrics
	TransformRowsTotal       prometheus.Counter
	TransformViolationsTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initCrawlMetrics()
	r.initQueryMetrics()
	r.initHTTPMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) initCrawlMetrics() {
	f := promauto.With(r.registry)

	r.CrawlTermsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphcrawl_terms_total",
			Help: "Search terms crawled, by terminal state",
		},
		[]string{"outcome"},
	)
	r.CrawlRecordsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "graphcrawl_records_total",
		Help: "Records linked into a crawl graph",
	})
	r.CrawlSkippedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "graphcrawl_skipped_items_total",
		Help: "Content items skipped because of missing fields or identifiers",
	})
	r.CrawlScrollSteps = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphcrawl_scroll_steps",
		Help:    "Scroll measurements taken per term",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})
	r.CrawlRunDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphcrawl_run_duration_seconds",
			Help:    "Duration of crawl runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)
	r.CrawlRunsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Name: "graphcrawl_runs_in_flight",
		Help: "Crawl runs currently holding a browser",
	})
}

func (r *Registry) initQueryMetrics() {
	f := promauto.With(r.registry)

	r.TransformRowsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "graphcrawl_transform_rows_total",
		Help: "Graph-store result rows transformed into graphs",
	})
	r.TransformViolationsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "graphcrawl_transform_violations_total",
		Help: "Edges whose endpoints were missing from a transformed result",
	})
}

func (r *Registry) initHTTPMetrics() {
	f := promauto.With(r.registry)

	r.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphcrawl_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	r.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphcrawl_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// RecordTerm records the end of one search term.
func (r *Registry) RecordTerm(outcome string, steps, records, skipped int) {
	r.CrawlTermsTotal.WithLabelValues(outcome).Inc()
	r.CrawlScrollSteps.Observe(float64(steps))
	r.CrawlRecordsTotal.Add(float64(records))
	r.CrawlSkippedTotal.Add(float64(skipped))
}

// RecordRun records a finished crawl run.
func (r *Registry) RecordRun(status string, duration time.Duration) {
	r.CrawlRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTransform records one query result conversion.
func (r *Registry) RecordTransform(rows, violations int) {
	r.TransformRowsTotal.Add(float64(rows))
	r.TransformViolationsTotal.Add(float64(violations))
}

// RecordHTTPRequest records an HTTP request with its duration.
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
