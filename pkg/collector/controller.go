package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/graphcrawl/backend/pkg/graph"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/metrics"
)

const (
	DefaultMaxRecords  = 100
	DefaultSettleDelay = 3 * time.Second
	DefaultSearchURL   = "https://medium.com/search?q=%s"
	DefaultSearchTerm  = "network graph visualization"

	ScrollScript = "window.scrollTo(0, document.body.scrollHeight); true"
	ExtentScript = "document.body.scrollHeight"
)

// Controller drives a Surface through the search results of every term,
// scrolling until the page stops growing or the record cap is exceeded, and
// hands the extracted records to an Assembler.
//
// A Controller owns its Surface for the duration of Run and should be
// created using NewController.
type Controller struct {
	surface     Surface
	assembler   *graph.Assembler
	extractor   *Extractor
	metrics     *metrics.Registry
	searchURL   string
	maxRecords  int
	settleDelay time.Duration
}

// NewControllerParams defines the configuration for creating a Controller.
//
// SearchURL must contain a single %s verb that receives the escaped term.
// MaxRecords defaults to DefaultMaxRecords and SettleDelay to
// DefaultSettleDelay when zero; a negative SettleDelay disables the wait.
type NewControllerParams struct {
	Surface     Surface
	Assembler   *graph.Assembler
	Extractor   *Extractor
	Metrics     *metrics.Registry
	SearchURL   string
	MaxRecords  int
	SettleDelay time.Duration
}

// TermReport describes how the crawl of one search term ended.
type TermReport struct {
	Term      string              `json:"term"`
	ID        string              `json:"id"`
	State     string              `json:"state"`
	Steps     int                 `json:"steps"`
	Items     int                 `json:"items"`
	Skipped   int                 `json:"skipped"`
	Assembled graph.AssembleStats `json:"assembled"`
	Error     string              `json:"error,omitempty"`
	Err       error               `json:"-"`
}

// RunReport collects the term reports of one run in execution order.
type RunReport struct {
	Terms     []TermReport `json:"terms"`
	Cancelled bool         `json:"cancelled"`
}

// NewController creates a Controller from params.
func NewController(params NewControllerParams) (*Controller, error) {
	if params.Surface == nil {
		return nil, fmt.Errorf("controller requires a surface")
	}
	if params.Assembler == nil {
		return nil, fmt.Errorf("controller requires an assembler")
	}
	searchURL := params.SearchURL
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if strings.Count(searchURL, "%s") != 1 {
		return nil, fmt.Errorf("search url %q must contain exactly one %%s", searchURL)
	}
	extractor := params.Extractor
	if extractor == nil {
		extractor = NewExtractor(DefaultSelectors)
	}
	maxRecords := params.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	settle := params.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	reg := params.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}

	return &Controller{
		surface:     params.Surface,
		assembler:   params.Assembler,
		extractor:   extractor,
		metrics:     reg,
		searchURL:   searchURL,
		maxRecords:  maxRecords,
		settleDelay: settle,
	}, nil
}

// SearchTerms normalizes the terms of a run: blanks are dropped and, when
// more than one term is left, the combined term is put first so the joint
// query runs before the individual ones. Without terms DefaultSearchTerm is
// used.
func SearchTerms(terms []string) []string {
	cleaned := make([]string, 0, len(terms)+1)
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	switch len(cleaned) {
	case 0:
		return []string{DefaultSearchTerm}
	case 1:
		return cleaned
	}
	return append([]string{strings.Join(cleaned, " ")}, cleaned...)
}

// SearchURL returns the page address of a term.
func (c *Controller) SearchURL(term string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(term), "+", "%20")
	return fmt.Sprintf(c.searchURL, escaped)
}

// Run crawls every term in turn. A failing term is logged and abandoned and
// the run continues with the next one. Cancellation is checked before each
// term and between scroll steps; a cancelled run returns the context error
// together with the reports gathered so far.
func (c *Controller) Run(ctx context.Context, terms []string) (RunReport, error) {
	report := RunReport{}

	for _, term := range SearchTerms(terms) {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			return report, err
		}

		tr := c.runTerm(ctx, term)
		report.Terms = append(report.Terms, tr)

		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			return report, err
		}
	}

	return report, nil
}

func (c *Controller) runTerm(ctx context.Context, term string) TermReport {
	tr := TermReport{Term: term, State: Growing.String()}

	fail := func(stage string, err error) TermReport {
		tr.Err = fmt.Errorf("%s: %w", stage, err)
		tr.Error = tr.Err.Error()
		logger.Error("[Crawl] Term abandoned", "term", term, "stage", stage, "err", err)
		c.metrics.RecordTerm("failed", tr.Steps, tr.Assembled.Linked, tr.Skipped)
		return tr
	}

	if err := c.surface.Navigate(ctx, c.SearchURL(term)); err != nil {
		return fail("navigate", err)
	}

	id, err := c.assembler.RegisterSearchTerm(term)
	if err != nil {
		return fail("register", err)
	}
	tr.ID = id

	state, steps, err := c.scroll(ctx, term)
	tr.Steps = steps
	if err != nil {
		return fail("scroll", err)
	}
	tr.State = state.String()

	items, err := c.surface.FindVisibleItems(ctx, c.extractor.ItemSelector())
	if err != nil {
		return fail("collect", err)
	}
	tr.Items = len(items)
	logger.Info("[Crawl] Collected posts", "term", term, "count", len(items), "state", tr.State)

	records, skipped := c.extractor.Extract(items)
	tr.Skipped = skipped

	stats, err := c.assembler.Assemble(ctx, term, records)
	tr.Assembled = stats
	tr.Skipped += stats.Skipped
	if err != nil {
		return fail("assemble", err)
	}

	c.metrics.RecordTerm(tr.State, tr.Steps, stats.Linked, tr.Skipped)
	return tr
}

// scroll runs the convergence loop of one term and returns its terminal
// state and the number of measurements taken.
func (c *Controller) scroll(ctx context.Context, term string) (ScrollState, int, error) {
	conv := NewConvergence(c.maxRecords)

	for !conv.State().Terminal() {
		if err := ctx.Err(); err != nil {
			return conv.State(), conv.Steps(), err
		}

		var scrolled bool
		if err := c.surface.ExecuteScript(ctx, ScrollScript, &scrolled); err != nil {
			return conv.State(), conv.Steps(), fmt.Errorf("failed to scroll: %w", err)
		}

		if err := settle(ctx, c.settleDelay); err != nil {
			return conv.State(), conv.Steps(), err
		}

		var extent float64
		if err := c.surface.ExecuteScript(ctx, ExtentScript, &extent); err != nil {
			return conv.State(), conv.Steps(), fmt.Errorf("failed to measure page: %w", err)
		}
		items, err := c.surface.FindVisibleItems(ctx, c.extractor.ItemSelector())
		if err != nil {
			return conv.State(), conv.Steps(), fmt.Errorf("failed to count items: %w", err)
		}

		state := conv.Observe(int64(extent), len(items))
		logger.Debug("[Crawl] Scrolled", "term", term, "items", len(items), "extent", int64(extent), "state", state.String())
	}

	return conv.State(), conv.Steps(), nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
