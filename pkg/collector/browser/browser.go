package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/logger"

	"github.com/chromedp/chromedp"
)

const defaultCommandTimeout = 30 * time.Second

const visibleItemsScript = `Array.from(document.querySelectorAll(%s))
	.filter(e => e.offsetParent !== null || e.getClientRects().length > 0)
	.map(e => e.outerHTML)`

// Surface is a headless Chrome tab driven over the DevTools protocol. It
// implements collector.Surface.
type Surface struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewSurfaceParams configures the browser of a Surface.
//
// ExecPath points to a Chrome binary, it is looked up on PATH when empty.
// ShowWindow disables headless mode. CommandTimeout bounds every single
// command sent to the browser.
type NewSurfaceParams struct {
	ExecPath       string
	UserAgent      string
	ShowWindow     bool
	NoSandbox      bool
	CommandTimeout time.Duration
}

// NewSurface starts a browser and opens a tab. The browser lives until Close
// is called or ctx is cancelled. An error here means the run cannot start.
func NewSurface(ctx context.Context, params NewSurfaceParams) (*Surface, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if params.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(params.ExecPath))
	}
	if params.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(params.UserAgent))
	}
	if params.ShowWindow {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if params.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser and binds it to tabCtx.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := params.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	logger.Debug("[Browser] Started", "headless", !params.ShowWindow)

	return &Surface{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		timeout: timeout,
	}, nil
}

// Close shuts the browser down.
func (s *Surface) Close() {
	s.cancel()
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *Surface) ExecuteScript(ctx context.Context, script string, res any) error {
	return s.run(ctx, chromedp.Evaluate(script, res))
}

func (s *Surface) FindVisibleItems(ctx context.Context, selector string) ([]collector.Element, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var fragments []string
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(visibleItemsScript, quoted), &fragments)); err != nil {
		return nil, err
	}
	return collector.NewHTMLElements(fragments), nil
}

// run executes actions on the tab. The command is aborted when either the
// caller's ctx ends or the command timeout passes; the tab stays open.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

var _ collector.Surface = (*Surface)(nil)
