package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/graph"
)

const page = `<html><body>
<div class="postArticle"><a class="ds-link" href="https://medium.com/@asmith">A. Smith</a><time>Mar 3</time><h3>On Graphs</h3></div>
<div class="postArticle"><a class="ds-link" href="https://medium.com/@bjones">B. Jones</a><time>Mar 4</time><h3>Layouts</h3><span class="multirecommend">12</span></div>
</body></html>`

func newAssembler(t *testing.T) *graph.Assembler {
	t.Helper()
	a, err := graph.NewAssembler(graph.NewAssemblerParams{Session: graph.NewSession()})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

func newServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSurfaceFindsItems(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	s := NewSurface(NewSurfaceParams{})
	ctx := context.Background()

	if err := s.Navigate(ctx, srv.URL+"/search"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	items, err := s.FindVisibleItems(ctx, ".postArticle")
	if err != nil {
		t.Fatalf("FindVisibleItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	records, skipped := collector.NewExtractor(collector.DefaultSelectors).Extract(items)
	if skipped != 0 || len(records) != 2 {
		t.Fatalf("expected 2 records and no skips, got %d/%d", len(records), skipped)
	}
	if records[1].EngagementCount != "12" {
		t.Fatalf("unexpected engagement %q", records[1].EngagementCount)
	}
}

func TestSurfaceExtentIsStable(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	s := NewSurface(NewSurfaceParams{})
	ctx := context.Background()

	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	var scrolled bool
	if err := s.ExecuteScript(ctx, collector.ScrollScript, &scrolled); err != nil || !scrolled {
		t.Fatalf("scroll: %v %v", scrolled, err)
	}

	var first, second float64
	if err := s.ExecuteScript(ctx, collector.ExtentScript, &first); err != nil {
		t.Fatalf("extent: %v", err)
	}
	if err := s.ExecuteScript(ctx, collector.ExtentScript, &second); err != nil {
		t.Fatalf("extent: %v", err)
	}
	if first == 0 || first != second {
		t.Fatalf("expected equal non-zero extents, got %v and %v", first, second)
	}

	var out string
	if err := s.ExecuteScript(ctx, "alert(1)", &out); !errors.Is(err, ErrUnsupportedScript) {
		t.Fatalf("expected ErrUnsupportedScript, got %v", err)
	}
}

func TestSurfaceCachesPages(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	s := NewSurface(NewSurfaceParams{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Navigate(ctx, srv.URL+"/search"); err != nil {
			t.Fatalf("Navigate: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
}

func TestSurfaceErrors(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	s := NewSurface(NewSurfaceParams{})
	ctx := context.Background()

	if _, err := s.FindVisibleItems(ctx, ".postArticle"); err == nil {
		t.Fatalf("expected error before navigation")
	}
	if err := s.Navigate(ctx, srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if _, err := s.FindVisibleItems(cancelled, ".postArticle"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSurfaceRunsController(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	s := NewSurface(NewSurfaceParams{})

	ctrl, err := collector.NewController(collector.NewControllerParams{
		Surface:     s,
		Assembler:   newAssembler(t),
		SearchURL:   srv.URL + "/search?q=%s",
		SettleDelay: -1,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	report, err := ctrl.Run(context.Background(), []string{"graphs"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Terms) != 1 || report.Terms[0].State != collector.Stable.String() || report.Terms[0].Steps != 2 {
		t.Fatalf("unexpected report %+v", report.Terms)
	}
}
