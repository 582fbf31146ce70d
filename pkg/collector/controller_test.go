package collector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphcrawl/backend/pkg/graph"
	"github.com/graphcrawl/backend/pkg/metrics"
)

// fakeSurface serves a fixed result page per search and grows the page by
// one item per scroll until all items are visible.
type fakeSurface struct {
	pages    map[string][]string
	broken   map[string]bool
	visited  []string
	current  []string
	visible  int
	onScroll func()
}

func (s *fakeSurface) Navigate(_ context.Context, url string) error {
	s.visited = append(s.visited, url)
	for term := range s.broken {
		if strings.Contains(url, term) {
			return errors.New("net::ERR_CONNECTION_REFUSED")
		}
	}
	s.current = nil
	for term, items := range s.pages {
		if strings.HasSuffix(url, "q="+term) {
			s.current = items
		}
	}
	s.visible = 0
	return nil
}

func (s *fakeSurface) ExecuteScript(_ context.Context, script string, res any) error {
	switch v := res.(type) {
	case *bool:
		if s.onScroll != nil {
			s.onScroll()
		}
		s.visible = min(s.visible+1, len(s.current))
		*v = true
	case *float64:
		*v = float64(100 * s.visible)
	}
	return nil
}

func (s *fakeSurface) FindVisibleItems(context.Context, string) ([]Element, error) {
	return NewHTMLElements(s.current[:s.visible]), nil
}

func newTestController(t *testing.T, surface Surface, maxRecords int) (*Controller, *graph.Assembler) {
	t.Helper()
	a, err := graph.NewAssembler(graph.NewAssemblerParams{Session: graph.NewSession()})
	if err != nil {
		t.Fatalf("failed to create assembler: %v", err)
	}
	c, err := NewController(NewControllerParams{
		Surface:     surface,
		Assembler:   a,
		Metrics:     metrics.NewRegistry(),
		SearchURL:   "https://blog.test/search?q=%s",
		MaxRecords:  maxRecords,
		SettleDelay: -1,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c, a
}

func TestSearchTerms(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		want  []string
	}{
		{name: "none", terms: nil, want: []string{DefaultSearchTerm}},
		{name: "blank only", terms: []string{" ", ""}, want: []string{DefaultSearchTerm}},
		{name: "single", terms: []string{"graphs"}, want: []string{"graphs"}},
		{name: "combined first", terms: []string{"d3", " network  graphs "}, want: []string{"d3 network graphs", "d3", "network graphs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SearchTerms(tt.terms)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSearchURL(t *testing.T) {
	c, _ := newTestController(t, &fakeSurface{}, 10)
	if got := c.SearchURL("network graphs & d3"); got != "https://blog.test/search?q=network%20graphs%20%26%20d3" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestNewController_RejectsBadSearchURL(t *testing.T) {
	a, _ := graph.NewAssembler(graph.NewAssemblerParams{Session: graph.NewSession()})
	_, err := NewController(NewControllerParams{Surface: &fakeSurface{}, Assembler: a, SearchURL: "https://blog.test/search"})
	if err == nil {
		t.Fatal("expected error for search url without placeholder")
	}
}

func TestRun_CrawlsTermsAndBuildsGraph(t *testing.T) {
	surface := &fakeSurface{pages: map[string][]string{
		"d3%20graphs": {post("Ann", "https://x/@ann", "Jan 1", "Joint Post", "3")},
		"d3":          {post("Ann", "https://x/@ann", "Jan 1", "Joint Post", "3"), post("Bob", "https://x/@bob", "Jan 2", "D3 Tricks", "")},
		"graphs":      {post("Cid", "https://x/@cid", "Jan 3", "", "1")},
	}}
	c, a := newTestController(t, surface, 100)

	report, err := c.Run(context.Background(), []string{"d3", "graphs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Terms) != 3 || report.Terms[0].Term != "d3 graphs" {
		t.Fatalf("expected the combined term first, got %+v", report.Terms)
	}
	if !strings.HasSuffix(surface.visited[0], "q=d3%20graphs") {
		t.Fatalf("expected combined search first, visited %v", surface.visited)
	}
	for _, tr := range report.Terms {
		if tr.State != Stable.String() {
			t.Fatalf("expected term %q to end stable, got %s", tr.Term, tr.State)
		}
	}
	if report.Terms[2].Skipped != 1 {
		t.Fatalf("expected the item without title to be skipped, got %+v", report.Terms[2])
	}

	g := a.Session().Snapshot()
	// site, 3 terms, 2 authors, 2 articles
	if len(g.Nodes) != 8 {
		t.Fatalf("expected 8 nodes, got %d", len(g.Nodes))
	}
	if v := graph.Validate(g); len(v) != 0 {
		t.Fatalf("expected a valid graph, got %v", v)
	}
}

func TestRun_FailingTermDoesNotStopRun(t *testing.T) {
	surface := &fakeSurface{
		pages:  map[string][]string{"graphs": {post("Ann", "https://x/@ann", "Jan 1", "Graphs", "")}},
		broken: map[string]bool{"q=broken": true},
	}
	c, _ := newTestController(t, surface, 100)

	report, err := c.Run(context.Background(), []string{"broken", "graphs"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if len(report.Terms) != 3 {
		t.Fatalf("expected 3 term reports, got %d", len(report.Terms))
	}
	if report.Terms[1].Err == nil || report.Terms[1].Error == "" {
		t.Fatalf("expected the broken term to report an error, got %+v", report.Terms[1])
	}
	if report.Terms[2].Err != nil || report.Terms[2].Assembled.Linked != 1 {
		t.Fatalf("expected the last term to succeed, got %+v", report.Terms[2])
	}
}

func TestRun_CapStopsScrolling(t *testing.T) {
	items := make([]string, 10)
	for i := range items {
		items[i] = post("Ann", "https://x/@ann", "Jan 1", "Post "+string(rune('A'+i)), "")
	}
	surface := &fakeSurface{pages: map[string][]string{"graphs": items}}
	c, _ := newTestController(t, surface, 3)

	report, err := c.Run(context.Background(), []string{"graphs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := report.Terms[0]
	if tr.State != Capped.String() || tr.Steps != 4 || tr.Items != 4 {
		t.Fatalf("expected capped after 4 steps with 4 items, got %+v", tr)
	}
}

func TestRun_CancelledBetweenScrolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []string{
		post("Ann", "https://x/@ann", "Jan 1", "One", ""),
		post("Bob", "https://x/@bob", "Jan 2", "Two", ""),
		post("Cid", "https://x/@cid", "Jan 3", "Three", ""),
	}
	scrolls := 0
	surface := &fakeSurface{
		pages: map[string][]string{"graphs": items},
		onScroll: func() {
			scrolls++
			if scrolls == 2 {
				cancel()
			}
		},
	}
	c, a := newTestController(t, surface, 100)

	report, err := c.Run(ctx, []string{"graphs", "d3"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Cancelled {
		t.Fatal("expected report to be marked cancelled")
	}
	if len(surface.visited) != 1 {
		t.Fatalf("expected no further terms after cancellation, visited %v", surface.visited)
	}
	if v := graph.Validate(a.Session().Snapshot()); len(v) != 0 {
		t.Fatalf("expected partial graph to stay valid, got %v", v)
	}
}
