// Package static implements collector.Surface for server rendered pages. It
// fetches documents over plain HTTP and runs no JavaScript, so a page never
// grows and every search settles after the second measurement.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/singleflight"

	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/logger"
)

var ErrUnsupportedScript = errors.New("script is not supported without a browser")

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

// Surface is a collector.Surface on net/http and goquery. Fetched pages are
// cached by URL and concurrent fetches of one URL share a request.
type Surface struct {
	client    *http.Client
	userAgent string

	mu   sync.RWMutex
	doc  *goquery.Document
	size int

	cacheMu sync.RWMutex
	cache   map[string][]byte
	group   singleflight.Group
}

type NewSurfaceParams struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
}

func NewSurface(params NewSurfaceParams) *Surface {
	client := params.Client
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Surface{
		client:    client,
		userAgent: params.UserAgent,
		cache:     make(map[string][]byte),
	}
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	body, err := s.fetch(ctx, url)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse html: %w", err)
	}

	s.mu.Lock()
	s.doc = doc
	s.size = len(body)
	s.mu.Unlock()
	return nil
}

func (s *Surface) fetch(ctx context.Context, url string) ([]byte, error) {
	s.cacheMu.RLock()
	if cached, ok := s.cache[url]; ok {
		s.cacheMu.RUnlock()
		return cached, nil
	}
	s.cacheMu.RUnlock()

	result, err, _ := s.group.Do(url, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}

		s.cacheMu.Lock()
		s.cache[url] = body
		s.cacheMu.Unlock()

		logger.Debug("[Static] Fetched page", "url", url, "bytes", len(body))
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// ExecuteScript understands the scroll and extent scripts of the collector.
// Scrolling is a no-op and the extent is the document size in bytes.
func (s *Surface) ExecuteScript(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return fmt.Errorf("no page loaded")
	}

	switch script {
	case collector.ScrollScript:
		if v, ok := res.(*bool); ok {
			*v = true
		}
		return nil
	case collector.ExtentScript:
		v, ok := res.(*float64)
		if !ok {
			return fmt.Errorf("extent must be decoded into *float64, got %T", res)
		}
		*v = float64(s.size)
		return nil
	}
	return ErrUnsupportedScript
}

func (s *Surface) FindVisibleItems(ctx context.Context, selector string) ([]collector.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}

	var items []collector.Element
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if el, err := collector.NewHTMLElementFromSelection(sel); err == nil {
			items = append(items, el)
		}
	})
	return items, nil
}

var _ collector.Surface = (*Surface)(nil)
