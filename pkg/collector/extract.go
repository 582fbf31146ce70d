package collector

import (
	"errors"
	"fmt"

	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/logger"
)

// Selectors locate a content item and its fields. Field selectors are
// relative to the item.
type Selectors struct {
	Item       string
	Author     string
	Date       string
	Title      string
	Engagement string
}

// DefaultSelectors match the search result markup of the crawled blog site.
var DefaultSelectors = Selectors{
	Item:       ".postArticle",
	Author:     ".ds-link",
	Date:       "time",
	Title:      "h3",
	Engagement: ".multirecommend",
}

// Extractor reads records from visible content items.
type Extractor struct {
	selectors Selectors
}

// NewExtractor creates an Extractor. Empty selectors fall back to
// DefaultSelectors.
func NewExtractor(selectors Selectors) *Extractor {
	s := selectors
	if s.Item == "" {
		s.Item = DefaultSelectors.Item
	}
	if s.Author == "" {
		s.Author = DefaultSelectors.Author
	}
	if s.Date == "" {
		s.Date = DefaultSelectors.Date
	}
	if s.Title == "" {
		s.Title = DefaultSelectors.Title
	}
	if s.Engagement == "" {
		s.Engagement = DefaultSelectors.Engagement
	}
	return &Extractor{selectors: s}
}

// ItemSelector returns the selector of a content item.
func (x *Extractor) ItemSelector() string {
	return x.selectors.Item
}

// Extract reads one record per item in page order. Items missing the author
// link, date or title are skipped and counted; the engagement count is
// optional.
func (x *Extractor) Extract(items []Element) ([]common.Record, int) {
	records := make([]common.Record, 0, len(items))
	skipped := 0

	for idx, item := range items {
		rec, err := x.extractOne(item)
		if err != nil {
			logger.Warn("[Crawl] Skipping item", "index", idx, "err", err)
			skipped++
			continue
		}
		records = append(records, rec)
	}

	return records, skipped
}

func (x *Extractor) extractOne(item Element) (common.Record, error) {
	authorEl, err := item.Find(x.selectors.Author)
	if err != nil {
		return common.Record{}, fmt.Errorf("author: %w", err)
	}
	link, ok := authorEl.Attribute("href")
	if !ok || link == "" {
		return common.Record{}, fmt.Errorf("author link: %w", ErrNoSuchElement)
	}
	dateEl, err := item.Find(x.selectors.Date)
	if err != nil {
		return common.Record{}, fmt.Errorf("date: %w", err)
	}
	titleEl, err := item.Find(x.selectors.Title)
	if err != nil {
		return common.Record{}, fmt.Errorf("title: %w", err)
	}

	count := ""
	countEl, err := item.Find(x.selectors.Engagement)
	switch {
	case err == nil:
		count = countEl.Text()
	case !errors.Is(err, ErrNoSuchElement):
		return common.Record{}, fmt.Errorf("engagement: %w", err)
	}

	return common.Record{
		Author:          authorEl.Text(),
		AuthorLink:      link,
		PublishDate:     dateEl.Text(),
		Title:           titleEl.Text(),
		EngagementCount: count,
	}, nil
}
