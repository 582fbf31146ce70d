package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/logger"
)

const (
	defaultSiteName          = "medium.com"
	defaultSiteDescription   = "Site with blogs"
	searchTermDescription    = "Search term used to search blogs"
	articleDescriptionFormat = "%s by %s"
)

// Assembler turns extracted records into nodes and edges of a crawl session.
// The session may be shared by several search terms of one run; it must not
// be shared by concurrent runs.
//
// An Assembler should be created using NewAssembler.
type Assembler struct {
	session         *Session
	siteID          string
	siteDescription string
}

// NewAssemblerParams defines the configuration for creating an Assembler.
//
// Session is the accumulating build session and is required.
// SiteName is the display name of the crawled site, its identifier becomes
// the id of the site node every article points to.
type NewAssemblerParams struct {
	Session         *Session
	SiteName        string
	SiteDescription string
}

// AssembleStats reports what one Assemble call did with its batch.
type AssembleStats struct {
	Records  int `json:"records"`
	Linked   int `json:"linked"`
	Skipped  int `json:"skipped"`
	Articles int `json:"articles"`
	Authors  int `json:"authors"`
}

// stagedRecord holds the nodes derived from one record before anything is
// written to the session.
type stagedRecord struct {
	author  common.Node
	article common.Node
}

// NewAssembler creates an Assembler writing into params.Session.
func NewAssembler(params NewAssemblerParams) (*Assembler, error) {
	if params.Session == nil {
		return nil, fmt.Errorf("assembler requires a session")
	}
	siteName := params.SiteName
	if siteName == "" {
		siteName = defaultSiteName
	}
	siteID, err := identifyRequired(siteName)
	if err != nil {
		return nil, fmt.Errorf("invalid site name %q: %w", siteName, err)
	}
	desc := params.SiteDescription
	if desc == "" {
		desc = defaultSiteDescription
	}

	return &Assembler{
		session:         params.Session,
		siteID:          siteID,
		siteDescription: desc,
	}, nil
}

// Session returns the session the assembler writes into.
func (a *Assembler) Session() *Session {
	return a.session
}

// SiteID returns the identifier of the site node.
func (a *Assembler) SiteID() string {
	return a.siteID
}

// RegisterSearchTerm registers the node of a search term and returns its
// identifier. Registering the same term again is a no-op.
func (a *Assembler) RegisterSearchTerm(term string) (string, error) {
	id, err := identifyRequired(term)
	if err != nil {
		return "", fmt.Errorf("invalid search term %q: %w", term, err)
	}
	a.session.RegisterNode(common.Node{
		ID:          id,
		Kind:        common.NodeKindSearch,
		Description: searchTermDescription,
	})
	return id, nil
}

func (a *Assembler) ensureSite() {
	a.session.RegisterNode(common.Node{
		ID:          a.siteID,
		Kind:        common.NodeKindSite,
		Description: a.siteDescription,
	})
}

// Assemble adds the records found for term to the session. Records that
// cannot be turned into nodes are logged and skipped. Cancellation is only
// observed between records, so a record is either fully applied or not at
// all; the returned error is then the context error.
func (a *Assembler) Assemble(ctx context.Context, term string, records []common.Record) (AssembleStats, error) {
	stats := AssembleStats{Records: len(records)}

	a.ensureSite()
	termID, err := a.RegisterSearchTerm(term)
	if err != nil {
		return stats, err
	}

	for idx, rec := range records {
		if err := ctx.Err(); err != nil {
			logger.Warn("[Graph] Assembly interrupted", "term", termID, "done", idx, "total", len(records))
			return stats, err
		}

		staged, err := stageRecord(rec)
		if err != nil {
			logger.Warn("[Graph] Skipping record", "term", termID, "index", idx, "title", rec.Title, "err", err)
			stats.Skipped++
			continue
		}

		newAuthor, newArticle, err := a.commit(termID, staged)
		if err != nil {
			logger.Error("[Graph] Failed to link record", "term", termID, "index", idx, "err", err)
			stats.Skipped++
			continue
		}
		if newAuthor {
			stats.Authors++
		}
		if newArticle {
			stats.Articles++
		}
		stats.Linked++
	}

	logger.Debug("[Graph] Batch assembled", "term", termID, "records", stats.Records, "linked", stats.Linked, "skipped", stats.Skipped)

	return stats, nil
}

func stageRecord(rec common.Record) (stagedRecord, error) {
	authorName := strings.TrimSpace(rec.Author)
	title := strings.TrimSpace(rec.Title)

	authorID, err := identifyRequired(authorName)
	if err != nil {
		return stagedRecord{}, fmt.Errorf("author %q: %w", rec.Author, err)
	}
	articleID, err := identifyRequired(title)
	if err != nil {
		return stagedRecord{}, fmt.Errorf("title %q: %w", rec.Title, err)
	}

	authorAttrs := map[string]any{}
	articleAttrs := map[string]any{}
	if rec.AuthorLink != "" {
		authorAttrs[common.AttrLink] = rec.AuthorLink
		articleAttrs[common.AttrLink] = rec.AuthorLink
	}
	if rec.PublishDate != "" {
		articleAttrs[common.AttrDate] = rec.PublishDate
	}
	if rec.EngagementCount != "" {
		articleAttrs[common.AttrCount] = rec.EngagementCount
	}

	staged := stagedRecord{
		author: common.Node{
			ID:          authorID,
			Kind:        common.NodeKindAuthor,
			Description: authorName,
			Attributes:  authorAttrs,
		},
		article: common.Node{
			ID:          articleID,
			Kind:        common.NodeKindArticle,
			Description: fmt.Sprintf(articleDescriptionFormat, title, authorName),
			Attributes:  articleAttrs,
		},
	}

	if err := common.ValidateAttributes(staged.author.Kind, staged.author.Attributes); err != nil {
		return stagedRecord{}, err
	}
	if err := common.ValidateAttributes(staged.article.Kind, staged.article.Attributes); err != nil {
		return stagedRecord{}, err
	}

	return staged, nil
}

func (a *Assembler) commit(termID string, staged stagedRecord) (bool, bool, error) {
	_, newAuthor := a.session.RegisterNode(staged.author)
	_, newArticle := a.session.RegisterNode(staged.article)

	links := []common.Edge{
		{Source: staged.author.ID, Target: staged.article.ID, Label: common.LabelPosted},
		{Source: staged.article.ID, Target: a.siteID, Label: common.LabelPostedOn},
		{Source: termID, Target: staged.article.ID, Label: common.LabelFromSearch},
	}
	for _, l := range links {
		if _, err := a.session.Link(l.Source, l.Target, l.Label); err != nil {
			return newAuthor, newArticle, err
		}
	}
	return newAuthor, newArticle, nil
}
