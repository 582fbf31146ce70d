package routes

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphcrawl/backend/internal/queue"
	"github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/pkg/logger"
)

const suggestionLimit = 50

// GetSuggestionsHandler searches stored vertices for a term and queues a
// crawl of the same term. The crawl runs in the background; a failure to
// queue it does not fail the search.
func GetSuggestionsHandler(c echo.Context) error {
	type suggestionsBody struct {
		SearchTerms string `json:"searchterms" form:"searchterms" validate:"required,max=256"`
	}

	data := new(suggestionsBody)
	if err := c.Bind(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if err := c.Validate(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	docs, err := app.Graphs.Search(ctx, data.SearchTerms, suggestionLimit)
	if err != nil {
		logger.Error("[Server] Suggestion search failed", "term", data.SearchTerms, "err", err)
		return respond(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	id, err := queue.EnqueueCrawl(ctx, app.Queue, app.Runs, []string{data.SearchTerms}, app.MaxRecords, "Crawl from suggestions")
	if err != nil {
		logger.Warn("[Server] Failed to queue crawl for suggestions", "term", data.SearchTerms, "err", err)
	} else {
		logger.Debug("[Server] Crawl queued", "term", data.SearchTerms, "correlation_id", id)
	}

	return respond(
		c,
		http.StatusOK,
		fmt.Sprintf("Search for %s resulted in %d items", data.SearchTerms, len(docs)),
		docs,
	)
}
