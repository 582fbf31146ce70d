package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphcrawl/backend/internal/queue"
	"github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/pkg/collector"
	"github.com/graphcrawl/backend/pkg/logger"
)

func CreateCrawlHandler(c echo.Context) error {
	type createCrawlBody struct {
		Terms      []string `json:"terms" validate:"required,min=1,max=10,dive,required,max=256"`
		MaxRecords int      `json:"max_records" validate:"omitempty,min=1,max=1000"`
	}

	type createCrawlResponse struct {
		CorrelationID string   `json:"correlation_id"`
		Terms         []string `json:"terms"`
	}

	data := new(createCrawlBody)
	if err := c.Bind(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if err := c.Validate(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	app := c.(*middleware.AppContext).App
	maxRecords := data.MaxRecords
	if maxRecords == 0 {
		maxRecords = app.MaxRecords
	}

	id, err := queue.EnqueueCrawl(c.Request().Context(), app.Queue, app.Runs, data.Terms, maxRecords, "Crawl requested")
	if err != nil {
		logger.Error("[Server] Failed to queue crawl", "terms", data.Terms, "err", err)
		return respond(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	return respond(c, http.StatusAccepted, "Crawl queued", createCrawlResponse{
		CorrelationID: id,
		Terms:         collector.SearchTerms(data.Terms),
	})
}
