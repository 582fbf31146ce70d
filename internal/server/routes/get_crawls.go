package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/store"
)

// GetCrawlHandler returns the status of a crawl run and, once it finished,
// its graph. With download=true a presigned link to the snapshot is returned
// instead of the graph.
func GetCrawlHandler(c echo.Context) error {
	type getCrawlParams struct {
		ID       string `param:"id" validate:"required,max=64"`
		Download bool   `query:"download"`
	}

	type getCrawlResponse struct {
		Run          *store.Run    `json:"run,omitempty"`
		Graph        *common.Graph `json:"graph,omitempty"`
		DownloadLink string        `json:"download_link,omitempty"`
	}

	params := new(getCrawlParams)
	if err := c.Bind(params); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request params", nil)
	}
	if err := c.Validate(params); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request params", nil)
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	res := getCrawlResponse{}

	if app.Runs != nil {
		run, err := app.Runs.GetRun(ctx, params.ID)
		if errors.Is(err, store.ErrNotFound) {
			return respond(c, http.StatusNotFound, "Crawl not found", nil)
		}
		if err != nil {
			logger.Error("[Server] Failed to get run", "correlation_id", params.ID, "err", err)
			return respond(c, http.StatusInternalServerError, "Internal server error", nil)
		}
		res.Run = &run
		if run.Status != store.RunDone && run.Status != store.RunFailed {
			return respond(c, http.StatusOK, "Crawl "+string(run.Status), res)
		}
	}

	if app.Snapshots == nil {
		if res.Run == nil {
			return respond(c, http.StatusServiceUnavailable, "Crawl results are not available", nil)
		}
		return respond(c, http.StatusOK, "Crawl "+string(res.Run.Status), res)
	}

	if params.Download {
		link, err := app.Snapshots.DownloadLink(ctx, params.ID, app.PublicEndpoint)
		if err != nil {
			logger.Error("[Server] Failed to create download link", "correlation_id", params.ID, "err", err)
			return respond(c, http.StatusInternalServerError, "Internal server error", nil)
		}
		res.DownloadLink = link
		return respond(c, http.StatusOK, "Crawl snapshot link created", res)
	}

	snap, err := app.Snapshots.GetSnapshot(ctx, params.ID)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		if res.Run != nil {
			return respond(c, http.StatusOK, "Crawl "+string(res.Run.Status)+" without snapshot", res)
		}
		return respond(c, http.StatusNotFound, "Crawl not found", nil)
	}
	if err != nil {
		logger.Error("[Server] Failed to get snapshot", "correlation_id", params.ID, "err", err)
		return respond(c, http.StatusInternalServerError, "Internal server error", nil)
	}
	res.Graph = &snap.Graph

	return respond(c, http.StatusOK, "Crawl finished", res)
}
