package routes

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/pkg/graph"
	"github.com/graphcrawl/backend/pkg/logger"
)

// GetNeighborsHandler returns the one step neighborhood of a vertex as a
// visualization graph. Edges whose endpoints are missing from the result are
// kept and reported in warnings.
func GetNeighborsHandler(c echo.Context) error {
	type neighborsBody struct {
		NodeKey string `json:"nodekey" form:"nodekey" validate:"required,max=512"`
	}

	data := new(neighborsBody)
	if err := c.Bind(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if err := c.Validate(data); err != nil {
		return respond(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	rows, err := app.Graphs.Neighbors(ctx, data.NodeKey)
	if err != nil {
		logger.Error("[Server] Neighbor query failed", "node", data.NodeKey, "err", err)
		return respond(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	res := graph.Transform(rows)
	if app.Metrics != nil {
		app.Metrics.RecordTransform(len(rows), len(res.Violations))
	}

	warnings := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		warnings = append(warnings, v.String())
	}

	return c.JSON(http.StatusOK, apiResponse{
		Response: http.StatusOK,
		Message:  fmt.Sprintf("%d neighbors found for %s", len(res.Graph.Nodes), data.NodeKey),
		Data:     res.Graph,
		Warnings: warnings,
	})
}
