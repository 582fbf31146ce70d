package routes

import (
	"github.com/labstack/echo/v4"
)

// apiResponse is the envelope of every API answer. Response repeats the HTTP
// status code.
type apiResponse struct {
	Response int      `json:"response"`
	Message  string   `json:"message"`
	Data     any      `json:"data,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, apiResponse{
		Response: status,
		Message:  message,
		Data:     data,
	})
}
