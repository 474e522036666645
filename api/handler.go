// Package api provides HTTP handlers for the research service.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SilenceZen/langgraph/config"
	"github.com/SilenceZen/langgraph/store"
)

// Runner starts a research run and returns its ID.
type Runner interface {
	Start(ctx context.Context, question string) (string, error)
}

// Handler handles HTTP requests.
type Handler struct {
	store  store.Store
	runner Runner
	config *config.Config
}

// NewHandler creates a new handler.
func NewHandler(store store.Store, runner Runner, config *config.Config) *Handler {
	return &Handler{
		store:  store,
		runner: runner,
		config: config,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/research", h.StartResearch)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/messages", h.GetRunMessages)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/events/stream", h.StreamRunEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
