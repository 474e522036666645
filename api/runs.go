package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/SilenceZen/langgraph/domain"
)

// StartResearchRequest is the body of POST /v1/research.
type StartResearchRequest struct {
	Question string `json:"question"`
}

// StartResearch starts a research run for a question.
// POST /v1/research
func (h *Handler) StartResearch(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartResearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Question) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
	}

	runID, err := h.runner.Start(ctx, req.Question)
	if err != nil {
		log.Printf("ERROR: failed to start run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}

	log.Printf("INFO: run %s started for question %q", runID, req.Question)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"status": domain.RunStatusCreated,
	})
}

// GetRun returns a run with its result or error payload.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	return c.JSON(http.StatusOK, run)
}

// ListRuns returns the most recent runs.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}

	runs, err := h.store.ListRuns(ctx, limit)
	if err != nil {
		log.Printf("ERROR: failed to list runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRunMessages returns the conversation trace for a run.
// GET /v1/runs/:run_id/messages
func (h *Handler) GetRunMessages(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	messages, err := h.store.GetMessages(ctx, runID, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get messages"})
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": hasMore,
	})
}

// GetRunEvents returns events for a run.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	// after_seq is the lossless cursor (echoed back as next_cursor);
	// after_ts filters whole milliseconds and can skip same-millisecond
	// siblings, so incremental pollers should page on after_seq.
	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)
	afterSeq, _ := strconv.ParseInt(c.QueryParam("after_seq"), 10, 64)
	typesStr := c.QueryParam("types")
	var types []string
	if typesStr != "" {
		types = strings.Split(typesStr, ",")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	events, err := h.store.GetEvents(ctx, runID, afterTs, afterSeq, types, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get events: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get events"})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = strconv.FormatInt(events[len(events)-1].Seq, 10)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":      events,
		"has_more":    hasMore,
		"next_cursor": nextCursor,
	})
}
