package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SilenceZen/langgraph/domain"
)

// StreamRunEvents streams events for a run via SSE until the run reaches a
// terminal state. Clients that want to watch a run in progress use this
// instead of polling GET /v1/runs/:run_id/events.
// GET /v1/runs/:run_id/events/stream
func (h *Handler) StreamRunEvents(c echo.Context) error {
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

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	// Cursor on seq, not ts: back-to-back events land in the same
	// millisecond and a ts cursor would drop all but the first of them.
	lastSeq := int64(0)
	pollInterval := 100 * time.Millisecond
	maxDuration := 5 * time.Minute

	deadline := time.Now().Add(maxDuration)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil

		case <-ticker.C:
			if time.Now().After(deadline) {
				log.Printf("INFO: event stream for run %s exceeded max duration", runID)
				return nil
			}

			events, err := h.store.GetEvents(ctx, runID, 0, lastSeq, nil, 100)
			if err != nil {
				log.Printf("ERROR: failed to get events: %v", err)
				continue
			}

			for _, event := range events {
				if err := h.sendSSEEvent(c, event); err != nil {
					log.Printf("ERROR: failed to send SSE event: %v", err)
					return err
				}
				lastSeq = event.Seq
			}

			currentRun, err := h.store.GetRun(ctx, runID)
			if err != nil {
				log.Printf("ERROR: failed to get run status: %v", err)
				continue
			}

			if domain.IsTerminalRunStatus(currentRun.Status) {
				log.Printf("INFO: run %s reached terminal state: %s", runID, currentRun.Status)
				return nil
			}
		}
	}
}

// sendSSEEvent sends a single event in SSE format.
func (h *Handler) sendSSEEvent(c echo.Context, event domain.Event) error {
	data, err := json.Marshal(map[string]interface{}{
		"event_id": event.EventID,
		"run_id":   event.RunID,
		"ts":       event.Ts,
		"seq":      event.Seq,
		"type":     event.Type,
		"payload":  json.RawMessage(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}
