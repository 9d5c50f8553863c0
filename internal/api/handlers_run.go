// handlers_run.go - Recipe execution and run control endpoints
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/wafer-pendant/backend/internal/models"
)

// progressStreamInterval is the SSE snapshot cadence.
const progressStreamInterval = 250 * time.Millisecond

// HandleExecuteRecipe validates the posted recipe and starts a run.
// Responds 202 with the initial run snapshot on acceptance; the run
// itself completes asynchronously and is reported through events.
func (h *Handler) HandleExecuteRecipe(c echo.Context) error {
	var recipe models.Recipe
	if err := c.Bind(&recipe); err != nil {
		return NewBadRequestError("invalid recipe JSON", err)
	}
	if err := recipe.Validate(); err != nil {
		return NewBadRequestError("recipe validation failed", err)
	}
	if !h.robot.IsConnected() {
		return NewConflictError("robot is not connected")
	}

	// Execute re-checks atomically; false here means we lost a race
	// with another run.
	if !h.engine.Execute(&recipe) {
		return NewConflictError("a recipe is already running")
	}

	return c.JSON(http.StatusAccepted, h.engine.Snapshot())
}

// HandlePauseRun requests suspension at the next step boundary. The
// returned snapshot may still show running until the in-flight step's
// routine finishes.
func (h *Handler) HandlePauseRun(c echo.Context) error {
	h.engine.Pause()
	return c.JSON(http.StatusOK, h.engine.Snapshot())
}

// HandleResumeRun continues a paused run, or withdraws a pause request
// that has not taken effect yet.
func (h *Handler) HandleResumeRun(c echo.Context) error {
	h.engine.Resume()
	return c.JSON(http.StatusOK, h.engine.Snapshot())
}

// HandleStopRun cancels the active run. The engine halts the robot and
// finishes the run as cancelled before this returns, so the snapshot
// reflects the end state.
func (h *Handler) HandleStopRun(c echo.Context) error {
	h.engine.Stop()
	return c.JSON(http.StatusOK, h.engine.Snapshot())
}

// HandleRestartRun stops the current run, if any, and re-executes the
// loaded recipe from the requested step index.
func (h *Handler) HandleRestartRun(c echo.Context) error {
	var req struct {
		StepIndex *int `json:"stepIndex"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.StepIndex == nil {
		return NewValidationError("stepIndex")
	}

	recipe := h.engine.CurrentRecipe()
	if recipe == nil {
		return NewConflictError("no recipe loaded to restart")
	}
	if *req.StepIndex < 0 || *req.StepIndex >= len(recipe.Steps) {
		return NewBadRequestError(
			fmt.Sprintf("stepIndex %d out of range (recipe has %d steps)", *req.StepIndex, len(recipe.Steps)), nil)
	}
	if !h.robot.IsConnected() {
		return NewConflictError("robot is not connected")
	}

	if !h.engine.RestartFrom(*req.StepIndex) {
		return NewConflictError("engine rejected the restart")
	}

	return c.JSON(http.StatusAccepted, h.engine.Snapshot())
}

// HandleRunStatus returns the current run snapshot. Works in every
// state; an idle engine reports idle with zero progress.
func (h *Handler) HandleRunStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Snapshot())
}

// HandleRunProgressStream streams run snapshots via SSE until the run
// reaches an end state or the client disconnects. A client that
// connects while the engine is idle gets one snapshot and a done
// event.
func (h *Handler) HandleRunProgressStream(c echo.Context) error {
	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// Send initial snapshot
	snap := h.engine.Snapshot()
	h.sendSSEData(c, snap)
	if snap.Status.Terminal() || snap.Status == models.RunStatusIdle {
		h.sendSSEDone(c, snap)
		return nil
	}

	ticker := time.NewTicker(progressStreamInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()

	for {
		select {
		case <-ticker.C:
			snap = h.engine.Snapshot()
			h.sendSSEData(c, snap)

			// Stop streaming once the run has ended
			if snap.Status.Terminal() || snap.Status == models.RunStatusIdle {
				h.sendSSEDone(c, snap)
				return nil
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Handler) sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *Handler) sendSSEDone(c echo.Context, snap models.RunInfo) {
	h.sendSSEData(c, map[string]interface{}{
		"done":   true,
		"status": snap.Status,
	})
}
