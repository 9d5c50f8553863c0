// handlers_history.go - Run history query endpoints
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/wafer-pendant/backend/internal/history"
)

// HandleListRuns returns recorded runs, newest first. The limit query
// parameter caps the result; the store default applies when absent.
func (h *Handler) HandleListRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := h.history.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to list runs", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetRun returns one recorded run by ID.
func (h *Handler) HandleGetRun(c echo.Context) error {
	id := c.Param("runId")

	run, err := h.history.GetRun(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return NewNotFoundError("run", id)
		}
		return NewInternalError("failed to load run", err)
	}

	return c.JSON(http.StatusOK, run)
}

// HandleGetRunSteps returns the per-step results of a recorded run in
// execution order.
func (h *Handler) HandleGetRunSteps(c echo.Context) error {
	id := c.Param("runId")
	ctx := c.Request().Context()

	if _, err := h.history.GetRun(ctx, id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return NewNotFoundError("run", id)
		}
		return NewInternalError("failed to load run", err)
	}

	steps, err := h.history.ListStepResults(ctx, id)
	if err != nil {
		return NewInternalError("failed to load step results", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runId": id,
		"steps": steps,
		"total": len(steps),
	})
}

// HandleGetRunStepsMsgpack returns step results in MessagePack format.
// MessagePack is 30-50% smaller than JSON, which matters for long
// lot runs replayed on the pendant UI.
func (h *Handler) HandleGetRunStepsMsgpack(c echo.Context) error {
	id := c.Param("runId")
	ctx := c.Request().Context()

	if _, err := h.history.GetRun(ctx, id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return NewNotFoundError("run", id)
		}
		return NewInternalError("failed to load run", err)
	}

	steps, err := h.history.ListStepResults(ctx, id)
	if err != nil {
		return NewInternalError("failed to load step results", err)
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"runId": id,
		"steps": steps,
		"total": len(steps),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleHistoryStats returns aggregate counters over all recorded
// runs.
func (h *Handler) HandleHistoryStats(c echo.Context) error {
	stats, err := h.history.Stats(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to compute stats", err)
	}

	return c.JSON(http.StatusOK, stats)
}
