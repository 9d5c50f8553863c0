package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/history"
	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
	"github.com/wafer-pendant/backend/internal/teach"
)

// Handler handles API requests.
type Handler struct {
	engine  *engine.Engine
	history *history.Store
	robot   *robot.Simulator
	safety  *safety.LimitChecker
	teach   *teach.Store
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		engine:  deps.Engine,
		history: deps.History,
		robot:   deps.Robot,
		safety:  deps.Safety,
		teach:   deps.Teach,
		version: deps.Version,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"engineState":    h.engine.State(),
		"robotConnected": h.robot.IsConnected(),
	})
}

// HandleRobotStatus returns the live controller snapshot: pose, speed,
// vacuum and gripper state.
func (h *Handler) HandleRobotStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.robot.Status())
}

// HandleTeachPoints returns every taught position keyed by group then
// point name.
func (h *Handler) HandleTeachPoints(c echo.Context) error {
	groups, err := h.teach.All()
	if err != nil {
		return NewInternalError("failed to load teaching data", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"groups": groups,
	})
}

// HandleSafetyStatus returns the interlock evaluation: overall safe
// flag, configured limits, plant inputs and any active violations.
func (h *Handler) HandleSafetyStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.safety.Report())
}

// HandleOptimizePath reorders a set of waypoints into a
// nearest-neighbor route and reports the travel distance before and
// after. Authoring aid for recipe editors; it never moves the robot.
func (h *Handler) HandleOptimizePath(c echo.Context) error {
	var req struct {
		Positions []models.Position `json:"positions"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if len(req.Positions) == 0 {
		return NewValidationError("positions")
	}

	route := engine.OptimizePath(req.Positions)
	origin := models.Position{}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"route":             route,
		"count":             len(route),
		"originalDistance":  engine.PathLength(origin, req.Positions),
		"optimizedDistance": engine.PathLength(origin, route),
	})
}
