// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/history"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
	"github.com/wafer-pendant/backend/internal/teach"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Engine  *engine.Engine
	History *history.Store
	Robot   *robot.Simulator
	Safety  *safety.LimitChecker
	Teach   *teach.Store
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	API    *Handler
	Events *EventHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		API:    NewHandler(deps),
		Events: NewEventHandler(deps.Engine),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	h := handlers.API

	// Health check and metrics
	e.GET("/api/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Recipe execution
	e.POST("/api/recipes/execute", h.HandleExecuteRecipe)

	// Run control and observation
	runGroup := e.Group("/api/run")
	runGroup.POST("/pause", h.HandlePauseRun)
	runGroup.POST("/resume", h.HandleResumeRun)
	runGroup.POST("/stop", h.HandleStopRun)
	runGroup.POST("/restart", h.HandleRestartRun)
	runGroup.GET("/status", h.HandleRunStatus)
	runGroup.GET("/progress", h.HandleRunProgressStream)

	// Run history
	historyGroup := e.Group("/api/history")
	historyGroup.GET("/runs", h.HandleListRuns)
	historyGroup.GET("/runs/:runId", h.HandleGetRun)
	historyGroup.GET("/runs/:runId/steps", h.HandleGetRunSteps)
	historyGroup.GET("/runs/:runId/steps/msgpack", h.HandleGetRunStepsMsgpack)
	historyGroup.GET("/stats", h.HandleHistoryStats)

	// Recipe authoring aids
	e.POST("/api/paths/optimize", h.HandleOptimizePath)

	// Plant state
	e.GET("/api/robot/status", h.HandleRobotStatus)
	e.GET("/api/teach/points", h.HandleTeachPoints)
	e.GET("/api/safety/status", h.HandleSafetyStatus)

	// WebSocket event stream
	e.GET("/api/ws/events", handlers.Events.HandleEvents)
}

// SetupMiddleware configures the middleware every deployment needs.
// Config-dependent middleware (logging, timeouts, CORS) is applied by
// the server entry point.
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))
}
