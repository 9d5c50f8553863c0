package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/history"
	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
	"github.com/wafer-pendant/backend/internal/teach"
)

// newTestAPI wires real collaborators behind the handlers: a connected
// simulator running at 1000x, default safety rules, starter teaching
// data and a throwaway history database.
func newTestAPI(t *testing.T) (*echo.Echo, *Handlers, *robot.Simulator) {
	t.Helper()

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler

	sim := robot.NewSimulator()
	sim.Connect()
	sim.SetTimeScale(1000)

	checker, err := safety.NewLimitChecker(safety.DefaultRules())
	if err != nil {
		t.Fatalf("NewLimitChecker: %v", err)
	}

	teachPath := filepath.Join(t.TempDir(), "teaching_data.xml")
	if err := teach.EnsureDefault(teachPath); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	teachStore := teach.NewStore(teachPath)

	eng := engine.New(sim, checker, sim, teachStore)

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handlers := NewHandlers(&Dependencies{
		Engine:  eng,
		History: store,
		Robot:   sim,
		Safety:  checker,
		Teach:   teachStore,
		Version: "test",
	})
	RegisterRoutes(e, handlers)

	return e, handlers, sim
}

// quickParams returns recipe parameters tuned so runs finish in
// milliseconds against the accelerated simulator.
func quickParams() models.Parameters {
	return models.Parameters{
		DefaultSpeed:              100,
		PickSpeed:                 100,
		PlaceSpeed:                100,
		HomeSpeed:                 100,
		SafeHeight:                80.0,
		PickHeight:                5.0,
		PlaceHeight:               5.0,
		PickDelayMs:               1,
		PlaceDelayMs:              1,
		RetryCount:                0,
		RetryDelayMs:              1,
		PauseOnError:              false,
		CheckSafetyBeforeEachStep: false,
		UseVacuum:                 false,
	}
}

// waitForTerminal polls the engine until the run reaches an end state.
func waitForTerminal(t *testing.T, eng *engine.Engine) models.RunInfo {
	t.Helper()
	for i := 0; i < 200; i++ {
		snap := eng.Snapshot()
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run did not finish, status %s", eng.State())
	return models.RunInfo{}
}

func TestHealthEndpoint(t *testing.T) {
	e, h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"version":"test"`)
		assert.Contains(t, rec.Body.String(), `"robotConnected":true`)
	}
}

func TestRobotStatusEndpoint(t *testing.T) {
	e, h, sim := newTestAPI(t)
	sim.SetSpeed(75)

	req := httptest.NewRequest(http.MethodGet, "/api/robot/status", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleRobotStatus(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"connected":true`)
		assert.Contains(t, rec.Body.String(), `"speedPercent":75`)
	}
}

func TestTeachPointsEndpoint(t *testing.T) {
	e, h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/teach/points", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleTeachPoints(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"LoadPortA"`)
		assert.Contains(t, rec.Body.String(), `"Slot1"`)
		assert.Contains(t, rec.Body.String(), `"Aligner"`)
	}
}

func TestSafetyStatusEndpoint(t *testing.T) {
	e, h, _ := newTestAPI(t)

	// 1. Healthy plant reports safe
	req := httptest.NewRequest(http.MethodGet, "/api/safety/status", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleSafetyStatus(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"safe":true`)
	}

	// 2. Open door trips the interlock
	h.API.safety.SetDoorClosed(false)

	req = httptest.NewRequest(http.MethodGet, "/api/safety/status", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleSafetyStatus(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"safe":false`)
		assert.Contains(t, rec.Body.String(), "front door is open")
	}
}

func TestOptimizePathEndpoint(t *testing.T) {
	e, h, _ := newTestAPI(t)

	// Two waypoints given far-first; the optimizer should flip them.
	body := strings.NewReader(`{"positions":[
		{"r":250,"theta":90,"z":10},
		{"r":50,"theta":0,"z":10}
	]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/paths/optimize", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.API.HandleOptimizePath(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Route             []models.Position `json:"route"`
			Count             int               `json:"count"`
			OriginalDistance  float64           `json:"originalDistance"`
			OptimizedDistance float64           `json:"optimizedDistance"`
		}
		if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)) {
			assert.Equal(t, 2, resp.Count)
			assert.Equal(t, 50.0, resp.Route[0].R)
			assert.Equal(t, 250.0, resp.Route[1].R)
			assert.Less(t, resp.OptimizedDistance, resp.OriginalDistance)
		}
	}
}

func TestOptimizePathValidation(t *testing.T) {
	e, h, _ := newTestAPI(t)

	// 1. Empty waypoint list
	req := httptest.NewRequest(http.MethodPost, "/api/paths/optimize", strings.NewReader(`{"positions":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.API.HandleOptimizePath(c)
	if assert.Error(t, err) {
		apiErr, ok := err.(*APIError)
		if assert.True(t, ok) {
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
			assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
		}
	}

	// 2. Malformed JSON
	req = httptest.NewRequest(http.MethodPost, "/api/paths/optimize", strings.NewReader(`{"positions":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = h.API.HandleOptimizePath(c)
	if assert.Error(t, err) {
		apiErr, ok := err.(*APIError)
		if assert.True(t, ok) {
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		}
	}
}

func TestErrorHandlerResponses(t *testing.T) {
	e, _, _ := newTestAPI(t)

	// Routed through the full stack so ErrorHandler shapes the body.
	req := httptest.NewRequest(http.MethodGet, "/api/history/runs/no-such-run", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
	assert.Contains(t, rec.Body.String(), "no-such-run")
}
