package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/models"
)

func TestObserve(t *testing.T) {
	t.Run("counts finished runs by outcome", func(t *testing.T) {
		before := testutil.ToFloat64(RunsTotal.WithLabelValues("completed"))

		run := models.RunInfo{Status: models.RunStatusCompleted, Progress: 100}
		Observe(engine.Event{Type: engine.EventRecipeCompleted, Run: &run})

		after := testutil.ToFloat64(RunsTotal.WithLabelValues("completed"))
		if after != before+1 {
			t.Errorf("Expected completed counter to increment, got %v -> %v", before, after)
		}
		if got := testutil.ToFloat64(RunProgress); got != 100 {
			t.Errorf("Expected progress gauge 100, got %v", got)
		}
	})

	t.Run("ignores run events without a snapshot", func(t *testing.T) {
		before := testutil.ToFloat64(RunsTotal.WithLabelValues("error"))

		// Mid-run step failure: no snapshot, the run is still going
		Observe(engine.Event{Type: engine.EventRecipeError, ErrorCode: engine.ErrCodeStepFailure})

		after := testutil.ToFloat64(RunsTotal.WithLabelValues("error"))
		if after != before {
			t.Errorf("Expected error counter unchanged, got %v -> %v", before, after)
		}
	})

	t.Run("counts steps and retries", func(t *testing.T) {
		step := models.Step{Type: models.StepTypePick}
		stepsBefore := testutil.ToFloat64(StepsTotal.WithLabelValues("pick", "completed"))
		retriesBefore := testutil.ToFloat64(RetriesTotal)

		Observe(engine.Event{
			Type:       engine.EventStepCompleted,
			Step:       &step,
			Success:    true,
			Attempts:   3,
			DurationMs: 1500,
		})

		if got := testutil.ToFloat64(StepsTotal.WithLabelValues("pick", "completed")); got != stepsBefore+1 {
			t.Errorf("Expected pick counter to increment, got %v", got)
		}
		if got := testutil.ToFloat64(RetriesTotal); got != retriesBefore+2 {
			t.Errorf("Expected 2 retries added, got %v -> %v", retriesBefore, got)
		}
	})

	t.Run("tracks skipped steps separately", func(t *testing.T) {
		step := models.Step{Type: models.StepTypeMove}
		before := testutil.ToFloat64(StepsTotal.WithLabelValues("move", "skipped"))

		Observe(engine.Event{Type: engine.EventStepSkipped, Step: &step})

		if got := testutil.ToFloat64(StepsTotal.WithLabelValues("move", "skipped")); got != before+1 {
			t.Errorf("Expected skipped counter to increment, got %v", got)
		}
	})

	t.Run("toggles the active gauge on state changes", func(t *testing.T) {
		Observe(engine.Event{
			Type:     engine.EventStateChanged,
			OldState: models.RunStatusIdle,
			NewState: models.RunStatusRunning,
		})
		if got := testutil.ToFloat64(RunActive); got != 1 {
			t.Errorf("Expected active gauge 1, got %v", got)
		}

		Observe(engine.Event{
			Type:     engine.EventStateChanged,
			OldState: models.RunStatusRunning,
			NewState: models.RunStatusCompleted,
		})
		if got := testutil.ToFloat64(RunActive); got != 0 {
			t.Errorf("Expected active gauge 0, got %v", got)
		}
	})
}
