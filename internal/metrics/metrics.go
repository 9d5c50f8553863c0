// Package metrics exposes Prometheus instrumentation for recipe
// execution. Wire it with engine.Subscribe(metrics.Observe).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/models"
)

var (
	// RunsTotal counts finished runs by terminal outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pendant_runs_total",
		Help: "The total number of finished recipe runs",
	}, []string{"outcome"})

	// StepsTotal counts dispatched steps by type and outcome.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pendant_steps_total",
		Help: "The total number of recipe steps by outcome",
	}, []string{"type", "outcome"})

	// RetriesTotal counts extra step attempts beyond the first.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pendant_step_retries_total",
		Help: "The total number of step retry attempts",
	})

	// StepDuration tracks wall time per step, including retries.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pendant_step_duration_seconds",
		Help:    "Time spent executing each step",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// RunActive is 1 while a run is in progress (paused included).
	RunActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pendant_run_active",
		Help: "Whether a recipe run is currently active",
	})

	// RunProgress mirrors the progress of the active run.
	RunProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pendant_run_progress_percent",
		Help: "Progress of the active recipe run",
	})
)

// Observe translates one engine event into metric updates.
func Observe(ev engine.Event) {
	switch ev.Type {
	case engine.EventStateChanged:
		switch {
		case ev.NewState == models.RunStatusRunning && ev.OldState != models.RunStatusPaused:
			RunActive.Set(1)
			RunProgress.Set(0)
		case ev.NewState.Terminal():
			RunActive.Set(0)
		}

	case engine.EventStepCompleted:
		outcome := "completed"
		if !ev.Success {
			outcome = "failed"
		}
		StepsTotal.WithLabelValues(stepType(ev), outcome).Inc()
		StepDuration.WithLabelValues(stepType(ev)).Observe(float64(ev.DurationMs) / 1000)
		if ev.Attempts > 1 {
			RetriesTotal.Add(float64(ev.Attempts - 1))
		}

	case engine.EventStepSkipped:
		StepsTotal.WithLabelValues(stepType(ev), "skipped").Inc()

	case engine.EventProgressUpdated:
		RunProgress.Set(ev.Percent)

	case engine.EventRecipeCompleted, engine.EventRecipeError:
		// Only terminal events carry a run snapshot; mid-run step
		// failures and pre-run rejections do not end a run.
		if ev.Run != nil {
			RunsTotal.WithLabelValues(string(ev.Run.Status)).Inc()
			RunProgress.Set(ev.Run.Progress)
		}
	}
}

func stepType(ev engine.Event) string {
	if ev.Step != nil {
		return string(ev.Step.Type)
	}
	return "unknown"
}
