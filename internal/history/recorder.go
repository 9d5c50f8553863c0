package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/wafer-pendant/backend/internal/engine"
	"github.com/wafer-pendant/backend/internal/models"
)

// Recorder subscribes to engine events and writes them to the store.
// Recording failures are logged and never interfere with the run.
type Recorder struct {
	engine *engine.Engine
	store  *Store
	unsub  func()

	mu     sync.Mutex
	starts map[string]time.Time // runID:stepIndex -> dispatch time
}

// NewRecorder attaches a recorder to the engine. Call Close to detach.
func NewRecorder(e *engine.Engine, store *Store) *Recorder {
	r := &Recorder{
		engine: e,
		store:  store,
		starts: make(map[string]time.Time),
	}
	r.unsub = e.Subscribe(r.handle)
	return r
}

// Close detaches the recorder from the engine.
func (r *Recorder) Close() {
	if r.unsub != nil {
		r.unsub()
	}
}

func (r *Recorder) handle(ev engine.Event) {
	switch ev.Type {
	case engine.EventStateChanged:
		// A transition into Running from anywhere but Paused is a new run
		if ev.NewState == models.RunStatusRunning && ev.OldState != models.RunStatusPaused {
			if err := r.store.RecordRunStart(r.engine.Snapshot()); err != nil {
				fmt.Printf("[History] failed to record run start: %v\n", err)
			}
		}

	case engine.EventStepStarted:
		r.mu.Lock()
		r.starts[stepKey(ev.RunID, ev.StepIndex)] = ev.Timestamp
		r.mu.Unlock()

	case engine.EventStepCompleted:
		res := models.StepResult{
			RunID:      ev.RunID,
			StepIndex:  ev.StepIndex,
			Outcome:    models.StepOutcomeCompleted,
			Attempts:   ev.Attempts,
			DurationMs: ev.DurationMs,
			StartTime:  r.takeStart(ev),
		}
		if !ev.Success {
			res.Outcome = models.StepOutcomeFailed
			res.Error = ev.Message
		}
		if ev.Step != nil {
			res.StepType = ev.Step.Type
			res.Description = ev.Step.Description
		}
		if err := r.store.RecordStep(res); err != nil {
			fmt.Printf("[History] failed to record step %d: %v\n", ev.StepIndex, err)
		}

	case engine.EventStepSkipped:
		res := models.StepResult{
			RunID:     ev.RunID,
			StepIndex: ev.StepIndex,
			Outcome:   models.StepOutcomeSkipped,
			StartTime: ev.Timestamp,
		}
		if ev.Step != nil {
			res.StepType = ev.Step.Type
			res.Description = ev.Step.Description
		}
		if err := r.store.RecordStep(res); err != nil {
			fmt.Printf("[History] failed to record skipped step %d: %v\n", ev.StepIndex, err)
		}

	case engine.EventRecipeCompleted, engine.EventRecipeError:
		// Pre-run validation failures and mid-run step errors carry no
		// run snapshot; only terminal events do.
		if ev.Run == nil {
			return
		}
		if err := r.store.RecordRunEnd(*ev.Run); err != nil {
			fmt.Printf("[History] failed to record run end: %v\n", err)
		}
		r.mu.Lock()
		r.starts = make(map[string]time.Time)
		r.mu.Unlock()
	}
}

// takeStart returns the recorded dispatch time for a completed step,
// falling back to the completion timestamp minus the duration.
func (r *Recorder) takeStart(ev engine.Event) time.Time {
	key := stepKey(ev.RunID, ev.StepIndex)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.starts[key]; ok {
		delete(r.starts, key)
		return t
	}
	return ev.Timestamp.Add(-time.Duration(ev.DurationMs) * time.Millisecond)
}

func stepKey(runID string, index int) string {
	return fmt.Sprintf("%s:%d", runID, index)
}
