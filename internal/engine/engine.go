// Package engine drives recipe execution against the robot: the step
// loop, pause/resume/stop lifecycle, retry policy, pick/place
// choreography and progress estimation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
	"github.com/wafer-pendant/backend/internal/teach"
)

const (
	// runningSampleInterval is the progress sampling cadence while a
	// run is active.
	runningSampleInterval = 200 * time.Millisecond

	// pausedSampleInterval is the reduced cadence while paused.
	pausedSampleInterval = 1000 * time.Millisecond
)

// Engine owns one execution session at a time. All collaborators are
// injected at construction so the engine is testable against doubles.
type Engine struct {
	controller robot.Controller
	safety     safety.Checker
	resolver   teach.Resolver
	executor   *StepExecutor
	estimator  *ProgressEstimator

	mu   sync.Mutex
	cond *sync.Cond // pause gate; broadcast on Resume and Stop

	status         models.RunStatus
	pauseRequested bool
	recipe         *models.Recipe
	params         models.Parameters // snapshotted at run start
	runID          string
	currentStep    int
	executedSteps  int
	errorCount     int
	retriesUsed    int
	startTime      time.Time
	endTime        *time.Time
	lastError      string
	lastErrorCode  string

	cancel   context.CancelFunc
	loopDone chan struct{}

	subMu   sync.RWMutex
	subs    map[int]Subscriber
	nextSub int
}

// New creates an engine in the Idle state. All four collaborators are
// required.
func New(controller robot.Controller, checker safety.Checker, speed SpeedManager, resolver teach.Resolver) *Engine {
	e := &Engine{
		controller: controller,
		safety:     checker,
		resolver:   resolver,
		executor:   NewStepExecutor(controller, checker, speed),
		estimator:  NewProgressEstimator(),
		status:     models.RunStatusIdle,
		subs:       make(map[int]Subscriber),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Subscribe registers an event callback and returns an unsubscribe
// function. Dispatch is synchronous.
func (e *Engine) Subscribe(fn Subscriber) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()

	e.subMu.RLock()
	subs := make([]Subscriber, 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Execute starts a run. It rejects invalid recipes, a disconnected
// robot, and concurrent runs, returning false with no state change.
// On acceptance it transitions to Running and returns true immediately;
// completion is reported through events.
func (e *Engine) Execute(recipe *models.Recipe) bool {
	if recipe == nil {
		e.rejectRun("", "no recipe provided")
		return false
	}
	if err := recipe.Validate(); err != nil {
		e.rejectRun(recipe.Name, err.Error())
		return false
	}
	if !e.controller.IsConnected() {
		e.rejectRun(recipe.Name, "robot is not connected")
		return false
	}

	return e.start(recipe, 0)
}

// RestartFrom stops the current run and starts a new one on the same
// recipe at the given step index. Returns false when no recipe is
// loaded or the index is out of bounds.
func (e *Engine) RestartFrom(stepIndex int) bool {
	e.mu.Lock()
	recipe := e.recipe
	e.mu.Unlock()

	if recipe == nil {
		e.rejectRun("", "no recipe to restart")
		return false
	}
	if stepIndex < 0 || stepIndex >= len(recipe.Steps) {
		e.rejectRun(recipe.Name, fmt.Sprintf("restart index %d out of range (recipe has %d steps)", stepIndex, len(recipe.Steps)))
		return false
	}
	if !e.controller.IsConnected() {
		e.rejectRun(recipe.Name, "robot is not connected")
		return false
	}

	e.Stop()
	return e.start(recipe, stepIndex)
}

// rejectRun reports a pre-run validation failure without state change.
func (e *Engine) rejectRun(recipeName, reason string) {
	fmt.Printf("[Engine] rejected: %s\n", reason)
	e.emit(Event{
		Type:       EventRecipeError,
		ErrorCode:  ErrCodeValidation,
		Message:    reason,
		RecipeName: recipeName,
	})
}

// start resets the run state and launches the step loop and monitor.
// Steps before startIndex are credited as executed so progress math
// stays consistent on restarts.
func (e *Engine) start(recipe *models.Recipe, startIndex int) bool {
	e.mu.Lock()
	if e.busyLocked() {
		e.mu.Unlock()
		e.rejectRun(recipe.Name, "a recipe is already running")
		return false
	}
	prevDone := e.loopDone
	e.mu.Unlock()

	// Let the previous loop unwind fully before reusing the engine.
	if prevDone != nil {
		<-prevDone
	}

	e.mu.Lock()
	if e.busyLocked() {
		e.mu.Unlock()
		e.rejectRun(recipe.Name, "a recipe is already running")
		return false
	}

	old := e.status
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.status = models.RunStatusRunning
	e.pauseRequested = false
	e.recipe = recipe
	e.params = recipe.Parameters
	e.runID = uuid.New().String()
	e.currentStep = startIndex
	e.executedSteps = startIndex
	e.errorCount = 0
	e.retriesUsed = 0
	e.startTime = time.Now()
	e.endTime = nil
	e.lastError = ""
	e.lastErrorCode = ""
	e.cancel = cancel
	e.loopDone = done
	runID := e.runID
	e.mu.Unlock()

	e.estimator.Reset()

	fmt.Printf("[Engine %s] starting recipe %q at step %d (%d steps)\n", shortID(runID), recipe.Name, startIndex, len(recipe.Steps))
	e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: old, NewState: models.RunStatusRunning})

	go e.runLoop(ctx, runID, done, startIndex)
	go e.monitor(ctx, runID)
	return true
}

// busyLocked reports whether a run is active. Caller holds mu.
func (e *Engine) busyLocked() bool {
	switch e.status {
	case models.RunStatusRunning, models.RunStatusPaused, models.RunStatusStopping:
		return true
	}
	return false
}

// Pause requests suspension at the next step boundary. No-op unless
// Running. The state only becomes Paused once the in-flight step's
// routine has returned.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != models.RunStatusRunning || e.pauseRequested {
		return
	}
	e.pauseRequested = true
	fmt.Printf("[Engine %s] pause requested\n", shortID(e.runID))
}

// Resume continues a paused run at the next undispatched step. A pause
// that has not taken effect yet is simply withdrawn.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.pauseRequested && e.status == models.RunStatusRunning {
		e.pauseRequested = false
		runID := e.runID
		e.mu.Unlock()
		fmt.Printf("[Engine %s] pending pause withdrawn\n", shortID(runID))
		return
	}
	if e.status != models.RunStatusPaused {
		e.mu.Unlock()
		return
	}
	e.status = models.RunStatusRunning
	runID := e.runID
	e.cond.Broadcast()
	e.mu.Unlock()

	fmt.Printf("[Engine %s] resumed\n", shortID(runID))
	e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: models.RunStatusPaused, NewState: models.RunStatusRunning})
}

// Stop cancels the run cooperatively, issues a direct controller stop
// regardless of whether a step is in flight, and ends in Cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	old := e.status
	active := old == models.RunStatusRunning || old == models.RunStatusPaused
	if e.cancel != nil {
		e.cancel()
	}
	if active {
		e.status = models.RunStatusStopping
	}
	runID := e.runID
	e.cond.Broadcast()
	e.mu.Unlock()

	if active {
		fmt.Printf("[Engine %s] stop requested\n", shortID(runID))
		e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: old, NewState: models.RunStatusStopping})
	}

	e.controller.Stop()

	e.mu.Lock()
	prev := e.status
	if prev != models.RunStatusCancelled {
		e.status = models.RunStatusCancelled
		if active && e.endTime == nil {
			now := time.Now()
			e.endTime = &now
		}
	}
	e.mu.Unlock()

	if prev != models.RunStatusCancelled {
		e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: prev, NewState: models.RunStatusCancelled})
	}
}

// waitIfPaused is the pause gate at each step boundary. It applies a
// pending pause request, blocks until the run is Running again, and
// returns false when the run was cancelled instead.
func (e *Engine) waitIfPaused(ctx context.Context) bool {
	e.mu.Lock()
	if e.pauseRequested && e.status == models.RunStatusRunning && ctx.Err() == nil {
		e.pauseRequested = false
		e.status = models.RunStatusPaused
		runID := e.runID
		e.mu.Unlock()

		fmt.Printf("[Engine %s] paused\n", shortID(runID))
		e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: models.RunStatusRunning, NewState: models.RunStatusPaused})
		e.mu.Lock()
	}

	for e.status == models.RunStatusPaused && ctx.Err() == nil {
		e.cond.Wait()
	}
	ok := ctx.Err() == nil && e.status == models.RunStatusRunning
	e.mu.Unlock()
	return ok
}

// runLoop executes steps strictly in recipe order. It is the only
// writer of the terminal run outcome. No fault escapes: panics are
// converted to the Error state.
func (e *Engine) runLoop(ctx context.Context, runID string, done chan struct{}, startIndex int) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Engine %s] PANIC recovered: %v\n", shortID(runID), r)
			e.failRun(runID, fmt.Sprintf("unhandled fault: %v", r))
		}
	}()

	e.mu.Lock()
	recipe := e.recipe
	params := e.params
	e.mu.Unlock()

	total := len(recipe.Steps)
	i := startIndex

	for i < total {
		if !e.waitIfPaused(ctx) {
			e.finishCancelled(runID)
			return
		}

		step := &recipe.Steps[i]

		e.mu.Lock()
		e.currentStep = i
		e.mu.Unlock()

		if !step.Enabled {
			e.mu.Lock()
			e.executedSteps++
			e.mu.Unlock()

			fmt.Printf("[Engine %s] step %d/%d disabled, skipping\n", shortID(runID), i+1, total)
			sc := *step
			e.emit(Event{Type: EventStepSkipped, RunID: runID, StepIndex: i, Step: &sc})
			i++
			continue
		}

		sc := *step
		e.emit(Event{Type: EventStepStarted, RunID: runID, StepIndex: i, Step: &sc})
		fmt.Printf("[Engine %s] step %d/%d: %s\n", shortID(runID), i+1, total, step.Type)

		started := time.Now()
		attempts := 0
		var stepErr error
		for {
			if ctx.Err() != nil {
				e.finishCancelled(runID)
				return
			}

			attempts++
			stepErr = e.executeStep(ctx, step, params)
			if stepErr == nil || ctx.Err() != nil {
				break
			}
			if attempts > params.RetryCount {
				break
			}

			fmt.Printf("[Engine %s] step %d attempt %d failed: %v (retry in %dms)\n", shortID(runID), i+1, attempts, stepErr, params.RetryDelayMs)
			e.mu.Lock()
			e.retriesUsed++
			e.mu.Unlock()

			if sleepCtx(ctx, time.Duration(params.RetryDelayMs)*time.Millisecond) != nil {
				e.finishCancelled(runID)
				return
			}
		}
		if ctx.Err() != nil {
			e.finishCancelled(runID)
			return
		}

		durMs := time.Since(started).Milliseconds()

		if stepErr == nil {
			e.mu.Lock()
			e.executedSteps++
			e.mu.Unlock()

			e.emit(Event{Type: EventStepCompleted, RunID: runID, StepIndex: i, Step: &sc, Success: true, DurationMs: durMs, Attempts: attempts})
			i++
			continue
		}

		// Retries exhausted
		msg := fmt.Sprintf("step %d failed after %d attempts: %v", i+1, attempts, stepErr)
		fmt.Printf("[Engine %s] %s\n", shortID(runID), msg)

		e.mu.Lock()
		e.lastError = stepErr.Error()
		e.lastErrorCode = ErrCodeStepFailure
		e.mu.Unlock()

		e.emit(Event{Type: EventStepCompleted, RunID: runID, StepIndex: i, Step: &sc, Success: false, Message: stepErr.Error(), DurationMs: durMs, Attempts: attempts})
		e.emit(Event{Type: EventRecipeError, RunID: runID, ErrorCode: ErrCodeStepFailure, Message: msg, StepIndex: i, Step: &sc, RecipeName: recipe.Name})

		if params.PauseOnError {
			e.mu.Lock()
			paused := e.status == models.RunStatusRunning
			if paused {
				e.status = models.RunStatusPaused
				e.pauseRequested = false
			}
			e.mu.Unlock()

			if paused {
				fmt.Printf("[Engine %s] pausing on error at step %d, awaiting operator\n", shortID(runID), i+1)
				e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: models.RunStatusRunning, NewState: models.RunStatusPaused})
			}
			// Same index: the step reruns after Resume.
			continue
		}

		e.mu.Lock()
		e.errorCount++
		e.executedSteps++
		e.mu.Unlock()
		i++
	}

	e.finishCompleted(runID, recipe.Name)
}

// executeStep gates, resolves and dispatches a single step.
func (e *Engine) executeStep(ctx context.Context, step *models.Step, params models.Parameters) error {
	if params.CheckSafetyBeforeEachStep && !e.safety.IsSafeForOperation() {
		return fmt.Errorf("safety check failed before step")
	}

	if step.TeachPoint != "" {
		pos, err := e.resolver.Resolve(step.TeachGroup, step.TeachPoint)
		if err != nil {
			// Tolerated: the previously resolved target stays in effect.
			fmt.Printf("[Engine] teach resolve failed for %s/%s: %v\n", step.TeachGroup, step.TeachPoint, err)
		} else {
			e.mu.Lock()
			step.Target = &pos
			e.mu.Unlock()
		}
	}

	switch step.Type {
	case models.StepTypeHome:
		return e.executor.Home(ctx, speedOr(step.Speed, params.HomeSpeed))

	case models.StepTypeMove:
		if step.Target == nil {
			return fmt.Errorf("move step has no target position")
		}
		return e.executor.SafeMove(ctx, *step.Target, speedOr(step.Speed, params.DefaultSpeed), params.CheckSafetyBeforeEachStep)

	case models.StepTypePick:
		if step.Target == nil {
			return fmt.Errorf("pick step has no target position")
		}
		if params.PrecisionMode {
			return e.executor.PrecisionPick(ctx, *step.Target, params)
		}
		return e.executor.AdvancedPick(ctx, *step.Target, speedOr(step.Speed, params.PickSpeed), params)

	case models.StepTypePlace:
		if step.Target == nil {
			return fmt.Errorf("place step has no target position")
		}
		if params.PrecisionMode {
			return e.executor.PrecisionPlace(ctx, *step.Target, params)
		}
		return e.executor.AdvancedPlace(ctx, *step.Target, speedOr(step.Speed, params.PlaceSpeed), params)

	case models.StepTypeWait:
		return sleepCtx(ctx, time.Duration(step.WaitMs)*time.Millisecond)

	case models.StepTypeCheckSafety:
		if !e.safety.IsSafeForOperation() {
			return fmt.Errorf("safety check failed")
		}
		return nil

	default:
		return fmt.Errorf("unknown step type: %s", step.Type)
	}
}

// finishCompleted transitions to Completed unless a stop raced in.
func (e *Engine) finishCompleted(runID, recipeName string) {
	e.mu.Lock()
	if e.status == models.RunStatusStopping || e.status == models.RunStatusCancelled {
		e.mu.Unlock()
		e.finishCancelled(runID)
		return
	}
	old := e.status
	e.status = models.RunStatusCompleted
	now := time.Now()
	e.endTime = &now
	errors := e.errorCount
	executed := e.executedSteps
	totalSteps := len(e.recipe.Steps)
	e.mu.Unlock()

	e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: old, NewState: models.RunStatusCompleted})

	success := errors == 0
	msg := "recipe completed"
	if !success {
		msg = fmt.Sprintf("recipe completed with %d errors", errors)
	}
	snap := e.Snapshot()
	e.emit(Event{Type: EventRecipeCompleted, RunID: runID, RecipeName: recipeName, Success: success, Message: msg, Run: &snap})

	fmt.Printf("[Engine %s] %s (%d/%d steps, %d errors, %dms)\n",
		shortID(runID), msg, executed, totalSteps, errors, snap.EndTime.Sub(snap.StartTime).Milliseconds())
}

// finishCancelled ends the run after a cooperative cancellation.
func (e *Engine) finishCancelled(runID string) {
	e.mu.Lock()
	old := e.status
	if !old.Terminal() {
		e.status = models.RunStatusCancelled
	}
	if e.endTime == nil {
		now := time.Now()
		e.endTime = &now
	}
	step := e.currentStep
	name := ""
	if e.recipe != nil {
		name = e.recipe.Name
	}
	e.mu.Unlock()

	if !old.Terminal() {
		e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: old, NewState: models.RunStatusCancelled})
	}

	snap := e.Snapshot()
	e.emit(Event{Type: EventRecipeCompleted, RunID: runID, RecipeName: name, Success: false, Message: "run cancelled", Run: &snap})
	fmt.Printf("[Engine %s] run cancelled at step %d\n", shortID(runID), step+1)
}

// failRun converts an unhandled fault into the terminal Error state.
func (e *Engine) failRun(runID, msg string) {
	e.mu.Lock()
	old := e.status
	e.status = models.RunStatusError
	now := time.Now()
	e.endTime = &now
	e.lastError = msg
	e.lastErrorCode = ErrCodeUnhandled
	step := e.currentStep
	name := ""
	if e.recipe != nil {
		name = e.recipe.Name
	}
	e.mu.Unlock()

	if old != models.RunStatusError {
		e.emit(Event{Type: EventStateChanged, RunID: runID, OldState: old, NewState: models.RunStatusError})
	}

	snap := e.Snapshot()
	e.emit(Event{Type: EventRecipeError, RunID: runID, ErrorCode: ErrCodeUnhandled, Message: msg, StepIndex: step, RecipeName: name, Run: &snap})
}

// monitor samples progress at 200ms while Running and 1000ms while
// Paused, feeding the estimator and emitting progress events. It exits
// when the run reaches a terminal state.
func (e *Engine) monitor(ctx context.Context, runID string) {
	for {
		e.mu.Lock()
		status := e.status
		e.mu.Unlock()

		if status.Terminal() {
			return
		}

		interval := runningSampleInterval
		if status == models.RunStatusPaused {
			interval = pausedSampleInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		snap := e.Snapshot()
		e.estimator.AddSample(snap.Progress, time.Now())

		elapsed := int64(0)
		if !snap.StartTime.IsZero() {
			elapsed = time.Since(snap.StartTime).Milliseconds()
		}
		e.emit(Event{
			Type:       EventProgressUpdated,
			RunID:      runID,
			StepIndex:  snap.CurrentStep,
			Step:       e.CurrentStep(),
			TotalSteps: snap.TotalSteps,
			Percent:    snap.Progress,
			ElapsedMs:  elapsed,
			EtaMs:      snap.EstimatedRemaining,
			State:      snap.Status,
		})
	}
}

// State returns the current run status.
func (e *Engine) State() models.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentRecipe returns the recipe of the current or most recent run.
func (e *Engine) CurrentRecipe() *models.Recipe {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recipe
}

// CurrentStepIndex returns the index of the step in flight.
func (e *Engine) CurrentStepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStep
}

// CurrentStep returns a copy of the step in flight, or nil.
func (e *Engine) CurrentStep() *models.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipe == nil || e.currentStep < 0 || e.currentStep >= len(e.recipe.Steps) {
		return nil
	}
	sc := e.recipe.Steps[e.currentStep]
	return &sc
}

// ProgressPercentage returns run progress in 0-100.
func (e *Engine) ProgressPercentage() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked().Progress
}

// ElapsedTime returns how long the current or most recent run took so
// far.
func (e *Engine) ElapsedTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsedLocked()
}

// IsRobotConnected reports controller connectivity.
func (e *Engine) IsRobotConnected() bool {
	return e.controller.IsConnected()
}

// Snapshot returns a copy-on-read view of the whole run state.
func (e *Engine) Snapshot() models.RunInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() models.RunInfo {
	info := models.RunInfo{
		ID:                 e.runID,
		Status:             e.status,
		Parameters:         e.params,
		CurrentStep:        e.currentStep,
		ExecutedSteps:      e.executedSteps,
		ErrorCount:         e.errorCount,
		RetriesUsed:        e.retriesUsed,
		StartTime:          e.startTime,
		Error:              e.lastError,
		ErrorCode:          e.lastErrorCode,
		EstimatedRemaining: -1,
	}
	if e.endTime != nil {
		t := *e.endTime
		info.EndTime = &t
	}
	if e.recipe != nil {
		info.RecipeName = e.recipe.Name
		info.TotalSteps = len(e.recipe.Steps)
	}

	if info.TotalSteps > 0 {
		info.Progress = float64(e.executedSteps) / float64(info.TotalSteps) * 100
	}
	if e.status == models.RunStatusCompleted {
		info.Progress = 100
	}

	if eta, ok := e.estimator.EstimateETA(info.Progress, e.elapsedLocked()); ok {
		info.EstimatedRemaining = eta.Milliseconds()
	}
	return info
}

func (e *Engine) elapsedLocked() time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	if e.endTime != nil {
		return e.endTime.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

func speedOr(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
