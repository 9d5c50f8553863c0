package engine

import (
	"time"

	"github.com/wafer-pendant/backend/internal/models"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventStepStarted     EventType = "step_started"
	EventStepCompleted   EventType = "step_completed"
	EventStepSkipped     EventType = "step_skipped"
	EventRecipeCompleted EventType = "recipe_completed"
	EventRecipeError     EventType = "recipe_error"
	EventProgressUpdated EventType = "progress_updated"
)

// Error codes carried on recipe_error events.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeStepFailure = "step_failure"
	ErrCodeUnhandled   = "unhandled_fault"
)

// Event is a tagged status message from the engine. Only the fields
// relevant to Type are populated; the rest stay at their zero values.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// state_changed
	OldState models.RunStatus `json:"oldState,omitempty"`
	NewState models.RunStatus `json:"newState,omitempty"`

	// step_started / step_completed / step_skipped
	StepIndex  int          `json:"stepIndex,omitempty"`
	Step       *models.Step `json:"step,omitempty"`
	Success    bool         `json:"success,omitempty"`
	Message    string       `json:"message,omitempty"`
	DurationMs int64        `json:"durationMs,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`

	// recipe_completed / recipe_error
	RecipeName string          `json:"recipeName,omitempty"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Run        *models.RunInfo `json:"run,omitempty"`

	// progress_updated
	TotalSteps int              `json:"totalSteps,omitempty"`
	Percent    float64          `json:"percent,omitempty"`
	ElapsedMs  int64            `json:"elapsedMs,omitempty"`
	EtaMs      int64            `json:"etaMs,omitempty"`
	State      models.RunStatus `json:"state,omitempty"`
}

// Subscriber receives engine events. Callbacks run synchronously on the
// emitting goroutine and must not block.
type Subscriber func(Event)
