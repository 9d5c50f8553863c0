package models

import "time"

// RunStatus represents the lifecycle state of a recipe run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusStopping  RunStatus = "stopping"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled, RunStatusError:
		return true
	}
	return false
}

// RunInfo is a point-in-time snapshot of a recipe run.
type RunInfo struct {
	ID         string     `json:"id"`
	RecipeName string     `json:"recipeName"`
	Status     RunStatus  `json:"status"`
	Parameters Parameters `json:"parameters"`

	CurrentStep   int     `json:"currentStep"`   // index into the step list
	TotalSteps    int     `json:"totalSteps"`    // enabled and disabled alike
	ExecutedSteps int     `json:"executedSteps"` // advances for skipped steps too
	ErrorCount    int     `json:"errorCount"`
	RetriesUsed   int     `json:"retriesUsed"`
	Progress      float64 `json:"progress"` // percent, 0-100

	// EstimatedRemaining is the smoothed time-to-completion estimate in
	// milliseconds. Negative when no estimate is available yet.
	EstimatedRemaining int64 `json:"estimatedRemainingMs"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorCode string     `json:"errorCode,omitempty"`
}

// StepOutcome classifies how a single step finished.
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeFailed    StepOutcome = "failed"
	StepOutcomeSkipped   StepOutcome = "skipped"
)

// StepResult records one step execution inside a run.
type StepResult struct {
	RunID       string      `json:"runId"`
	StepIndex   int         `json:"stepIndex"`
	StepType    StepType    `json:"stepType"`
	Description string      `json:"description,omitempty"`
	Outcome     StepOutcome `json:"outcome"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	StartTime   time.Time   `json:"startTime"`
	DurationMs  int64       `json:"durationMs"`
}

// RunRecord is the persisted summary of a run as stored in history.
type RunRecord struct {
	ID            string     `json:"id"`
	RecipeName    string     `json:"recipeName"`
	Status        RunStatus  `json:"status"`
	TotalSteps    int        `json:"totalSteps"`
	ExecutedSteps int        `json:"executedSteps"`
	ErrorCount    int        `json:"errorCount"`
	RetriesUsed   int        `json:"retriesUsed"`
	Error         string     `json:"error,omitempty"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	DurationMs    int64      `json:"durationMs"`
}

// RunStats aggregates run history for reporting.
type RunStats struct {
	TotalRuns     int     `json:"totalRuns"`
	CompletedRuns int     `json:"completedRuns"`
	CancelledRuns int     `json:"cancelledRuns"`
	ErrorRuns     int     `json:"errorRuns"`
	TotalSteps    int     `json:"totalSteps"`
	TotalRetries  int     `json:"totalRetries"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}
