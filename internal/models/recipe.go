// Package models contains domain types for the wafer pendant backend.
package models

import "fmt"

// StepType identifies the kind of action a recipe step performs.
type StepType string

const (
	StepTypeHome        StepType = "home"
	StepTypeMove        StepType = "move"
	StepTypePick        StepType = "pick"
	StepTypePlace       StepType = "place"
	StepTypeWait        StepType = "wait"
	StepTypeCheckSafety StepType = "check_safety"
)

// ValidStepTypes lists every step type the engine can dispatch.
var ValidStepTypes = []StepType{
	StepTypeHome,
	StepTypeMove,
	StepTypePick,
	StepTypePlace,
	StepTypeWait,
	StepTypeCheckSafety,
}

// IsValid reports whether t is a known step type.
func (t StepType) IsValid() bool {
	for _, v := range ValidStepTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Step is a single entry in a recipe's step list.
type Step struct {
	ID          int      `json:"id"`
	Type        StepType `json:"type"`
	Description string   `json:"description,omitempty"`

	// Target is the commanded position for move/pick/place steps.
	// Ignored for home, wait and check_safety steps.
	Target *Position `json:"target,omitempty"`

	// TeachGroup/TeachPoint name a taught coordinate to resolve at
	// execution time. When set they take precedence over Target.
	TeachGroup string `json:"teachGroup,omitempty"`
	TeachPoint string `json:"teachPoint,omitempty"`

	// Speed is a percentage override in 1-100. Zero means inherit the
	// per-action speed from the recipe parameters.
	Speed int `json:"speed,omitempty"`

	// WaitMs is the dwell duration for wait steps.
	WaitMs int `json:"waitMs,omitempty"`

	// Enabled=false skips the step while keeping it in the count.
	Enabled bool `json:"enabled"`
}

// Parameters holds recipe-wide execution tuning.
type Parameters struct {
	DefaultSpeed int `json:"defaultSpeed"` // percent, applied to plain moves
	PickSpeed    int `json:"pickSpeed"`    // percent, approach speed for picks
	PlaceSpeed   int `json:"placeSpeed"`   // percent, approach speed for places
	HomeSpeed    int `json:"homeSpeed"`    // percent, used when homing

	SafeHeight  float64 `json:"safeHeight"`  // Z used for lateral transits
	PickHeight  float64 `json:"pickHeight"`  // Z offset above the pick target
	PlaceHeight float64 `json:"placeHeight"` // Z offset above the place target

	PickDelayMs  int `json:"pickDelayMs"`  // settle after vacuum grip
	PlaceDelayMs int `json:"placeDelayMs"` // settle after vacuum release

	RetryCount   int  `json:"retryCount"`   // retries per failed step
	RetryDelayMs int  `json:"retryDelayMs"` // delay between retries
	PauseOnError bool `json:"pauseOnError"` // pause instead of abort on exhaustion

	CheckSafetyBeforeEachStep bool `json:"checkSafetyBeforeEachStep"`
	UseVacuum                 bool `json:"useVacuum"`

	// PrecisionMode switches pick/place to the incremental slow-descent
	// choreography used for fragile wafers.
	PrecisionMode bool `json:"precisionMode"`
}

// DefaultParameters returns the parameter set new recipes start from.
func DefaultParameters() Parameters {
	return Parameters{
		DefaultSpeed:              50,
		PickSpeed:                 30,
		PlaceSpeed:                30,
		HomeSpeed:                 40,
		SafeHeight:                80.0,
		PickHeight:                5.0,
		PlaceHeight:               5.0,
		PickDelayMs:               300,
		PlaceDelayMs:              300,
		RetryCount:                2,
		RetryDelayMs:              500,
		PauseOnError:              true,
		CheckSafetyBeforeEachStep: true,
		UseVacuum:                 true,
		PrecisionMode:             false,
	}
}

// Recipe is an ordered list of steps with shared parameters.
type Recipe struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []Step     `json:"steps"`
	Parameters  Parameters `json:"parameters"`
}

// Validate checks that the recipe is executable: at least one step,
// known step types, targets where the step type needs one, and speeds
// inside the 0-100 override range.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name is required")
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("recipe %q has no steps", r.Name)
	}
	for i, step := range r.Steps {
		if !step.Type.IsValid() {
			return fmt.Errorf("step %d: unknown step type %q", i, step.Type)
		}
		switch step.Type {
		case StepTypeMove, StepTypePick, StepTypePlace:
			if step.Target == nil && step.TeachPoint == "" {
				return fmt.Errorf("step %d (%s): target or teach point required", i, step.Type)
			}
		case StepTypeWait:
			if step.WaitMs < 0 {
				return fmt.Errorf("step %d: negative wait duration", i)
			}
		}
		if step.Speed < 0 || step.Speed > 100 {
			return fmt.Errorf("step %d: speed %d outside 0-100", i, step.Speed)
		}
	}
	return nil
}

// EnabledCount returns how many steps will actually execute.
func (r *Recipe) EnabledCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Enabled {
			n++
		}
	}
	return n
}
