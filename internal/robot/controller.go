// Package robot defines the motion controller interface and a timed
// simulator implementation used for development and tests.
package robot

import "github.com/wafer-pendant/backend/internal/models"

// Controller defines the interface for the wafer transfer robot.
// Motion and actuation commands report success as a boolean; detailed
// fault information stays inside the controller.
type Controller interface {
	IsConnected() bool
	MoveTo(r, theta, z float64) bool
	Pick() bool
	Place() bool
	Home() bool
	SetVacuum(on bool) bool
	Stop()
}

// Status is a point-in-time snapshot of the controller state.
type Status struct {
	Connected    bool            `json:"connected"`
	Position     models.Position `json:"position"`
	SpeedPercent int             `json:"speedPercent"`
	VacuumOn     bool            `json:"vacuumOn"`
	Gripping     bool            `json:"gripping"`
	Moving       bool            `json:"moving"`
}
