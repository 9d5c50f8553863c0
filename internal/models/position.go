package models

import "math"

// Position is a robot pose in cylindrical coordinates: radial extension,
// base rotation in degrees, and vertical height.
type Position struct {
	R     float64 `json:"r"`
	Theta float64 `json:"theta"`
	Z     float64 `json:"z"`
}

// Cartesian converts the pose to x/y/z with theta measured in degrees.
func (p Position) Cartesian() (x, y, z float64) {
	rad := p.Theta * math.Pi / 180.0
	return p.R * math.Cos(rad), p.R * math.Sin(rad), p.Z
}

// DistanceTo returns the straight-line distance between two poses in
// Cartesian space. Used for path ordering, not for motion planning.
func (p Position) DistanceTo(other Position) float64 {
	x1, y1, z1 := p.Cartesian()
	x2, y2, z2 := other.Cartesian()
	dx := x2 - x1
	dy := y2 - y1
	dz := z2 - z1
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// WithZ returns a copy of the pose at a different height.
func (p Position) WithZ(z float64) Position {
	p.Z = z
	return p
}
