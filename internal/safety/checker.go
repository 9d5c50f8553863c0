// Package safety provides the interlock and soft-limit checks that gate
// robot motion.
package safety

// Checker defines the interface the recipe engine consults before
// commanding motion.
type Checker interface {
	// IsSafeForOperation reports whether every interlock currently
	// passes (door closed, e-stop clear, vacuum pressure in range).
	IsSafeForOperation() bool

	// IsWithinSoftLimits reports whether the pose lies inside the
	// configured motion envelope.
	IsWithinSoftLimits(r, theta, z float64) bool
}
