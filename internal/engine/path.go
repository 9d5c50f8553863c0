package engine

import "github.com/wafer-pendant/backend/internal/models"

// OptimizePath orders waypoints by repeatedly visiting the nearest
// unvisited one, measured as 3-D Euclidean distance in Cartesian space,
// starting from the robot origin. Greedy and O(n^2); recipes carry few
// enough waypoints that an optimal tour is not worth the complexity.
func OptimizePath(positions []models.Position) []models.Position {
	if len(positions) <= 1 {
		out := make([]models.Position, len(positions))
		copy(out, positions)
		return out
	}

	remaining := make([]models.Position, len(positions))
	copy(remaining, positions)

	ordered := make([]models.Position, 0, len(positions))
	current := models.Position{}

	for len(remaining) > 0 {
		nearest := 0
		nearestDist := current.DistanceTo(remaining[0])
		for i := 1; i < len(remaining); i++ {
			if d := current.DistanceTo(remaining[i]); d < nearestDist {
				nearest = i
				nearestDist = d
			}
		}

		current = remaining[nearest]
		ordered = append(ordered, current)
		remaining = append(remaining[:nearest], remaining[nearest+1:]...)
	}

	return ordered
}

// PathLength returns the total travel distance of a route starting at
// from, in position units.
func PathLength(from models.Position, route []models.Position) float64 {
	total := 0.0
	current := from
	for _, pos := range route {
		total += current.DistanceTo(pos)
		current = pos
	}
	return total
}
