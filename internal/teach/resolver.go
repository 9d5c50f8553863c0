// Package teach resolves named teaching coordinates recorded on the
// pendant into robot poses.
package teach

import "github.com/wafer-pendant/backend/internal/models"

// Resolver looks up a taught position by group and point name.
type Resolver interface {
	Resolve(group, point string) (models.Position, error)
}
