// mock_teach.go - Mock teaching coordinate resolver for testing
package testutil

import (
	"errors"
	"sync"

	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/teach"
)

// MockResolver implements teach.Resolver over an in-memory point map.
type MockResolver struct {
	mu       sync.Mutex
	points   map[string]models.Position
	err      error
	resolves int
}

// NewMockResolver creates an empty resolver.
func NewMockResolver() *MockResolver {
	return &MockResolver{points: make(map[string]models.Position)}
}

// AddPoint registers a taught position.
func (m *MockResolver) AddPoint(group, point string, pos models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[group+"/"+point] = pos
}

// SetError makes every Resolve call fail with err. Nil restores normal
// lookups.
func (m *MockResolver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockResolver) Resolve(group, point string) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolves++

	if m.err != nil {
		return models.Position{}, m.err
	}
	pos, ok := m.points[group+"/"+point]
	if !ok {
		return models.Position{}, errors.New("teach point not found: " + group + "/" + point)
	}
	return pos, nil
}

// ResolveCount returns how many times Resolve was called.
func (m *MockResolver) ResolveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolves
}

// Ensure MockResolver implements teach.Resolver
var _ teach.Resolver = (*MockResolver)(nil)
