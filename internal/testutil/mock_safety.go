// mock_safety.go - Mock safety checker for testing
package testutil

import (
	"sync"

	"github.com/wafer-pendant/backend/internal/safety"
)

// MockSafety implements safety.Checker with configurable answers.
type MockSafety struct {
	mu          sync.Mutex
	safe        bool
	limitsFunc  func(r, theta, z float64) bool
	safeChecks  int
	limitChecks int
}

// NewMockSafety creates a checker that approves everything.
func NewMockSafety() *MockSafety {
	return &MockSafety{safe: true}
}

// SetSafe sets the IsSafeForOperation answer.
func (m *MockSafety) SetSafe(safe bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safe = safe
}

// SetLimitsFunc installs a custom soft-limit predicate. Nil restores
// the approve-everything default.
func (m *MockSafety) SetLimitsFunc(fn func(r, theta, z float64) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitsFunc = fn
}

func (m *MockSafety) IsSafeForOperation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeChecks++
	return m.safe
}

func (m *MockSafety) IsWithinSoftLimits(r, theta, z float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitChecks++
	if m.limitsFunc != nil {
		return m.limitsFunc(r, theta, z)
	}
	return true
}

// SafeCheckCount returns how many times IsSafeForOperation was called.
func (m *MockSafety) SafeCheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safeChecks
}

// LimitCheckCount returns how many times IsWithinSoftLimits was called.
func (m *MockSafety) LimitCheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitChecks
}

// Ensure MockSafety implements safety.Checker
var _ safety.Checker = (*MockSafety)(nil)
