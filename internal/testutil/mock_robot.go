// mock_robot.go - Mock robot controller and speed manager for testing
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/robot"
)

// MockController implements robot.Controller for testing. Every call is
// recorded; failures can be injected per operation.
type MockController struct {
	mu        sync.Mutex
	connected bool
	position  models.Position
	vacuumOn  bool
	calls     []string
	failures  map[string]int // op -> remaining failures; -1 means always fail
	stopCount int

	// Delay is applied to every motion and actuation call, simulating
	// a step that takes real time.
	Delay time.Duration
}

// NewMockController creates a connected mock controller.
func NewMockController() *MockController {
	return &MockController{
		connected: true,
		failures:  make(map[string]int),
	}
}

// SetConnected toggles the reported connection state.
func (m *MockController) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// FailNext makes the next n calls of op fail. Operation names: move,
// pick, place, home, vacuum.
func (m *MockController) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

// FailAlways makes every call of op fail until Reset.
func (m *MockController) FailAlways(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = -1
}

func (m *MockController) takeFailure(op string) bool {
	if m.failures[op] == -1 {
		return true
	}
	if m.failures[op] > 0 {
		m.failures[op]--
		return true
	}
	return false
}

func (m *MockController) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MockController) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockController) MoveTo(r, theta, z float64) bool {
	m.mu.Lock()
	m.record(fmt.Sprintf("move(%.1f,%.1f,%.1f)", r, theta, z))
	fail := m.takeFailure("move")
	delay := m.Delay
	if !fail {
		m.position = models.Position{R: r, Theta: theta, Z: z}
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return !fail
}

func (m *MockController) Pick() bool {
	return m.actuate("pick", "pick()")
}

func (m *MockController) Place() bool {
	return m.actuate("place", "place()")
}

func (m *MockController) Home() bool {
	m.mu.Lock()
	m.record("home()")
	fail := m.takeFailure("home")
	delay := m.Delay
	if !fail {
		m.position = models.Position{}
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return !fail
}

func (m *MockController) SetVacuum(on bool) bool {
	m.mu.Lock()
	m.record(fmt.Sprintf("vacuum(%v)", on))
	fail := m.takeFailure("vacuum")
	if !fail {
		m.vacuumOn = on
	}
	m.mu.Unlock()
	return !fail
}

func (m *MockController) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop()")
	m.stopCount++
}

func (m *MockController) actuate(op, call string) bool {
	m.mu.Lock()
	m.record(call)
	fail := m.takeFailure(op)
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return !fail
}

// Test Helper Methods

// Calls returns a copy of the recorded call log.
func (m *MockController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many recorded calls start with prefix.
func (m *MockController) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// StopCount returns how many times Stop was called.
func (m *MockController) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// Position returns the last commanded pose.
func (m *MockController) Position() models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// VacuumOn returns the last commanded vacuum state.
func (m *MockController) VacuumOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vacuumOn
}

// Reset clears the call log and injected failures.
func (m *MockController) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failures = make(map[string]int)
	m.stopCount = 0
}

// Ensure MockController implements robot.Controller
var _ robot.Controller = (*MockController)(nil)

// MockSpeedManager records every speed setting. It satisfies the
// engine's SpeedManager interface.
type MockSpeedManager struct {
	mu     sync.Mutex
	speeds []int
}

// NewMockSpeedManager creates an empty speed recorder.
func NewMockSpeedManager() *MockSpeedManager {
	return &MockSpeedManager{}
}

func (m *MockSpeedManager) SetSpeed(percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speeds = append(m.speeds, percent)
}

// Speeds returns a copy of every speed set so far.
func (m *MockSpeedManager) Speeds() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.speeds))
	copy(out, m.speeds)
	return out
}

// LastSpeed returns the most recent speed, or 0 if none was set.
func (m *MockSpeedManager) LastSpeed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.speeds) == 0 {
		return 0
	}
	return m.speeds[len(m.speeds)-1]
}
