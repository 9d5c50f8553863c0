package safety

import (
	"fmt"
	"sync"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// Snapshot holds the live plant inputs the interlock rules evaluate
// against. Field names are referenced from rule conditions.
type Snapshot struct {
	DoorClosed     bool    `json:"doorClosed"`
	EStopActive    bool    `json:"eStopActive"`
	VacuumPressure float64 `json:"vacuumPressure"` // kPa
}

// StatusReport is the safety state exposed over the API.
type StatusReport struct {
	Safe       bool     `json:"safe"`
	Limits     Limits   `json:"limits"`
	Status     Snapshot `json:"status"`
	Violations []string `json:"violations"`
}

type compiledInterlock struct {
	name    string
	message string
	program *vm.Program
}

// LimitChecker implements Checker using a configured motion envelope
// and expr-compiled interlock rules.
type LimitChecker struct {
	mu         sync.RWMutex
	limits     Limits
	interlocks []compiledInterlock
	status     Snapshot
	violations []string
}

// NewLimitChecker compiles the rule set and returns a checker. The
// initial plant snapshot is healthy (door closed, e-stop clear, vacuum
// at nominal pressure); callers feed real readings via the setters.
func NewLimitChecker(rules *RuleSet) (*LimitChecker, error) {
	if rules == nil {
		rules = DefaultRules()
	}

	env := map[string]interface{}{"status": Snapshot{}}
	compiled := make([]compiledInterlock, 0, len(rules.Interlocks))
	for _, rule := range rules.Interlocks {
		program, err := expr.Compile(rule.Condition, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("compiling interlock %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledInterlock{
			name:    rule.Name,
			message: rule.Message,
			program: program,
		})
	}

	return &LimitChecker{
		limits:     rules.Limits,
		interlocks: compiled,
		status: Snapshot{
			DoorClosed:     true,
			EStopActive:    false,
			VacuumPressure: 80.0,
		},
	}, nil
}

// SetStatus replaces the plant snapshot wholesale.
func (c *LimitChecker) SetStatus(status Snapshot) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// SetDoorClosed updates the door switch reading.
func (c *LimitChecker) SetDoorClosed(closed bool) {
	c.mu.Lock()
	c.status.DoorClosed = closed
	c.mu.Unlock()
}

// SetEStop updates the emergency stop reading.
func (c *LimitChecker) SetEStop(active bool) {
	c.mu.Lock()
	c.status.EStopActive = active
	c.mu.Unlock()
}

// SetVacuumPressure updates the vacuum line pressure reading.
func (c *LimitChecker) SetVacuumPressure(kpa float64) {
	c.mu.Lock()
	c.status.VacuumPressure = kpa
	c.mu.Unlock()
}

// IsSafeForOperation evaluates every interlock against the current
// snapshot. All must pass.
func (c *LimitChecker) IsSafeForOperation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	env := map[string]interface{}{"status": c.status}
	c.violations = c.violations[:0]

	for _, il := range c.interlocks {
		result, err := expr.Run(il.program, env)
		if err != nil {
			c.violations = append(c.violations, fmt.Sprintf("%s: rule evaluation failed: %v", il.name, err))
			continue
		}
		pass, ok := result.(bool)
		if !ok {
			c.violations = append(c.violations, fmt.Sprintf("%s: rule did not evaluate to a boolean", il.name))
			continue
		}
		if !pass {
			c.violations = append(c.violations, fmt.Sprintf("%s: %s", il.name, il.message))
		}
	}

	if len(c.violations) > 0 {
		for _, v := range c.violations {
			fmt.Printf("[Safety] interlock violation: %s\n", v)
		}
		return false
	}
	return true
}

// IsWithinSoftLimits reports whether the pose lies inside the envelope.
func (c *LimitChecker) IsWithinSoftLimits(r, theta, z float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r < 0 || r > c.limits.RMax {
		return false
	}
	if theta < c.limits.ThetaMin || theta > c.limits.ThetaMax {
		return false
	}
	if z < c.limits.ZMin || z > c.limits.ZMax {
		return false
	}
	return true
}

// Report returns the safety state for status queries. It re-evaluates
// the interlocks so the violation list is current.
func (c *LimitChecker) Report() StatusReport {
	safe := c.IsSafeForOperation()

	c.mu.RLock()
	defer c.mu.RUnlock()
	violations := make([]string, len(c.violations))
	copy(violations, c.violations)

	return StatusReport{
		Safe:       safe,
		Limits:     c.limits,
		Status:     c.status,
		Violations: violations,
	}
}

var _ Checker = (*LimitChecker)(nil)
