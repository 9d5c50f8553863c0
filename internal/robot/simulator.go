package robot

import (
	"fmt"
	"sync"
	"time"

	"github.com/wafer-pendant/backend/internal/models"
)

const (
	// baseVelocity is the travel rate in position units per second at
	// 100% speed.
	baseVelocity = 200.0

	// actuationTime is how long gripper and vacuum actuations take.
	actuationTime = 50 * time.Millisecond

	// motionTick is how often an in-flight move updates its position
	// and checks for a stop request.
	motionTick = 5 * time.Millisecond
)

// Simulator implements Controller with time-proportional motion. Travel
// time is derived from straight-line distance and the current speed
// setting, so recipes run against it behave like they would against
// real hardware, just faster.
type Simulator struct {
	mu            sync.RWMutex
	connected     bool
	pos           models.Position
	speed         int
	vacuumOn      bool
	gripping      bool
	moving        bool
	stopRequested bool

	// timeScale divides all simulated durations. Tests raise it to run
	// recipes in milliseconds.
	timeScale float64

	// failures maps an operation name to how many upcoming calls of it
	// should report failure.
	failures map[string]int
}

// NewSimulator creates a disconnected simulator parked at the origin.
func NewSimulator() *Simulator {
	return &Simulator{
		speed:     50,
		timeScale: 1.0,
		failures:  make(map[string]int),
	}
}

// Connect brings the simulated robot online.
func (s *Simulator) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	fmt.Printf("[Simulator] connected at R=%.1f Theta=%.1f Z=%.1f\n", s.pos.R, s.pos.Theta, s.pos.Z)
}

// Disconnect takes the simulated robot offline.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	fmt.Printf("[Simulator] disconnected\n")
}

// IsConnected reports whether the robot is online.
func (s *Simulator) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetSpeed sets the motion speed percentage, clamped to 1-100.
func (s *Simulator) SetSpeed(percent int) {
	if percent < 1 {
		percent = 1
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	s.speed = percent
	s.mu.Unlock()
}

// SetTimeScale divides simulated durations by scale. Values above 1
// speed the simulator up.
func (s *Simulator) SetTimeScale(scale float64) {
	if scale <= 0 {
		scale = 1.0
	}
	s.mu.Lock()
	s.timeScale = scale
	s.mu.Unlock()
}

// FailNext makes the next n calls of the named operation report
// failure. Operation names: move, pick, place, home, vacuum.
func (s *Simulator) FailNext(op string, n int) {
	s.mu.Lock()
	s.failures[op] = n
	s.mu.Unlock()
}

// takeFailure consumes one injected failure for op. Caller holds mu.
func (s *Simulator) takeFailure(op string) bool {
	if s.failures[op] > 0 {
		s.failures[op]--
		return true
	}
	return false
}

// MoveTo drives the robot to the target pose. It blocks for the
// simulated travel time and returns false if the robot is offline, a
// failure was injected, or Stop interrupted the motion.
func (s *Simulator) MoveTo(r, theta, z float64) bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	if s.takeFailure("move") {
		s.mu.Unlock()
		return false
	}
	start := s.pos
	target := models.Position{R: r, Theta: theta, Z: z}
	speed := s.speed
	scale := s.timeScale
	s.moving = true
	s.stopRequested = false
	s.mu.Unlock()

	dist := start.DistanceTo(target)
	dur := time.Duration(dist / (baseVelocity * float64(speed) / 100.0) * float64(time.Second))
	dur = time.Duration(float64(dur) / scale)

	if dur > 0 {
		began := time.Now()
		for {
			remaining := dur - time.Since(began)
			if remaining <= 0 {
				break
			}
			sleep := motionTick
			if remaining < sleep {
				sleep = remaining
			}
			time.Sleep(sleep)

			frac := float64(time.Since(began)) / float64(dur)
			if frac > 1 {
				frac = 1
			}
			s.mu.Lock()
			if s.stopRequested {
				s.pos = lerp(start, target, frac)
				s.moving = false
				s.stopRequested = false
				at := s.pos
				s.mu.Unlock()
				fmt.Printf("[Simulator] motion interrupted at R=%.1f Theta=%.1f Z=%.1f\n", at.R, at.Theta, at.Z)
				return false
			}
			s.pos = lerp(start, target, frac)
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.pos = target
	s.moving = false
	s.mu.Unlock()
	return true
}

// Home drives the robot to the origin pose.
func (s *Simulator) Home() bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	if s.takeFailure("home") {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.MoveTo(0, 0, 0)
}

// Pick actuates the gripper to lift a wafer.
func (s *Simulator) Pick() bool {
	return s.actuate("pick", func(s *Simulator) { s.gripping = true })
}

// Place actuates the gripper to release a wafer.
func (s *Simulator) Place() bool {
	return s.actuate("place", func(s *Simulator) { s.gripping = false })
}

// SetVacuum switches the vacuum line on or off.
func (s *Simulator) SetVacuum(on bool) bool {
	return s.actuate("vacuum", func(s *Simulator) { s.vacuumOn = on })
}

func (s *Simulator) actuate(op string, apply func(*Simulator)) bool {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	if s.takeFailure(op) {
		s.mu.Unlock()
		return false
	}
	scale := s.timeScale
	s.mu.Unlock()

	time.Sleep(time.Duration(float64(actuationTime) / scale))

	s.mu.Lock()
	apply(s)
	s.mu.Unlock()
	return true
}

// Stop interrupts the current motion, if any. Safe to call at any time.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moving {
		s.stopRequested = true
		fmt.Printf("[Simulator] stop requested\n")
	}
}

// Position returns the current pose.
func (s *Simulator) Position() models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Status returns a snapshot of the simulator state.
func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connected:    s.connected,
		Position:     s.pos,
		SpeedPercent: s.speed,
		VacuumOn:     s.vacuumOn,
		Gripping:     s.gripping,
		Moving:       s.moving,
	}
}

func lerp(a, b models.Position, t float64) models.Position {
	return models.Position{
		R:     a.R + (b.R-a.R)*t,
		Theta: a.Theta + (b.Theta-a.Theta)*t,
		Z:     a.Z + (b.Z-a.Z)*t,
	}
}

var _ Controller = (*Simulator)(nil)
