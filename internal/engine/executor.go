package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/robot"
	"github.com/wafer-pendant/backend/internal/safety"
)

// SpeedManager is the global motion speed sink. Implementations clamp
// the percentage to 1-100.
type SpeedManager interface {
	SetSpeed(percent int)
}

const (
	// vacuumPrechargeTime pre-charges suction before descending onto a
	// wafer so the grip does not slip on contact.
	vacuumPrechargeTime = 200 * time.Millisecond

	// contactSettleTime lets the arm damp out before and after gripper
	// actuation.
	contactSettleTime = 100 * time.Millisecond

	// waypointSettleTime is the dwell between intermediate waypoints of
	// a multi-point move.
	waypointSettleTime = 100 * time.Millisecond

	// maxDescentSpeed caps descent toward a wafer regardless of the
	// commanded approach speed.
	maxDescentSpeed = 30

	// clearanceOffset is the extra height above the grip pose used as
	// the final approach staging point.
	clearanceOffset = 10.0

	// placeLiftOffset is how far the arm lifts off a placed wafer
	// before the vacuum releases, so the release never drags it.
	placeLiftOffset = 5.0

	precisionPickIncrement  = 2.0
	precisionPlaceIncrement = 1.5
	precisionPickSpeed      = 20
	precisionPlaceSpeed     = 15
	precisionSettleTime     = 50 * time.Millisecond
)

// StepExecutor is the stateless choreography layer between the engine
// and the robot. Every motion it issues passes a soft-limit gate first.
type StepExecutor struct {
	controller robot.Controller
	safety     safety.Checker
	speed      SpeedManager
}

// NewStepExecutor creates an executor over the injected collaborators.
func NewStepExecutor(controller robot.Controller, checker safety.Checker, speed SpeedManager) *StepExecutor {
	return &StepExecutor{
		controller: controller,
		safety:     checker,
		speed:      speed,
	}
}

// SafeMove gates a single motion through the soft-limit envelope and,
// when gateOperational is set, the interlock check. It fails closed: if
// either check rejects the pose the controller is never called.
func (x *StepExecutor) SafeMove(ctx context.Context, pos models.Position, speedPct int, gateOperational bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !x.safety.IsWithinSoftLimits(pos.R, pos.Theta, pos.Z) {
		return fmt.Errorf("position outside soft limits: R=%.1f Theta=%.1f Z=%.1f", pos.R, pos.Theta, pos.Z)
	}
	if gateOperational && !x.safety.IsSafeForOperation() {
		return fmt.Errorf("safety interlock rejected motion")
	}

	x.speed.SetSpeed(clampSpeed(speedPct))
	if !x.controller.MoveTo(pos.R, pos.Theta, pos.Z) {
		return fmt.Errorf("controller rejected move to R=%.1f Theta=%.1f Z=%.1f", pos.R, pos.Theta, pos.Z)
	}
	return nil
}

// MultiMove runs sequential safe moves, aborting on the first failure,
// with a settle delay between intermediate waypoints. The final
// waypoint gets no settle.
func (x *StepExecutor) MultiMove(ctx context.Context, positions []models.Position, speedPct int, gateOperational bool) error {
	for i, pos := range positions {
		if err := x.SafeMove(ctx, pos, speedPct, gateOperational); err != nil {
			return fmt.Errorf("waypoint %d: %w", i, err)
		}
		if i < len(positions)-1 {
			if err := sleepCtx(ctx, waypointSettleTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// Home sets the homing speed and drives the robot to its home pose.
func (x *StepExecutor) Home(ctx context.Context, speedPct int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.speed.SetSpeed(clampSpeed(speedPct))
	if !x.controller.Home() {
		return fmt.Errorf("controller rejected home")
	}
	return nil
}

// AdvancedPick runs the full pick choreography against target:
// approach at safe height, stage at clearance, pre-charge vacuum,
// slow descent, settle, grip, settle, retract. Any phase failure aborts
// the sequence immediately with no partial commit.
func (x *StepExecutor) AdvancedPick(ctx context.Context, target models.Position, speedPct int, p models.Parameters) error {
	approach := clampSpeed(speedPct)

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("pick approach: %w", err)
	}

	clearance := target.Z + p.PickHeight + clearanceOffset
	if err := x.SafeMove(ctx, target.WithZ(clearance), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("pick clearance: %w", err)
	}

	if p.UseVacuum {
		if !x.controller.SetVacuum(true) {
			return fmt.Errorf("vacuum enable failed")
		}
		if err := sleepCtx(ctx, vacuumPrechargeTime); err != nil {
			return err
		}
	}

	grip := target.Z - p.PickHeight
	if err := x.SafeMove(ctx, target.WithZ(grip), descentSpeed(approach), p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("pick descent: %w", err)
	}

	if err := sleepCtx(ctx, contactSettleTime); err != nil {
		return err
	}
	if !x.controller.Pick() {
		return fmt.Errorf("pick actuation failed")
	}
	if err := sleepCtx(ctx, time.Duration(p.PickDelayMs)*time.Millisecond); err != nil {
		return err
	}

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("pick retract: %w", err)
	}
	return nil
}

// AdvancedPlace mirrors AdvancedPick. The vacuum releases only after
// actuation and a small lift-off, so the wafer is never dragged while
// still held by suction.
func (x *StepExecutor) AdvancedPlace(ctx context.Context, target models.Position, speedPct int, p models.Parameters) error {
	approach := clampSpeed(speedPct)

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("place approach: %w", err)
	}

	clearance := target.Z + p.PlaceHeight + clearanceOffset
	if err := x.SafeMove(ctx, target.WithZ(clearance), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("place clearance: %w", err)
	}

	release := target.Z - p.PlaceHeight
	if err := x.SafeMove(ctx, target.WithZ(release), descentSpeed(approach), p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("place descent: %w", err)
	}

	if err := sleepCtx(ctx, contactSettleTime); err != nil {
		return err
	}
	if !x.controller.Place() {
		return fmt.Errorf("place actuation failed")
	}
	if err := sleepCtx(ctx, time.Duration(p.PlaceDelayMs)*time.Millisecond); err != nil {
		return err
	}

	if err := x.SafeMove(ctx, target.WithZ(release+placeLiftOffset), descentSpeed(approach), p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("place lift-off: %w", err)
	}
	if p.UseVacuum {
		if !x.controller.SetVacuum(false) {
			return fmt.Errorf("vacuum release failed")
		}
	}

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), approach, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("place retract: %w", err)
	}
	return nil
}

// PrecisionPick is AdvancedPick with the single descent replaced by
// stepwise increments at reduced speed, for fragile or warped wafers.
func (x *StepExecutor) PrecisionPick(ctx context.Context, target models.Position, p models.Parameters) error {
	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), precisionPickSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision pick approach: %w", err)
	}

	clearance := target.Z + p.PickHeight + clearanceOffset
	if err := x.SafeMove(ctx, target.WithZ(clearance), precisionPickSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision pick clearance: %w", err)
	}

	if p.UseVacuum {
		if !x.controller.SetVacuum(true) {
			return fmt.Errorf("vacuum enable failed")
		}
		if err := sleepCtx(ctx, vacuumPrechargeTime); err != nil {
			return err
		}
	}

	grip := target.Z - p.PickHeight
	if err := x.stepwiseDescent(ctx, target, clearance, grip, precisionPickIncrement, precisionPickSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision pick descent: %w", err)
	}

	if err := sleepCtx(ctx, contactSettleTime); err != nil {
		return err
	}
	if !x.controller.Pick() {
		return fmt.Errorf("pick actuation failed")
	}
	if err := sleepCtx(ctx, time.Duration(p.PickDelayMs)*time.Millisecond); err != nil {
		return err
	}

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), precisionPickSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision pick retract: %w", err)
	}
	return nil
}

// PrecisionPlace is AdvancedPlace with a stepwise descent.
func (x *StepExecutor) PrecisionPlace(ctx context.Context, target models.Position, p models.Parameters) error {
	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), precisionPlaceSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision place approach: %w", err)
	}

	clearance := target.Z + p.PlaceHeight + clearanceOffset
	if err := x.SafeMove(ctx, target.WithZ(clearance), precisionPlaceSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision place clearance: %w", err)
	}

	release := target.Z - p.PlaceHeight
	if err := x.stepwiseDescent(ctx, target, clearance, release, precisionPlaceIncrement, precisionPlaceSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision place descent: %w", err)
	}

	if err := sleepCtx(ctx, contactSettleTime); err != nil {
		return err
	}
	if !x.controller.Place() {
		return fmt.Errorf("place actuation failed")
	}
	if err := sleepCtx(ctx, time.Duration(p.PlaceDelayMs)*time.Millisecond); err != nil {
		return err
	}

	if err := x.SafeMove(ctx, target.WithZ(release+placeLiftOffset), precisionPlaceSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision place lift-off: %w", err)
	}
	if p.UseVacuum {
		if !x.controller.SetVacuum(false) {
			return fmt.Errorf("vacuum release failed")
		}
	}

	if err := x.SafeMove(ctx, target.WithZ(p.SafeHeight), precisionPlaceSpeed, p.CheckSafetyBeforeEachStep); err != nil {
		return fmt.Errorf("precision place retract: %w", err)
	}
	return nil
}

// stepwiseDescent lowers the arm from fromZ to toZ in fixed increments
// with a settle after each one.
func (x *StepExecutor) stepwiseDescent(ctx context.Context, target models.Position, fromZ, toZ, increment float64, speedPct int, gateOperational bool) error {
	// TODO: gate each increment on the wafer contact sensor once the
	// DIO board exposes that input, instead of descending blind.
	z := fromZ
	for z > toZ {
		z -= increment
		if z < toZ {
			z = toZ
		}
		if err := x.SafeMove(ctx, target.WithZ(z), speedPct, gateOperational); err != nil {
			return err
		}
		if err := sleepCtx(ctx, precisionSettleTime); err != nil {
			return err
		}
	}
	return nil
}

func descentSpeed(approach int) int {
	if approach > maxDescentSpeed {
		return maxDescentSpeed
	}
	return approach
}

func clampSpeed(percent int) int {
	if percent < 1 {
		return 1
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
