package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wafer-pendant/backend/internal/models"
	"github.com/wafer-pendant/backend/internal/testutil"
)

func newTestExecutor() (*StepExecutor, *testutil.MockController, *testutil.MockSafety, *testutil.MockSpeedManager) {
	controller := testutil.NewMockController()
	checker := testutil.NewMockSafety()
	speed := testutil.NewMockSpeedManager()
	return NewStepExecutor(controller, checker, speed), controller, checker, speed
}

func choreoParams() models.Parameters {
	p := models.DefaultParameters()
	p.SafeHeight = 80
	p.PickHeight = 5
	p.PlaceHeight = 5
	p.PickDelayMs = 10
	p.PlaceDelayMs = 10
	p.CheckSafetyBeforeEachStep = false
	return p
}

func TestSafeMove(t *testing.T) {
	t.Run("rejects position outside soft limits without controller call", func(t *testing.T) {
		x, controller, checker, speed := newTestExecutor()
		checker.SetLimitsFunc(func(r, theta, z float64) bool { return r <= 500 })

		err := x.SafeMove(context.Background(), models.Position{R: 1000, Theta: 0, Z: 10}, 50, false)
		if err == nil {
			t.Fatal("Expected soft limit rejection")
		}
		if controller.CallCount("move") != 0 {
			t.Error("Controller must not be called for a rejected position")
		}
		if len(speed.Speeds()) != 0 {
			t.Error("Speed must not be set for a rejected position")
		}
	})

	t.Run("rejects motion when interlocks fail", func(t *testing.T) {
		x, controller, checker, _ := newTestExecutor()
		checker.SetSafe(false)

		err := x.SafeMove(context.Background(), models.Position{R: 100, Theta: 0, Z: 10}, 50, true)
		if err == nil {
			t.Fatal("Expected interlock rejection")
		}
		if controller.CallCount("move") != 0 {
			t.Error("Controller must not be called when interlocks fail")
		}
	})

	t.Run("skips interlock check when not gated", func(t *testing.T) {
		x, controller, checker, _ := newTestExecutor()
		checker.SetSafe(false)

		err := x.SafeMove(context.Background(), models.Position{R: 100, Theta: 0, Z: 10}, 50, false)
		if err != nil {
			t.Fatalf("Expected ungated move to succeed: %v", err)
		}
		if controller.CallCount("move") != 1 {
			t.Error("Expected one controller move")
		}
	})

	t.Run("sets speed before moving", func(t *testing.T) {
		x, controller, _, speed := newTestExecutor()

		err := x.SafeMove(context.Background(), models.Position{R: 100, Theta: 45, Z: 10}, 75, false)
		if err != nil {
			t.Fatalf("SafeMove failed: %v", err)
		}
		if speed.LastSpeed() != 75 {
			t.Errorf("Expected speed 75, got %d", speed.LastSpeed())
		}
		if got := controller.Calls()[0]; got != "move(100.0,45.0,10.0)" {
			t.Errorf("Unexpected move call: %s", got)
		}
	})

	t.Run("reports controller rejection", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		controller.FailNext("move", 1)

		err := x.SafeMove(context.Background(), models.Position{R: 100, Theta: 0, Z: 10}, 50, false)
		if err == nil {
			t.Error("Expected error when controller rejects the move")
		}
	})

	t.Run("honors cancelled context", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := x.SafeMove(ctx, models.Position{R: 100, Theta: 0, Z: 10}, 50, false); err == nil {
			t.Error("Expected cancellation error")
		}
		if controller.CallCount("move") != 0 {
			t.Error("Controller must not be called after cancellation")
		}
	})
}

func TestMultiMove(t *testing.T) {
	t.Run("visits all waypoints with settle between intermediates", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		waypoints := []models.Position{
			{R: 10, Theta: 0, Z: 10},
			{R: 50, Theta: 30, Z: 10},
			{R: 90, Theta: 60, Z: 10},
		}

		started := time.Now()
		if err := x.MultiMove(context.Background(), waypoints, 50, false); err != nil {
			t.Fatalf("MultiMove failed: %v", err)
		}
		elapsed := time.Since(started)

		if controller.CallCount("move") != 3 {
			t.Errorf("Expected 3 moves, got %d", controller.CallCount("move"))
		}
		// Two intermediate settles of 100ms each
		if elapsed < 180*time.Millisecond {
			t.Errorf("Expected intermediate settles, elapsed only %v", elapsed)
		}
	})

	t.Run("aborts on first failing waypoint", func(t *testing.T) {
		x, controller, checker, _ := newTestExecutor()
		checker.SetLimitsFunc(func(r, theta, z float64) bool { return r < 100 })

		waypoints := []models.Position{
			{R: 10, Theta: 0, Z: 10},
			{R: 50, Theta: 0, Z: 10},
			{R: 150, Theta: 0, Z: 10},
		}

		err := x.MultiMove(context.Background(), waypoints, 50, false)
		if err == nil {
			t.Fatal("Expected failure at the out-of-limits waypoint")
		}
		if !strings.Contains(err.Error(), "waypoint 2") {
			t.Errorf("Expected waypoint index in error, got: %v", err)
		}
		if controller.CallCount("move") != 2 {
			t.Errorf("Expected 2 moves before abort, got %d", controller.CallCount("move"))
		}
	})
}

func TestAdvancedPick(t *testing.T) {
	t.Run("runs the full choreography in order", func(t *testing.T) {
		x, controller, _, speed := newTestExecutor()
		target := models.Position{R: 100, Theta: 45, Z: 20}

		err := x.AdvancedPick(context.Background(), target, 50, choreoParams())
		if err != nil {
			t.Fatalf("AdvancedPick failed: %v", err)
		}

		want := []string{
			"move(100.0,45.0,80.0)", // approach at safe height
			"move(100.0,45.0,35.0)", // clearance above the wafer
			"vacuum(true)",          // pre-charge before descending
			"move(100.0,45.0,15.0)", // descend to grip
			"pick()",
			"move(100.0,45.0,80.0)", // retract
		}
		got := controller.Calls()
		if len(got) != len(want) {
			t.Fatalf("Expected %d calls, got %d: %v", len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Call %d: expected %s, got %s", i, want[i], got[i])
			}
		}

		// Descent is capped at 30% even though the approach runs at 50%
		speeds := speed.Speeds()
		if len(speeds) != 4 {
			t.Fatalf("Expected 4 speed settings, got %v", speeds)
		}
		if speeds[2] != 30 {
			t.Errorf("Expected descent capped at 30, got %d", speeds[2])
		}
		if speeds[0] != 50 || speeds[3] != 50 {
			t.Errorf("Expected approach/retract at 50, got %v", speeds)
		}
	})

	t.Run("skips vacuum phases when disabled", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		p := choreoParams()
		p.UseVacuum = false

		err := x.AdvancedPick(context.Background(), models.Position{R: 100, Theta: 0, Z: 20}, 50, p)
		if err != nil {
			t.Fatalf("AdvancedPick failed: %v", err)
		}
		if controller.CallCount("vacuum") != 0 {
			t.Error("Expected no vacuum calls")
		}
	})

	t.Run("aborts the sequence when vacuum fails", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		controller.FailNext("vacuum", 1)

		err := x.AdvancedPick(context.Background(), models.Position{R: 100, Theta: 0, Z: 20}, 50, choreoParams())
		if err == nil {
			t.Fatal("Expected vacuum failure to abort the pick")
		}
		// Approach and clearance moves happened, the descent did not
		if controller.CallCount("move") != 2 {
			t.Errorf("Expected 2 moves before abort, got %d", controller.CallCount("move"))
		}
		if controller.CallCount("pick") != 0 {
			t.Error("Pick must not actuate after an aborted descent")
		}
	})

	t.Run("aborts when actuation fails", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		controller.FailNext("pick", 1)

		err := x.AdvancedPick(context.Background(), models.Position{R: 100, Theta: 0, Z: 20}, 50, choreoParams())
		if err == nil {
			t.Fatal("Expected pick actuation failure")
		}
		// No retract after the failed actuation
		if controller.CallCount("move") != 3 {
			t.Errorf("Expected 3 moves (no retract), got %d", controller.CallCount("move"))
		}
	})
}

func TestAdvancedPlace(t *testing.T) {
	t.Run("releases vacuum only after actuation and lift-off", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		target := models.Position{R: 100, Theta: 45, Z: 20}

		err := x.AdvancedPlace(context.Background(), target, 50, choreoParams())
		if err != nil {
			t.Fatalf("AdvancedPlace failed: %v", err)
		}

		want := []string{
			"move(100.0,45.0,80.0)", // approach
			"move(100.0,45.0,35.0)", // clearance
			"move(100.0,45.0,15.0)", // descend to release pose
			"place()",
			"move(100.0,45.0,20.0)", // lift 5 units off the wafer
			"vacuum(false)",         // release after lift-off
			"move(100.0,45.0,80.0)", // retract
		}
		got := controller.Calls()
		if len(got) != len(want) {
			t.Fatalf("Expected %d calls, got %d: %v", len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Call %d: expected %s, got %s", i, want[i], got[i])
			}
		}
	})
}

func TestPrecisionPick(t *testing.T) {
	t.Run("descends in fixed increments at reduced speed", func(t *testing.T) {
		x, controller, _, speed := newTestExecutor()
		p := choreoParams()
		p.PickHeight = 0.5

		target := models.Position{R: 100, Theta: 45, Z: 5}
		err := x.PrecisionPick(context.Background(), target, p)
		if err != nil {
			t.Fatalf("PrecisionPick failed: %v", err)
		}

		// Clearance 15.5 down to grip 4.5 in 2.0mm increments:
		// 13.5, 11.5, 9.5, 7.5, 5.5, 4.5 = 6 descent moves
		if got := controller.CallCount("move"); got != 9 {
			t.Fatalf("Expected 9 moves (approach, clearance, 6 descents, retract), got %d: %v", got, controller.Calls())
		}

		calls := controller.Calls()
		if calls[2] != "vacuum(true)" {
			t.Errorf("Expected vacuum pre-charge after clearance, got %s", calls[2])
		}
		if calls[3] != "move(100.0,45.0,13.5)" {
			t.Errorf("Unexpected first descent increment: %s", calls[3])
		}
		if calls[8] != "move(100.0,45.0,4.5)" {
			t.Errorf("Unexpected final descent increment: %s", calls[8])
		}
		if calls[9] != "pick()" {
			t.Errorf("Expected actuation after final increment, got %s", calls[9])
		}

		for i, s := range speed.Speeds() {
			if s != 20 {
				t.Errorf("Speed setting %d: expected 20, got %d", i, s)
			}
		}
	})
}

func TestPrecisionPlace(t *testing.T) {
	t.Run("uses the smaller place increment", func(t *testing.T) {
		x, controller, _, speed := newTestExecutor()
		p := choreoParams()
		p.PlaceHeight = 0.5
		p.UseVacuum = false

		target := models.Position{R: 100, Theta: 0, Z: 5}
		err := x.PrecisionPlace(context.Background(), target, p)
		if err != nil {
			t.Fatalf("PrecisionPlace failed: %v", err)
		}

		// Clearance 15.5 down to 4.5 in 1.5mm increments:
		// 14.0, 12.5, 11.0, 9.5, 8.0, 6.5, 5.0, 4.5 = 8 descent moves
		// plus approach, clearance, lift-off and retract
		if got := controller.CallCount("move"); got != 12 {
			t.Fatalf("Expected 12 moves, got %d: %v", got, controller.Calls())
		}

		for i, s := range speed.Speeds() {
			if s != 15 {
				t.Errorf("Speed setting %d: expected 15, got %d", i, s)
			}
		}
	})
}

func TestHome(t *testing.T) {
	t.Run("sets speed and homes", func(t *testing.T) {
		x, controller, _, speed := newTestExecutor()

		if err := x.Home(context.Background(), 40); err != nil {
			t.Fatalf("Home failed: %v", err)
		}
		if speed.LastSpeed() != 40 {
			t.Errorf("Expected home speed 40, got %d", speed.LastSpeed())
		}
		if controller.CallCount("home") != 1 {
			t.Error("Expected one home call")
		}
	})

	t.Run("reports controller rejection", func(t *testing.T) {
		x, controller, _, _ := newTestExecutor()
		controller.FailNext("home", 1)

		if err := x.Home(context.Background(), 40); err == nil {
			t.Error("Expected home failure")
		}
	})
}

func TestOptimizePath(t *testing.T) {
	t.Run("orders near waypoints before far ones", func(t *testing.T) {
		p1 := models.Position{R: 0, Theta: 0, Z: 0}
		p2 := models.Position{R: 10, Theta: 0, Z: 0}
		p3 := models.Position{R: 100, Theta: 0, Z: 0}

		route := OptimizePath([]models.Position{p3, p1, p2})
		if len(route) != 3 {
			t.Fatalf("Expected 3 waypoints, got %d", len(route))
		}
		if route[0] != p1 || route[1] != p2 || route[2] != p3 {
			t.Errorf("Expected order p1, p2, p3, got %v", route)
		}
	})

	t.Run("measures distance in cartesian space", func(t *testing.T) {
		// Same radius but opposite angles: the point near the previous
		// waypoint in x/y space must come first
		a := models.Position{R: 100, Theta: 0, Z: 0}
		b := models.Position{R: 100, Theta: 90, Z: 0}
		c := models.Position{R: 10, Theta: 45, Z: 0}

		route := OptimizePath([]models.Position{a, b, c})
		if route[0] != c {
			t.Errorf("Expected the nearest waypoint first, got %v", route[0])
		}
	})

	t.Run("handles empty and single inputs", func(t *testing.T) {
		if got := OptimizePath(nil); len(got) != 0 {
			t.Errorf("Expected empty route, got %v", got)
		}

		one := []models.Position{{R: 50, Theta: 0, Z: 10}}
		route := OptimizePath(one)
		if len(route) != 1 || route[0] != one[0] {
			t.Errorf("Expected single waypoint unchanged, got %v", route)
		}
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		input := []models.Position{
			{R: 100, Theta: 0, Z: 0},
			{R: 10, Theta: 0, Z: 0},
		}
		OptimizePath(input)
		if input[0].R != 100 || input[1].R != 10 {
			t.Errorf("Input slice was reordered: %v", input)
		}
	})
}

func TestPathLength(t *testing.T) {
	route := []models.Position{
		{R: 10, Theta: 0, Z: 0},
		{R: 100, Theta: 0, Z: 0},
	}
	total := PathLength(models.Position{}, route)
	if total < 99.9 || total > 100.1 {
		t.Errorf("Expected total distance 100, got %v", total)
	}
}
