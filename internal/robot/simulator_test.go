// simulator_test.go - Tests for the timed motion simulator
package robot

import (
	"testing"
	"time"
)

func createTestSimulator() *Simulator {
	sim := NewSimulator()
	sim.SetTimeScale(1000) // keep simulated travel in the millisecond range
	sim.Connect()
	return sim
}

func TestNewSimulator(t *testing.T) {
	t.Run("starts disconnected at origin", func(t *testing.T) {
		sim := NewSimulator()

		if sim.IsConnected() {
			t.Error("Expected new simulator to be disconnected")
		}

		pos := sim.Position()
		if pos.R != 0 || pos.Theta != 0 || pos.Z != 0 {
			t.Errorf("Expected origin position, got R=%v Theta=%v Z=%v", pos.R, pos.Theta, pos.Z)
		}
	})

	t.Run("connect and disconnect toggle state", func(t *testing.T) {
		sim := NewSimulator()

		sim.Connect()
		if !sim.IsConnected() {
			t.Error("Expected simulator to be connected")
		}

		sim.Disconnect()
		if sim.IsConnected() {
			t.Error("Expected simulator to be disconnected")
		}
	})
}

func TestSimulator_MoveTo(t *testing.T) {
	t.Run("reaches target", func(t *testing.T) {
		sim := createTestSimulator()

		ok := sim.MoveTo(150, 90, 40)
		if !ok {
			t.Fatal("Expected move to succeed")
		}

		pos := sim.Position()
		if pos.R != 150 || pos.Theta != 90 || pos.Z != 40 {
			t.Errorf("Expected R=150 Theta=90 Z=40, got R=%v Theta=%v Z=%v", pos.R, pos.Theta, pos.Z)
		}
	})

	t.Run("rejects move when disconnected", func(t *testing.T) {
		sim := NewSimulator()

		if sim.MoveTo(100, 0, 0) {
			t.Error("Expected move to fail while disconnected")
		}
	})

	t.Run("honors injected failure", func(t *testing.T) {
		sim := createTestSimulator()
		sim.FailNext("move", 1)

		if sim.MoveTo(100, 0, 0) {
			t.Error("Expected injected move failure")
		}

		// Next move should succeed again
		if !sim.MoveTo(100, 0, 0) {
			t.Error("Expected move after injected failure to succeed")
		}
	})

	t.Run("stop interrupts motion", func(t *testing.T) {
		sim := NewSimulator()
		sim.SetTimeScale(50)
		sim.Connect()
		sim.SetSpeed(10)

		result := make(chan bool, 1)
		go func() {
			result <- sim.MoveTo(400, 0, 0)
		}()

		// Let the move get underway, then stop it
		time.Sleep(100 * time.Millisecond)
		sim.Stop()

		select {
		case ok := <-result:
			if ok {
				t.Error("Expected interrupted move to report failure")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Move did not return after stop")
		}

		pos := sim.Position()
		if pos.R <= 0 || pos.R >= 400 {
			t.Errorf("Expected position between start and target, got R=%v", pos.R)
		}
	})
}

func TestSimulator_Home(t *testing.T) {
	t.Run("returns to origin", func(t *testing.T) {
		sim := createTestSimulator()

		if !sim.MoveTo(200, 45, 60) {
			t.Fatal("Setup move failed")
		}
		if !sim.Home() {
			t.Fatal("Expected home to succeed")
		}

		pos := sim.Position()
		if pos.R != 0 || pos.Theta != 0 || pos.Z != 0 {
			t.Errorf("Expected origin after home, got R=%v Theta=%v Z=%v", pos.R, pos.Theta, pos.Z)
		}
	})
}

func TestSimulator_PickPlace(t *testing.T) {
	t.Run("pick grips and place releases", func(t *testing.T) {
		sim := createTestSimulator()

		if !sim.Pick() {
			t.Fatal("Expected pick to succeed")
		}
		if !sim.Status().Gripping {
			t.Error("Expected gripper to be holding after pick")
		}

		if !sim.Place() {
			t.Fatal("Expected place to succeed")
		}
		if sim.Status().Gripping {
			t.Error("Expected gripper to be empty after place")
		}
	})

	t.Run("actuation fails when disconnected", func(t *testing.T) {
		sim := NewSimulator()

		if sim.Pick() {
			t.Error("Expected pick to fail while disconnected")
		}
		if sim.Place() {
			t.Error("Expected place to fail while disconnected")
		}
	})
}

func TestSimulator_SetVacuum(t *testing.T) {
	t.Run("toggles vacuum state", func(t *testing.T) {
		sim := createTestSimulator()

		if !sim.SetVacuum(true) {
			t.Fatal("Expected vacuum on to succeed")
		}
		if !sim.Status().VacuumOn {
			t.Error("Expected vacuum to be on")
		}

		if !sim.SetVacuum(false) {
			t.Fatal("Expected vacuum off to succeed")
		}
		if sim.Status().VacuumOn {
			t.Error("Expected vacuum to be off")
		}
	})
}

func TestSimulator_SetSpeed(t *testing.T) {
	t.Run("clamps to valid range", func(t *testing.T) {
		sim := createTestSimulator()

		sim.SetSpeed(0)
		if got := sim.Status().SpeedPercent; got != 1 {
			t.Errorf("Expected speed clamped to 1, got %d", got)
		}

		sim.SetSpeed(250)
		if got := sim.Status().SpeedPercent; got != 100 {
			t.Errorf("Expected speed clamped to 100, got %d", got)
		}

		sim.SetSpeed(75)
		if got := sim.Status().SpeedPercent; got != 75 {
			t.Errorf("Expected speed 75, got %d", got)
		}
	})
}
