package vehicle

import (
	"math"
	"testing"
	"time"

	"teleop-go/internal/control"
)

const tick = time.Second / PhysicsRateHz

func freshCtrl(throttle, steer, brake float64, now time.Time) *control.Snapshot {
	return &control.Snapshot{Throttle: throttle, Steer: steer, Brake: brake, ReceivedAt: now}
}

func TestNew_AtRest(t *testing.T) {
	v := New()
	snap := v.Snapshot()
	if snap.X != 0 || snap.Y != 0 || snap.Z != 0 || snap.Vx != 0 || snap.Wz != 0 {
		t.Errorf("expected a vehicle at rest at the origin, got %+v", snap)
	}
}

func TestStep_ThrottleAccelerates(t *testing.T) {
	v := New()
	now := time.Now()
	ctrl := freshCtrl(1.0, 0, 0, now)

	for i := 0; i < 30; i++ {
		now = now.Add(tick)
		v.Step(ctrl, tick, now)
	}

	snap := v.Snapshot()
	if snap.Vx <= 0 {
		t.Errorf("expected forward speed after sustained throttle, got %v", snap.Vx)
	}
	if snap.Vx > MaxSpeed {
		t.Errorf("speed must never exceed MaxSpeed, got %v", snap.Vx)
	}
}

func TestStep_BrakeDecelerates(t *testing.T) {
	v := New()
	now := time.Now()
	fast := freshCtrl(1.0, 0, 0, now)
	for i := 0; i < 60; i++ {
		now = now.Add(tick)
		fast.ReceivedAt = now
		v.Step(fast, tick, now)
	}
	speedBefore := v.Snapshot().Vx
	if speedBefore <= 0 {
		t.Fatalf("setup failed: expected positive speed before braking, got %v", speedBefore)
	}

	braking := freshCtrl(0, 0, 1.0, now)
	for i := 0; i < 60; i++ {
		now = now.Add(tick)
		braking.ReceivedAt = now
		v.Step(braking, tick, now)
	}
	speedAfter := v.Snapshot().Vx
	if speedAfter >= speedBefore {
		t.Errorf("expected braking to reduce speed: before=%v after=%v", speedBefore, speedAfter)
	}
}

func TestStep_EstopZeroesVelocityAndHoldsAtZero(t *testing.T) {
	v := New()
	now := time.Now()
	ctrl := freshCtrl(1.0, 1.0, 0, now)
	for i := 0; i < 30; i++ {
		now = now.Add(tick)
		ctrl.ReceivedAt = now
		v.Step(ctrl, tick, now)
	}
	if v.Snapshot().Vx == 0 {
		t.Fatal("setup failed: expected nonzero speed before estop")
	}

	v.Estop()
	snap := v.Snapshot()
	if snap.Vx != 0 || snap.Wz != 0 || !snap.EstopActive {
		t.Errorf("expected estop to zero velocity immediately, got %+v", snap)
	}

	now = now.Add(tick)
	ctrl.ReceivedAt = now
	v.Step(ctrl, tick, now)
	if v.Snapshot().Vx != 0 {
		t.Error("expected throttle to have no effect while estop is latched")
	}
}

func TestClearEstop_DoesNotRestartMotion(t *testing.T) {
	v := New()
	v.Estop()
	v.ClearEstop()
	if v.EstopActive() {
		t.Error("expected estop latch cleared")
	}
	if v.Snapshot().Vx != 0 {
		t.Error("clearing estop must not itself restart motion")
	}
}

func TestStep_NoControlDecaysToRest(t *testing.T) {
	v := New()
	now := time.Now()
	ctrl := freshCtrl(1.0, 0, 0, now)
	for i := 0; i < 60; i++ {
		now = now.Add(tick)
		ctrl.ReceivedAt = now
		v.Step(ctrl, tick, now)
	}
	moving := v.Snapshot().Vx
	if moving <= 0 {
		t.Fatal("setup failed: expected positive speed")
	}

	for i := 0; i < 600; i++ {
		now = now.Add(tick)
		v.Step(nil, tick, now)
	}
	if v.Snapshot().Vx != 0 {
		t.Errorf("expected idle decay to bring speed to exactly zero, got %v", v.Snapshot().Vx)
	}
}

func TestStep_StaleControlDecaysTowardZero(t *testing.T) {
	v := New()
	now := time.Now()
	ctrl := freshCtrl(1.0, 0.5, 0, now)
	v.Step(ctrl, tick, now.Add(tick))

	// Advance past CtrlHoldSec+CtrlDampSec without refreshing ctrl: the
	// stored snapshot ages out and its effective throttle/steer decay to
	// zero, matching the HeartbeatLoop's own idle definition.
	future := now.Add(time.Duration((CtrlHoldSec + CtrlDampSec + 1) * float64(time.Second)))
	v.Step(ctrl, tick, future)

	snap := v.Snapshot()
	if snap.LastCtrlAge.Seconds() < CtrlHoldSec+CtrlDampSec {
		t.Errorf("expected aged-out ctrl, got age %v", snap.LastCtrlAge)
	}
}

func TestStep_NonPositiveDtClampedToTick(t *testing.T) {
	v := New()
	now := time.Now()
	v.Step(nil, 0, now)
	if v.Snapshot().LastDt != tick {
		t.Errorf("expected non-positive dt to clamp to the fixed tick, got %v", v.Snapshot().LastDt)
	}
	v.Step(nil, -5*time.Second, now)
	if v.Snapshot().LastDt != tick {
		t.Errorf("expected negative dt to clamp to the fixed tick, got %v", v.Snapshot().LastDt)
	}
}

func TestWrapAngle_NormalisesToHalfOpenRange(t *testing.T) {
	cases := []float64{0, math.Pi, -math.Pi, 3 * math.Pi, -3 * math.Pi, 2 * math.Pi}
	for _, in := range cases {
		out := WrapAngle(in)
		if out <= -math.Pi || out > math.Pi {
			t.Errorf("WrapAngle(%v) = %v, want value in (-pi, pi]", in, out)
		}
	}
}
