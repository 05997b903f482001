package statepayload

import (
	"testing"
	"time"

	"teleop-go/internal/conductorstate"
	"teleop-go/internal/control"
	"teleop-go/internal/vehicle"
)

func newFixture() (*Builder, *vehicle.State, *control.Store, *conductorstate.Heartbeat, *conductorstate.Estop) {
	v := vehicle.New()
	ctrl := control.NewStore()
	hb := &conductorstate.Heartbeat{}
	es := &conductorstate.Estop{}
	return NewBuilder(v, ctrl, hb, es), v, ctrl, hb, es
}

func TestBuild_FirstTickIsNeverSkipped(t *testing.T) {
	b, _, _, _, _ := newFixture()
	payload := b.Build(time.Now())
	if payload == nil {
		t.Fatal("expected the first Build call to always produce a payload")
	}
	if payload.Seq != 1 {
		t.Errorf("expected seq to start at 1 after Reset, got %d", payload.Seq)
	}
}

func TestBuild_IdleCoalescing(t *testing.T) {
	b, _, _, _, _ := newFixture()
	now := time.Now()
	b.Build(now) // vehicle starts idle (LastCtrlAge is effectively +Inf), this is the baseline idle emit

	// Within the idle interval, a second call should be coalesced away.
	second := b.Build(now.Add(1 * time.Second))
	if second != nil {
		t.Error("expected a tick within the idle interval to be skipped")
	}

	// After the idle interval has elapsed, a new idle emit is due.
	third := b.Build(now.Add(6 * time.Second))
	if third == nil {
		t.Error("expected a payload once the idle interval has elapsed")
	}
}

func TestBuild_AxisProjection(t *testing.T) {
	b, v, ctrl, _, _ := newFixture()
	now := time.Now()
	ctrl.UpdateIfNew(&control.Snapshot{Seq: 1, Throttle: 1.0, ReceivedAt: now}, 0, false, now)
	for i := 0; i < 30; i++ {
		now = now.Add(time.Second / vehicle.PhysicsRateHz)
		v.Step(ctrl.Last(), time.Second/vehicle.PhysicsRateHz, now)
	}

	payload := b.Build(now)
	if payload == nil {
		t.Fatal("expected a payload while control is active")
	}
	snap := v.Snapshot()
	if payload.Pose.Y != snap.Z {
		t.Errorf("expected wire Pose.Y to carry world Z (forward axis), got Y=%v Z=%v", payload.Pose.Y, snap.Z)
	}
	if payload.Pose.X != snap.X {
		t.Errorf("expected wire Pose.X to carry world X (lateral axis), got X=%v snap.X=%v", payload.Pose.X, snap.X)
	}
}

func TestBuild_StatusDegradesOnStaleHeartbeat(t *testing.T) {
	b, _, _, hb, _ := newFixture()
	now := time.Now()
	hb.MarkFromUI(now.Add(-10 * time.Second)) // older than HeartbeatIdleSec

	payload := b.Build(now)
	if payload == nil {
		t.Fatal("expected a payload")
	}
	if payload.Status.OK {
		t.Error("expected status.ok=false once heartbeat has gone stale")
	}
}

func TestBuild_StatusReflectsEstop(t *testing.T) {
	b, _, _, _, es := newFixture()
	es.Trigger()

	payload := b.Build(time.Now())
	if payload == nil {
		t.Fatal("expected a payload")
	}
	if payload.Status.OK || payload.Status.Estop == nil || !*payload.Status.Estop {
		t.Errorf("expected status to reflect an active estop, got %+v", payload.Status)
	}
}

func TestBuild_TimelineOnlyOnNewSeq(t *testing.T) {
	b, _, ctrl, _, _ := newFixture()
	now := time.Now()
	ctrl.UpdateIfNew(&control.Snapshot{Seq: 1, ReceivedAt: now}, 0, false, now)

	p1 := b.Build(now)
	if p1.Timeline == nil {
		t.Fatal("expected a timeline block on the first sighting of seq 1")
	}

	p2 := b.Build(now.Add(time.Second / vehicle.PhysicsRateHz))
	if p2 != nil && p2.Timeline != nil {
		t.Error("expected no timeline block for a repeated ctrl seq")
	}
}

func TestReset_RestartsSeqAtOne(t *testing.T) {
	b, _, _, _, _ := newFixture()
	now := time.Now()
	b.Build(now)
	b.Build(now.Add(6 * time.Second))

	b.Reset()
	payload := b.Build(now)
	if payload.Seq != 1 {
		t.Errorf("expected seq to restart at 1 after Reset, got %d", payload.Seq)
	}
}
