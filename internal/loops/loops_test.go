package loops

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"teleop-go/internal/bus"
	"teleop-go/internal/conductorstate"
	"teleop-go/internal/control"
	"teleop-go/internal/dcmanager"
	"teleop-go/internal/statepayload"
	"teleop-go/internal/vehicle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAlive struct{ alive bool }

func (f *fakeAlive) ConnectionAlive() bool { return f.alive }

type fakeSender struct {
	stateCalls     int
	heartbeatCalls int
}

func (f *fakeSender) SendState(payload *statepayload.Payload) { f.stateCalls++ }
func (f *fakeSender) SendHeartbeat()                          { f.heartbeatCalls++ }

func TestPhysicsLoop_AdvancesVehicleOverTime(t *testing.T) {
	ctrl := control.NewStore()
	v := vehicle.New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	PhysicsLoop(ctx, ctrl, v)

	snap := v.Snapshot()
	if snap.LastCtrlAge <= 0 {
		t.Error("expected LastCtrlAge to have advanced after running the physics loop")
	}
}

func TestPhysicsLoop_ReturnsPromptlyOnCancel(t *testing.T) {
	ctrl := control.NewStore()
	v := vehicle.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		PhysicsLoop(ctx, ctrl, v)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected PhysicsLoop to return promptly once ctx is already cancelled")
	}
}

func TestStateLoop_SkipsWhenConnectionNotAlive(t *testing.T) {
	v := vehicle.New()
	ctrl := control.NewStore()
	hb := &conductorstate.Heartbeat{}
	es := &conductorstate.Estop{}
	builder := statepayload.NewBuilder(v, ctrl, hb, es)
	dc := dcmanager.New("ctrl", "state")
	dc.MarkReady("state")
	sender := &fakeSender{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	StateLoop(ctx, &fakeAlive{alive: false}, dc, "state", builder, sender)

	if sender.stateCalls != 0 {
		t.Errorf("expected no state sends while connection is not alive, got %d", sender.stateCalls)
	}
}

func TestStateLoop_SkipsWhenLabelNotReady(t *testing.T) {
	v := vehicle.New()
	ctrl := control.NewStore()
	hb := &conductorstate.Heartbeat{}
	es := &conductorstate.Estop{}
	builder := statepayload.NewBuilder(v, ctrl, hb, es)
	dc := dcmanager.New("ctrl", "state") // state label never marked ready
	sender := &fakeSender{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	StateLoop(ctx, &fakeAlive{alive: true}, dc, "state", builder, sender)

	if sender.stateCalls != 0 {
		t.Errorf("expected no state sends while the state label is not ready, got %d", sender.stateCalls)
	}
}

func TestStateLoop_SendsWhenAliveAndReady(t *testing.T) {
	v := vehicle.New()
	ctrl := control.NewStore()
	hb := &conductorstate.Heartbeat{}
	es := &conductorstate.Estop{}
	builder := statepayload.NewBuilder(v, ctrl, hb, es)
	dc := dcmanager.New("ctrl", "state")
	dc.MarkReady("state")
	sender := &fakeSender{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	StateLoop(ctx, &fakeAlive{alive: true}, dc, "state", builder, sender)

	if sender.stateCalls == 0 {
		t.Error("expected at least one state send while alive and ready")
	}
}

func TestHeartbeatLoop_SendsAtActiveIntervalWhileCtrlFresh(t *testing.T) {
	v := vehicle.New()
	ctrl := control.NewStore()
	now := time.Now()
	ctrl.UpdateIfNew(&control.Snapshot{Seq: 1, Throttle: 0.5, ReceivedAt: now}, 0, false, now)
	v.Step(ctrl.Last(), time.Second/vehicle.PhysicsRateHz, now.Add(time.Second/vehicle.PhysicsRateHz))

	sender := &fakeSender{}
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	HeartbeatLoop(ctx, v, sender)

	if sender.heartbeatCalls == 0 {
		t.Error("expected at least one heartbeat to be sent")
	}
}

func TestStatsLoop_PublishesRetainedSnapshotOnBus(t *testing.T) {
	stats := &conductorstate.Stats{}
	stats.IncCtrlRecv()
	stats.IncStateSent()

	b := bus.New(4)
	pub := b.NewConnection("manager")
	sub := b.NewConnection("diag").Subscribe(bus.Topic{"stats", "manager"})

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	StatsLoop(ctx, testLogger(), stats, pub)

	select {
	case msg := <-sub.Channel():
		payload, ok := msg.Payload.(map[string]any)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg.Payload)
		}
		if payload["ctrl_recv"] != 1 {
			t.Errorf("unexpected ctrl_recv in published snapshot: %+v", payload)
		}
		if !msg.Retained {
			t.Error("expected the stats snapshot to be published retained")
		}
	default:
		t.Fatal("expected a stats snapshot to have been published onto the bus")
	}
}

func TestStatsLoop_NilBusConnectionIsHarmless(t *testing.T) {
	stats := &conductorstate.Stats{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Must not panic with a nil bus connection.
	StatsLoop(ctx, testLogger(), stats, nil)
}
