// Package loops runs the Manager's four fixed-rate activities (C8) as
// context-cancellable goroutines: physics, state publish, heartbeat, and
// stats. Grounded on original_source/server/services/loops.py for pacing
// semantics and on the teacher's services/hal loop select idiom for the
// Go context/ticker shape.
package loops

import (
	"context"
	"log/slog"
	"time"

	"teleop-go/internal/bus"
	"teleop-go/internal/conductorstate"
	"teleop-go/internal/control"
	"teleop-go/internal/dcmanager"
	"teleop-go/internal/statepayload"
	"teleop-go/internal/vehicle"
)

// statsTopic is the retained stats-snapshot topic published every
// statsIntervalSec.
var statsTopic = bus.Topic{"stats", "manager"}

// Rates and intervals (spec §4.7).
const (
	PhysicsRateHz = 60.0
	StateRateHz   = 30.0

	HeartbeatActiveSec = 1.0
	HeartbeatIdleSec   = 5.0
	heartbeatPollSec   = 0.1

	statsIntervalSec = 5.0
)

// ConnAlive reports whether a transport session is currently connected.
// Satisfied by *connmanager.Manager.
type ConnAlive interface {
	ConnectionAlive() bool
}

// Sender pushes a built state payload to the ctrl label's sibling state
// channel and sends heartbeats. Implementations live in
// internal/conductor, which owns JSON encoding and the send path.
type Sender interface {
	SendState(payload *statepayload.Payload)
	SendHeartbeat()
}

// PhysicsLoop advances the vehicle model at PhysicsRateHz.
func PhysicsLoop(ctx context.Context, ctrl *control.Store, v *vehicle.State) {
	targetDt := time.Duration(float64(time.Second) / PhysicsRateHz)
	last := time.Now()
	ticker := time.NewTicker(targetDt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			if dt <= 0 {
				dt = targetDt
			}
			last = now
			v.Step(ctrl.Last(), dt, now)
		}
	}
}

// StateLoop publishes vehicle state at StateRateHz while the connection is
// alive and the state label is ready; the Payload Builder's idle
// coalescing may still skip individual ticks.
func StateLoop(ctx context.Context, alive ConnAlive, dc *dcmanager.Manager, stateLabel string, builder *statepayload.Builder, send Sender) {
	targetDt := time.Duration(float64(time.Second) / StateRateHz)
	ticker := time.NewTicker(targetDt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if alive.ConnectionAlive() && dc.IsReady(stateLabel) {
				if payload := builder.Build(now); payload != nil {
					send.SendState(payload)
				}
			}
		}
	}
}

// HeartbeatLoop emits heartbeats to the UI while monitoring control
// activity: a short interval while ctrl is fresh, a longer one once it has
// gone stale past the hold+damp window.
func HeartbeatLoop(ctx context.Context, v *vehicle.State, send Sender) {
	ticker := time.NewTicker(time.Duration(heartbeatPollSec * float64(time.Second)))
	defer ticker.Stop()

	lastSent := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := v.Snapshot()
			ctrlAgeSec := snap.LastCtrlAge.Seconds()
			idle := ctrlAgeSec > vehicle.CtrlHoldSec+vehicle.CtrlDampSec
			interval := HeartbeatActiveSec
			if idle {
				interval = HeartbeatIdleSec
			}
			if now.Sub(lastSent).Seconds() >= interval {
				send.SendHeartbeat()
				lastSent = now
			}
		}
	}
}

// StatsLoop logs lightweight counters every statsIntervalSec for
// diagnostics, grounded on the original's StatLoop, and republishes the
// same snapshot onto the telemetry bus (retained) for any local listener.
// pub may be nil, in which case only the log line is emitted.
func StatsLoop(ctx context.Context, log *slog.Logger, stats *conductorstate.Stats, pub *bus.Connection) {
	ticker := time.NewTicker(time.Duration(statsIntervalSec * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := stats.Snapshot()
			log.Debug("stats", "ctrl_recv", snap.CtrlRecv, "ctrl_drop", snap.CtrlDrop, "state_sent", snap.StateSent)
			if pub != nil {
				pub.Publish(statsTopic, map[string]any{
					"ctrl_recv":  snap.CtrlRecv,
					"ctrl_drop":  snap.CtrlDrop,
					"state_sent": snap.StateSent,
				}, true)
			}
		}
	}
}
