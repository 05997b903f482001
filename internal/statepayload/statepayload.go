// Package statepayload assembles the wire object the State Loop publishes,
// including the idle-coalescing skip logic and the world-z -> wire-y axis
// projection.
package statepayload

import (
	"fmt"
	"time"

	"teleop-go/internal/conductorstate"
	"teleop-go/internal/control"
	"teleop-go/internal/vehicle"
)

// Idle/heartbeat thresholds, seconds.
const (
	IdleStateIntervalSec = 5.0
	HeartbeatIdleSec     = 5.0
)

// Status mirrors the StatusBlock wire shape.
type Status struct {
	OK            bool   `json:"ok"`
	Msg           string `json:"msg"`
	HbAgeMs       *int64 `json:"hb_age_ms,omitempty"`
	CtrlLatencyMs *int64 `json:"ctrl_latency_ms,omitempty"`
	Estop         *bool  `json:"estop,omitempty"`
}

// Pose mirrors the planar {x,y,heading} projection.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Velocity mirrors {linear, angular}.
type Velocity struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Step carries the last physics dt.
type Step struct {
	DtSec float64 `json:"dt_sec"`
}

// Command is the (throttle, steer, brake) triple attached to last_ctrl.
type Command struct {
	Throttle float64 `json:"throttle"`
	Steer    float64 `json:"steer"`
	Brake    float64 `json:"brake"`
}

// LastCtrl mirrors the optional last_ctrl block.
type LastCtrl struct {
	Seq             uint32  `json:"seq"`
	Mode            string  `json:"mode"`
	Command         Command `json:"command"`
	SentAtMs        *int64  `json:"sent_at_ms,omitempty"`
	ManagerRecvAtMs *int64  `json:"manager_recv_at_ms,omitempty"`
	LatencyMs       *int64  `json:"latency_ms,omitempty"`
}

// Timeline mirrors the optional timeline block.
type Timeline struct {
	Seq     uint32 `json:"seq"`
	UISent  *int64 `json:"ui_sent,omitempty"`
	MgrRecv *int64 `json:"mgr_recv,omitempty"`
}

// Payload is the full StatePayload wire object (§3).
type Payload struct {
	Type     string    `json:"type"`
	Seq      uint32    `json:"seq"`
	SentAtMs int64     `json:"sent_at_ms"`
	Pose     Pose      `json:"pose"`
	Velocity Velocity  `json:"velocity"`
	Status   Status    `json:"status"`
	Step     Step      `json:"step"`
	LastCtrl *LastCtrl `json:"last_ctrl,omitempty"`
	Timeline *Timeline `json:"timeline,omitempty"`
}

// Builder is C4: it reads the vehicle, the control store, and the shared
// conductor state to assemble payloads, skipping ticks while idle.
type Builder struct {
	vehicle   *vehicle.State
	ctrl      *control.Store
	heartbeat *conductorstate.Heartbeat
	estop     *conductorstate.Estop

	stateSeq        uint32
	lastIdleEmit    time.Time
	haveLastIdle    bool
	lastTimelineSeq uint32
	haveTimelineSeq bool
}

// NewBuilder wires a payload builder to its sources.
func NewBuilder(v *vehicle.State, ctrl *control.Store, hb *conductorstate.Heartbeat, es *conductorstate.Estop) *Builder {
	return &Builder{vehicle: v, ctrl: ctrl, heartbeat: hb, estop: es}
}

// Reset clears sequence counters and idle-emit bookkeeping; called on
// Conductor start so each session begins at state_seq=1.
func (b *Builder) Reset() {
	b.stateSeq = 0
	b.lastIdleEmit = time.Time{}
	b.haveLastIdle = false
	b.lastTimelineSeq = 0
	b.haveTimelineSeq = false
}

func (b *Builder) nextStateSeq() uint32 {
	b.stateSeq = (b.stateSeq + 1) % (1 << 31)
	return b.stateSeq
}

// Build assembles a payload, or returns nil if this tick should be skipped
// under idle coalescing.
func (b *Builder) Build(nowWall time.Time) *Payload {
	snap := b.vehicle.Snapshot()

	var hbAgeMs *int64
	var hbAgeSec float64
	haveHbAge := false
	if last, ok := b.heartbeat.LastFromUI(); ok {
		hbAgeSec = nowWall.Sub(last).Seconds()
		haveHbAge = true
		ms := int64(hbAgeSec * 1000)
		hbAgeMs = &ms
	}

	ctrlAgeSec := snap.LastCtrlAge.Seconds()
	idle := ctrlAgeSec > IdleStateIntervalSec
	if idle {
		if b.haveLastIdle && nowWall.Sub(b.lastIdleEmit) < IdleStateIntervalSec*time.Second {
			return nil
		}
	}
	b.lastIdleEmit = nowWall
	b.haveLastIdle = true

	status := Status{OK: true, Msg: "ok"}
	if haveHbAge && hbAgeSec > HeartbeatIdleSec {
		status.OK = false
		status.Msg = formatHbAgeMsg(hbAgeSec)
	}
	if snap.EstopActive || b.estop.IsTriggered() {
		status.OK = false
		status.Msg = "estop"
		t := true
		status.Estop = &t
	}
	if haveHbAge {
		status.HbAgeMs = hbAgeMs
	}
	if latencyMs, ok := b.ctrl.LastLatencyMs(); ok {
		status.CtrlLatencyMs = &latencyMs
	}

	payload := &Payload{
		Type:     "state",
		Seq:      b.nextStateSeq(),
		SentAtMs: nowWall.UnixMilli(),
		// Coordinate convention: world z is forward, world x is lateral;
		// the wire projects world-z -> wire-y.
		Pose:     Pose{X: snap.X, Y: snap.Z, Heading: snap.Yaw},
		Velocity: Velocity{Linear: snap.Vx, Angular: snap.Wz},
		Status:   status,
		Step:     Step{DtSec: snap.LastDt.Seconds()},
	}

	if last := b.ctrl.Last(); last != nil {
		var sentAtMs, mgrRecvMs, latencyMs *int64
		if last.HasClientTS {
			v := last.ClientTSMs
			sentAtMs = &v
		}
		if last.HasManagerRecv {
			v := last.ManagerRecvMs
			mgrRecvMs = &v
		}
		if lm, ok := b.ctrl.LastLatencyMs(); ok {
			latencyMs = &lm
		}
		payload.LastCtrl = &LastCtrl{
			Seq:  last.Seq,
			Mode: last.Mode,
			Command: Command{
				Throttle: last.Throttle,
				Steer:    last.Steer,
				Brake:    last.Brake,
			},
			SentAtMs:        sentAtMs,
			ManagerRecvAtMs: mgrRecvMs,
			LatencyMs:       latencyMs,
		}

		if !b.haveTimelineSeq || last.Seq != b.lastTimelineSeq {
			b.lastTimelineSeq = last.Seq
			b.haveTimelineSeq = true
			payload.Timeline = &Timeline{
				Seq:     last.Seq,
				UISent:  sentAtMs,
				MgrRecv: mgrRecvMs,
			}
		}
	}

	return payload
}

func formatHbAgeMsg(ageSec float64) string {
	// "hb age <s>" per §4.3; one decimal place matches the original's f-string.
	return fmt.Sprintf("hb age %.1fs", ageSec)
}
