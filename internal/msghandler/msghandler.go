// Package msghandler decodes and dispatches inbound data-channel/MQTT
// frames on the Manager side (C7). Grounded on
// original_source/server/services/conductor_handlers.py
// DataChannelMessageHandler, with one deliberate correction: an unknown
// preset string is logged and dropped rather than crashing the dispatch
// (the original indexes the preset table without a presence check).
package msghandler

import (
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"teleop-go/internal/conductorstate"
	"teleop-go/internal/control"
	"teleop-go/internal/manager"
	"teleop-go/internal/mathx"
	"teleop-go/internal/vehicle"
)

const defaultMode = "arcade"

// envelope is the minimal shape every inbound frame is probed against
// before full decode. The wire field "t" is overloaded: clients send it
// both as a message-type alias ("t":"cmd") and, per
// original_source/server/services/conductor_handlers.py, as a client
// timestamp fallback ("t":1700000000123). RawT is decoded twice against
// that same field to recover whichever shape is actually present.
type envelope struct {
	Type    string          `json:"type"`
	RawT    json.RawMessage `json:"t"`
	Seq     *uint32         `json:"seq"`
	Command json.RawMessage `json:"command"`
	Cmd     *cmdBlock       `json:"cmd"`
	SentMs  *float64        `json:"sent_at_ms"`
	Ts      *float64        `json:"ts"`
}

// typeAlias returns the "t" field interpreted as the message-type alias,
// or "" if it isn't a JSON string.
func (e envelope) typeAlias() string {
	var s string
	if len(e.RawT) == 0 {
		return ""
	}
	if err := json.Unmarshal(e.RawT, &s); err != nil {
		return ""
	}
	return s
}

// timestampAlias returns the "t" field interpreted as the client
// timestamp fallback, or (0, false) if it isn't a JSON number.
func (e envelope) timestampAlias() (float64, bool) {
	var f float64
	if len(e.RawT) == 0 {
		return 0, false
	}
	if err := json.Unmarshal(e.RawT, &f); err != nil {
		return 0, false
	}
	return f, true
}

type cmdBlock struct {
	Throttle float64 `json:"throttle"`
	Steer    float64 `json:"steer"`
	Brake    float64 `json:"brake"`
	Mode     string  `json:"mode"`
}

// Handler is C7: parse-and-dispatch over the shared Manager state.
type Handler struct {
	log       *slog.Logger
	ctrlLabel string

	ctrl      *control.Store
	heartbeat *conductorstate.Heartbeat
	estop     *conductorstate.Estop
	vehicle   *vehicle.State
	stats     *conductorstate.Stats
}

// New builds a Message Handler bound to the given ctrl label and shared
// Manager components.
func New(log *slog.Logger, ctrlLabel string, ctrl *control.Store, hb *conductorstate.Heartbeat, es *conductorstate.Estop, v *vehicle.State, stats *conductorstate.Stats) *Handler {
	return &Handler{
		log:       log,
		ctrlLabel: ctrlLabel,
		ctrl:      ctrl,
		heartbeat: hb,
		estop:     es,
		vehicle:   v,
		stats:     stats,
	}
}

// Handle decodes and dispatches one inbound frame.
func (h *Handler) Handle(label string, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.log.Warn("drop malformed json", "label", label)
		return
	}
	msgType := env.Type
	if msgType == "" {
		msgType = env.typeAlias()
	}
	norm := strings.ToLower(msgType)

	switch {
	case (norm == "cmd" || norm == "ctrl") && label == h.ctrlLabel:
		h.handleCtrl(env)
	case norm == "hb":
		h.handleHeartbeat()
	case norm == "estop":
		h.handleEstop()
	default:
		h.log.Debug("ignore message", "type", msgType, "label", label, "expected_ctrl", h.ctrlLabel)
	}
}

func (h *Handler) handleCtrl(env envelope) {
	if env.Seq == nil {
		h.log.Warn("ctrl without seq; dropping")
		return
	}

	throttle, steer, brake := 0.0, 0.0, 0.0
	mode := defaultMode

	var presetName string
	if len(env.Command) > 0 && env.Command[0] == '"' {
		_ = json.Unmarshal(env.Command, &presetName)
	}

	if presetName != "" {
		preset, ok := manager.LookupPreset(presetName)
		if !ok {
			h.log.Warn("unknown command preset; dropping", "command", presetName)
			return
		}
		throttle = mathx.Clamp(preset.Throttle, -1.0, 1.0)
		steer = mathx.Clamp(preset.Steer, -1.0, 1.0)
		brake = mathx.Clamp(preset.Brake, 0.0, 1.0)
		if preset.Mode != "" {
			mode = preset.Mode
		}
	} else if env.Cmd != nil {
		throttle = mathx.Clamp(env.Cmd.Throttle, -1.0, 1.0)
		steer = mathx.Clamp(env.Cmd.Steer, -1.0, 1.0)
		brake = mathx.Clamp(env.Cmd.Brake, 0.0, 1.0)
		if env.Cmd.Mode != "" {
			mode = env.Cmd.Mode
		}
	}

	if brake >= 0.99 && math.Abs(throttle) > 1e-3 {
		h.log.Debug("brake override detected, clearing throttle")
		throttle = 0
	}

	nowMono := time.Now()
	nowWall := time.Now()

	var clientTSMs int64
	hasClientTS := false
	switch {
	case env.SentMs != nil:
		clientTSMs = int64(*env.SentMs)
		hasClientTS = true
	case env.Ts != nil:
		clientTSMs = int64(*env.Ts)
		hasClientTS = true
	default:
		if v, ok := env.timestampAlias(); ok {
			clientTSMs = int64(v)
			hasClientTS = true
		}
	}

	var latencyMs int64
	hasLatency := false
	if hasClientTS {
		latencyMs = nowWall.UnixMilli() - clientTSMs
		hasLatency = true
	}
	managerRecvMs := nowWall.UnixMilli()

	snapshot := &control.Snapshot{
		Seq:            *env.Seq,
		Throttle:       throttle,
		Steer:          steer,
		Brake:          brake,
		Mode:           mode,
		ReceivedAt:     nowMono,
		ClientTSMs:     clientTSMs,
		ManagerRecvMs:  managerRecvMs,
		HasClientTS:    hasClientTS,
		HasManagerRecv: true,
	}

	if !h.ctrl.UpdateIfNew(snapshot, latencyMs, hasLatency, nowWall) {
		h.stats.IncCtrlDrop()
		h.log.Debug("drop stale ctrl", "seq", *env.Seq)
		return
	}
	h.stats.IncCtrlRecv()
}

func (h *Handler) handleHeartbeat() {
	h.heartbeat.MarkFromUI(time.Now())
}

func (h *Handler) handleEstop() {
	h.log.Warn("estop requested via data channel")
	h.vehicle.Estop()
	h.estop.Trigger()
}
