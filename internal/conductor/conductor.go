// Package conductor assembles the Manager's domain components and runs
// its five activities (C9): the Connection Manager, and the physics,
// state, heartbeat, and stats loops. Grounded on
// original_source/server/services/conductor.py for lifecycle shape and on
// the teacher's services/bridge.go Start/Service/Run(ctx) idiom for the Go
// translation.
package conductor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"teleop-go/internal/bus"
	"teleop-go/internal/conductorstate"
	"teleop-go/internal/connmanager"
	"teleop-go/internal/control"
	"teleop-go/internal/dcmanager"
	"teleop-go/internal/loops"
	"teleop-go/internal/msghandler"
	"teleop-go/internal/statelog"
	"teleop-go/internal/statepayload"
	"teleop-go/internal/vehicle"
)

// telemetryQueueLen bounds how many retained/live telemetry messages a
// slow local subscriber (e.g. a future diagnostics endpoint) may lag by
// before the bus starts dropping its oldest buffered message.
const telemetryQueueLen = 16

const (
	stopJoinTimeout = 1 * time.Second
	statePreviewCap = 512
)

// Conductor owns every Manager-side domain component and the five
// goroutines that drive them.
type Conductor struct {
	log        *slog.Logger
	ctrlLabel  string
	stateLabel string

	vehicle   *vehicle.State
	ctrl      *control.Store
	heartbeat *conductorstate.Heartbeat
	estop     *conductorstate.Estop
	stats     *conductorstate.Stats

	dc       *dcmanager.Manager
	conn     *connmanager.Manager
	builder  *statepayload.Builder
	stateLog *statelog.Writer

	telemetry    *bus.Bus
	telemetryPub *bus.Connection

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Conductor wired to the given data-channel labels and
// session factory (typically webrtc.NewManagerSession bound to a
// transport.Config).
func New(log *slog.Logger, ctrlLabel, stateLabel string, newSession connmanager.SessionFactory) *Conductor {
	v := vehicle.New()
	ctrlStore := control.NewStore()
	hb := &conductorstate.Heartbeat{}
	es := &conductorstate.Estop{}
	stats := &conductorstate.Stats{}
	dc := dcmanager.New(ctrlLabel, stateLabel)
	builder := statepayload.NewBuilder(v, ctrlStore, hb, es)
	handler := msghandler.New(log, ctrlLabel, ctrlStore, hb, es, v, stats)
	conn := connmanager.New(log, newSession, dc)
	conn.SetMessageHandler(handler.Handle)

	telemetry := bus.New(telemetryQueueLen)
	telemetryPub := telemetry.NewConnection("conductor")
	conn.SetTelemetry(telemetryPub)

	return &Conductor{
		log:          log,
		ctrlLabel:    ctrlLabel,
		stateLabel:   stateLabel,
		vehicle:      v,
		ctrl:         ctrlStore,
		heartbeat:    hb,
		estop:        es,
		stats:        stats,
		dc:           dc,
		conn:         conn,
		builder:      builder,
		telemetry:    telemetry,
		telemetryPub: telemetryPub,
	}
}

// Telemetry returns the Conductor's telemetry bus, so diagnostics callers
// (e.g. a future HTTP status endpoint) can subscribe to connection-state
// and stats topics without coupling to the Conductor's internals.
func (c *Conductor) Telemetry() *bus.Bus {
	return c.telemetry
}

// SetStateLogWriter taps every published state payload through w in
// addition to sending it over the transport. Call before Start.
func (c *Conductor) SetStateLogWriter(w *statelog.Writer) {
	c.stateLog = w
}

// Start resets the payload builder and launches the five activities.
// Returns once all goroutines are scheduled; it does not block.
func (c *Conductor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.builder.Reset()
	c.conn.Start()

	activities := []func(context.Context){
		c.conn.Run,
		func(ctx context.Context) { loops.PhysicsLoop(ctx, c.ctrl, c.vehicle) },
		func(ctx context.Context) {
			loops.StateLoop(ctx, c.conn, c.dc, c.stateLabel, c.builder, c)
		},
		func(ctx context.Context) { loops.HeartbeatLoop(ctx, c.vehicle, c) },
		func(ctx context.Context) { loops.StatsLoop(ctx, c.log, c.stats, c.telemetryPub) },
	}
	for _, activity := range activities {
		c.wg.Add(1)
		go func(a func(context.Context)) {
			defer c.wg.Done()
			a(runCtx)
		}(activity)
	}
}

// Stop cancels all activities and waits up to stopJoinTimeout for them to
// exit, matching the original's thread.join(timeout=1.0).
func (c *Conductor) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.conn.Shutdown()
	c.dc.Detach()
	c.telemetryPub.Disconnect()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		c.log.Warn("activities did not join within timeout")
	}
}

// TriggerEstop latches the emergency stop locally (e.g. from an operator
// console or watchdog), independent of any inbound message.
func (c *Conductor) TriggerEstop() {
	c.log.Warn("estop triggered locally")
	c.vehicle.Estop()
	c.estop.Trigger()
}

// WaitForever blocks until ctx is cancelled, then stops the conductor.
func (c *Conductor) WaitForever(ctx context.Context) {
	<-ctx.Done()
	c.Stop()
}

// SendState implements loops.Sender: marshal, truncated-preview debug log,
// guarded send, stats accounting.
func (c *Conductor) SendState(payload *statepayload.Payload) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("marshal state payload failed", "err", err)
		return
	}
	if c.stateLog != nil {
		if err := c.stateLog.Write(payload); err != nil {
			c.log.Warn("state log write failed", "err", err)
		}
	}
	if c.log.Enabled(context.Background(), slog.LevelDebug) {
		preview := string(data)
		if len(preview) > statePreviewCap {
			preview = preview[:statePreviewCap] + "...(truncated)"
		}
		c.log.Debug("sending state", "label", c.stateLabel, "size", len(data), "payload", preview)
	}
	if c.conn.SendData(c.stateLabel, data) {
		c.stats.IncStateSent()
	} else {
		c.log.Debug("state send failed", "label", c.stateLabel)
	}
}

// SendHeartbeat implements loops.Sender: a tiny "hb" frame on the state
// label, sent only while the connection is alive.
func (c *Conductor) SendHeartbeat() {
	if !c.conn.ConnectionAlive() {
		return
	}
	data, err := json.Marshal(map[string]any{
		"type":  "hb",
		"role":  "server",
		"t":     time.Now().UnixMilli(),
		"label": c.stateLabel,
	})
	if err != nil {
		return
	}
	c.conn.SendData(c.stateLabel, data)
}
