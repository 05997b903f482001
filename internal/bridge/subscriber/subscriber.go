// Package subscriber consumes Manager state payloads on the Bridge and
// drives a velocity.Sink through a command-timeout watchdog (C12).
// Grounded on original_source/rpi/bridge/subscriber.py, including the
// duplicate-seq behavior: a repeated seq still refreshes the watchdog
// clock (treated as a liveness signal on the relay path) without
// re-publishing a velocity tick.
package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"teleop-go/internal/bridge/convert"
	"teleop-go/internal/bridge/velocity"
	"teleop-go/internal/statepayload"
)

const watchdogPollInterval = 100 * time.Millisecond

// Subscriber relays last_ctrl commands from inbound state payloads to a
// velocity.Sink via a convert.Converter, and forces a zero tick when no
// new command has arrived within commandTimeout.
type Subscriber struct {
	log            *slog.Logger
	sink           velocity.Sink
	conv           convert.Converter
	commandTimeout time.Duration

	mu              sync.Mutex
	lastSeq         uint32
	hasLastSeq      bool
	lastPublishWall time.Time
	hasLastPublish  bool
}

// New builds a Subscriber. commandTimeout <= 0 disables the watchdog.
func New(log *slog.Logger, sink velocity.Sink, conv convert.Converter, commandTimeout time.Duration) *Subscriber {
	return &Subscriber{log: log, sink: sink, conv: conv, commandTimeout: commandTimeout}
}

// Run starts the watchdog loop; it returns when ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	ticker := time.NewTicker(watchdogPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkWatchdog()
		}
	}
}

func (s *Subscriber) checkWatchdog() {
	if s.commandTimeout <= 0 {
		return
	}
	s.mu.Lock()
	last := s.lastPublishWall
	has := s.hasLastPublish
	s.mu.Unlock()
	if !has {
		return
	}
	if time.Since(last) >= s.commandTimeout {
		s.log.Warn("no command update; forcing cmd_vel=0", "timeout_sec", s.commandTimeout.Seconds())
		s.sink.PublishZero()
		s.mu.Lock()
		s.hasLastPublish = false
		s.mu.Unlock()
	}
}

// ProcessCtrlPayload decodes a state payload received over the ctrl
// transport and relays its last_ctrl command, deduplicating on seq. A
// duplicate seq still refreshes the watchdog clock without republishing.
func (s *Subscriber) ProcessCtrlPayload(data []byte) {
	var payload statepayload.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.LastCtrl == nil {
		return
	}
	seq := payload.LastCtrl.Seq

	s.mu.Lock()
	if s.hasLastSeq && s.lastSeq == seq {
		s.lastPublishWall = time.Now()
		s.hasLastPublish = true
		s.mu.Unlock()
		return
	}
	s.lastSeq = seq
	s.hasLastSeq = true
	s.mu.Unlock()

	cmd := payload.LastCtrl.Command
	estopActive := !payload.Status.OK
	if payload.Status.Estop != nil && *payload.Status.Estop {
		estopActive = true
	}
	if estopActive {
		s.log.Warn("estop active -> forcing cmd_vel=0")
	}

	linear, angular := s.conv.ToVelocity("", cmd.Throttle, cmd.Steer, cmd.Brake, estopActive)
	s.log.Debug("publishing cmd_vel", "linear", linear, "angular", angular)
	s.sink.Publish(linear, angular)

	s.mu.Lock()
	s.lastPublishWall = time.Now()
	s.hasLastPublish = true
	s.mu.Unlock()
}
