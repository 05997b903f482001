// Package velocity defines the motion-stack publishing contract (C11) and
// a logging sink (D3) that stands in for the original's ROS 2 cmd_vel
// publisher. Grounded on original_source/rpi/bridge/publisher.py for the
// idempotent Start/Stop lifecycle, traded for a log-based sink since this
// module carries no ROS dependency.
package velocity

import (
	"log/slog"
	"sync"
	"time"
)

// Sink is the motion-stack publishing contract: start once, publish
// linear/angular velocity ticks, force a hard zero, stop once.
// Implementations must be idempotent across repeated Start/Stop calls.
type Sink interface {
	Start() error
	Publish(linear, angular float64)
	PublishZero()
	Stop() error
}

const logThrottleInterval = 200 * time.Millisecond

// LoggingSink is the D3 realisation: it logs every publish at INFO,
// throttled to at most one line per logThrottleInterval so a steady
// stream of ticks does not flood the log.
type LoggingSink struct {
	log   *slog.Logger
	topic string

	mu       sync.Mutex
	started  bool
	lastLog  time.Time
	haveLast bool
}

// NewLoggingSink returns a Sink that logs what it would have published on
// topic.
func NewLoggingSink(log *slog.Logger, topic string) *LoggingSink {
	return &LoggingSink{log: log, topic: topic}
}

func (s *LoggingSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.log.Info("cmd_vel sink ready", "topic", s.topic)
	return nil
}

func (s *LoggingSink) Publish(linear, angular float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	now := time.Now()
	if s.haveLast && now.Sub(s.lastLog) < logThrottleInterval {
		return
	}
	s.lastLog = now
	s.haveLast = true
	s.log.Info("publishing cmd_vel", "topic", s.topic, "linear", linear, "angular", angular)
}

func (s *LoggingSink) PublishZero() {
	s.Publish(0, 0)
}

func (s *LoggingSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.log.Info("cmd_vel sink stopped", "topic", s.topic)
	return nil
}
