// Package connmanager implements the Manager's own transport session
// lifecycle (C6): reconnect state machine, a circuit breaker over the
// reconnect pacing (§4.5 expansion), and the guarded send the publisher
// uses. Grounded on
// original_source/server/services/conductor_connection.py for the state
// machine and on the teacher's services/bridge.go for the Go
// context/backoff idiom.
package connmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"teleop-go/internal/bus"
	"teleop-go/internal/dcmanager"
)

// connStateTopic is the retained connection-state topic published to the
// telemetry bus on every alive/dead transition.
var connStateTopic = bus.Topic{"conn", "state"}

// Handlers are the event callbacks a Session invokes. The Connection
// Manager passes a Handlers value bound to itself so it can validate
// stale-connection callbacks by reference identity.
type Handlers struct {
	OnReady      func(label string)
	OnMessage    func(label string, data []byte)
	OnDisconnect func(err error)
}

// Session is the Manager-side transport session contract: connect (which
// blocks until ready or ctx is done), send a labeled frame, close.
// Implementations live in internal/transport/webrtc (and, for symmetry,
// could live in internal/transport/mqtt for a relay-only deployment).
type Session interface {
	Connect(ctx context.Context, h Handlers) error
	SendLabel(label string, data []byte) error
	Close() error
}

// SessionFactory builds a fresh Session for each reconnect attempt.
type SessionFactory func() Session

const (
	connectTimeout   = 10 * time.Second
	reconnectSleep   = 2 * time.Second
	backoffBase      = 2 * time.Second
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Manager owns the reconnect loop and the currently-live Session.
type Manager struct {
	log     *slog.Logger
	newSess SessionFactory
	dc      *dcmanager.Manager
	breaker *gobreaker.CircuitBreaker

	mu              sync.Mutex
	cur             Session
	connectionAlive bool
	onMessageCb     func(label string, data []byte)
	telemetry       *bus.Connection

	disconnect chan struct{}
	reconnect  chan struct{}
}

// New builds a Connection Manager over the given session factory and
// Data-Channel Manager.
func New(log *slog.Logger, newSess SessionFactory, dc *dcmanager.Manager) *Manager {
	m := &Manager{
		log:        log,
		newSess:    newSess,
		dc:         dc,
		disconnect: make(chan struct{}, 1),
		reconnect:  make(chan struct{}, 1),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connmanager",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("connection breaker state change", "from", from, "to", to)
		},
	})
	return m
}

// Start signals the reconnect loop to begin connecting. Run must be
// running (or about to run) in its own goroutine.
func (m *Manager) Start() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// Run drives the reconnect state machine until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconnect:
		}
		if ctx.Err() != nil {
			return
		}
		m.attemptAndHold(ctx)
	}
}

func (m *Manager) attemptAndHold(ctx context.Context) {
	sess := m.newSess()

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	current := sess
	handlers := Handlers{
		OnReady: func(label string) {
			if !m.isCurrent(current) {
				return
			}
			m.dc.MarkReady(label)
			m.log.Info("data channel ready", "label", label)
		},
		OnMessage: func(label string, data []byte) {
			if !m.isCurrent(current) {
				return
			}
			m.onMessage(label, data)
		},
		OnDisconnect: func(err error) {
			if !m.isCurrent(current) {
				return
			}
			m.log.Warn("session disconnected", "err", err)
			m.setAlive(false)
			select {
			case m.disconnect <- struct{}{}:
			default:
			}
		},
	}

	m.setCurrent(sess)
	m.dc.Attach(sendAdapter{sess})

	_, err := m.breaker.Execute(func() (any, error) {
		return nil, sess.Connect(connCtx, handlers)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			m.log.Warn("connection breaker open; backing off", "cooldown", breakerCooldown)
		} else {
			m.log.Error("connect failed", "err", err)
		}
		m.teardown(sess)
		sleepCtx(ctx, m.reconnectBackoff())
		m.requeue(ctx)
		return
	}

	m.setAlive(true)
	m.log.Info("session connected")

	select {
	case <-ctx.Done():
	case <-m.disconnect:
	}

	m.teardown(sess)
	if ctx.Err() == nil {
		sleepCtx(ctx, m.reconnectBackoff())
		m.requeue(ctx)
	}
}

// reconnectBackoff returns the sleep to apply before the next reconnect
// attempt. Once the breaker has seen consecutive failures it widens past
// the fixed reconnectSleep into a capped exponential backoff (base
// backoffBase, capped at breakerCooldown), mirroring the bridge's own
// connectWithRetry pacing.
func (m *Manager) reconnectBackoff() time.Duration {
	failures := m.breaker.Counts().ConsecutiveFailures
	if failures == 0 {
		return reconnectSleep
	}
	d := backoffBase
	for i := uint32(1); i < failures; i++ {
		d *= 2
		if d >= breakerCooldown {
			return breakerCooldown
		}
	}
	return d
}

func (m *Manager) requeue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

func (m *Manager) onMessage(label string, data []byte) {
	m.mu.Lock()
	cb := m.onMessageCb
	m.mu.Unlock()
	if cb != nil {
		cb(label, data)
	}
}

// SetMessageHandler registers the callback invoked for every inbound
// frame on any label. Must be called before Start.
func (m *Manager) SetMessageHandler(cb func(label string, data []byte)) {
	m.mu.Lock()
	m.onMessageCb = cb
	m.mu.Unlock()
}

// SetTelemetry attaches a bus connection that every alive/dead transition
// is published to, retained, on connStateTopic. Must be called before
// Start.
func (m *Manager) SetTelemetry(conn *bus.Connection) {
	m.mu.Lock()
	m.telemetry = conn
	m.mu.Unlock()
}

func (m *Manager) isCurrent(s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur == s
}

func (m *Manager) setCurrent(s Session) {
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
}

func (m *Manager) teardown(s Session) {
	m.mu.Lock()
	if m.cur == s {
		m.cur = nil
	}
	m.mu.Unlock()
	m.dc.Detach()
	m.setAlive(false)
	_ = s.Close()
}

func (m *Manager) setAlive(v bool) {
	m.mu.Lock()
	m.connectionAlive = v
	telemetry := m.telemetry
	m.mu.Unlock()
	if telemetry != nil {
		telemetry.Publish(connStateTopic, map[string]any{"alive": v}, true)
	}
}

// ConnectionAlive reports whether a session is currently connected.
func (m *Manager) ConnectionAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionAlive
}

// SendData writes a labeled frame through the Data-Channel Manager,
// returning false on any failure so the publisher can discard the tick.
func (m *Manager) SendData(label string, data []byte) bool {
	return m.dc.Send(label, data)
}

// Shutdown tears down any live session and unblocks Run.
func (m *Manager) Shutdown() {
	select {
	case m.disconnect <- struct{}{}:
	default:
	}
	m.mu.Lock()
	cur := m.cur
	m.mu.Unlock()
	if cur != nil {
		_ = cur.Close()
	}
	m.dc.Detach()
}

// sendAdapter satisfies dcmanager.Conn over a Session.
type sendAdapter struct{ s Session }

func (a sendAdapter) SendLabel(label string, data []byte) error {
	return a.s.SendLabel(label, data)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
