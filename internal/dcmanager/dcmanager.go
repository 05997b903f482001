// Package dcmanager tracks per-label data-channel readiness and the
// currently-attached connection handle, guarding both behind one mutex
// (C5).
package dcmanager

import "sync"

// Conn is the minimal surface the Data-Channel Manager needs from a
// transport connection: sending a labeled frame. Connection Manager
// implementations (WebRTC, MQTT) satisfy this.
type Conn interface {
	SendLabel(label string, data []byte) error
}

// Manager tracks readiness of the ctrl and state labels and the currently
// attached connection.
type Manager struct {
	mu         sync.Mutex
	ctrlLabel  string
	stateLabel string
	ready      map[string]bool
	conn       Conn
}

// New returns a Manager for the given ctrl/state labels, both initially
// not-ready and unattached.
func New(ctrlLabel, stateLabel string) *Manager {
	return &Manager{
		ctrlLabel:  ctrlLabel,
		stateLabel: stateLabel,
		ready:      map[string]bool{ctrlLabel: false, stateLabel: false},
	}
}

// Attach binds a new connection and resets both labels to not-ready.
func (m *Manager) Attach(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	m.ready = map[string]bool{m.ctrlLabel: false, m.stateLabel: false}
}

// Detach clears the connection and readiness.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = nil
	m.ready = map[string]bool{m.ctrlLabel: false, m.stateLabel: false}
}

// MarkReady flags label as ready to send, if it is one of the two tracked
// labels.
func (m *Manager) MarkReady(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ready[label]; ok {
		m.ready[label] = true
	}
}

// IsReady reports whether label is currently ready.
func (m *Manager) IsReady(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready[label]
}

// Send writes data to label only if the label is ready and a connection is
// attached; otherwise it drops the send silently and returns false so the
// publisher reschedules on the next tick.
func (m *Manager) Send(label string, data []byte) bool {
	m.mu.Lock()
	conn := m.conn
	ready := m.ready[label]
	m.mu.Unlock()

	if conn == nil || !ready {
		return false
	}
	return conn.SendLabel(label, data) == nil
}

// CtrlLabel and StateLabel expose the configured labels.
func (m *Manager) CtrlLabel() string  { return m.ctrlLabel }
func (m *Manager) StateLabel() string { return m.stateLabel }
