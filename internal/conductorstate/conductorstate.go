// Package conductorstate holds the small mutex-guarded state the Conductor
// shares across its five activities: heartbeat liveness, the local estop
// latch, and the recv/drop/sent counters.
package conductorstate

import (
	"sync"
	"time"
)

// Heartbeat tracks the last heartbeat received from the UI.
type Heartbeat struct {
	mu         sync.Mutex
	lastFromUI time.Time
	hasLastHb  bool
}

// MarkFromUI stamps the most recent UI heartbeat time.
func (h *Heartbeat) MarkFromUI(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFromUI = at
	h.hasLastHb = true
}

// LastFromUI returns the last recorded UI heartbeat time and whether one
// has ever been seen.
func (h *Heartbeat) LastFromUI() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFromUI, h.hasLastHb
}

// Estop is the local latch set by an inbound "estop" message or a direct
// trigger, independent of (but always mirrored onto) the vehicle's own
// estop flag.
type Estop struct {
	mu        sync.Mutex
	triggered bool
}

func (e *Estop) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggered = true
}

func (e *Estop) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggered = false
}

func (e *Estop) IsTriggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

// Stats maintains lightweight counters for diagnostics logging.
type Stats struct {
	mu        sync.Mutex
	ctrlRecv  int
	ctrlDrop  int
	stateSent int
}

func (s *Stats) IncCtrlRecv() {
	s.mu.Lock()
	s.ctrlRecv++
	s.mu.Unlock()
}

func (s *Stats) IncCtrlDrop() {
	s.mu.Lock()
	s.ctrlDrop++
	s.mu.Unlock()
}

func (s *Stats) IncStateSent() {
	s.mu.Lock()
	s.stateSent++
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	CtrlRecv  int
	CtrlDrop  int
	StateSent int
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{CtrlRecv: s.ctrlRecv, CtrlDrop: s.ctrlDrop, StateSent: s.stateSent}
}

// Reset zeros all counters. The stats loop does not call it, so the
// counters it logs and publishes accumulate for the process lifetime.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.ctrlRecv, s.ctrlDrop, s.stateSent = 0, 0, 0
	s.mu.Unlock()
}
