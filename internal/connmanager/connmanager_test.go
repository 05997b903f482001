package connmanager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sony/gobreaker"

	"teleop-go/internal/dcmanager"
)

type fakeSession struct {
	connectErr error
}

func (f *fakeSession) Connect(ctx context.Context, h Handlers) error { return f.connectErr }
func (f *fakeSession) SendLabel(label string, data []byte) error     { return nil }
func (f *fakeSession) Close() error                                  { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *Manager {
	dc := dcmanager.New("ctrl", "state")
	return New(testLogger(), func() Session { return &fakeSession{} }, dc)
}

func TestIsCurrent_DistinguishesSessionsByIdentity(t *testing.T) {
	m := newTestManager()
	a := &fakeSession{}
	b := &fakeSession{}

	m.setCurrent(a)
	if !m.isCurrent(a) {
		t.Error("expected the just-set session to be current")
	}
	if m.isCurrent(b) {
		t.Error("expected a different session instance to not be current")
	}
}

func TestIsCurrent_RejectsStaleAfterReplacement(t *testing.T) {
	m := newTestManager()
	oldSess := &fakeSession{}
	newSess := &fakeSession{}

	m.setCurrent(oldSess)
	m.setCurrent(newSess)

	if m.isCurrent(oldSess) {
		t.Error("expected the superseded session to no longer be current")
	}
	if !m.isCurrent(newSess) {
		t.Error("expected the replacement session to be current")
	}
}

func TestTeardown_OnlyClearsCurrentIfMatching(t *testing.T) {
	m := newTestManager()
	a := &fakeSession{}
	b := &fakeSession{}
	m.setCurrent(a)

	// Tearing down a stale session must not clear the current one.
	m.teardown(b)
	if !m.isCurrent(a) {
		t.Error("teardown of a non-current session must not clear the current session")
	}

	m.teardown(a)
	if m.isCurrent(a) {
		t.Error("teardown of the current session must clear it")
	}
}

func TestConnectionAlive_ReflectsSetAlive(t *testing.T) {
	m := newTestManager()
	if m.ConnectionAlive() {
		t.Error("expected not alive before any connection")
	}
	m.setAlive(true)
	if !m.ConnectionAlive() {
		t.Error("expected alive after setAlive(true)")
	}
	m.setAlive(false)
	if m.ConnectionAlive() {
		t.Error("expected not alive after setAlive(false)")
	}
}

func TestMessageHandler_DispatchesToRegisteredCallback(t *testing.T) {
	m := newTestManager()
	var gotLabel string
	var gotData []byte
	m.SetMessageHandler(func(label string, data []byte) {
		gotLabel, gotData = label, data
	})

	m.onMessage("ctrl", []byte("hello"))
	if gotLabel != "ctrl" || string(gotData) != "hello" {
		t.Errorf("expected dispatch to registered handler, got label=%q data=%q", gotLabel, gotData)
	}
}

func TestMessageHandler_NoopWithoutRegisteredCallback(t *testing.T) {
	m := newTestManager()
	// Must not panic.
	m.onMessage("ctrl", []byte("hello"))
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	m := newTestManager()
	failing := errors.New("connect refused")

	var lastErr error
	for i := 0; i < breakerThreshold; i++ {
		_, lastErr = m.breaker.Execute(func() (any, error) { return nil, failing })
	}
	if lastErr != failing {
		t.Fatalf("expected the threshold-th failure to surface the real error, got %v", lastErr)
	}

	calls := 0
	_, err := m.breaker.Execute(func() (any, error) { calls++; return nil, failing })
	if err != gobreaker.ErrOpenState {
		t.Errorf("expected ErrOpenState once the breaker has tripped, got %v", err)
	}
	if calls != 0 {
		t.Error("expected the wrapped function to not run once the breaker is open")
	}
}
