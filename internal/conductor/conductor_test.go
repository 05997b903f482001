package conductor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"teleop-go/internal/bus"
	"teleop-go/internal/connmanager"
)

type fakeSession struct{}

func (fakeSession) Connect(ctx context.Context, h connmanager.Handlers) error {
	h.OnReady("#ctrl")
	h.OnReady("#state")
	return nil
}
func (fakeSession) SendLabel(label string, data []byte) error { return nil }
func (fakeSession) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStart_PublishesAliveOnTelemetryBus(t *testing.T) {
	c := New(testLogger(), "#ctrl", "#state", func() connmanager.Session { return fakeSession{} })

	sub := c.Telemetry().NewConnection("test").Subscribe(bus.Topic{"conn", "state"})

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	defer func() {
		cancel()
		c.Stop()
	}()

	select {
	case msg := <-sub.Channel():
		payload, ok := msg.Payload.(map[string]any)
		if !ok || payload["alive"] != true {
			t.Errorf("expected an alive=true telemetry message, got %+v", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the connection to report alive")
	}
}

func TestStop_JoinsActivitiesWithinTimeout(t *testing.T) {
	c := New(testLogger(), "#ctrl", "#state", func() connmanager.Session { return fakeSession{} })
	ctx := context.Background()
	c.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected Stop to return within its join timeout")
	}
}

func TestTriggerEstop_DoesNotPanicAndCanBeFollowedByStop(t *testing.T) {
	c := New(testLogger(), "#ctrl", "#state", func() connmanager.Session { return fakeSession{} })
	ctx := context.Background()
	c.Start(ctx)
	defer c.Stop()

	c.TriggerEstop()
}

func TestSendState_WithoutActiveConnectionDoesNotPanic(t *testing.T) {
	c := New(testLogger(), "#ctrl", "#state", func() connmanager.Session { return fakeSession{} })
	c.SendState(c.builder.Build(time.Now()))
	c.SendHeartbeat()
}
