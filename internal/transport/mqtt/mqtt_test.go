package mqtt

import (
	"io"
	"log/slog"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"

	"teleop-go/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessage struct {
	topic   string
	payload []byte
	acked   bool
}

func (f *fakeMessage) Duplicate() bool   { return false }
func (f *fakeMessage) Qos() byte         { return 1 }
func (f *fakeMessage) Retained() bool    { return false }
func (f *fakeMessage) Topic() string     { return f.topic }
func (f *fakeMessage) MessageID() uint16 { return 0 }
func (f *fakeMessage) Payload() []byte   { return f.payload }
func (f *fakeMessage) Ack()              { f.acked = true }

var _ paho.Message = (*fakeMessage)(nil)

func TestNewTransport_RequiresHost(t *testing.T) {
	_, err := newTransport(transport.Config{MQTTCtrlTopic: "aframe/ctrl"})
	if err == nil {
		t.Fatal("expected an error when MQTTHost is empty")
	}
}

func TestNewTransport_RequiresCtrlTopic(t *testing.T) {
	_, err := newTransport(transport.Config{MQTTHost: "broker.local"})
	if err == nil {
		t.Fatal("expected an error when MQTTCtrlTopic is empty")
	}
}

func TestNewTransport_ValidConfigSucceeds(t *testing.T) {
	tr, err := newTransport(transport.Config{MQTTHost: "broker.local", MQTTCtrlTopic: "aframe/ctrl"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a non-nil transport")
	}
}

func TestOnMessage_DispatchesPayloadExactlyOnce(t *testing.T) {
	tr := &mqttTransport{log: testLogger()}
	calls := 0
	var got []byte
	tr.OnCtrl(func(payload []byte) { calls++; got = payload })

	msg := &fakeMessage{topic: "aframe/ctrl", payload: []byte(`{"seq":1}`)}
	tr.onMessage(nil, msg)

	if calls != 1 {
		t.Errorf("expected exactly one dispatch (not the original's decode-twice bug), got %d", calls)
	}
	if string(got) != `{"seq":1}` {
		t.Errorf("unexpected payload forwarded: %q", got)
	}
}

func TestOnMessage_DropsInvalidJSONWithoutDispatch(t *testing.T) {
	tr := &mqttTransport{log: testLogger()}
	calls := 0
	tr.OnCtrl(func(payload []byte) { calls++ })

	tr.onMessage(nil, &fakeMessage{topic: "aframe/ctrl", payload: []byte(`not json`)})
	if calls != 0 {
		t.Error("expected invalid JSON to be dropped without dispatch")
	}
}

func TestOnMessage_NoopWithoutRegisteredCallback(t *testing.T) {
	tr := &mqttTransport{log: testLogger()}
	// Must not panic.
	tr.onMessage(nil, &fakeMessage{topic: "aframe/ctrl", payload: []byte(`{}`)})
}

func TestOnMessage_RecoversFromCallbackPanic(t *testing.T) {
	tr := &mqttTransport{log: testLogger()}
	tr.OnCtrl(func(payload []byte) { panic("boom") })

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected onMessage to recover the callback panic itself, got %v", r)
		}
	}()
	tr.onMessage(nil, &fakeMessage{topic: "aframe/ctrl", payload: []byte(`{}`)})
}
