// Package mqtt realises the MQTT leg of the Transport Strategy (C13, D2)
// on top of eclipse/paho.mqtt.golang, QoS 1 subscribe to a single ctrl
// topic. Grounded on
// original_source/rpi/transport/mqtt_server.py, with the original's
// decode-twice-invoke-twice bug in _on_message deliberately not
// replicated: the payload is decoded and dispatched exactly once.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"teleop-go/internal/transport"
)

func init() {
	transport.Register("mqtt", newTransport)
}

const (
	qos             = 1
	reconnectMinSec = 1
	reconnectMaxSec = 30
)

type mqttTransport struct {
	log    *slog.Logger
	cfg    transport.Config
	client paho.Client

	closed atomic.Bool
	mu     sync.Mutex
	ctrlCb func(payload []byte)
}

func newTransport(cfg transport.Config) (transport.Transport, error) {
	if cfg.MQTTHost == "" {
		return nil, errors.New("mqtt: host must not be empty")
	}
	if cfg.MQTTCtrlTopic == "" {
		return nil, errors.New("mqtt: ctrl topic must not be empty")
	}
	return &mqttTransport{
		log: slog.Default().With("component", "transport:mqtt"),
		cfg: cfg,
	}, nil
}

func (t *mqttTransport) OnCtrl(cb func(payload []byte)) {
	t.mu.Lock()
	t.ctrlCb = cb
	t.mu.Unlock()
}

func (t *mqttTransport) Connect(ctx context.Context) error {
	keepalive := t.cfg.MQTTKeepalive
	if keepalive <= 0 {
		keepalive = 60
	}

	broker := fmt.Sprintf("tcp://%s:%d", t.cfg.MQTTHost, t.cfg.MQTTPort)
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetKeepAlive(time.Duration(keepalive) * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(reconnectMaxSec * time.Second)
	if t.cfg.MQTTUsername != "" || t.cfg.MQTTPassword != "" {
		opts.SetUsername(t.cfg.MQTTUsername)
		opts.SetPassword(t.cfg.MQTTPassword)
	}

	connected := make(chan struct{})
	var once sync.Once
	opts.SetOnConnectHandler(func(c paho.Client) {
		once.Do(func() { close(connected) })
		tok := c.Subscribe(t.cfg.MQTTCtrlTopic, qos, t.onMessage)
		tok.Wait()
		if err := tok.Error(); err != nil {
			t.log.Error("subscribe failed", "topic", t.cfg.MQTTCtrlTopic, "err", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.log.Warn("mqtt connection lost; auto-reconnecting", "err", err)
	})

	t.mu.Lock()
	t.client = paho.NewClient(opts)
	client := t.client
	t.mu.Unlock()

	tok := client.Connect()
	go func() {
		tok.Wait()
	}()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		client.Disconnect(250)
		return transport.ErrTimeout
	}
}

func (t *mqttTransport) onMessage(_ paho.Client, msg paho.Message) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		t.log.Warn("ctrl message not valid JSON; dropping", "topic", msg.Topic())
		return
	}

	t.mu.Lock()
	cb := t.ctrlCb
	t.mu.Unlock()
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("ctrl callback panicked", "recover", r)
			}
		}()
		cb(msg.Payload())
	}()
}

func (t *mqttTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	return nil
}

func (t *mqttTransport) IsClosed() bool { return t.closed.Load() }
