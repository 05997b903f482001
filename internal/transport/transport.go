// Package transport defines the Transport Strategy capability set (C13):
// a uniform interface over WebRTC-data-channel and MQTT realisations, plus
// a name -> factory registry so a binary can pick one by configuration at
// startup (grounded on the teacher's services/bridge.go RegisterTransport
// idiom).
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTimeout is returned by Connect when the session does not reach a
// ready state within its configured deadline.
var ErrTimeout = errors.New("transport: connect timeout")

// Transport is the capability set both the WebRTC and MQTT realisations
// implement: register a ctrl callback, connect, close (idempotently), and
// report closed state.
type Transport interface {
	// OnCtrl registers the callback invoked for every accepted ctrl frame.
	// Must be called before Connect; only one callback is supported.
	OnCtrl(cb func(payload []byte))
	// Connect opens the session. May fail with ErrTimeout.
	Connect(ctx context.Context) error
	// Close tears the session down. Idempotent.
	Close() error
	// IsClosed reports whether Close has been called or the session died.
	IsClosed() bool
}

// Config is the union of settings either realisation may need. Unused
// fields for a given transport type are ignored.
type Config struct {
	Type string // "webrtc" or "mqtt"

	// WebRTC settings.
	SignalingURLs []string
	ChannelID     string
	CtrlLabel     string
	Metadata      map[string]any

	// MQTT settings.
	MQTTHost      string
	MQTTPort      int
	MQTTCtrlTopic string
	MQTTUsername  string
	MQTTPassword  string
	MQTTKeepalive int
}

// Factory builds a Transport from Config.
type Factory func(cfg Config) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named transport factory. Called from each realisation's
// package init, or explicitly by main, so that main need not import every
// realisation to make the registry non-empty.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// New constructs the transport named by cfg.Type.
func New(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown type %q", cfg.Type)
	}
	return f(cfg)
}
