// Package webrtc realises the WebRTC-data-channel leg of the Transport
// Strategy (C13, D1) on top of pion/webrtc, plus the Manager-side
// bidirectional session used by the Connection Manager (C6). Signaling
// (offer/answer/ICE-candidate exchange) rides a gorilla/websocket
// connection to a signaling endpoint; the signaling server itself is an
// external collaborator, out of scope (spec §1).
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"teleop-go/internal/connmanager"
	"teleop-go/internal/transport"
)

// signalMessage mirrors the signaling wire shape: an SDP exchange plus
// trickled ICE candidates, all multiplexed over one websocket.
type signalMessage struct {
	Type      string                     `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	ConnID    string                     `json:"connection_id,omitempty"`
	ChannelID string                     `json:"channel_id,omitempty"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
}

func init() {
	transport.Register("webrtc", newBridgeTransport)
}

// session wraps the shared pion/webrtc + signaling plumbing used by both
// the Bridge-side Transport and the Manager-side connmanager.Session.
type session struct {
	log *slog.Logger

	cfg transport.Config

	ws *websocket.Conn
	pc *webrtc.PeerConnection

	closed atomic.Bool
	mu     sync.Mutex

	ctrlCb func(payload []byte)
}

func dial(urls []string) (*websocket.Conn, error) {
	if len(urls) == 0 {
		return nil, errors.New("webrtc: signaling_urls must not be empty")
	}
	var lastErr error
	for _, u := range urls {
		c, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("webrtc: dial signaling: %w", lastErr)
}

// sendJoin announces the channel to rendezvous on, plus any client
// metadata, as the first frame on a freshly dialed signaling socket.
func sendJoin(ws *websocket.Conn, cfg transport.Config) {
	if cfg.ChannelID == "" && len(cfg.Metadata) == 0 {
		return
	}
	b, err := json.Marshal(signalMessage{Type: "join", ChannelID: cfg.ChannelID, Metadata: cfg.Metadata})
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
	return webrtc.NewPeerConnection(cfg)
}

// -----------------------------------------------------------------------
// Bridge-side Transport (C13, D1): one recvonly ctrl channel.
// -----------------------------------------------------------------------

type bridgeTransport struct {
	*session
}

func newBridgeTransport(cfg transport.Config) (transport.Transport, error) {
	return &bridgeTransport{session: &session{
		log: slog.Default().With("component", "transport:webrtc"),
		cfg: cfg,
	}}, nil
}

func (t *bridgeTransport) OnCtrl(cb func(payload []byte)) {
	t.mu.Lock()
	t.ctrlCb = cb
	t.mu.Unlock()
}

func (t *bridgeTransport) Connect(ctx context.Context) error {
	if len(t.cfg.SignalingURLs) == 0 {
		return errors.New("webrtc: signaling_urls must not be empty")
	}

	ws, err := dial(t.cfg.SignalingURLs)
	if err != nil {
		return err
	}
	sendJoin(ws, t.cfg)
	pc, err := newPeerConnection()
	if err != nil {
		_ = ws.Close()
		return err
	}

	t.mu.Lock()
	t.ws, t.pc = ws, pc
	t.mu.Unlock()

	connected := make(chan struct{})
	var once sync.Once

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			once.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.teardown()
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.sendSignal(signalMessage{Type: "candidate", Candidate: &init})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != t.cfg.CtrlLabel {
			return
		}
		t.log.Info("ctrl channel ready", "label", dc.Label())
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			t.handleCtrlFrame(msg.Data)
		})
	})

	go t.readSignal()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		t.teardown()
		return transport.ErrTimeout
	}
}

func (t *bridgeTransport) handleCtrlFrame(data []byte) {
	var env struct {
		Type string `json:"type"`
		T    string `json:"t"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.log.Warn("ctrl frame not valid JSON; dropping")
		return
	}
	kind := env.Type
	if kind == "" {
		kind = env.T
	}
	switch kind {
	case "cmd", "ctrl":
	default:
		return // hb and anything else are not ctrl frames on this label
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
		cb(data)
	}()
}

func (t *bridgeTransport) readSignal() {
	for {
		t.mu.Lock()
		ws := t.ws
		t.mu.Unlock()
		if ws == nil {
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.teardown()
			return
		}
		var m signalMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		t.mu.Lock()
		pc := t.pc
		t.mu.Unlock()
		if pc == nil {
			return
		}
		switch m.Type {
		case "offer":
			if m.Offer == nil {
				continue
			}
			if err := pc.SetRemoteDescription(*m.Offer); err != nil {
				t.log.Warn("set remote offer failed", "err", err)
				continue
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				continue
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				continue
			}
			t.sendSignal(signalMessage{Type: "answer", Answer: &answer})
		case "candidate":
			if m.Candidate != nil {
				_ = pc.AddICECandidate(*m.Candidate)
			}
		}
	}
}

func (t *bridgeTransport) sendSignal(m signalMessage) {
	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()
	if ws == nil {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

func (t *bridgeTransport) Close() error {
	t.teardown()
	return nil
}

func (t *bridgeTransport) IsClosed() bool { return t.closed.Load() }

func (t *session) teardown() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	pc, ws := t.pc, t.ws
	t.pc, t.ws = nil, nil
	t.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
	if ws != nil {
		_ = ws.Close()
	}
}

// -----------------------------------------------------------------------
// Manager-side Session (C6): a bidirectional ctrl(recvonly)+state(sendonly)
// session, structurally satisfying connmanager.Session.
// -----------------------------------------------------------------------

type managerSession struct {
	*session
	stateLabel string
	stateDC    *webrtc.DataChannel
}

// NewManagerSession builds a connmanager.Session over a WebRTC peer
// connection with the ctrl/state data channels the Connection Manager
// expects.
func NewManagerSession(cfg transport.Config, stateLabel string) connmanager.Session {
	return &managerSession{
		session: &session{
			log: slog.Default().With("component", "connmanager:webrtc"),
			cfg: cfg,
		},
		stateLabel: stateLabel,
	}
}

func (m *managerSession) Connect(ctx context.Context, h connmanager.Handlers) error {
	if len(m.cfg.SignalingURLs) == 0 {
		return errors.New("webrtc: signaling_urls must not be empty")
	}
	ws, err := dial(m.cfg.SignalingURLs)
	if err != nil {
		return err
	}
	sendJoin(ws, m.cfg)
	pc, err := newPeerConnection()
	if err != nil {
		_ = ws.Close()
		return err
	}

	m.mu.Lock()
	m.ws, m.pc = ws, pc
	m.mu.Unlock()

	stateDC, err := pc.CreateDataChannel(m.stateLabel, nil)
	if err != nil {
		_ = ws.Close()
		_ = pc.Close()
		return err
	}
	m.mu.Lock()
	m.stateDC = stateDC
	m.mu.Unlock()
	stateDC.OnOpen(func() { h.OnReady(m.stateLabel) })

	connected := make(chan struct{})
	var once sync.Once

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			once.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.teardown()
			h.OnDisconnect(errors.New("webrtc: connection state " + st.String()))
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		m.sendSignalMgr(signalMessage{Type: "candidate", Candidate: &init})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != m.cfg.CtrlLabel {
			return
		}
		h.OnReady(dc.Label())
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			h.OnMessage(dc.Label(), msg.Data)
		})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	m.sendSignalMgr(signalMessage{Type: "offer", Offer: &offer})

	go m.readSignalMgr(h)

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		m.teardown()
		return transport.ErrTimeout
	}
}

func (m *managerSession) readSignalMgr(h connmanager.Handlers) {
	for {
		m.mu.Lock()
		ws, pc := m.ws, m.pc
		m.mu.Unlock()
		if ws == nil || pc == nil {
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			m.teardown()
			h.OnDisconnect(err)
			return
		}
		var sm signalMessage
		if err := json.Unmarshal(raw, &sm); err != nil {
			continue
		}
		switch sm.Type {
		case "answer":
			if sm.Answer != nil {
				_ = pc.SetRemoteDescription(*sm.Answer)
			}
		case "candidate":
			if sm.Candidate != nil {
				_ = pc.AddICECandidate(*sm.Candidate)
			}
		}
	}
}

func (m *managerSession) sendSignalMgr(msg signalMessage) {
	m.sendSignal(msg)
}

func (m *managerSession) SendLabel(label string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateDC == nil || label != m.stateLabel {
		return errors.New("webrtc: label not ready")
	}
	return m.stateDC.Send(data)
}

func (m *managerSession) Close() error {
	m.teardown()
	return nil
}
