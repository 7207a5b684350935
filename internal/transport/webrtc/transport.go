// Package webrtc implements the transport boundary over Pion WebRTC.
// Data links ride ordered data channels; calls ride media tracks. SDP and
// ICE travel through the signaling channel.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/signaling"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// Signaler is the slice of the signaling client this package needs.
type Signaler interface {
	Send(env signaling.Envelope) error
	Recv() <-chan signaling.Envelope
}

type Options struct {
	LocalID     string
	Signaler    Signaler
	STUNServers []string
	Logger      *logrus.Logger
}

type Transport struct {
	localID string
	sig     Signaler
	logger  *logrus.Logger
	config  webrtc.Configuration

	mu    sync.Mutex
	conns map[string]*connection
	calls map[string]*callSession

	incoming      chan transport.Conn
	incomingCalls chan transport.Call
	done          chan struct{}
	closeOnce     sync.Once
}

func New(opts Options) *Transport {
	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = []string{"stun:stun.l.google.com:19302"}
	}
	iceServers := make([]webrtc.ICEServer, 0, len(stun))
	for _, server := range stun {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	t := &Transport{
		localID: opts.LocalID,
		sig:     opts.Signaler,
		logger:  opts.Logger,
		config: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		conns:         make(map[string]*connection),
		calls:         make(map[string]*callSession),
		incoming:      make(chan transport.Conn, 16),
		incomingCalls: make(chan transport.Call, 4),
		done:          make(chan struct{}),
	}
	go t.dispatchLoop()
	return t
}

func (t *Transport) Connect(ctx context.Context, remoteID string) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	conn := newConnection(remoteID, pc, t.sig, t.logger, true)
	conn.onClosed = func() { t.removeConn(remoteID, conn) }
	t.trackConn(remoteID, conn)

	if err := conn.createDataChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	err = t.sig.Send(signaling.Envelope{
		Kind: signaling.KindConnOffer,
		To:   remoteID,
		SDP:  offer.SDP,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}

	return conn, nil
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) Call(ctx context.Context, remoteID string, local transport.MediaStream) (transport.Call, error) {
	ls, ok := local.(*localStream)
	if !ok {
		return nil, fmt.Errorf("unsupported media stream type %T", local)
	}

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	sess := newCallSession(remoteID, pc, t.sig, t.logger)
	sess.onClosed = func() { t.removeCall(remoteID, sess) }

	if err := sess.attachLocal(ls); err != nil {
		sess.teardown(false)
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		sess.teardown(false)
		return nil, fmt.Errorf("create call offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		sess.teardown(false)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	t.trackCall(remoteID, sess)

	err = t.sig.Send(signaling.Envelope{
		Kind: signaling.KindCallOffer,
		To:   remoteID,
		SDP:  offer.SDP,
	})
	if err != nil {
		sess.teardown(false)
		return nil, fmt.Errorf("send call offer: %w", err)
	}

	return sess, nil
}

func (t *Transport) Incoming() <-chan transport.Call {
	return t.incomingCalls
}

// dispatchLoop routes signaling envelopes to the connection or call they
// belong to, creating responder state for fresh offers.
func (t *Transport) dispatchLoop() {
	for {
		select {
		case <-t.done:
			return
		case env, ok := <-t.sig.Recv():
			if !ok {
				return
			}
			t.dispatch(env)
		}
	}
}

func (t *Transport) dispatch(env signaling.Envelope) {
	switch env.Kind {
	case signaling.KindConnOffer:
		t.handleConnOffer(env)
	case signaling.KindConnAnswer:
		if conn := t.lookupConn(env.From); conn != nil {
			if err := conn.handleRemoteAnswer(env.SDP); err != nil {
				t.logger.Warnf("Failed to apply answer from %s: %v", env.From, err)
			}
		}
	case signaling.KindConnICE:
		if conn := t.lookupConn(env.From); conn != nil {
			if err := conn.addCandidate(env.Candidate); err != nil {
				t.logger.Debugf("Failed to add candidate from %s: %v", env.From, err)
			}
		}
	case signaling.KindCallOffer:
		t.handleCallOffer(env)
	case signaling.KindCallAnswer:
		if sess := t.lookupCall(env.From); sess != nil {
			if err := sess.handleRemoteAnswer(env.SDP); err != nil {
				t.logger.Warnf("Failed to apply call answer from %s: %v", env.From, err)
			}
		}
	case signaling.KindCallICE:
		if sess := t.lookupCall(env.From); sess != nil {
			if err := sess.addCandidate(env.Candidate); err != nil {
				t.logger.Debugf("Failed to add call candidate from %s: %v", env.From, err)
			}
		}
	case signaling.KindCallHangup:
		if sess := t.lookupCall(env.From); sess != nil {
			sess.teardown(false)
		}
	case signaling.KindError:
		t.logger.Debugf("Signaling error: %s", env.Reason)
	default:
		t.logger.Debugf("Ignoring signaling envelope of kind %q", env.Kind)
	}
}

func (t *Transport) handleConnOffer(env signaling.Envelope) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		t.logger.Errorf("Failed to create peer connection for %s: %v", env.From, err)
		return
	}

	conn := newConnection(env.From, pc, t.sig, t.logger, false)
	conn.onClosed = func() { t.removeConn(env.From, conn) }
	conn.onOpen = func() {
		select {
		case t.incoming <- conn:
		case <-t.done:
		}
	}
	t.trackConn(env.From, conn)

	if err := conn.handleRemoteOffer(env.SDP); err != nil {
		t.logger.Warnf("Failed to answer offer from %s: %v", env.From, err)
		conn.Close()
	}
}

func (t *Transport) handleCallOffer(env signaling.Envelope) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		t.logger.Errorf("Failed to create peer connection for call from %s: %v", env.From, err)
		return
	}

	sess := newCallSession(env.From, pc, t.sig, t.logger)
	sess.onClosed = func() { t.removeCall(env.From, sess) }

	if err := sess.handleRemoteOffer(env.SDP); err != nil {
		t.logger.Warnf("Failed to accept call offer from %s: %v", env.From, err)
		sess.teardown(false)
		return
	}

	t.trackCall(env.From, sess)

	select {
	case t.incomingCalls <- sess:
	case <-t.done:
		sess.teardown(false)
	}
}

func (t *Transport) trackConn(remoteID string, conn *connection) {
	t.mu.Lock()
	old := t.conns[remoteID]
	t.conns[remoteID] = conn
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (t *Transport) lookupConn(remoteID string) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[remoteID]
}

// removeConn drops the tracked connection only if it is still the one
// that closed; a replacement registered in the meantime stays.
func (t *Transport) removeConn(remoteID string, conn *connection) {
	t.mu.Lock()
	if t.conns[remoteID] == conn {
		delete(t.conns, remoteID)
	}
	t.mu.Unlock()
}

func (t *Transport) trackCall(remoteID string, sess *callSession) {
	t.mu.Lock()
	old := t.calls[remoteID]
	t.calls[remoteID] = sess
	t.mu.Unlock()
	if old != nil {
		old.teardown(false)
	}
}

func (t *Transport) lookupCall(remoteID string) *callSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[remoteID]
}

func (t *Transport) removeCall(remoteID string, sess *callSession) {
	t.mu.Lock()
	if t.calls[remoteID] == sess {
		delete(t.calls, remoteID)
	}
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conns := t.conns
		calls := t.calls
		t.conns = make(map[string]*connection)
		t.calls = make(map[string]*callSession)
		t.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
		for _, sess := range calls {
			sess.teardown(true)
		}
	})
	return nil
}
