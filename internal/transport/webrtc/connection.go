package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/signaling"
)

// connection is one data link over an ordered data channel.
type connection struct {
	remoteID    string
	pc          *webrtc.PeerConnection
	sig         Signaler
	logger      *logrus.Logger
	isInitiator bool

	mu sync.Mutex
	dc *webrtc.DataChannel

	ready     chan struct{}
	readyOnce sync.Once
	recv      chan []byte
	recvOnce  sync.Once
	onOpen    func()
	onClosed  func()
}

func newConnection(remoteID string, pc *webrtc.PeerConnection, sig Signaler, log *logrus.Logger, isInitiator bool) *connection {
	conn := &connection{
		remoteID:    remoteID,
		pc:          pc,
		sig:         sig,
		logger:      log,
		isInitiator: isInitiator,
		ready:       make(chan struct{}),
		recv:        make(chan []byte, 256),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			log.Debugf("Connection to %s entered state %s", remoteID, s)
			conn.closeRecv()
		}
	})

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			return
		}
		payload, err := json.Marshal(ice.ToJSON())
		if err != nil {
			return
		}
		err = sig.Send(signaling.Envelope{
			Kind:      signaling.KindConnICE,
			To:        remoteID,
			Candidate: string(payload),
		})
		if err != nil {
			log.Warnf("Failed to send ICE candidate to %s: %v", remoteID, err)
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	ordered := true
	dc, err := c.pc.CreateDataChannel("chat", &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Debugf("Data channel to %s open", c.remoteID)
		c.readyOnce.Do(func() { close(c.ready) })
		if c.onOpen != nil {
			c.onOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.recv <- msg.Data:
		default:
			c.logger.Warnf("Dropping payload from %s: receive buffer full", c.remoteID)
		}
	})

	dc.OnError(func(err error) {
		c.logger.Debugf("Data channel error from %s: %v", c.remoteID, err)
	})

	dc.OnClose(func() {
		c.logger.Debugf("Data channel to %s closed", c.remoteID)
		c.closeRecv()
	})
}

// handleRemoteOffer applies the initiator's offer and answers it.
func (c *connection) handleRemoteOffer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	err = c.sig.Send(signaling.Envelope{
		Kind: signaling.KindConnAnswer,
		To:   c.remoteID,
		SDP:  answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

func (c *connection) handleRemoteAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *connection) addCandidate(payload string) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(candidate)
}

// closeRecv closes the receive channel exactly once and notifies the
// transport so the connection stops being tracked.
func (c *connection) closeRecv() {
	c.recvOnce.Do(func() {
		close(c.recv)
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *connection) RemoteID() string {
	return c.remoteID
}

func (c *connection) Ready() <-chan struct{} {
	return c.ready
}

func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.Send(data)
}

func (c *connection) Recv() <-chan []byte {
	return c.recv
}

func (c *connection) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	err := c.pc.Close()
	c.closeRecv()
	return err
}
