package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/signaling"
	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// callSession is one media call. Outgoing sessions attach local tracks
// before the offer; inbound sessions hold the remote offer until the user
// answers with local media.
type callSession struct {
	remoteID string
	pc       *webrtc.PeerConnection
	sig      Signaler
	logger   *logrus.Logger

	mu       sync.Mutex
	answered bool

	remote     chan transport.MediaStream
	remoteOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	onClosed   func()
}

func newCallSession(remoteID string, pc *webrtc.PeerConnection, sig Signaler, log *logrus.Logger) *callSession {
	sess := &callSession{
		remoteID: remoteID,
		pc:       pc,
		sig:      sig,
		logger:   log,
		remote:   make(chan transport.MediaStream, 1),
		done:     make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			log.Debugf("Call to %s entered state %s", remoteID, s)
			sess.teardown(false)
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
			Kind:      signaling.KindCallICE,
			To:        remoteID,
			Candidate: string(payload),
		})
		if err != nil {
			log.Warnf("Failed to send call ICE candidate to %s: %v", remoteID, err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debugf("Remote %s track arrived from %s", track.Kind(), remoteID)
		sess.remoteOnce.Do(func() {
			sess.remote <- newRemoteStream()
		})
		go drainTrack(track, sess.done)
	})

	return sess
}

// drainTrack keeps the remote track's RTP queue empty. Rendering taps the
// decoded media outside the core; without a renderer attached the frames
// are discarded.
func drainTrack(track *webrtc.TrackRemote, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func (s *callSession) attachLocal(ls *localStream) error {
	for _, track := range ls.tracks {
		if _, err := s.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}
	return nil
}

// handleRemoteOffer stores the caller's media offer. The answer is not
// produced until the user accepts via Answer.
func (s *callSession) handleRemoteOffer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *callSession) handleRemoteAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *callSession) addCandidate(payload string) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.pc.AddICECandidate(candidate)
}

func (s *callSession) RemoteID() string {
	return s.remoteID
}

// Answer accepts an inbound call with the given local media.
func (s *callSession) Answer(local transport.MediaStream) error {
	ls, ok := local.(*localStream)
	if !ok {
		return fmt.Errorf("unsupported media stream type %T", local)
	}

	s.mu.Lock()
	if s.answered {
		s.mu.Unlock()
		return fmt.Errorf("call already answered")
	}
	s.answered = true
	s.mu.Unlock()

	if err := s.attachLocal(ls); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create call answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	err = s.sig.Send(signaling.Envelope{
		Kind: signaling.KindCallAnswer,
		To:   s.remoteID,
		SDP:  answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("send call answer: %w", err)
	}
	return nil
}

func (s *callSession) RemoteStream() <-chan transport.MediaStream {
	return s.remote
}

func (s *callSession) Done() <-chan struct{} {
	return s.done
}

func (s *callSession) Close() error {
	s.teardown(true)
	return nil
}

// teardown ends the session exactly once. sendHangup distinguishes a
// local hang-up (notify the remote) from reacting to a remote one.
func (s *callSession) teardown(sendHangup bool) {
	s.doneOnce.Do(func() {
		if sendHangup {
			err := s.sig.Send(signaling.Envelope{
				Kind: signaling.KindCallHangup,
				To:   s.remoteID,
			})
			if err != nil {
				s.logger.Debugf("Failed to send hangup to %s: %v", s.remoteID, err)
			}
		}
		_ = s.pc.Close()
		close(s.done)
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}
