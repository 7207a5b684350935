package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/anshalkumar644/Eind-private-chat/internal/transport"
)

// opusSilence is a single 20ms silent Opus frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const sampleInterval = 20 * time.Millisecond

// localStream holds the local capture tracks for one call.
type localStream struct {
	tracks   []*webrtc.TrackLocalStaticSample
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *localStream) StopTracks() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// remoteStream is the handle for media arriving from the remote side. The
// tracks live and die with the call's peer connection, so releasing it is
// a no-op.
type remoteStream struct{}

func newRemoteStream() *remoteStream { return &remoteStream{} }

func (s *remoteStream) StopTracks() {}

// StaticSource is a MediaSource that synthesizes silent audio (and an
// idle video track when requested) instead of opening capture devices.
// It keeps headless endpoints and tests working; a device-backed
// MediaSource can be swapped in without touching the call path.
type StaticSource struct {
	logger *logrus.Logger
}

func NewStaticSource(log *logrus.Logger) *StaticSource {
	return &StaticSource{logger: log}
}

func (s *StaticSource) Acquire(ctx context.Context, video bool) (transport.MediaStream, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "peerchat-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	tracks := []*webrtc.TrackLocalStaticSample{audio}
	if video {
		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "peerchat-video",
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, videoTrack)
	}

	ls := &localStream{
		tracks: tracks,
		stop:   make(chan struct{}),
	}
	go ls.pumpSilence(audio)
	return ls, nil
}

// pumpSilence feeds the audio track until the stream is stopped. Samples
// written before the track is negotiated are discarded by Pion, so the
// pump can start immediately.
func (s *localStream) pumpSilence(audio *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := audio.WriteSample(media.Sample{
				Data:     opusSilence,
				Duration: sampleInterval,
			})
			if err != nil {
				return
			}
		}
	}
}
