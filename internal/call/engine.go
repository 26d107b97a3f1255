package call

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/trustapp/trust-go-api/internal/models"
)

// SignalingState mirrors the negotiation state of the underlying peer
// connection. Only the states the machine guards on are distinguished.
type SignalingState string

const (
	SignalingStable         SignalingState = "stable"
	SignalingHaveLocalOffer SignalingState = "have-local-offer"
	SignalingOther          SignalingState = "other"
)

// Engine abstracts the peer connection so the state machine can be driven
// by a fake in tests and by pion in production.
type Engine interface {
	CreateOffer() (models.SessionDescription, error)
	CreateAnswer() (models.SessionDescription, error)
	SetLocalDescription(desc models.SessionDescription) error
	SetRemoteDescription(desc models.SessionDescription) error
	AddICECandidate(candidate models.ICECandidate) error
	SignalingState() SignalingState
	HasRemoteDescription() bool
	OnICECandidate(fn func(models.ICECandidate))
	OnTrack(fn func())
	Close() error
}

// MediaSource owns the local audio capture. Stop must release the capture
// resources and is safe to call more than once.
type MediaSource interface {
	SetMuted(muted bool)
	Stop()
}

// EngineFactory acquires local media and builds a peer connection. A factory
// error is a media-acquisition or connection-setup failure and moves the
// call attempt to the failed state.
type EngineFactory func() (Engine, MediaSource, error)

// EngineConfig configures the pion-backed engine.
type EngineConfig struct {
	STUNServers []string
}

// NewPionEngine returns an EngineFactory producing pion peer connections
// with a local opus audio track attached.
func NewPionEngine(cfg EngineConfig) EngineFactory {
	return func() (Engine, MediaSource, error) {
		iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
		for _, url := range cfg.STUNServers {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
		}

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, nil, fmt.Errorf("create peer connection: %w", err)
		}

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "trust-mic",
		)
		if err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("create audio track: %w", err)
		}

		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("attach audio track: %w", err)
		}

		return &pionEngine{pc: pc}, &audioSource{track: track}, nil
	}
}

type pionEngine struct {
	pc *webrtc.PeerConnection
}

func (e *pionEngine) CreateOffer() (models.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (e *pionEngine) CreateAnswer() (models.SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (e *pionEngine) SetLocalDescription(desc models.SessionDescription) error {
	return e.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (e *pionEngine) SetRemoteDescription(desc models.SessionDescription) error {
	return e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (e *pionEngine) AddICECandidate(candidate models.ICECandidate) error {
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (e *pionEngine) SignalingState() SignalingState {
	switch e.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return SignalingStable
	case webrtc.SignalingStateHaveLocalOffer:
		return SignalingHaveLocalOffer
	default:
		return SignalingOther
	}
}

func (e *pionEngine) HasRemoteDescription() bool {
	return e.pc.RemoteDescription() != nil
}

func (e *pionEngine) OnICECandidate(fn func(models.ICECandidate)) {
	e.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		fn(models.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (e *pionEngine) OnTrack(fn func()) {
	e.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
		fn()
	})
}

func (e *pionEngine) Close() error {
	return e.pc.Close()
}

// audioSource feeds captured audio samples into the local track. Mute keeps
// capture running but drops the samples, matching track.enabled semantics.
type audioSource struct {
	track   *webrtc.TrackLocalStaticSample
	muted   atomic.Bool
	stopped atomic.Bool
}

// WriteSample pushes one encoded audio sample into the outgoing track.
func (s *audioSource) WriteSample(data []byte, duration time.Duration) error {
	if s.stopped.Load() || s.muted.Load() {
		return nil
	}
	return s.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (s *audioSource) SetMuted(muted bool) {
	s.muted.Store(muted)
}

func (s *audioSource) Stop() {
	s.stopped.Store(true)
}
