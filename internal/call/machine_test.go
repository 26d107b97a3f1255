package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trustapp/trust-go-api/internal/models"
)

type fakeEngine struct {
	mu          sync.Mutex
	localDesc   *models.SessionDescription
	remoteDesc  *models.SessionDescription
	added       []models.ICECandidate
	onCandidate func(models.ICECandidate)
	onTrack     func()
	closed      bool
	addErr      error
}

func (e *fakeEngine) CreateOffer() (models.SessionDescription, error) {
	return models.SessionDescription{Type: "offer", SDP: "offer-sdp"}, nil
}

func (e *fakeEngine) CreateAnswer() (models.SessionDescription, error) {
	return models.SessionDescription{Type: "answer", SDP: "answer-sdp"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc models.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localDesc = &desc
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc models.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteDesc = &desc
	return nil
}

func (e *fakeEngine) AddICECandidate(candidate models.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.addErr != nil {
		return e.addErr
	}
	e.added = append(e.added, candidate)
	return nil
}

// SignalingState mirrors the browser lifecycle: stable until a local offer is
// pending, stable again once the remote answer (or local answer) lands.
func (e *fakeEngine) SignalingState() SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.localDesc != nil && e.localDesc.Type == "offer" && e.remoteDesc == nil {
		return SignalingHaveLocalOffer
	}
	if e.remoteDesc != nil && e.remoteDesc.Type == "offer" && (e.localDesc == nil || e.localDesc.Type != "answer") {
		return SignalingOther
	}
	return SignalingStable
}

func (e *fakeEngine) HasRemoteDescription() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteDesc != nil
}

func (e *fakeEngine) OnICECandidate(fn func(models.ICECandidate)) { e.onCandidate = fn }
func (e *fakeEngine) OnTrack(fn func())                          { e.onTrack = fn }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) addedCandidates() []models.ICECandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ICECandidate, len(e.added))
	copy(out, e.added)
	return out
}

type fakeMedia struct {
	mu      sync.Mutex
	muted   bool
	stopped bool
}

func (m *fakeMedia) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// fakeSignaler records operations and hands the subscriber callback to the
// test, which pushes snapshots explicitly.
type fakeSignaler struct {
	mu           sync.Mutex
	offers       []models.SessionDescription
	answers      []models.SessionDescription
	candidates   []models.ICECandidate
	ends         int
	subscriber   func(models.CallSignal)
	unsubscribed bool
}

func (s *fakeSignaler) InitCall(_ context.Context, _ string, offer models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, offer)
	return nil
}

func (s *fakeSignaler) AnswerCall(_ context.Context, _ string, answer models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, answer)
	return nil
}

func (s *fakeSignaler) AddIceCandidate(_ context.Context, _ string, candidate models.ICECandidate, _ models.CandidateRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidate)
	return nil
}

func (s *fakeSignaler) EndCall(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

func (s *fakeSignaler) Subscribe(_ string, fn func(models.CallSignal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriber = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubscribed = true
	}
}

func (s *fakeSignaler) push(signal models.CallSignal) {
	s.mu.Lock()
	fn := s.subscriber
	s.mu.Unlock()
	if fn != nil {
		fn(signal)
	}
}

func (s *fakeSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *fakeSignaler) endCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}

func startMachine(t *testing.T, role Role, engine *fakeEngine, media *fakeMedia, signaler *fakeSignaler, opts ...func(*Config)) *Machine {
	t.Helper()
	cfg := Config{
		SessionID: "sess_1",
		Role:      role,
		Signaler:  signaler,
		NewEngine: func() (Engine, MediaSource, error) { return engine, media, nil },
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func candidateFixture(id string) models.ICECandidate {
	return models.ICECandidate{Candidate: "candidate:" + id + " 1 udp 2130706431 10.0.0.1 54321 typ host"}
}

func TestInitiatorPublishesOfferAndAppliesAnswer(t *testing.T) {
	engine := &fakeEngine{}
	signaler := &fakeSignaler{}
	m := startMachine(t, RoleInitiator, engine, &fakeMedia{}, signaler)

	require.Equal(t, StateConnecting, m.State())
	require.Len(t, signaler.offers, 1)
	require.Equal(t, "offer", engine.localDesc.Type)

	answer := models.SessionDescription{Type: "answer", SDP: "remote-answer"}
	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallAnswered, Answer: &answer})

	require.True(t, engine.HasRemoteDescription())
	require.Equal(t, StateConnected, m.State())
}

func TestResponderAnswersOffer(t *testing.T) {
	engine := &fakeEngine{}
	signaler := &fakeSignaler{}
	m := startMachine(t, RoleResponder, engine, &fakeMedia{}, signaler)

	require.Equal(t, StateRinging, m.State())

	offer := models.SessionDescription{Type: "offer", SDP: "remote-offer"}
	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallOffering, Offer: &offer})

	require.Equal(t, 1, signaler.answerCount())
	require.Equal(t, StateConnected, m.State())

	// The offer rides along on every later snapshot; it must not be
	// renegotiated.
	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallAnswered, Offer: &offer})
	require.Equal(t, 1, signaler.answerCount())
}

func TestRemoteCandidatesAreDeduplicated(t *testing.T) {
	engine := &fakeEngine{}
	signaler := &fakeSignaler{}
	startMachine(t, RoleInitiator, engine, &fakeMedia{}, signaler)

	answer := models.SessionDescription{Type: "answer", SDP: "remote-answer"}
	candidate := candidateFixture("1")

	signaler.push(models.CallSignal{
		SessionID:        "sess_1",
		Status:           models.CallAnswered,
		Answer:           &answer,
		CalleeCandidates: []models.ICECandidate{candidate},
	})
	// Redelivered snapshot with the same candidate plus a new one.
	signaler.push(models.CallSignal{
		SessionID:        "sess_1",
		Status:           models.CallAnswered,
		Answer:           &answer,
		CalleeCandidates: []models.ICECandidate{candidate, candidateFixture("2")},
	})

	require.Len(t, engine.addedCandidates(), 2, "each unique candidate applied exactly once")
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	engine := &fakeEngine{}
	signaler := &fakeSignaler{}
	startMachine(t, RoleInitiator, engine, &fakeMedia{}, signaler)

	// Candidates can arrive before the answer.
	signaler.push(models.CallSignal{
		SessionID:        "sess_1",
		Status:           models.CallOffering,
		CalleeCandidates: []models.ICECandidate{candidateFixture("1"), candidateFixture("2")},
	})
	require.Empty(t, engine.addedCandidates(), "candidates buffered until the remote description lands")

	answer := models.SessionDescription{Type: "answer", SDP: "remote-answer"}
	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallAnswered, Answer: &answer})

	require.Len(t, engine.addedCandidates(), 2, "buffered candidates drained after the answer")
}

func TestRemoteHangupTearsDownAndDismisses(t *testing.T) {
	engine := &fakeEngine{}
	media := &fakeMedia{}
	signaler := &fakeSignaler{}

	dismissed := make(chan struct{})
	m := startMachine(t, RoleInitiator, engine, media, signaler, func(cfg *Config) {
		cfg.DismissDelay = 10 * time.Millisecond
		cfg.OnDismiss = func() { close(dismissed) }
	})

	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallEnded})

	require.Equal(t, StateEnded, m.State())
	require.True(t, engine.isClosed())
	require.True(t, media.isStopped())

	select {
	case <-dismissed:
	case <-time.After(time.Second):
		t.Fatal("dismiss callback not invoked after the delay")
	}

	// A redelivered terminal snapshot is ignored.
	signaler.push(models.CallSignal{SessionID: "sess_1", Status: models.CallEnded})
	require.Equal(t, StateEnded, m.State())
}

func TestHangupPublishesEnd(t *testing.T) {
	engine := &fakeEngine{}
	media := &fakeMedia{}
	signaler := &fakeSignaler{}
	m := startMachine(t, RoleInitiator, engine, media, signaler)

	m.Hangup()

	require.Equal(t, StateEnded, m.State())
	require.Equal(t, 1, signaler.endCount())
	require.True(t, engine.isClosed())
	require.True(t, media.isStopped())

	m.Hangup()
	require.Equal(t, 1, signaler.endCount(), "hangup is idempotent")
}

func TestCloseStopsCallbacks(t *testing.T) {
	engine := &fakeEngine{}
	media := &fakeMedia{}
	signaler := &fakeSignaler{}
	m := startMachine(t, RoleInitiator, engine, media, signaler)

	m.Close()
	require.True(t, engine.isClosed())
	require.True(t, media.isStopped())
	require.True(t, signaler.unsubscribed)

	answer := models.SessionDescription{Type: "answer", SDP: "remote-answer"}
	signaler.push(models.CallSignal{
		SessionID:        "sess_1",
		Status:           models.CallAnswered,
		Answer:           &answer,
		CalleeCandidates: []models.ICECandidate{candidateFixture("1")},
	})
	require.False(t, engine.HasRemoteDescription(), "no engine mutation after close")
	require.Empty(t, engine.addedCandidates())
}

func TestEngineFactoryFailureFailsTheCall(t *testing.T) {
	signaler := &fakeSignaler{}
	boom := errors.New("no microphone")

	m, err := Start(context.Background(), Config{
		SessionID: "sess_1",
		Role:      RoleInitiator,
		Signaler:  signaler,
		NewEngine: func() (Engine, MediaSource, error) { return nil, nil, boom },
		Logger:    zerolog.Nop(),
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateFailed, m.State())
	require.Empty(t, signaler.offers, "no offer published on setup failure")
}

func TestBadCandidateIsNotFatal(t *testing.T) {
	engine := &fakeEngine{addErr: errors.New("bad candidate")}
	signaler := &fakeSignaler{}
	m := startMachine(t, RoleInitiator, engine, &fakeMedia{}, signaler)

	answer := models.SessionDescription{Type: "answer", SDP: "remote-answer"}
	signaler.push(models.CallSignal{
		SessionID:        "sess_1",
		Status:           models.CallAnswered,
		Answer:           &answer,
		CalleeCandidates: []models.ICECandidate{candidateFixture("1")},
	})

	require.Equal(t, StateConnected, m.State(), "a rejected candidate does not end the call")
}
