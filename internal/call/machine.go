// Package call drives one two-party audio call attempt: it consumes the
// signaling channel, negotiates the peer connection, and guarantees media
// teardown on every exit path.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/observability"
)

// State is the user-visible call state.
type State string

const (
	StateConnecting State = "connecting"
	StateRinging    State = "ringing"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// Role distinguishes the side that started the call.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

const defaultDismissDelay = 1500 * time.Millisecond

// Signaler is the slice of the signaling channel the machine needs.
// *signaling.Channel satisfies it.
type Signaler interface {
	InitCall(ctx context.Context, sessionID string, offer models.SessionDescription) error
	AnswerCall(ctx context.Context, sessionID string, answer models.SessionDescription) error
	AddIceCandidate(ctx context.Context, sessionID string, candidate models.ICECandidate, role models.CandidateRole) error
	EndCall(ctx context.Context, sessionID string) error
	Subscribe(sessionID string, fn func(models.CallSignal)) func()
}

// Config assembles one call attempt.
type Config struct {
	SessionID string
	Role      Role
	Signaler  Signaler
	NewEngine EngineFactory
	Logger    zerolog.Logger

	// OnState is invoked on every state transition. Optional.
	OnState func(State)
	// OnDismiss is invoked after a remote hangup, once the dismiss delay
	// elapses. Optional.
	OnDismiss func()
	// DismissDelay overrides the auto-dismiss delay after a remote hangup.
	DismissDelay time.Duration
}

// Machine is the client-side call state machine. One instance exclusively
// owns its media source and peer connection for the duration of a call
// attempt; both are torn down before the session id can be reused.
type Machine struct {
	sessionID    string
	role         Role
	signaler     Signaler
	logger       zerolog.Logger
	onState      func(State)
	onDismiss    func()
	dismissDelay time.Duration

	mu          sync.Mutex
	state       State
	closed      bool
	engine      Engine
	media       MediaSource
	seen        map[string]struct{}
	queue       []models.ICECandidate
	unsubscribe func()
	torndown    bool
}

// Start acquires local media, builds the peer connection, and begins
// signaling. On a setup failure the returned machine is in the terminal
// failed state with resources already released.
func Start(ctx context.Context, cfg Config) (*Machine, error) {
	m := &Machine{
		sessionID:    cfg.SessionID,
		role:         cfg.Role,
		signaler:     cfg.Signaler,
		logger:       cfg.Logger.With().Str("component", "call_machine").Str("session_id", cfg.SessionID).Logger(),
		onState:      cfg.OnState,
		onDismiss:    cfg.OnDismiss,
		dismissDelay: cfg.DismissDelay,
		seen:         make(map[string]struct{}),
	}
	if m.dismissDelay <= 0 {
		m.dismissDelay = defaultDismissDelay
	}
	if m.role == RoleInitiator {
		m.state = StateConnecting
	} else {
		m.state = StateRinging
	}
	m.emit(m.state)

	engine, media, err := cfg.NewEngine()
	if err != nil {
		m.fail(err)
		return m, err
	}
	m.engine = engine
	m.media = media

	engine.OnICECandidate(func(candidate models.ICECandidate) {
		role := models.RoleCallee
		if m.role == RoleInitiator {
			role = models.RoleCaller
		}
		publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.signaler.AddIceCandidate(publishCtx, m.sessionID, candidate, role); err != nil {
			m.logger.Warn().Err(err).Msg("failed to publish local candidate")
		}
	})

	engine.OnTrack(func() {
		m.setState(StateConnected)
	})

	if m.role == RoleInitiator {
		offer, err := engine.CreateOffer()
		if err == nil {
			err = engine.SetLocalDescription(offer)
		}
		if err == nil {
			err = m.signaler.InitCall(ctx, m.sessionID, offer)
		}
		if err != nil {
			m.fail(err)
			return m, err
		}
	}

	m.mu.Lock()
	m.unsubscribe = m.signaler.Subscribe(m.sessionID, m.handleSignal)
	m.mu.Unlock()

	return m, nil
}

func (m *Machine) setState(state State) {
	m.mu.Lock()
	if m.closed || m.state == state || m.state == StateEnded || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()
	m.emit(state)
}

// State returns the current call state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetMuted toggles the local audio without releasing capture.
func (m *Machine) SetMuted(muted bool) {
	m.mu.Lock()
	media := m.media
	m.mu.Unlock()
	if media != nil {
		media.SetMuted(muted)
	}
}

// handleSignal consumes one signaling snapshot. Snapshots are redelivered
// at-least-once, so every branch is guarded to be idempotent: signaling
// state checks for offer/answer, the seen-set for candidates.
func (m *Machine) handleSignal(signal models.CallSignal) {
	m.mu.Lock()
	if m.closed || m.state == StateEnded || m.state == StateFailed {
		m.mu.Unlock()
		return
	}

	if signal.Status == models.CallEnded {
		m.teardownLocked()
		m.state = StateEnded
		m.mu.Unlock()
		observability.Calls().WithLabelValues("remote_hangup").Inc()
		m.emit(StateEnded)
		if m.onDismiss != nil {
			time.AfterFunc(m.dismissDelay, m.onDismiss)
		}
		return
	}

	var becameConnected bool

	if m.role == RoleResponder && signal.Offer != nil && !m.engine.HasRemoteDescription() && m.engine.SignalingState() == SignalingStable {
		if err := m.applyOfferLocked(*signal.Offer); err != nil {
			m.logger.Warn().Err(err).Msg("failed to handle offer")
		} else {
			becameConnected = true
		}
	}

	if m.role == RoleInitiator && signal.Answer != nil && m.engine.SignalingState() == SignalingHaveLocalOffer {
		if err := m.engine.SetRemoteDescription(*signal.Answer); err != nil {
			m.logger.Warn().Err(err).Msg("failed to apply answer")
		} else {
			m.drainLocked()
			becameConnected = true
		}
	}

	remote := models.RoleCaller
	if m.role == RoleInitiator {
		remote = models.RoleCallee
	}
	for _, candidate := range signal.CandidatesFor(remote) {
		key := candidate.Key()
		if _, ok := m.seen[key]; ok {
			continue
		}
		m.seen[key] = struct{}{}

		if !m.engine.HasRemoteDescription() {
			m.queue = append(m.queue, candidate)
			continue
		}
		if err := m.engine.AddICECandidate(candidate); err != nil {
			// A single bad candidate is not fatal; connectivity may
			// still succeed via the others.
			m.logger.Warn().Err(err).Msg("engine rejected remote candidate")
		}
	}

	shouldConnect := becameConnected && m.state != StateConnected
	if shouldConnect {
		m.state = StateConnected
	}
	m.mu.Unlock()

	if shouldConnect {
		m.emit(StateConnected)
	}
}

// applyOfferLocked runs the responder side of negotiation: apply the remote
// offer, drain buffered candidates, create and publish the answer.
func (m *Machine) applyOfferLocked(offer models.SessionDescription) error {
	if err := m.engine.SetRemoteDescription(offer); err != nil {
		return err
	}
	m.drainLocked()

	answer, err := m.engine.CreateAnswer()
	if err != nil {
		return err
	}
	if err := m.engine.SetLocalDescription(answer); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.signaler.AnswerCall(ctx, m.sessionID, answer)
}

// drainLocked applies candidates buffered before the remote description was set.
func (m *Machine) drainLocked() {
	for _, candidate := range m.queue {
		if err := m.engine.AddICECandidate(candidate); err != nil {
			m.logger.Warn().Err(err).Msg("engine rejected buffered candidate")
		}
	}
	m.queue = nil
}

// Hangup ends the call locally: release media, close the connection, then
// publish the end so the peer tears down too.
func (m *Machine) Hangup() {
	m.mu.Lock()
	if m.state == StateEnded || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.state = StateEnded
	m.mu.Unlock()

	observability.Calls().WithLabelValues("local_hangup").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.signaler.EndCall(ctx, m.sessionID); err != nil {
		m.logger.Warn().Err(err).Msg("failed to publish end of call")
	}
	m.emit(StateEnded)
}

// Close cancels the attempt regardless of state, for example when the call
// UI is dismissed. After Close no callback mutates the machine, and media
// resources are guaranteed released.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.teardownLocked()
	m.mu.Unlock()
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.teardownLocked()
	m.state = StateFailed
	m.mu.Unlock()

	observability.Calls().WithLabelValues("failed").Inc()
	m.logger.Error().Err(err).Msg("call setup failed")
	m.emit(StateFailed)
}

// teardownLocked releases the media source, the peer connection, and the
// signaling subscription. Idempotent; runs on every exit path.
func (m *Machine) teardownLocked() {
	if m.torndown {
		return
	}
	m.torndown = true

	if m.media != nil {
		m.media.Stop()
	}
	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to close peer connection")
		}
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Machine) emit(state State) {
	if m.onState != nil {
		m.onState(state)
	}
}
