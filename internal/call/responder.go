package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/models"
)

// SessionLookup resolves a chat session by id. *store.HybridStore satisfies it.
type SessionLookup interface {
	GetSession(id string) (models.ChatSession, bool)
}

// AutoResponderConfig assembles the server-side call answerer.
type AutoResponderConfig struct {
	Docs      docstore.Store
	Sessions  SessionLookup
	Signaler  Signaler
	NewEngine EngineFactory
	Logger    zerolog.Logger
}

// AutoResponder answers incoming calls on sessions counseled by the AI agent.
// It watches the calls collection for fresh offers and runs one responder
// machine per session until that call ends.
type AutoResponder struct {
	cfg         AutoResponderConfig
	logger      zerolog.Logger
	unsubscribe func()

	mu       sync.Mutex
	machines map[string]*Machine
	stopped  bool
}

// StartAutoResponder begins watching for calls to answer.
func StartAutoResponder(cfg AutoResponderConfig) (*AutoResponder, error) {
	r := &AutoResponder{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "call_auto_responder").Logger(),
		machines: make(map[string]*Machine),
	}

	unsubscribe, err := cfg.Docs.SubscribeToCollection(docstore.CollectionCalls, nil, r.handleSnapshot)
	if err != nil {
		return nil, err
	}
	r.unsubscribe = unsubscribe
	return r, nil
}

// handleSnapshot inspects every signaling document state and starts a
// responder machine for offers addressed to the AI counselor. Snapshot
// delivery is at-least-once; the per-session machine map makes starts
// idempotent.
func (r *AutoResponder) handleSnapshot(docs []json.RawMessage) {
	for _, doc := range docs {
		var signal models.CallSignal
		if err := json.Unmarshal(doc, &signal); err != nil {
			r.logger.Warn().Err(err).Msg("malformed signaling document")
			continue
		}
		if signal.Status != models.CallOffering || signal.SessionID == "" {
			continue
		}

		session, ok := r.cfg.Sessions.GetSession(signal.SessionID)
		if !ok || session.CounselorID != models.AICounselorID {
			continue
		}

		r.answer(signal.SessionID)
	}
}

func (r *AutoResponder) answer(sessionID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if _, active := r.machines[sessionID]; active {
		r.mu.Unlock()
		return
	}
	// Reserve the slot before the machine exists so a redelivered offer
	// cannot race a second answer.
	r.machines[sessionID] = nil
	r.mu.Unlock()

	machine, err := Start(context.Background(), Config{
		SessionID: sessionID,
		Role:      RoleResponder,
		Signaler:  r.cfg.Signaler,
		NewEngine: r.cfg.NewEngine,
		Logger:    r.cfg.Logger,
		OnState: func(state State) {
			if state == StateEnded || state == StateFailed {
				r.release(sessionID)
			}
		},
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to answer call")
		r.release(sessionID)
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		machine.Close()
		return
	}
	r.machines[sessionID] = machine
	r.mu.Unlock()

	r.logger.Info().Str("session_id", sessionID).Msg("answering call as ai counselor")
}

func (r *AutoResponder) release(sessionID string) {
	r.mu.Lock()
	delete(r.machines, sessionID)
	r.mu.Unlock()
}

// Stop tears down every active machine and the collection watch.
func (r *AutoResponder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	machines := make([]*Machine, 0, len(r.machines))
	for _, machine := range r.machines {
		if machine != nil {
			machines = append(machines, machine)
		}
	}
	r.machines = make(map[string]*Machine)
	r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	for _, machine := range machines {
		machine.Close()
	}
}
