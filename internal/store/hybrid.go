// Package store contains the hybrid data-access facade: one entry point for
// users and chat sessions that multiplexes between the remote document
// backend and the durable local fallback selected at construction time.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/observability"
)

// ErrSessionNotFound indicates the session is absent from the cache.
var ErrSessionNotFound = errors.New("store: session not found")

// Archiver records completed sessions for history and compliance needs.
type Archiver interface {
	Archive(ctx context.Context, session models.ChatSession) error
}

// Options configures a HybridStore. Docs and Mode come from SelectBackend;
// Archiver is optional.
type Options struct {
	Docs              docstore.Store
	Mode              Mode
	HeartbeatInterval time.Duration
	PresenceWindow    time.Duration
	Archiver          Archiver
	Logger            zerolog.Logger
}

// HybridStore is the single access point for users and chat sessions.
// Mutations are applied optimistically to the in-memory cache, subscribers
// are notified, and persistence happens afterwards: asynchronously in remote
// mode, inline in local mode. Persistence failures are logged, never
// surfaced; the cache stays authoritative until the next remote snapshot
// overwrites it.
type HybridStore struct {
	docs              docstore.Store
	mode              Mode
	heartbeatInterval time.Duration
	presenceWindow    time.Duration
	archiver          Archiver
	logger            zerolog.Logger

	mu       sync.RWMutex
	users    []models.User
	sessions []models.ChatSession

	listenerMu   sync.Mutex
	nextListener int
	listeners    map[int]func()

	unsubscribes []func()

	heartbeatMu sync.Mutex
	heartbeats  map[string]*heartbeat
}

// statusRank orders session statuses for the monotonic-transition guard.
var statusRank = map[models.SessionStatus]int{
	models.SessionPending:   0,
	models.SessionActive:    1,
	models.SessionCompleted: 2,
}

// New constructs the hybrid store and wires the remote (or local file)
// change listeners for the users and sessions collections.
func New(opts Options) (*HybridStore, error) {
	if opts.Docs == nil {
		return nil, errors.New("store: document store is required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if opts.PresenceWindow <= 0 {
		opts.PresenceWindow = 5 * time.Minute
	}

	s := &HybridStore{
		docs:              opts.Docs,
		mode:              opts.Mode,
		heartbeatInterval: opts.HeartbeatInterval,
		presenceWindow:    opts.PresenceWindow,
		archiver:          opts.Archiver,
		logger:            opts.Logger.With().Str("component", "hybrid_store").Logger(),
		listeners:         make(map[int]func()),
		heartbeats:        make(map[string]*heartbeat),
	}

	unsubUsers, err := opts.Docs.SubscribeToCollection(docstore.CollectionUsers, nil, s.applyUserSnapshot)
	if err != nil {
		return nil, err
	}
	s.unsubscribes = append(s.unsubscribes, unsubUsers)

	unsubSessions, err := opts.Docs.SubscribeToCollection(docstore.CollectionSessions, nil, s.applySessionSnapshot)
	if err != nil {
		unsubUsers()
		return nil, err
	}
	s.unsubscribes = append(s.unsubscribes, unsubSessions)

	return s, nil
}

// Mode reports the persistence mode fixed at construction.
func (s *HybridStore) Mode() Mode {
	return s.mode
}

// Docs exposes the underlying document store, used by the signaling channel.
func (s *HybridStore) Docs() docstore.Store {
	return s.docs
}

// Subscribe registers a listener invoked after every local mutation and
// every backend change notification. The returned disposer unregisters it.
func (s *HybridStore) Subscribe(listener func()) func() {
	s.listenerMu.Lock()
	s.nextListener++
	key := s.nextListener
	s.listeners[key] = listener
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, key)
		s.listenerMu.Unlock()
	}
}

func (s *HybridStore) notify() {
	s.listenerMu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenerMu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}

// applyUserSnapshot replaces the cached user set with a backend snapshot.
// Snapshots are full-collection and may be redelivered; replacement is
// idempotent by construction.
func (s *HybridStore) applyUserSnapshot(docs []json.RawMessage) {
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		var user models.User
		if err := json.Unmarshal(doc, &user); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed user document")
			continue
		}
		users = append(users, user)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	s.notify()
}

func (s *HybridStore) applySessionSnapshot(docs []json.RawMessage) {
	sessions := make([]models.ChatSession, 0, len(docs))
	for _, doc := range docs {
		var session models.ChatSession
		if err := json.Unmarshal(doc, &session); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed session document")
			continue
		}
		sessions = append(sessions, session)
	}

	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()
	s.notify()
}

// persist runs a backend write. Remote writes are fire-and-forget on a
// goroutine; local writes happen inline so the durable file is current when
// the call returns. Failures are logged either way.
func (s *HybridStore) persist(collection string, write func(context.Context) error) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := write(ctx); err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("backend write failed, in-memory state stays authoritative")
			return
		}
		observability.StoreWrites().WithLabelValues(collection, string(s.mode)).Inc()
	}

	if s.mode == ModeRemote {
		go run()
		return
	}
	run()
}

// CreateUser registers a new user, marks them online, and starts their
// presence heartbeat. Write failures never affect the returned user.
func (s *HybridStore) CreateUser(nickname string, role models.UserRole) models.User {
	user := models.User{
		ID:       "user_" + uuid.NewString(),
		Nickname: nickname,
		Role:     role,
		IsOnline: true,
		LastSeen: time.Now().UTC(),
	}

	s.mu.Lock()
	s.users = append(s.users, user)
	s.mu.Unlock()
	s.notify()

	s.persist(docstore.CollectionUsers, func(ctx context.Context) error {
		return s.docs.CreateDocument(ctx, docstore.CollectionUsers, user.ID, user)
	})

	s.StartHeartbeat(user.ID)
	return user
}

// GetUser returns the cached user, if present.
func (s *HybridStore) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.ID == id {
			return user, true
		}
	}
	return models.User{}, false
}

// GetUsersCount reports presence. Remote mode counts users seen within the
// presence window; local mode has no real presence signal and returns the
// total registered count.
func (s *HybridStore) GetUsersCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mode != ModeRemote {
		return len(s.users)
	}

	cutoff := time.Now().Add(-s.presenceWindow)
	count := 0
	for _, user := range s.users {
		if user.LastSeen.After(cutoff) {
			count++
		}
	}
	return count
}

// CreateSession appends the session to the cache and persists it as a new
// document keyed by the session id.
func (s *HybridStore) CreateSession(session models.ChatSession) {
	if session.Messages == nil {
		session.Messages = []models.Message{}
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()
	s.notify()

	s.persist(docstore.CollectionSessions, func(ctx context.Context) error {
		return s.docs.CreateDocument(ctx, docstore.CollectionSessions, session.ID, session)
	})
}

// GetSession returns the cached session, if present.
func (s *HybridStore) GetSession(id string) (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return models.ChatSession{}, false
}

// UpdateSession merges the patch into the cached session immediately,
// notifies subscribers, then persists the same partial update. A status
// field that would move backwards is dropped: session status only ever
// advances PENDING -> ACTIVE -> COMPLETED.
func (s *HybridStore) UpdateSession(id string, patch models.SessionPatch) error {
	s.mu.Lock()
	idx := -1
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	if patch.Status != nil && statusRank[*patch.Status] < statusRank[s.sessions[idx].Status] {
		s.logger.Warn().
			Str("session_id", id).
			Str("from", string(s.sessions[idx].Status)).
			Str("to", string(*patch.Status)).
			Msg("dropping backwards status transition")
		patch.Status = nil
	}

	patch.Apply(&s.sessions[idx])
	s.mu.Unlock()
	s.notify()

	fields := patch.Fields()
	if len(fields) > 0 {
		s.persist(docstore.CollectionSessions, func(ctx context.Context) error {
			return s.docs.UpdateDocument(ctx, docstore.CollectionSessions, id, fields)
		})
	}
	return nil
}

// AddMessage appends to the session's message sequence, notifies
// subscribers, then persists the full updated sequence.
func (s *HybridStore) AddMessage(sessionID string, message models.Message) error {
	s.mu.Lock()
	idx := -1
	for i := range s.sessions {
		if s.sessions[i].ID == sessionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	s.sessions[idx].Messages = append(s.sessions[idx].Messages, message)
	messages := make([]models.Message, len(s.sessions[idx].Messages))
	copy(messages, s.sessions[idx].Messages)
	s.mu.Unlock()
	s.notify()

	s.persist(docstore.CollectionSessions, func(ctx context.Context) error {
		return s.docs.UpdateDocument(ctx, docstore.CollectionSessions, sessionID, map[string]any{
			"messages": messages,
		})
	})
	return nil
}

// CompleteSession marks the session COMPLETED with optional rating and
// feedback, then hands the transcript to the archiver when one is wired.
// Archive failures are logged; the live session document is never removed.
func (s *HybridStore) CompleteSession(id string, rating *int, feedback string) error {
	status := models.SessionCompleted
	patch := models.SessionPatch{Status: &status, Rating: rating}
	if feedback != "" {
		patch.Feedback = &feedback
	}

	if err := s.UpdateSession(id, patch); err != nil {
		return err
	}

	if s.archiver == nil {
		return nil
	}

	session, ok := s.GetSession(id)
	if !ok {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archiver.Archive(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Msg("failed to archive completed session")
		}
	}()
	return nil
}

// GetSessionsByStatus returns cached sessions in the given status.
func (s *HybridStore) GetSessionsByStatus(status models.SessionStatus) []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.ChatSession, 0)
	for _, session := range s.sessions {
		if session.Status == status {
			matched = append(matched, session)
		}
	}
	return matched
}

// GetAllSessions returns a snapshot of every cached session.
func (s *HybridStore) GetAllSessions() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Close stops every heartbeat and the backend listeners.
func (s *HybridStore) Close() error {
	s.StopAllHeartbeats()
	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
	return s.docs.Close()
}
