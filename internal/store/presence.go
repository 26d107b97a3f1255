package store

import (
	"context"
	"sync"
	"time"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/observability"
)

// heartbeat is a per-user liveness ticker. The store runs one per known
// user; starting a heartbeat for a user already beating replaces only that
// user's ticker.
type heartbeat struct {
	stop chan struct{}
	once sync.Once
}

func (h *heartbeat) halt() {
	h.once.Do(func() { close(h.stop) })
}

// StartHeartbeat begins periodic lastSeen updates for the user. Heartbeats
// only write in remote mode; local mode has no presence backend. Write
// errors are ignored, the next tick is the retry.
func (s *HybridStore) StartHeartbeat(userID string) {
	s.heartbeatMu.Lock()
	if prev, ok := s.heartbeats[userID]; ok {
		prev.halt()
	}
	hb := &heartbeat{stop: make(chan struct{})}
	s.heartbeats[userID] = hb
	s.heartbeatMu.Unlock()

	if s.mode != ModeRemote {
		return
	}

	beat := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.docs.UpdateDocument(ctx, docstore.CollectionUsers, userID, map[string]any{
			"lastSeen": time.Now().UTC(),
			"isOnline": true,
		})
		observability.Heartbeats().Inc()
	}

	go func() {
		beat()
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hb.stop:
				return
			case <-ticker.C:
				beat()
			}
		}
	}()
}

// StopHeartbeat halts the user's heartbeat, if one is running.
func (s *HybridStore) StopHeartbeat(userID string) {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	if hb, ok := s.heartbeats[userID]; ok {
		hb.halt()
		delete(s.heartbeats, userID)
	}
}

// StopAllHeartbeats halts every running heartbeat.
func (s *HybridStore) StopAllHeartbeats() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	for userID, hb := range s.heartbeats {
		hb.halt()
		delete(s.heartbeats, userID)
	}
}
