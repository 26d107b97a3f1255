// Package signaling manages the per-session documents two peers use to
// exchange WebRTC offer/answer/ICE-candidate metadata. Exactly one signaling
// document exists per chat session during a call's lifetime, keyed by the
// session id.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/observability"
	"github.com/trustapp/trust-go-api/internal/store"
)

// Channel brokers call signaling through the document store. Calling is a
// remote-backend-only feature: in local mode every operation is a no-op and
// Subscribe returns a no-op disposer.
type Channel struct {
	docs   docstore.Store
	mode   store.Mode
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewChannel builds a signaling channel over the given document store.
func NewChannel(docs docstore.Store, mode store.Mode, logger zerolog.Logger) *Channel {
	return &Channel{
		docs:   docs,
		mode:   mode,
		logger: logger.With().Str("component", "signaling_channel").Logger(),
		tracer: otel.Tracer("github.com/trustapp/trust-go-api/internal/signaling"),
	}
}

// Available reports whether calls are possible with the active backend.
func (c *Channel) Available() bool {
	return c.mode == store.ModeRemote
}

// InitCall creates the signaling document with the caller's offer and empty
// candidate sequences. Caller-only operation. There is no creation guard:
// two simultaneous InitCalls on the same session race, last writer wins
// (a known limitation of the document model).
func (c *Channel) InitCall(ctx context.Context, sessionID string, offer models.SessionDescription) error {
	if !c.Available() {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "signaling.init_call", trace.WithAttributes(
		attribute.String("call.session_id", sessionID),
	))
	defer span.End()

	signal := models.CallSignal{
		SessionID:        sessionID,
		Offer:            &offer,
		CallerCandidates: []models.ICECandidate{},
		CalleeCandidates: []models.ICECandidate{},
		Status:           models.CallOffering,
		CreatedAt:        time.Now().UTC(),
	}

	if err := c.docs.CreateDocument(ctx, docstore.CollectionCalls, sessionID, signal); err != nil {
		span.RecordError(err)
		return err
	}
	observability.SignalingEvents().WithLabelValues("offer").Inc()
	return nil
}

// AnswerCall sets the callee's answer and advances the status to answered.
// Callee-only operation. A missing signaling document is logged, not
// surfaced: the caller may already have hung up.
func (c *Channel) AnswerCall(ctx context.Context, sessionID string, answer models.SessionDescription) error {
	if !c.Available() {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "signaling.answer_call", trace.WithAttributes(
		attribute.String("call.session_id", sessionID),
	))
	defer span.End()

	err := c.docs.UpdateDocument(ctx, docstore.CollectionCalls, sessionID, map[string]any{
		"answer": answer,
		"status": models.CallAnswered,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		c.logger.Warn().Str("session_id", sessionID).Msg("answer for a call that no longer exists")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	observability.SignalingEvents().WithLabelValues("answer").Inc()
	return nil
}

// AddIceCandidate appends the candidate to the sequence owned by role.
// Repeated submissions of the same candidate are tolerated; the backend
// append has set-union semantics and subscribers dedup on their side.
func (c *Channel) AddIceCandidate(ctx context.Context, sessionID string, candidate models.ICECandidate, role models.CandidateRole) error {
	if !c.Available() {
		return nil
	}

	field := "calleeCandidates"
	if role == models.RoleCaller {
		field = "callerCandidates"
	}

	err := c.docs.AppendToArrayField(ctx, docstore.CollectionCalls, sessionID, field, candidate)
	if errors.Is(err, docstore.ErrNotFound) {
		c.logger.Warn().Str("session_id", sessionID).Msg("candidate for a call that no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	observability.SignalingEvents().WithLabelValues("candidate").Inc()
	return nil
}

// EndCall marks the call ended. Idempotent; ending an already-ended call
// leaves the document unchanged in meaning.
func (c *Channel) EndCall(ctx context.Context, sessionID string) error {
	if !c.Available() {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "signaling.end_call", trace.WithAttributes(
		attribute.String("call.session_id", sessionID),
	))
	defer span.End()

	err := c.docs.UpdateDocument(ctx, docstore.CollectionCalls, sessionID, map[string]any{
		"status": models.CallEnded,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	observability.SignalingEvents().WithLabelValues("end").Inc()
	return nil
}

// Subscribe delivers every future signaling document state for the session.
// Delivery is at-least-once; consumers guard against redelivered snapshots.
func (c *Channel) Subscribe(sessionID string, fn func(models.CallSignal)) func() {
	if !c.Available() {
		return func() {}
	}

	unsubscribe, err := c.docs.SubscribeToDocument(docstore.CollectionCalls, sessionID, func(doc json.RawMessage) {
		var signal models.CallSignal
		if err := json.Unmarshal(doc, &signal); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("malformed signaling document")
			return
		}
		fn(signal)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to subscribe to call signaling")
		return func() {}
	}
	return unsubscribe
}
