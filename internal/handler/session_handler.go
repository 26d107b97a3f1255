package handler

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/dto"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/repository"
	"github.com/trustapp/trust-go-api/internal/store"
	"github.com/trustapp/trust-go-api/internal/utils"
	"github.com/trustapp/trust-go-api/pkg/ai"
)

// SessionHandler wires session lifecycle and messaging endpoints.
type SessionHandler struct {
	store     *store.HybridStore
	archive   repository.ArchiveRepository
	responder ai.Responder
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewSessionHandler creates a session handler instance. Archive and
// responder are optional.
func NewSessionHandler(hybrid *store.HybridStore, archive repository.ArchiveRepository, responder ai.Responder, validate *validator.Validate, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		store:     hybrid,
		archive:   archive,
		responder: responder,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register binds session routes under the provided router group.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Get("/plans", h.plans)
	router.Post("/", h.create)
	router.Get("/", h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Post("/:id/accept", h.accept)
	router.Post("/:id/messages", h.addMessage)
	router.Get("/:id/archive", h.archived)
}

func (h *SessionHandler) plans(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "pricing plans", models.PricingPlans)
}

func (h *SessionHandler) create(c *fiber.Ctx) error {
	var payload dto.SessionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationError(c, err)
	}

	plan, ok := models.PlanByID(payload.PlanID)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "unknown plan")
	}

	session := models.ChatSession{
		ID:        "sess_" + uuid.NewString(),
		UserID:    payload.UserID,
		Status:    models.SessionPending,
		Plan:      plan,
		Messages:  []models.Message{},
		CreatedAt: time.Now().UTC(),
	}

	// AI plans are served immediately: the automated agent is assigned at
	// creation and the session starts right away.
	if plan.Type == models.PlanAI {
		now := time.Now().UTC()
		session.CounselorID = models.AICounselorID
		session.Status = models.SessionActive
		session.StartTime = &now
	}

	h.store.CreateSession(session)
	requestLogger(h.logger, c).Info().Str("session_id", session.ID).Str("plan_id", plan.ID).Msg("session created")

	return utils.SendCreated(c, "session created", dto.NewSessionResponse(session))
}

func (h *SessionHandler) list(c *fiber.Ctx) error {
	if status := c.Query("status"); status != "" {
		sessions := h.store.GetSessionsByStatus(models.SessionStatus(strings.ToUpper(status)))
		return utils.SendSuccess(c, "sessions", dto.NewSessionResponseSlice(sessions))
	}
	return utils.SendSuccess(c, "sessions", dto.NewSessionResponseSlice(h.store.GetAllSessions()))
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	session, ok := h.store.GetSession(c.Params("id"))
	if !ok {
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	}
	return utils.SendSuccess(c, "session", dto.NewSessionResponse(session))
}

func (h *SessionHandler) update(c *fiber.Ctx) error {
	id := c.Params("id")

	var payload dto.SessionUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationError(c, err)
	}

	if payload.Status != nil && models.SessionStatus(*payload.Status) == models.SessionCompleted {
		feedback := ""
		if payload.Feedback != nil {
			feedback = *payload.Feedback
		}
		if err := h.store.CompleteSession(id, payload.Rating, feedback); err != nil {
			return utils.SendError(c, fiber.StatusNotFound, "session not found")
		}
	} else {
		patch := models.SessionPatch{
			CounselorID: payload.CounselorID,
			Rating:      payload.Rating,
			Feedback:    payload.Feedback,
		}
		if payload.Status != nil {
			status := models.SessionStatus(*payload.Status)
			patch.Status = &status
		}
		if err := h.store.UpdateSession(id, patch); err != nil {
			return utils.SendError(c, fiber.StatusNotFound, "session not found")
		}
	}

	session, _ := h.store.GetSession(id)
	return utils.SendSuccess(c, "session updated", dto.NewSessionResponse(session))
}

// accept assigns a counselor to a pending session and starts it. The start
// time is set exactly once, at the PENDING to ACTIVE transition. The
// counselor id may be omitted from the body, in which case the
// authenticated user is the counselor.
func (h *SessionHandler) accept(c *fiber.Ctx) error {
	id := c.Params("id")

	var payload struct {
		CounselorID string `json:"counselor_id" validate:"omitempty,max=64"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationError(c, err)
	}

	counselorID := strings.TrimSpace(payload.CounselorID)
	if counselorID == "" {
		counselorID = userIDFromContext(c)
	}
	if counselorID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "counselor id is required")
	}

	session, ok := h.store.GetSession(id)
	if !ok {
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	}
	if session.Status != models.SessionPending {
		return utils.SendError(c, fiber.StatusConflict, "session is not pending")
	}

	now := time.Now().UTC()
	status := models.SessionActive
	patch := models.SessionPatch{
		CounselorID: &counselorID,
		Status:      &status,
	}
	if session.StartTime == nil {
		patch.StartTime = &now
	}
	if err := h.store.UpdateSession(id, patch); err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	}

	updated, _ := h.store.GetSession(id)
	return utils.SendSuccess(c, "session accepted", dto.NewSessionResponse(updated))
}

func (h *SessionHandler) addMessage(c *fiber.Ctx) error {
	id := c.Params("id")

	var payload dto.MessageCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationError(c, err)
	}

	session, ok := h.store.GetSession(id)
	if !ok {
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	}

	text := strings.TrimSpace(h.sanitizer.Sanitize(payload.Text))
	if text == "" && payload.Attachment == nil {
		return utils.SendError(c, fiber.StatusBadRequest, "message content empty after sanitization")
	}

	message := models.Message{
		ID:        "msg_" + uuid.NewString(),
		SenderID:  payload.SenderID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}

	if payload.Attachment != nil {
		attachment, err := buildAttachment(*payload.Attachment)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		message.Attachment = attachment
	}

	if err := h.store.AddMessage(id, message); err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	}

	if session.CounselorID == models.AICounselorID && h.responder != nil {
		go h.generateAIReply(session, text)
	}

	updated, _ := h.store.GetSession(id)
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message added", dto.NewSessionResponse(updated))
}

// generateAIReply asks the responder for a counselor reply and appends it.
// The responder is best-effort and always returns a usable string.
func (h *SessionHandler) generateAIReply(session models.ChatSession, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply := h.responder.GenerateResponse(ctx, session.Messages, text)
	message := models.Message{
		ID:            "msg_" + uuid.NewString(),
		SenderID:      models.AICounselorID,
		Text:          reply,
		Timestamp:     time.Now().UTC(),
		IsAIGenerated: true,
	}
	if err := h.store.AddMessage(session.ID, message); err != nil {
		h.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to append ai reply")
	}
}

func (h *SessionHandler) archived(c *fiber.Ctx) error {
	if h.archive == nil {
		return utils.SendError(c, fiber.StatusNotFound, "archive not configured")
	}

	record, err := h.archive.GetBySessionID(c.UserContext(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "archive not found")
	}
	return utils.SendSuccess(c, "session archive", record)
}

// buildAttachment validates the inline payload: the encoded bytes must
// actually be of the declared media kind.
func buildAttachment(payload dto.AttachmentPayload) (*models.Attachment, error) {
	encoded := payload.URL
	if idx := strings.Index(encoded, ","); idx >= 0 {
		encoded = encoded[idx+1:]
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "attachment payload is not valid base64")
	}

	detected := mimetype.Detect(decoded)
	kind := strings.SplitN(detected.String(), "/", 2)[0]
	if kind != payload.Type {
		return nil, fiber.NewError(fiber.StatusBadRequest, "attachment content does not match its declared type")
	}

	return &models.Attachment{
		Type:     models.AttachmentType(payload.Type),
		URL:      payload.URL,
		MimeType: detected.String(),
	}, nil
}
