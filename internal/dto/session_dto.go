package dto

import (
	"time"

	"github.com/trustapp/trust-go-api/internal/models"
)

// SessionCreateRequest starts a new counseling session on a priced plan.
type SessionCreateRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	PlanID string `json:"plan_id" validate:"required,max=32"`
}

// SessionUpdateRequest carries the optional fields a participant may change.
// Absent fields are left untouched.
type SessionUpdateRequest struct {
	CounselorID *string `json:"counselor_id,omitempty" validate:"omitempty,max=64"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=PENDING ACTIVE COMPLETED"`
	Rating      *int    `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Feedback    *string `json:"feedback,omitempty" validate:"omitempty,max=2000"`
}

// MessageCreateRequest appends one message to a session transcript.
type MessageCreateRequest struct {
	SenderID   string             `json:"sender_id" validate:"required,max=64"`
	Text       string             `json:"text" validate:"required_without=Attachment,max=4000"`
	Attachment *AttachmentPayload `json:"attachment,omitempty"`
}

// AttachmentPayload is an inline-encoded media payload.
type AttachmentPayload struct {
	Type     string `json:"type" validate:"required,oneof=image audio"`
	URL      string `json:"url" validate:"required"`
	MimeType string `json:"mime_type,omitempty"`
}

// SessionResponse is the serialized representation of a chat session.
type SessionResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	CounselorID string             `json:"counselor_id,omitempty"`
	Status      string             `json:"status"`
	Plan        models.PricingPlan `json:"plan"`
	StartTime   *time.Time         `json:"start_time,omitempty"`
	Messages    []models.Message   `json:"messages"`
	CreatedAt   time.Time          `json:"created_at"`
	Rating      *int               `json:"rating,omitempty"`
	Feedback    string             `json:"feedback,omitempty"`
}

// NewSessionResponse converts a model into a DTO.
func NewSessionResponse(session models.ChatSession) SessionResponse {
	return SessionResponse{
		ID:          session.ID,
		UserID:      session.UserID,
		CounselorID: session.CounselorID,
		Status:      string(session.Status),
		Plan:        session.Plan,
		StartTime:   session.StartTime,
		Messages:    session.Messages,
		CreatedAt:   session.CreatedAt,
		Rating:      session.Rating,
		Feedback:    session.Feedback,
	}
}

// NewSessionResponseSlice converts a slice of models into DTOs.
func NewSessionResponseSlice(sessions []models.ChatSession) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, NewSessionResponse(session))
	}
	return out
}
