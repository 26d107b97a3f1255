package models

import "time"

// SessionStatus tracks the lifecycle of a counseling session. Transitions are
// monotonic: PENDING -> ACTIVE -> COMPLETED, never backwards.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
)

// AttachmentType restricts the media kinds a message may carry inline.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment is an inline-encoded media payload attached to a message.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	MimeType string         `json:"mimeType,omitempty"`
}

// Message is a single chat entry. Messages are immutable once appended and
// the containing sequence preserves insertion order, not wall-clock order.
type Message struct {
	ID            string      `json:"id"`
	SenderID      string      `json:"senderId"`
	Text          string      `json:"text"`
	Timestamp     time.Time   `json:"timestamp"`
	IsAIGenerated bool        `json:"isAiGenerated,omitempty"`
	Attachment    *Attachment `json:"attachment,omitempty"`
}

// ChatSession is one counseling conversation between a requester and a
// counselor or the automated agent.
type ChatSession struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	CounselorID string        `json:"counselorId,omitempty"`
	Status      SessionStatus `json:"status"`
	Plan        PricingPlan   `json:"plan"`
	StartTime   *time.Time    `json:"startTime,omitempty"`
	Messages    []Message     `json:"messages"`
	CreatedAt   time.Time     `json:"createdAt"`
	Rating      *int          `json:"rating,omitempty"`
	Feedback    string        `json:"feedback,omitempty"`
}

// SessionPatch is an explicit partial update for a chat session. Nil fields
// are left untouched by Apply and omitted from the persisted update.
type SessionPatch struct {
	CounselorID *string        `json:"counselorId,omitempty"`
	Status      *SessionStatus `json:"status,omitempty"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	Rating      *int           `json:"rating,omitempty"`
	Feedback    *string        `json:"feedback,omitempty"`
}

// Apply merges the patch into the session, field-wise.
func (p SessionPatch) Apply(session *ChatSession) {
	if p.CounselorID != nil {
		session.CounselorID = *p.CounselorID
	}
	if p.Status != nil {
		session.Status = *p.Status
	}
	if p.StartTime != nil {
		session.StartTime = p.StartTime
	}
	if p.Rating != nil {
		session.Rating = p.Rating
	}
	if p.Feedback != nil {
		session.Feedback = *p.Feedback
	}
}

// Fields returns the document-level representation of the patch for the
// backend's field-wise merge.
func (p SessionPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.CounselorID != nil {
		fields["counselorId"] = *p.CounselorID
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.StartTime != nil {
		fields["startTime"] = *p.StartTime
	}
	if p.Rating != nil {
		fields["rating"] = *p.Rating
	}
	if p.Feedback != nil {
		fields["feedback"] = *p.Feedback
	}
	return fields
}
