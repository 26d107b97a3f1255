package models

import "time"

// SessionArchive is the relational record of a completed session, kept for
// history and compliance needs. The live session document is never deleted;
// completion only adds this row.
type SessionArchive struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:64;uniqueIndex" json:"session_id"`
	UserID      string    `gorm:"size:64;index" json:"user_id"`
	CounselorID string    `gorm:"size:64;index" json:"counselor_id"`
	PlanID      string    `gorm:"size:32" json:"plan_id"`
	PlanLabel   string    `gorm:"size:128" json:"plan_label"`
	Rating      *int      `json:"rating,omitempty"`
	Feedback    string    `gorm:"type:text" json:"feedback"`
	Transcript  string    `gorm:"type:text" json:"transcript"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
