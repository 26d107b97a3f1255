package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trustapp/trust-go-api/internal/models"
)

// ArchiveRepository persists completed session transcripts for history and
// compliance needs.
type ArchiveRepository interface {
	Archive(ctx context.Context, session models.ChatSession) error
	GetBySessionID(ctx context.Context, sessionID string) (models.SessionArchive, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionArchive, error)
}

type archiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository constructs an archive repository backed by GORM.
func NewArchiveRepository(db *gorm.DB) ArchiveRepository {
	return &archiveRepository{db: db}
}

// Archive upserts the archive row for the session. Re-archiving the same
// session replaces the previous row, so redelivered completions are safe.
func (r *archiveRepository) Archive(ctx context.Context, session models.ChatSession) error {
	transcript, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	record := models.SessionArchive{
		SessionID:   session.ID,
		UserID:      session.UserID,
		CounselorID: session.CounselorID,
		PlanID:      session.Plan.ID,
		PlanLabel:   session.Plan.Label,
		Rating:      session.Rating,
		Feedback:    session.Feedback,
		Transcript:  string(transcript),
		CompletedAt: time.Now().UTC(),
	}

	var existing models.SessionArchive
	err = r.db.WithContext(ctx).Where("session_id = ?", session.ID).First(&existing).Error
	if err == nil {
		record.ID = existing.ID
		record.CompletedAt = existing.CompletedAt
		return r.db.WithContext(ctx).Save(&record).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *archiveRepository) GetBySessionID(ctx context.Context, sessionID string) (models.SessionArchive, error) {
	var record models.SessionArchive
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		return models.SessionArchive{}, err
	}
	return record, nil
}

func (r *archiveRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionArchive, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var records []models.SessionArchive
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("completed_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}
