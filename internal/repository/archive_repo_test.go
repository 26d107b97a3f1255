package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trustapp/trust-go-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "archive_test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SessionArchive{}))
	return db
}

func completedSession(id string) models.ChatSession {
	rating := 4
	return models.ChatSession{
		ID:          id,
		UserID:      "user_1",
		CounselorID: "user_2",
		Status:      models.SessionCompleted,
		Plan:        models.PricingPlan{ID: "p_15", Label: "15 min"},
		Rating:      &rating,
		Feedback:    "helpful",
		Messages: []models.Message{
			{ID: "msg_1", SenderID: "user_1", Text: "hello", Timestamp: time.Now().UTC()},
			{ID: "msg_2", SenderID: "user_2", Text: "hi, how can I help?", Timestamp: time.Now().UTC()},
		},
	}
}

func TestArchiveStoresTranscript(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Archive(ctx, completedSession("sess_1")))

	record, err := repo.GetBySessionID(ctx, "sess_1")
	require.NoError(t, err)
	require.Equal(t, "user_1", record.UserID)
	require.Equal(t, "p_15", record.PlanID)
	require.Equal(t, 4, *record.Rating)
	require.Contains(t, record.Transcript, "how can I help")
}

func TestArchiveIsIdempotentPerSession(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepository(db)
	ctx := context.Background()

	session := completedSession("sess_1")
	require.NoError(t, repo.Archive(ctx, session))

	session.Feedback = "updated feedback"
	require.NoError(t, repo.Archive(ctx, session))

	var count int64
	require.NoError(t, db.Model(&models.SessionArchive{}).Count(&count).Error)
	require.Equal(t, int64(1), count, "re-archiving replaces the row, never duplicates it")

	record, err := repo.GetBySessionID(ctx, "sess_1")
	require.NoError(t, err)
	require.Equal(t, "updated feedback", record.Feedback)
}

func TestGetBySessionIDMissing(t *testing.T) {
	repo := NewArchiveRepository(setupTestDB(t))

	_, err := repo.GetBySessionID(context.Background(), "sess_missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListByUserOrdersAndLimits(t *testing.T) {
	db := setupTestDB(t)
	repo := NewArchiveRepository(db)
	ctx := context.Background()

	older := models.SessionArchive{SessionID: "sess_1", UserID: "user_1", CompletedAt: time.Now().Add(-2 * time.Hour)}
	newer := models.SessionArchive{SessionID: "sess_2", UserID: "user_1", CompletedAt: time.Now().Add(-1 * time.Hour)}
	other := models.SessionArchive{SessionID: "sess_3", UserID: "user_9", CompletedAt: time.Now()}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)
	require.NoError(t, db.Create(&other).Error)

	records, err := repo.ListByUser(ctx, "user_1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "sess_2", records[0].SessionID, "expected newest completion first")

	records, err = repo.ListByUser(ctx, "user_1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
