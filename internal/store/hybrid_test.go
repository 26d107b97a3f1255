package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/store"
)

func newDocs(t *testing.T) *docstore.LocalStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app_data.json")
	docs, err := docstore.NewLocalStore(path, zerolog.Nop())
	require.NoError(t, err)
	return docs
}

func newHybrid(t *testing.T, docs docstore.Store, mode store.Mode, archiver store.Archiver) *store.HybridStore {
	t.Helper()
	hybrid, err := store.New(store.Options{
		Docs:           docs,
		Mode:           mode,
		PresenceWindow: 5 * time.Minute,
		Archiver:       archiver,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hybrid.Close() })
	return hybrid
}

type recordingArchiver struct {
	mu       sync.Mutex
	sessions []models.ChatSession
}

func (a *recordingArchiver) Archive(_ context.Context, session models.ChatSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, session)
	return nil
}

func (a *recordingArchiver) archived() []models.ChatSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ChatSession, len(a.sessions))
	copy(out, a.sessions)
	return out
}

func TestCreateUserCachesAndPersists(t *testing.T) {
	docs := newDocs(t)
	hybrid := newHybrid(t, docs, store.ModeLocal, nil)

	user := hybrid.CreateUser("Sunny", models.RoleUser)
	require.NotEmpty(t, user.ID)
	require.True(t, user.IsOnline)

	cached, ok := hybrid.GetUser(user.ID)
	require.True(t, ok)
	require.Equal(t, "Sunny", cached.Nickname)

	var persisted models.User
	require.NoError(t, docs.GetDocument(context.Background(), docstore.CollectionUsers, user.ID, &persisted))
	require.Equal(t, "Sunny", persisted.Nickname)
}

func TestUpdateSessionMergesDisjointPatches(t *testing.T) {
	hybrid := newHybrid(t, newDocs(t), store.ModeLocal, nil)

	hybrid.CreateSession(models.ChatSession{
		ID:        "sess_1",
		UserID:    "user_1",
		Status:    models.SessionPending,
		CreatedAt: time.Now().UTC(),
	})

	counselor := "user_2"
	require.NoError(t, hybrid.UpdateSession("sess_1", models.SessionPatch{CounselorID: &counselor}))

	active := models.SessionActive
	now := time.Now().UTC()
	require.NoError(t, hybrid.UpdateSession("sess_1", models.SessionPatch{Status: &active, StartTime: &now}))

	session, ok := hybrid.GetSession("sess_1")
	require.True(t, ok)
	require.Equal(t, "user_2", session.CounselorID, "earlier patch survives the later disjoint one")
	require.Equal(t, models.SessionActive, session.Status)
	require.NotNil(t, session.StartTime)
}

func TestUpdateSessionDropsBackwardsStatus(t *testing.T) {
	hybrid := newHybrid(t, newDocs(t), store.ModeLocal, nil)

	hybrid.CreateSession(models.ChatSession{ID: "sess_1", Status: models.SessionActive})

	pending := models.SessionPending
	counselor := "user_2"
	require.NoError(t, hybrid.UpdateSession("sess_1", models.SessionPatch{Status: &pending, CounselorID: &counselor}))

	session, _ := hybrid.GetSession("sess_1")
	require.Equal(t, models.SessionActive, session.Status, "status never moves backwards")
	require.Equal(t, "user_2", session.CounselorID, "rest of the patch still applies")
}

func TestUpdateSessionMissing(t *testing.T) {
	hybrid := newHybrid(t, newDocs(t), store.ModeLocal, nil)

	active := models.SessionActive
	err := hybrid.UpdateSession("sess_missing", models.SessionPatch{Status: &active})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestAddMessagePreservesOrder(t *testing.T) {
	docs := newDocs(t)
	hybrid := newHybrid(t, docs, store.ModeLocal, nil)

	hybrid.CreateSession(models.ChatSession{ID: "sess_1", Status: models.SessionActive})

	require.NoError(t, hybrid.AddMessage("sess_1", models.Message{ID: "msg_1", SenderID: "user_1", Text: "hello"}))
	require.NoError(t, hybrid.AddMessage("sess_1", models.Message{ID: "msg_2", SenderID: "user_2", Text: "hi there"}))

	session, ok := hybrid.GetSession("sess_1")
	require.True(t, ok)
	require.Len(t, session.Messages, 2)
	require.Equal(t, "msg_1", session.Messages[0].ID)
	require.Equal(t, "msg_2", session.Messages[1].ID)

	var persisted models.ChatSession
	require.NoError(t, docs.GetDocument(context.Background(), docstore.CollectionSessions, "sess_1", &persisted))
	require.Len(t, persisted.Messages, 2)

	err := hybrid.AddMessage("sess_missing", models.Message{ID: "msg_3"})
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestGetUsersCountLocalModeReturnsTotal(t *testing.T) {
	docs := newDocs(t)
	ctx := context.Background()

	stale := models.User{ID: "user_old", Nickname: "Old", LastSeen: time.Now().Add(-time.Hour)}
	fresh := models.User{ID: "user_new", Nickname: "New", LastSeen: time.Now()}
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, stale.ID, stale))
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, fresh.ID, fresh))

	hybrid := newHybrid(t, docs, store.ModeLocal, nil)
	require.Equal(t, 2, hybrid.GetUsersCount())
}

func TestGetUsersCountRemoteModeAppliesPresenceWindow(t *testing.T) {
	docs := newDocs(t)
	ctx := context.Background()

	stale := models.User{ID: "user_old", Nickname: "Old", LastSeen: time.Now().Add(-time.Hour)}
	fresh := models.User{ID: "user_new", Nickname: "New", LastSeen: time.Now()}
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, stale.ID, stale))
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, fresh.ID, fresh))

	hybrid := newHybrid(t, docs, store.ModeRemote, nil)
	require.Equal(t, 1, hybrid.GetUsersCount(), "users outside the presence window are not counted")
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	hybrid := newHybrid(t, newDocs(t), store.ModeLocal, nil)

	var mu sync.Mutex
	notified := 0
	unsubscribe := hybrid.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})
	defer unsubscribe()

	hybrid.CreateSession(models.ChatSession{ID: "sess_1", Status: models.SessionPending})

	mu.Lock()
	require.Greater(t, notified, 0)
	seen := notified
	mu.Unlock()

	unsubscribe()
	hybrid.CreateSession(models.ChatSession{ID: "sess_2", Status: models.SessionPending})
	mu.Lock()
	require.Equal(t, seen, notified, "no notification after unsubscribe")
	mu.Unlock()
}

func TestCompleteSessionArchivesTranscript(t *testing.T) {
	archiver := &recordingArchiver{}
	hybrid := newHybrid(t, newDocs(t), store.ModeLocal, archiver)

	hybrid.CreateSession(models.ChatSession{ID: "sess_1", UserID: "user_1", Status: models.SessionActive})
	require.NoError(t, hybrid.AddMessage("sess_1", models.Message{ID: "msg_1", Text: "hello"}))

	rating := 5
	require.NoError(t, hybrid.CompleteSession("sess_1", &rating, "very helpful"))

	session, _ := hybrid.GetSession("sess_1")
	require.Equal(t, models.SessionCompleted, session.Status)
	require.Equal(t, 5, *session.Rating)
	require.Equal(t, "very helpful", session.Feedback)

	require.Eventually(t, func() bool {
		archived := archiver.archived()
		return len(archived) == 1 && archived[0].ID == "sess_1"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHeartbeatRefreshesPresence(t *testing.T) {
	docs := newDocs(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	user := models.User{ID: "user_1", Nickname: "Sunny", LastSeen: past}
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, user.ID, user))

	hybrid, err := store.New(store.Options{
		Docs:              docs,
		Mode:              store.ModeRemote,
		HeartbeatInterval: 20 * time.Millisecond,
		PresenceWindow:    5 * time.Minute,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hybrid.Close() })

	hybrid.StartHeartbeat(user.ID)

	require.Eventually(t, func() bool {
		var persisted models.User
		if docs.GetDocument(ctx, docstore.CollectionUsers, user.ID, &persisted) != nil {
			return false
		}
		return persisted.LastSeen.After(past) && persisted.IsOnline
	}, 3*time.Second, 10*time.Millisecond)

	hybrid.StopHeartbeat(user.ID)
}

func TestHeartbeatsRunPerUser(t *testing.T) {
	docs := newDocs(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	first := models.User{ID: "user_1", Nickname: "Sunny", LastSeen: past}
	second := models.User{ID: "user_2", Nickname: "Moon", LastSeen: past}
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, first.ID, first))
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, second.ID, second))

	hybrid, err := store.New(store.Options{
		Docs:              docs,
		Mode:              store.ModeRemote,
		HeartbeatInterval: 20 * time.Millisecond,
		PresenceWindow:    5 * time.Minute,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hybrid.Close() })

	hybrid.StartHeartbeat(first.ID)
	hybrid.StartHeartbeat(second.ID)

	// Starting the second user's heartbeat must not stall the first user's.
	var checkpoint models.User
	require.Eventually(t, func() bool {
		return docs.GetDocument(ctx, docstore.CollectionUsers, first.ID, &checkpoint) == nil &&
			checkpoint.LastSeen.After(past)
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var latest models.User
		if docs.GetDocument(ctx, docstore.CollectionUsers, first.ID, &latest) != nil {
			return false
		}
		return latest.LastSeen.After(checkpoint.LastSeen)
	}, 3*time.Second, 10*time.Millisecond, "first user keeps beating alongside the second")

	hybrid.StopHeartbeat(first.ID)

	require.Eventually(t, func() bool {
		var other models.User
		if docs.GetDocument(ctx, docstore.CollectionUsers, second.ID, &other) != nil {
			return false
		}
		return other.LastSeen.After(past) && other.IsOnline
	}, 3*time.Second, 10*time.Millisecond, "stopping one user leaves the other beating")
}

func TestHeartbeatIsNoopInLocalMode(t *testing.T) {
	docs := newDocs(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	user := models.User{ID: "user_1", Nickname: "Sunny", LastSeen: past}
	require.NoError(t, docs.CreateDocument(ctx, docstore.CollectionUsers, user.ID, user))

	hybrid, err := store.New(store.Options{
		Docs:              docs,
		Mode:              store.ModeLocal,
		HeartbeatInterval: 10 * time.Millisecond,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hybrid.Close() })

	hybrid.StartHeartbeat(user.ID)
	time.Sleep(50 * time.Millisecond)

	var persisted models.User
	require.NoError(t, docs.GetDocument(ctx, docstore.CollectionUsers, user.ID, &persisted))
	require.True(t, persisted.LastSeen.Equal(past), "local mode writes no presence updates")
}
