package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trustapp/trust-go-api/internal/docstore"
	"github.com/trustapp/trust-go-api/internal/dto"
	"github.com/trustapp/trust-go-api/internal/handler"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/repository"
	"github.com/trustapp/trust-go-api/internal/store"
)

type stubArchive struct {
	records []models.SessionArchive
}

func (s *stubArchive) Archive(context.Context, models.ChatSession) error { return nil }

func (s *stubArchive) GetBySessionID(_ context.Context, sessionID string) (models.SessionArchive, error) {
	for _, record := range s.records {
		if record.SessionID == sessionID {
			return record, nil
		}
	}
	return models.SessionArchive{}, gorm.ErrRecordNotFound
}

func (s *stubArchive) ListByUser(_ context.Context, userID string, _ int) ([]models.SessionArchive, error) {
	var out []models.SessionArchive
	for _, record := range s.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func newUserApp(t *testing.T, archive repository.ArchiveRepository) *fiber.App {
	t.Helper()

	docs, err := docstore.NewLocalStore(filepath.Join(t.TempDir(), "app_data.json"), zerolog.Nop())
	require.NoError(t, err)

	hybrid, err := store.New(store.Options{
		Docs:   docs,
		Mode:   store.ModeLocal,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hybrid.Close() })

	validate := validator.New(validator.WithRequiredStructEnabled())
	h := handler.NewUserHandler(hybrid, archive, validate, zerolog.Nop())

	app := fiber.New()
	h.Register(app.Group("/users"))
	return app
}

func TestCreateUserAndFetch(t *testing.T) {
	app := newUserApp(t, nil)

	resp := postJSON(t, app, "/users/", dto.UserCreateRequest{Nickname: "Sunny", Role: "USER"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		Data dto.UserResponse `json:"data"`
	}
	func() {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	}()
	require.NotEmpty(t, created.Data.ID)
	require.True(t, created.Data.IsOnline)

	req := httptest.NewRequest(http.MethodGet, "/users/"+created.Data.ID, nil)
	getResp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, fiber.StatusOK, getResp.StatusCode)
}

func TestCreateUserValidatesPayload(t *testing.T) {
	app := newUserApp(t, nil)

	resp := postJSON(t, app, "/users/", dto.UserCreateRequest{Nickname: "S", Role: "USER"})
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "nickname below minimum length")

	resp = postJSON(t, app, "/users/", dto.UserCreateRequest{Nickname: "Sunny", Role: "WIZARD"})
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "unknown role")
}

func TestPresenceCountReportsMode(t *testing.T) {
	app := newUserApp(t, nil)

	resp := postJSON(t, app, "/users/", dto.UserCreateRequest{Nickname: "Sunny", Role: "USER"})
	resp.Body.Close()

	req := httptest.NewRequest(http.MethodGet, "/users/count", nil)
	countResp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer countResp.Body.Close()
	require.Equal(t, fiber.StatusOK, countResp.StatusCode)

	var envelope struct {
		Data dto.PresenceResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(countResp.Body).Decode(&envelope))
	require.Equal(t, 1, envelope.Data.OnlineUsers)
	require.Equal(t, "local", envelope.Data.Mode)
}

func TestListUserArchives(t *testing.T) {
	archive := &stubArchive{records: []models.SessionArchive{
		{SessionID: "sess_1", UserID: "user_1", PlanLabel: "15 minutes"},
		{SessionID: "sess_2", UserID: "user_2", PlanLabel: "30 minutes"},
	}}
	app := newUserApp(t, archive)

	req := httptest.NewRequest(http.MethodGet, "/users/user_1/archives", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var envelope struct {
		Data []models.SessionArchive `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Data, 1)
	require.Equal(t, "sess_1", envelope.Data[0].SessionID)
}

func TestListUserArchivesWithoutBackend(t *testing.T) {
	app := newUserApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/user_1/archives", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetMissingUser(t *testing.T) {
	app := newUserApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/user_missing", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
