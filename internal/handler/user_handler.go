package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/dto"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/repository"
	"github.com/trustapp/trust-go-api/internal/store"
	"github.com/trustapp/trust-go-api/internal/utils"
)

// UserHandler wires onboarding and presence endpoints.
type UserHandler struct {
	store     *store.HybridStore
	archive   repository.ArchiveRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewUserHandler creates a user handler instance. Archive is optional.
func NewUserHandler(hybrid *store.HybridStore, archive repository.ArchiveRepository, validate *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		store:     hybrid,
		archive:   archive,
		validator: validate,
		logger:    logger.With().Str("component", "user_handler").Logger(),
	}
}

// Register binds user routes under the provided router group.
func (h *UserHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Get("/count", h.count)
	router.Get("/:id", h.get)
	router.Get("/:id/archives", h.archives)
}

func (h *UserHandler) create(c *fiber.Ctx) error {
	var payload dto.UserCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationError(c, err)
	}

	user := h.store.CreateUser(payload.Nickname, models.UserRole(payload.Role))
	requestLogger(h.logger, c).Info().Str("user_id", user.ID).Str("role", payload.Role).Msg("user onboarded")

	return utils.SendCreated(c, "user created", dto.NewUserResponse(user))
}

func (h *UserHandler) get(c *fiber.Ctx) error {
	user, ok := h.store.GetUser(c.Params("id"))
	if !ok {
		return utils.SendError(c, fiber.StatusNotFound, "user not found")
	}
	return utils.SendSuccess(c, "user", dto.NewUserResponse(user))
}

// archives lists the user's completed-session history, newest first.
func (h *UserHandler) archives(c *fiber.Ctx) error {
	if h.archive == nil {
		return utils.SendError(c, fiber.StatusNotFound, "archive not configured")
	}

	records, err := h.archive.ListByUser(c.UserContext(), c.Params("id"), c.QueryInt("limit"))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("user_id", c.Params("id")).Msg("failed to list archives")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list archives")
	}
	return utils.SendSuccess(c, "session archives", records)
}

func (h *UserHandler) count(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "online users", dto.PresenceResponse{
		OnlineUsers: h.store.GetUsersCount(),
		Mode:        string(h.store.Mode()),
	})
}
