package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trustapp/trust-go-api/internal/config"
	"github.com/trustapp/trust-go-api/internal/store"
	"github.com/trustapp/trust-go-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	StoreMode   string    `json:"storeMode"`
}

// HealthCheck returns a handler that reports application health information,
// including which persistence backend the process settled on at startup.
func HealthCheck(cfg config.Config, mode store.Mode) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			StoreMode:   string(mode),
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
