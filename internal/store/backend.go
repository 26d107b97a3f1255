package store

import (
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/config"
	"github.com/trustapp/trust-go-api/internal/database"
	"github.com/trustapp/trust-go-api/internal/docstore"
)

// Mode is the persistence mode selected at startup. It never changes for the
// lifetime of the process.
type Mode string

const (
	// ModeRemote persists to the real-time remote backend.
	ModeRemote Mode = "remote"
	// ModeLocal persists to a durable local file, single-process fallback.
	ModeLocal Mode = "local"
)

// SelectBackend decides the persistence mode once, at startup. A configured
// and reachable Redis backend activates remote mode; anything else falls back
// to the local file store. An unreachable backend is not an error, just a
// supported degraded mode.
func SelectBackend(cfg config.Config, logger zerolog.Logger) (docstore.Store, Mode, error) {
	log := logger.With().Str("component", "backend_selector").Logger()

	if cfg.RedisURL == "" {
		log.Info().Str("path", cfg.LocalStorePath).Msg("no remote backend configured, using local store")
		local, err := docstore.NewLocalStore(cfg.LocalStorePath, logger)
		return local, ModeLocal, err
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("remote backend unreachable, falling back to local store")
		local, localErr := docstore.NewLocalStore(cfg.LocalStorePath, logger)
		return local, ModeLocal, localErr
	}

	var natsConn *nats.Conn
	if cfg.NatsURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, change fan-out stays on redis only")
			natsConn = nil
		}
	}

	log.Info().Msg("remote backend active")
	return docstore.NewRedisStore(redisClient, natsConn, cfg.DocPrefix, logger), ModeRemote, nil
}
