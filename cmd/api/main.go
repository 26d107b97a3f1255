package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/call"
	"github.com/trustapp/trust-go-api/internal/config"
	"github.com/trustapp/trust-go-api/internal/database"
	"github.com/trustapp/trust-go-api/internal/handler"
	"github.com/trustapp/trust-go-api/internal/middleware"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/repository"
	"github.com/trustapp/trust-go-api/internal/router"
	"github.com/trustapp/trust-go-api/internal/signaling"
	"github.com/trustapp/trust-go-api/internal/store"
	"github.com/trustapp/trust-go-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	docs, mode, err := store.SelectBackend(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open document store: %v", err)
	}
	logger.Info().Str("mode", string(mode)).Msg("persistence backend selected")

	var archiveRepo repository.ArchiveRepository
	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := db.AutoMigrate(&models.SessionArchive{}); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		archiveRepo = repository.NewArchiveRepository(db)
	} else {
		logger.Warn().Msg("no database configured, completed sessions will not be archived")
	}

	var responder ai.Responder
	if cfg.OpenAIAPIKey != "" {
		responder, err = ai.NewOpenAIResponder(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.AIModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create ai responder: %v", err)
		}
	} else {
		logger.Warn().Msg("no openai key configured, ai counselor sessions get the fallback reply")
	}

	var archiver store.Archiver
	if archiveRepo != nil {
		archiver = archiveRepo
	}

	hybrid, err := store.New(store.Options{
		Docs:              docs,
		Mode:              mode,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PresenceWindow:    cfg.PresenceWindow,
		Archiver:          archiver,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("failed to build hybrid store: %v", err)
	}

	channel := signaling.NewChannel(docs, mode, logger)

	var autoResponder *call.AutoResponder
	if mode == store.ModeRemote {
		autoResponder, err = call.StartAutoResponder(call.AutoResponderConfig{
			Docs:     docs,
			Sessions: hybrid,
			Signaler: channel,
			NewEngine: call.NewPionEngine(call.EngineConfig{
				STUNServers: cfg.StunServers,
			}),
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to start call auto responder: %v", err)
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userHandler := handler.NewUserHandler(hybrid, archiveRepo, validate, logger)
	sessionHandler := handler.NewSessionHandler(hybrid, archiveRepo, responder, validate, logger)
	callHandler := handler.NewCallHandler(channel, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		UserHandler:    userHandler,
		SessionHandler: sessionHandler,
		CallHandler:    callHandler,
		StoreMode:      mode,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, hybrid, docs, autoResponder)
}

func waitForShutdown(app *fiber.App, hybrid *store.HybridStore, docs interface{ Close() error }, autoResponder *call.AutoResponder) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if autoResponder != nil {
		autoResponder.Stop()
	}

	if err := hybrid.Close(); err != nil {
		log.Printf("hybrid store close failed: %v", err)
	}
	if err := docs.Close(); err != nil {
		log.Printf("document store close failed: %v", err)
	}

	log.Println("server stopped")
}
