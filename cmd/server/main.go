package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/router"
	"github.com/anonto42/proofing/backend/internal/validators"
	"github.com/anonto42/proofing/backend/pkg/config"
	"github.com/anonto42/proofing/backend/pkg/firebase"
	"github.com/anonto42/proofing/backend/pkg/logger"
	"github.com/labstack/echo/v4"
)

func main() {
	// Load configuration
	dotenv := config.LoadDotEnv()
	cfg := config.Load()

	logData, err := logger.New().
		FromPath(cfg.LogFile).
		Level(cfg.LogLevel).
		Pretty(!cfg.IsProduction()).
		Make()
	if err != nil {
		panic(err)
	}
	defer logData.Close()
	log := logData.Logger
	log.Info().Bool("dotenv", dotenv).Str("env", cfg.Env).Msg("configuration loaded")

	// Initialize the durable store
	var stores router.Stores
	if cfg.DBDriver == "memory" {
		log.Warn().Msg("DB_DRIVER=memory, nothing is persisted across restarts")
		stores = router.MemoryStores(repositories.NewMemoryStore())
	} else {
		db, err := config.InitDB(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize databases")
		}
		defer db.CloseDB() // Ensure database connections are closed when main exits

		if err := router.Migrate(db.SQL); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate schema")
		}
		stores = router.SQLStores(db.SQL, db.MongoDatabase())
	}

	// Initialize Firebase; without credentials only local tokens and share links work
	ctx := context.Background()
	var verifier middleware.TokenVerifier
	firebaseApp, err := firebase.New(ctx, firebase.Options{
		CredentialsPath: cfg.FirebaseCredentialsPath,
		ProjectID:       cfg.FirebaseProjectID,
		CheckRevoked:    cfg.FirebaseCheckRevoked,
	}, log)
	switch {
	case err == nil:
		verifier = firebaseApp
	case errors.Is(err, firebase.ErrNotConfigured):
		log.Info().Msg("Firebase not configured, ID token sign-in disabled")
	default:
		log.Fatal().Err(err).Msg("Failed to initialize Firebase")
	}

	// Event bus
	hub := realtime.NewHub(log)
	hub.Init()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()

	// Setup global middleware
	config.SetupMiddleware(e, cfg, log)

	// Setup routes and dependencies
	router.SetupRoutes(e, stores, hub, verifier, cfg, log)

	// Start server
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop event bus")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
}
