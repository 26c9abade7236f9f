package router

import (
	"github.com/anonto42/proofing/backend/internal/handlers"
	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Stores bundles the repositories the routes depend on
type Stores struct {
	Projects    repositories.ProjectRepository
	Reviews     repositories.ReviewRepository
	Elements    repositories.ElementRepository
	Comments    repositories.CommentRepository
	Annotations repositories.AnnotationRepository
	Activities  repositories.ActivityRepository
	Admins      repositories.AdminRepository
}

// SQLStores builds GORM backed repositories. The activity journal lives in
// MongoDB when mongoDB is set and is discarded otherwise.
func SQLStores(db *gorm.DB, mongoDB *mongo.Database) Stores {
	var activities repositories.ActivityRepository = repositories.NopActivityRepository{}
	if mongoDB != nil {
		activities = repositories.NewMongoActivityRepository(mongoDB)
	}
	return Stores{
		Projects:    repositories.NewPostgresProjectRepository(db),
		Reviews:     repositories.NewPostgresReviewRepository(db),
		Elements:    repositories.NewPostgresElementRepository(db),
		Comments:    repositories.NewPostgresCommentRepository(db),
		Annotations: repositories.NewPostgresAnnotationRepository(db),
		Activities:  activities,
		Admins:      repositories.NewPostgresAdminRepository(db),
	}
}

// MemoryStores builds repositories over one in-memory store
func MemoryStores(m *repositories.MemoryStore) Stores {
	return Stores{
		Projects:    m.Projects(),
		Reviews:     m.Reviews(),
		Elements:    m.Elements(),
		Comments:    m.Comments(),
		Annotations: m.Annotations(),
		Activities:  m.Activities(),
		Admins:      m.Admins(),
	}
}

// Migrate creates or updates the relational schema
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Project{},
		&models.Review{},
		&models.Element{},
		&models.Comment{},
		&models.Annotation{},
		&models.AnnotationReply{},
		&models.Admin{},
	)
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, stores Stores, hub *realtime.Hub, firebase middleware.TokenVerifier, cfg *config.Config, log zerolog.Logger) {
	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck(hub))

	actorConfig := middleware.ActorConfig{
		JWTSecret: cfg.JWTSecret,
		Firebase:  firebase,
		Reviews:   stores.Reviews,
	}

	// --- Admin sign in ---
	authHandler := handlers.NewAuthHandler(stores.Admins, handlers.AuthOptions{
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		AllowSignup: cfg.AllowAdminSignup,
		Firebase:    firebase,
	}, log)
	authHandler.RegisterAuthRoutes(e.Group("/api/v1/auth"))
	log.Info().Msg("Auth routes configured.")

	// --- Public share link ---
	reviewHandler := handlers.NewReviewHandler(stores.Reviews, stores.Projects)
	reviewHandler.RegisterShareRoutes(e)
	log.Info().Msg("Share link routes configured.")

	// --- Routes that require an actor (JWT, Firebase ID token or share link) ---
	api := e.Group("/api/v1")
	api.Use(middleware.ActorMiddleware(actorConfig))

	projectHandler := handlers.NewProjectHandler(stores.Projects, stores.Reviews, stores.Elements)
	projectHandler.RegisterProjectRoutes(api, middleware.RequireAdmin())
	log.Info().Msg("Project routes configured.")

	reviewHandler.RegisterReviewRoutes(api)
	log.Info().Msg("Review routes configured.")

	annotationHandler := handlers.NewAnnotationHandler(stores.Annotations, stores.Reviews, cfg.EnforceAdminResolve, log)
	annotationHandler.RegisterAnnotationRoutes(api)
	log.Info().Msg("Annotation routes configured.")

	elementHandler := handlers.NewElementHandler(stores.Elements, hub, log)
	elementHandler.RegisterElementRoutes(api)
	log.Info().Msg("Element routes configured.")

	commentHandler := handlers.NewCommentHandler(stores.Comments, stores.Elements, hub, log)
	commentHandler.RegisterCommentRoutes(api)
	log.Info().Msg("Comment routes configured.")

	activityHandler := handlers.NewActivityHandler(stores.Activities)
	activityHandler.RegisterActivityRoutes(api)
	log.Info().Msg("Activity routes configured.")

	// --- Websocket: browsers cannot set headers on the upgrade, so ?token= is accepted ---
	wsConfig := actorConfig
	wsConfig.AllowQueryToken = true
	dispatcher := realtime.NewDispatcher(hub, realtime.DispatcherOptions{
		Elements:            stores.Elements,
		Activities:          stores.Activities,
		EnforceAdminResolve: cfg.EnforceAdminResolve,
		Logger:              log,
	})
	socketHandler := handlers.NewSocketHandler(hub, dispatcher, cfg.AllowedOrigins, realtime.SessionOptions{
		PingInterval:    cfg.WSPingInterval,
		WriteTimeout:    cfg.WSWriteTimeout,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	}, log)
	e.GET("/ws", socketHandler.Serve, middleware.ActorMiddleware(wsConfig))
	log.Info().Msg("Websocket route configured.")

	log.Info().Msg("All routes configured.")
}
