// Package testenv runs a complete proofing backend on an httptest listener
// for client and integration tests. Everything is kept in memory.
package testenv

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/router"
	"github.com/anonto42/proofing/backend/internal/validators"
	"github.com/anonto42/proofing/backend/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const JWTSecret = "testenv-secret"

var Admin = models.Actor{ID: "admin-1", Name: "Designer", Role: models.RoleAdmin}

// Server is one running backend with a seeded project, review and element
type Server struct {
	*httptest.Server

	Hub    *realtime.Hub
	Store  *repositories.MemoryStore
	Config *config.Config

	Project *models.Project
	Review  *models.Review
	Element *models.Element
}

// Start boots the backend and stops it when t finishes
func Start(t testing.TB) *Server {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:           JWTSecret,
		EnforceAdminResolve: true,
		AllowedOrigins:      []string{"*"},
	}
	log := zerolog.Nop()

	hub := realtime.NewHub(log)
	hub.Init()
	store := repositories.NewMemoryStore()

	e := echo.New()
	e.Validator = validators.NewValidator()
	config.SetupMiddleware(e, cfg, log)
	router.SetupRoutes(e, router.MemoryStores(store), hub, nil, cfg, log)

	s := &Server{
		Server: httptest.NewServer(e),
		Hub:    hub,
		Store:  store,
		Config: cfg,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		s.Close()
	})

	s.seed(t)
	return s
}

func (s *Server) seed(t testing.TB) {
	ctx := context.Background()
	s.Project = &models.Project{Name: "Spring campaign"}
	require.NoError(t, s.Store.Projects().Create(ctx, s.Project))
	s.Review = &models.Review{ProjectID: s.Project.ID}
	require.NoError(t, s.Store.Reviews().Create(ctx, s.Review))
	s.Element = &models.Element{ReviewID: s.Review.ID, ProjectID: s.Project.ID, Name: "f1.png"}
	require.NoError(t, s.Store.Elements().Create(ctx, s.Element))
}

// WSURL is the websocket endpoint
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Token signs a local token for actor
func (s *Server) Token(t testing.TB, actor models.Actor) string {
	t.Helper()
	token, err := middleware.SignToken(JWTSecret, actor, time.Hour)
	require.NoError(t, err)
	return token
}

// Members counts the sessions currently in room
func (s *Server) Members(room string) int {
	return len(s.Hub.Members(room))
}

// Client is the actor the server resolves for the seeded share link
func (s *Server) Client(name string) models.Actor {
	return models.Actor{ID: "share-" + s.Review.ShareLink[:8], Name: name, Role: models.RoleClient, ProjectID: s.Project.ID}
}

// Kick drops the sessions of actorID in room from the server side; an
// empty actorID drops every member
func (s *Server) Kick(room, actorID string) {
	for _, session := range s.Hub.Members(room) {
		if actorID == "" || session.Actor.ID == actorID {
			s.Hub.Unregister(session)
		}
	}
}
