package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/validators"
	"github.com/anonto42/proofing/backend/pkg/config"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type published struct {
	Room    string
	Event   string
	Payload interface{}
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (b *recordingBus) Publish(room, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{room, event, payload})
	return nil
}

func (b *recordingBus) PublishExcept(room, event string, payload any, _ *realtime.Session) error {
	return b.Publish(room, event, payload)
}

func (b *recordingBus) all() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.events...)
}

type testEnv struct {
	e       *echo.Echo
	store   *repositories.MemoryStore
	bus     *recordingBus
	project *models.Project
	review  *models.Review
	element *models.Element
	actors  map[string]models.Actor
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := repositories.NewMemoryStore()

	project := &models.Project{Name: "Spring campaign"}
	require.NoError(t, store.Projects().Create(ctx, project))
	review := &models.Review{ProjectID: project.ID}
	require.NoError(t, store.Reviews().Create(ctx, review))
	element := &models.Element{ReviewID: review.ID, ProjectID: project.ID, Name: "hero.png"}
	require.NoError(t, store.Elements().Create(ctx, element))

	env := &testEnv{
		e:       echo.New(),
		store:   store,
		bus:     &recordingBus{},
		project: project,
		review:  review,
		element: element,
		actors: map[string]models.Actor{
			"admin":    {ID: "admin-1", Name: "Designer", Role: models.RoleAdmin},
			"client":   {ID: "client-1", Name: "Client", Role: models.RoleClient, ProjectID: project.ID},
			"client2":  {ID: "client-2", Name: "Other Client", Role: models.RoleClient, ProjectID: project.ID},
			"stranger": {ID: "client-9", Name: "Stranger", Role: models.RoleClient, ProjectID: "elsewhere"},
		},
	}

	env.e.Validator = validators.NewValidator()
	env.e.HTTPErrorHandler = config.ErrorHandler(zerolog.Nop())

	api := env.e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor, ok := env.actors[c.Request().Header.Get("X-Test-Actor")]; ok {
				middleware.SetActor(c, actor)
			}
			return next(c)
		}
	})

	log := zerolog.Nop()
	NewAnnotationHandler(store.Annotations(), store.Reviews(), true, log).RegisterAnnotationRoutes(api)
	NewElementHandler(store.Elements(), env.bus, log).RegisterElementRoutes(api)
	NewCommentHandler(store.Comments(), store.Elements(), env.bus, log).RegisterCommentRoutes(api)
	reviews := NewReviewHandler(store.Reviews(), store.Projects())
	reviews.RegisterReviewRoutes(api)
	reviews.RegisterShareRoutes(env.e)
	NewProjectHandler(store.Projects(), store.Reviews(), store.Elements()).RegisterProjectRoutes(api, middleware.RequireAdmin())
	NewActivityHandler(store.Activities()).RegisterActivityRoutes(api)
	return env
}

func (env *testEnv) do(t *testing.T, as, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-Actor", as)

	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (env *testEnv) createAnnotation(t *testing.T, as string) models.Annotation {
	t.Helper()
	code, res := env.do(t, as, http.MethodPost, "/api/v1/annotations", map[string]interface{}{
		"content":     "fix logo color",
		"fileId":      env.element.ID,
		"projectId":   env.project.ID,
		"coordinates": map[string]float64{"x": 42.5, "y": 10.1},
	})
	require.Equal(t, http.StatusCreated, code, res.Message)
	return decode[models.Annotation](t, res.Data)
}
