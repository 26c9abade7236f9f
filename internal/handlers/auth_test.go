package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/validators"
	"github.com/anonto42/proofing/backend/pkg/config"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authSecret = "auth-test-secret"

type fakeVerifier map[string]*auth.Token

func (f fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := f[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("token has expired")
}

func newAuthEcho(t *testing.T, store *repositories.MemoryStore, opts AuthOptions) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Validator = validators.NewValidator()
	e.HTTPErrorHandler = config.ErrorHandler(zerolog.Nop())
	opts.JWTSecret = authSecret
	NewAuthHandler(store.Admins(), opts, zerolog.Nop()).RegisterAuthRoutes(e.Group("/api/v1/auth"))
	return e
}

func postAuth(t *testing.T, e *echo.Echo, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth"+path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func requireAdminToken(t *testing.T, res envelope) models.AuthResponse {
	t.Helper()
	got := decode[models.AuthResponse](t, res.Data)
	claims, err := middleware.ParseToken(authSecret, got.Token)
	require.NoError(t, err)
	actor := claims.Actor()
	assert.Equal(t, models.RoleAdmin, actor.Role)
	require.NotNil(t, got.Admin)
	assert.Equal(t, got.Admin.ID, actor.ID)
	return got
}

func TestAuth_SignupAndSignIn(t *testing.T) {
	store := repositories.NewMemoryStore()
	e := newAuthEcho(t, store, AuthOptions{})

	code, res := postAuth(t, e, "/signup", map[string]string{"name": "Designer", "email": "designer@studio.example", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, code, res.Message)
	first := requireAdminToken(t, res)
	assert.Equal(t, "Designer", first.Admin.Name)

	stored, err := store.Admins().GetByEmail(context.Background(), "designer@studio.example")
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse", stored.Password)

	// only the first account may sign up while signup is closed
	code, res = postAuth(t, e, "/signup", map[string]string{"name": "Intruder", "email": "x@example.com", "password": "12345678"})
	assert.Equal(t, http.StatusForbidden, code, res.Message)

	code, res = postAuth(t, e, "/signin", map[string]string{"email": "Designer@Studio.example", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, first.Admin.ID, requireAdminToken(t, res).Admin.ID)

	code, res = postAuth(t, e, "/signin", map[string]string{"email": "designer@studio.example", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", res.Status)

	code, _ = postAuth(t, e, "/signin", map[string]string{"email": "nobody@studio.example", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = postAuth(t, e, "/signin", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuth_OpenSignup(t *testing.T) {
	e := newAuthEcho(t, repositories.NewMemoryStore(), AuthOptions{AllowSignup: true})

	body := map[string]string{"name": "Designer", "email": "designer@studio.example", "password": "correct-horse"}
	code, _ := postAuth(t, e, "/signup", body)
	require.Equal(t, http.StatusCreated, code)

	code, _ = postAuth(t, e, "/signup", map[string]string{"name": "Second", "email": "second@studio.example", "password": "correct-horse"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = postAuth(t, e, "/signup", body)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAuth_FirebaseLogin(t *testing.T) {
	store := repositories.NewMemoryStore()
	verifier := fakeVerifier{
		"tok-new":  {UID: "fb-new", Claims: map[string]interface{}{"email": "new@studio.example", "name": "New Designer"}},
		"tok-link": {UID: "fb-link", Claims: map[string]interface{}{"email": "local@studio.example"}},
		"tok-anon": {UID: "fb-anon", Claims: map[string]interface{}{}},
	}
	e := newAuthEcho(t, store, AuthOptions{Firebase: verifier})

	// first login creates the account
	code, res := postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok-new"})
	require.Equal(t, http.StatusOK, code, res.Message)
	created := requireAdminToken(t, res)
	assert.Equal(t, "New Designer", created.Admin.Name)

	// logging in again finds the same admin by uid
	code, res = postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok-new"})
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, created.Admin.ID, requireAdminToken(t, res).Admin.ID)

	// an existing local account is linked by email
	local := &models.Admin{Name: "Local", Email: "local@studio.example", Password: "hash"}
	require.NoError(t, store.Admins().Create(context.Background(), local))
	code, res = postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok-link"})
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, local.ID, requireAdminToken(t, res).Admin.ID)
	linked, err := store.Admins().GetByFirebaseUID(context.Background(), "fb-link")
	require.NoError(t, err)
	assert.Equal(t, local.ID, linked.ID)

	code, _ = postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok-anon"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = postAuth(t, e, "/firebase-login", map[string]string{"idToken": "expired"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuth_FirebaseLoginClosedSignup(t *testing.T) {
	store := repositories.NewMemoryStore()
	require.NoError(t, store.Admins().Create(context.Background(), &models.Admin{Name: "Owner", Email: "owner@studio.example"}))
	verifier := fakeVerifier{"tok": {UID: "fb-1", Claims: map[string]interface{}{"email": "stranger@example.com"}}}
	e := newAuthEcho(t, store, AuthOptions{Firebase: verifier})

	code, res := postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok"})
	assert.Equal(t, http.StatusForbidden, code, res.Message)
}

func TestAuth_FirebaseNotConfigured(t *testing.T) {
	e := newAuthEcho(t, repositories.NewMemoryStore(), AuthOptions{})
	code, _ := postAuth(t, e, "/firebase-login", map[string]string{"idToken": "tok"})
	assert.Equal(t, http.StatusNotImplemented, code)
}
