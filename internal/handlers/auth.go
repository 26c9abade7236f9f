package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler signs studio staff in and issues local tokens
type AuthHandler struct {
	adminRepository repositories.AdminRepository
	firebaseAuth    middleware.TokenVerifier
	jwtSecret       string
	tokenTTL        time.Duration
	allowSignup     bool
	log             zerolog.Logger
}

type AuthOptions struct {
	JWTSecret string
	TokenTTL  time.Duration
	// AllowSignup keeps signup open after the first admin exists
	AllowSignup bool
	// Firebase is optional; without it firebase-login answers 501
	Firebase middleware.TokenVerifier
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(adminRepo repositories.AdminRepository, opts AuthOptions, log zerolog.Logger) *AuthHandler {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 72 * time.Hour
	}
	return &AuthHandler{
		adminRepository: adminRepo,
		firebaseAuth:    opts.Firebase,
		jwtSecret:       opts.JWTSecret,
		tokenTTL:        opts.TokenTTL,
		allowSignup:     opts.AllowSignup,
		log:             log,
	}
}

// RegisterAuthRoutes registers authentication-related routes
func (h *AuthHandler) RegisterAuthRoutes(g *echo.Group) {
	g.POST("/signup", h.Signup)
	g.POST("/signin", h.SignIn)
	g.POST("/firebase-login", h.FirebaseLogin)
}

// signupOpen reports whether a new account may be created. The first admin can always sign up.
func (h *AuthHandler) signupOpen(ctx context.Context) (bool, error) {
	if h.allowSignup {
		return true, nil
	}
	n, err := h.adminRepository.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Signup handles local admin registration with email and password
func (h *AuthHandler) Signup(c echo.Context) error {
	var req models.SignupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	open, err := h.signupOpen(ctx)
	if err != nil {
		return storeError(err, "Admin")
	}
	if !open {
		return echo.NewHTTPError(http.StatusForbidden, "Signup is closed")
	}

	if _, err := h.adminRepository.GetByEmail(ctx, req.Email); err == nil {
		return echo.NewHTTPError(http.StatusConflict, "Admin with this email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to hash password").SetInternal(err)
	}

	admin := &models.Admin{
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hashedPassword),
	}
	if err := h.adminRepository.Create(ctx, admin); err != nil {
		return storeError(err, "Admin")
	}
	h.log.Info().Str("admin_id", admin.ID).Msg("admin signed up")

	return h.issue(c, http.StatusCreated, admin)
}

// SignIn handles local admin authentication with email and password
func (h *AuthHandler) SignIn(c echo.Context) error {
	var req models.SigninRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	admin, err := h.adminRepository.GetByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
		}
		return storeError(err, "Admin")
	}
	if admin.Password == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "This account signs in with Firebase")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(req.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	return h.issue(c, http.StatusOK, admin)
}

// FirebaseLogin verifies a Firebase ID token and issues a local token for the
// admin it belongs to, linking or creating the account as needed.
func (h *AuthHandler) FirebaseLogin(c echo.Context) error {
	if h.firebaseAuth == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Firebase login is not configured")
	}

	var req models.FirebaseLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	token, err := h.firebaseAuth.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Firebase ID token")
	}

	uid := token.UID
	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)

	admin, err := h.adminRepository.GetByFirebaseUID(ctx, uid)
	switch {
	case err == nil:
		if name != "" {
			admin.Name = name
		}
		if email != "" {
			admin.Email = email
		}
		err = h.adminRepository.Update(ctx, admin)
	case errors.Is(err, repositories.ErrNotFound):
		admin, err = h.linkFirebase(ctx, uid, email, name)
	}
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return storeError(err, "Admin")
	}

	return h.issue(c, http.StatusOK, admin)
}

// linkFirebase attaches uid to the admin with the same email, or creates one
func (h *AuthHandler) linkFirebase(ctx context.Context, uid, email, name string) (*models.Admin, error) {
	if email == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Firebase account has no email")
	}

	admin, err := h.adminRepository.GetByEmail(ctx, email)
	if err == nil {
		admin.FirebaseUID = &uid
		return admin, h.adminRepository.Update(ctx, admin)
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	open, err := h.signupOpen(ctx)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, echo.NewHTTPError(http.StatusForbidden, "No admin account for "+email)
	}
	if name == "" {
		name = email
	}
	admin = &models.Admin{Name: name, Email: email, FirebaseUID: &uid}
	if err := h.adminRepository.Create(ctx, admin); err != nil {
		return nil, err
	}
	h.log.Info().Str("admin_id", admin.ID).Msg("admin created from firebase login")
	return admin, nil
}

func (h *AuthHandler) issue(c echo.Context, code int, admin *models.Admin) error {
	token, err := middleware.SignToken(h.jwtSecret, admin.Actor(), h.tokenTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token").SetInternal(err)
	}
	return success(c, code, models.AuthResponse{Token: token, Admin: admin})
}
