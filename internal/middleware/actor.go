package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/labstack/echo/v4"
)

const actorKey = "actor"

var errBadHeader = errors.New("Invalid Authorization header format")

type ActorConfig struct {
	JWTSecret string
	// Firebase is optional; without it only local tokens and share links work
	Firebase TokenVerifier
	Reviews  ShareLinkResolver
	// AllowQueryToken accepts ?token= for clients that cannot set headers (websocket upgrades)
	AllowQueryToken bool
}

// ActorMiddleware resolves who is calling from a bearer token (local JWT first,
// then Firebase) or from a review share link, and stores it on the context.
func ActorMiddleware(cfg ActorConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			token, err := bearer(req.Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if token == "" && cfg.AllowQueryToken {
				token = c.QueryParam("token")
			}

			if token != "" {
				if claims, err := ParseToken(cfg.JWTSecret, token); err == nil {
					c.Set(actorKey, claims.Actor())
					return next(c)
				}
				if cfg.Firebase == nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
				}
				actor, err := firebaseActor(req.Context(), cfg.Firebase, token)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
				}
				c.Set(actorKey, actor)
				return next(c)
			}

			link := req.Header.Get(HeaderShareLink)
			if link == "" {
				link = c.QueryParam("share")
			}
			if link != "" && cfg.Reviews != nil {
				name := req.Header.Get(HeaderActorName)
				if name == "" {
					name = c.QueryParam("name")
				}
				actor, err := shareActor(req.Context(), cfg.Reviews, link, name)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid share link")
				}
				c.Set(actorKey, actor)
				return next(c)
			}

			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header or share link")
		}
	}
}

// bearer extracts the token of a "Bearer <token>" header; an empty header yields ""
func bearer(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errBadHeader
	}
	return parts[1], nil
}

// ActorFrom returns the actor stored by ActorMiddleware
func ActorFrom(c echo.Context) (models.Actor, bool) {
	actor, ok := c.Get(actorKey).(models.Actor)
	return actor, ok
}

// SetActor stores an actor on the context
func SetActor(c echo.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}

// RequireAdmin refuses non-admin actors
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor, ok := ActorFrom(c); !ok || !actor.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "Admin access required")
			}
			return next(c)
		}
	}
}
