package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/proofing/backend/internal/middleware"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/labstack/echo/v4"
)

// success writes the {"status":"success","data":...} envelope
func success(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, echo.Map{"status": "success", "data": data})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	return c.Validate(req)
}

// storeError maps a repository error to an HTTP error
func storeError(err error, entity string) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, entity+" not found")
	case errors.Is(err, repositories.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, entity+" already exists")
	case errors.Is(err, workflow.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to access "+entity).SetInternal(err)
	}
}

func currentActor(c echo.Context) (models.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	return actor, nil
}

func requireProject(actor models.Actor, projectID string) error {
	if !actor.CanAccessProject(projectID) {
		return echo.NewHTTPError(http.StatusForbidden, "You do not have access to this project")
	}
	return nil
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
