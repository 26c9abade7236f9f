package handlers

import (
	"net/http"
	"strconv"

	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/labstack/echo/v4"
)

const defaultActivityLimit = 50

// ActivityHandler exposes the journal of status events
type ActivityHandler struct {
	activityRepository repositories.ActivityRepository
}

func NewActivityHandler(activityRepo repositories.ActivityRepository) *ActivityHandler {
	return &ActivityHandler{activityRepository: activityRepo}
}

func (h *ActivityHandler) RegisterActivityRoutes(g *echo.Group) {
	g.GET("/projects/:project_id/activity", h.GetActivity)
}

// GetActivity lists the newest activity of a project, ?limit= up to 200
func (h *ActivityHandler) GetActivity(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	projectID := c.Param("project_id")
	if err := requireProject(actor, projectID); err != nil {
		return err
	}

	limit, err := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	if err != nil || limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > 200 {
		limit = 200
	}

	activities, err := h.activityRepository.ListByProject(c.Request().Context(), projectID, limit)
	if err != nil {
		return storeError(err, "Activity")
	}
	return success(c, http.StatusOK, activities)
}
