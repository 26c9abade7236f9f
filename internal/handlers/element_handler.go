package handlers

import (
	"net/http"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ElementHandler handles element reads and status changes
type ElementHandler struct {
	elementRepository repositories.ElementRepository
	bus               realtime.Bus
	log               zerolog.Logger
}

// NewElementHandler creates a new ElementHandler
func NewElementHandler(elementRepo repositories.ElementRepository, bus realtime.Bus, log zerolog.Logger) *ElementHandler {
	return &ElementHandler{
		elementRepository: elementRepo,
		bus:               bus,
		log:               log,
	}
}

// RegisterElementRoutes registers element-related routes
func (h *ElementHandler) RegisterElementRoutes(g *echo.Group) {
	g.GET("/elements/:id", h.GetElement)
	g.PUT("/elements/:id/status", h.UpdateStatus)
}

func (h *ElementHandler) GetElement(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	element, err := h.elementRepository.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err, "Element")
	}
	if err := requireProject(actor, element.ProjectID); err != nil {
		return err
	}
	return success(c, http.StatusOK, element)
}

// UpdateStatus changes an element's status. A comment sent along is stored in
// the same transaction and announced to the element's comment stream.
func (h *ElementHandler) UpdateStatus(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req models.UpdateElementStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	element, err := h.elementRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Element")
	}
	if err := requireProject(actor, element.ProjectID); err != nil {
		return err
	}
	if err := workflow.ElementTransition(element.Status, req.Status); err != nil {
		return storeError(err, "Element")
	}

	var comment *models.Comment
	if req.Comment != "" {
		comment = &models.Comment{
			CommentText: req.Comment,
			Type:        models.CommentGeneral,
			UserName:    fallback(req.UpdatedBy, actor.Name),
		}
		if actor.IsAdmin() {
			comment.Type = models.CommentAdminReply
		}
	}

	updated, err := h.elementRepository.UpdateStatusWithComment(ctx, element.ID, req.Status, comment)
	if err != nil {
		return storeError(err, "Element")
	}

	if comment != nil {
		if err := h.bus.Publish(models.ElementRoom(element.ID), models.EventNewComment, comment); err != nil {
			h.log.Warn().Err(err).Str("element", element.ID).Msg("failed to publish status comment")
		}
	}

	return success(c, http.StatusOK, echo.Map{"element": updated, "comment": comment})
}
