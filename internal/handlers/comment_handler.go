package handlers

import (
	"net/http"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// CommentHandler handles HTTP requests related to element comments.
// Every mutation is announced to the element room after it is stored.
type CommentHandler struct {
	commentRepository repositories.CommentRepository
	elementRepository repositories.ElementRepository
	bus               realtime.Bus
	log               zerolog.Logger
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentRepo repositories.CommentRepository, elementRepo repositories.ElementRepository, bus realtime.Bus, log zerolog.Logger) *CommentHandler {
	return &CommentHandler{
		commentRepository: commentRepo,
		elementRepository: elementRepo,
		bus:               bus,
		log:               log,
	}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.POST("/elements/:id/comments", h.CreateComment)
	g.GET("/elements/:id/comments", h.GetCommentsByElementID)
	g.PUT("/comments/:id", h.UpdateComment)
	g.DELETE("/comments/:id", h.DeleteComment)
}

func (h *CommentHandler) publish(elementID, event string, payload interface{}) {
	if err := h.bus.Publish(models.ElementRoom(elementID), event, payload); err != nil {
		h.log.Warn().Err(err).Str("element", elementID).Str("event", event).Msg("failed to publish comment event")
	}
}

// element loads the element a comment belongs to and checks access to its project
func (h *CommentHandler) element(c echo.Context, id string) (*models.Element, error) {
	actor, err := currentActor(c)
	if err != nil {
		return nil, err
	}
	element, err := h.elementRepository.GetByID(c.Request().Context(), id)
	if err != nil {
		return nil, storeError(err, "Element")
	}
	if err := requireProject(actor, element.ProjectID); err != nil {
		return nil, err
	}
	return element, nil
}

// CreateComment creates a new comment, or a reply when parentId is set
func (h *CommentHandler) CreateComment(c echo.Context) error {
	element, err := h.element(c, c.Param("id"))
	if err != nil {
		return err
	}

	var req models.CreateCommentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	comment := &models.Comment{
		ElementID:   element.ID,
		CommentText: req.CommentText,
		Type:        req.Type,
		Coordinates: req.Coordinates,
		UserName:    req.UserName,
	}

	if req.ParentID != nil && *req.ParentID != "" {
		parent, err := h.commentRepository.GetByID(ctx, *req.ParentID)
		if err != nil {
			return storeError(err, "Parent comment")
		}
		if parent.ElementID != element.ID {
			return echo.NewHTTPError(http.StatusBadRequest, "Parent comment belongs to another element")
		}
		if parent.IsReply() {
			return echo.NewHTTPError(http.StatusBadRequest, "Replies can only answer a root comment")
		}
		comment.ParentID = &parent.ID
	}

	if err := h.commentRepository.Create(ctx, comment); err != nil {
		return storeError(err, "Comment")
	}

	if comment.IsReply() {
		h.publish(element.ID, models.EventNewReply, comment)
	} else {
		h.publish(element.ID, models.EventNewComment, comment)
	}
	return success(c, http.StatusCreated, comment)
}

// GetCommentsByElementID retrieves the comment threads of an element
func (h *CommentHandler) GetCommentsByElementID(c echo.Context) error {
	element, err := h.element(c, c.Param("id"))
	if err != nil {
		return err
	}

	comments, err := h.commentRepository.ListByElement(c.Request().Context(), element.ID)
	if err != nil {
		return storeError(err, "Comments")
	}
	return success(c, http.StatusOK, comments)
}

// UpdateComment edits the text or status of a comment
func (h *CommentHandler) UpdateComment(c echo.Context) error {
	var req models.UpdateCommentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.CommentText == "" && req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Nothing to update")
	}

	ctx := c.Request().Context()
	comment, err := h.commentRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Comment")
	}
	if _, err := h.element(c, comment.ElementID); err != nil {
		return err
	}

	if req.CommentText != "" {
		comment.CommentText = req.CommentText
	}
	if req.Status != "" {
		comment.Status = req.Status
	}
	if err := h.commentRepository.Update(ctx, comment); err != nil {
		return storeError(err, "Comment")
	}

	h.publish(comment.ElementID, models.EventCommentUpdated, comment)
	return success(c, http.StatusOK, comment)
}

// DeleteComment deletes a comment and its replies
func (h *CommentHandler) DeleteComment(c echo.Context) error {
	ctx := c.Request().Context()
	comment, err := h.commentRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Comment")
	}
	if _, err := h.element(c, comment.ElementID); err != nil {
		return err
	}

	if err := h.commentRepository.Delete(ctx, comment.ID); err != nil {
		return storeError(err, "Comment")
	}

	msg := models.CommentDeletedMessage{ID: comment.ID, ElementID: comment.ElementID}
	h.publish(comment.ElementID, models.EventCommentDeleted, msg)
	return success(c, http.StatusOK, msg)
}
