package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AnnotationHandler handles the REST write path of annotations and their replies.
// These endpoints persist only; live peers are reached over the websocket.
type AnnotationHandler struct {
	annotationRepository repositories.AnnotationRepository
	reviewRepository     repositories.ReviewRepository
	enforceAdminResolve  bool
	log                  zerolog.Logger
}

// NewAnnotationHandler creates a new AnnotationHandler
func NewAnnotationHandler(annotationRepo repositories.AnnotationRepository, reviewRepo repositories.ReviewRepository, enforceAdminResolve bool, log zerolog.Logger) *AnnotationHandler {
	return &AnnotationHandler{
		annotationRepository: annotationRepo,
		reviewRepository:     reviewRepo,
		enforceAdminResolve:  enforceAdminResolve,
		log:                  log,
	}
}

// RegisterAnnotationRoutes registers annotation-related routes
func (h *AnnotationHandler) RegisterAnnotationRoutes(g *echo.Group) {
	g.POST("/annotations", h.CreateAnnotation)
	g.GET("/projects/:project_id/annotations", h.GetAnnotationsByProject)
	g.POST("/annotations/reply", h.CreateReply)
	g.PUT("/annotations/replies/:id", h.UpdateReply)
	g.PUT("/annotations/:id/status", h.UpdateStatus)
	g.DELETE("/annotations/:id", h.DeleteAnnotation)
}

// CreateAnnotation stores a new pin on a file
func (h *AnnotationHandler) CreateAnnotation(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req models.CreateAnnotationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := requireProject(actor, req.ProjectID); err != nil {
		return err
	}

	ctx := c.Request().Context()
	review, err := h.reviewRepository.GetByProjectID(ctx, req.ProjectID)
	switch {
	case err == nil && workflow.AnnotationsDisabled(review.Status):
		return echo.NewHTTPError(http.StatusConflict, "Review is "+string(review.Status)+", no new annotations")
	case errors.Is(err, repositories.ErrNotFound):
		review = nil
	case err != nil:
		return storeError(err, "Review")
	}

	annotation := &models.Annotation{
		Content:     req.Content,
		FileID:      req.FileID,
		ProjectID:   req.ProjectID,
		AddedBy:     fallback(req.AddedBy, actor.ID),
		AddedByName: fallback(req.AddedByName, actor.Name),
		Coordinates: req.Coordinates,
		Status:      models.AnnotationPending,
	}

	if err := h.annotationRepository.Create(ctx, annotation); err != nil {
		return storeError(err, "Annotation")
	}
	if annotation.Replies == nil {
		annotation.Replies = []models.AnnotationReply{}
	}

	if review != nil {
		h.startReview(ctx, review)
	}

	return success(c, http.StatusCreated, annotation)
}

// startReview moves a PENDING review to IN_PROGRESS once feedback starts arriving
func (h *AnnotationHandler) startReview(ctx context.Context, review *models.Review) {
	if review.Status != models.ReviewPending {
		return
	}
	if _, err := h.reviewRepository.UpdateStatus(ctx, review.ID, models.ReviewInProgress); err != nil {
		h.log.Error().Err(err).Str("review", review.ID).Msg("failed to start review")
	}
}

// GetAnnotationsByProject lists a project's annotations, optionally for one file
func (h *AnnotationHandler) GetAnnotationsByProject(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	projectID := c.Param("project_id")
	if err := requireProject(actor, projectID); err != nil {
		return err
	}

	annotations, err := h.annotationRepository.ListByProject(c.Request().Context(), projectID, c.QueryParam("fileId"))
	if err != nil {
		return storeError(err, "Annotations")
	}
	return success(c, http.StatusOK, annotations)
}

// CreateReply appends a reply to an annotation thread
func (h *AnnotationHandler) CreateReply(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req models.CreateReplyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	annotation, err := h.annotationRepository.GetByID(ctx, req.AnnotationID)
	if err != nil {
		return storeError(err, "Annotation")
	}
	if err := requireProject(actor, annotation.ProjectID); err != nil {
		return err
	}

	reply := &models.AnnotationReply{
		AnnotationID: annotation.ID,
		Content:      req.Content,
		AddedBy:      fallback(req.AddedBy, actor.ID),
		AddedByName:  fallback(req.AddedByName, actor.Name),
	}
	if err := h.annotationRepository.CreateReply(ctx, reply); err != nil {
		return storeError(err, "Annotation")
	}
	return success(c, http.StatusCreated, reply)
}

// UpdateReply edits a reply; only its author or an admin may do so
func (h *AnnotationHandler) UpdateReply(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req models.UpdateReplyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	reply, err := h.annotationRepository.GetReply(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Reply")
	}
	annotation, err := h.annotationRepository.GetByID(ctx, reply.AnnotationID)
	if err != nil {
		return storeError(err, "Annotation")
	}
	if err := requireProject(actor, annotation.ProjectID); err != nil {
		return err
	}
	if reply.AddedBy != actor.ID && !actor.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "You are not authorized to edit this reply")
	}

	updated, err := h.annotationRepository.UpdateReply(ctx, reply.ID, req.Content)
	if err != nil {
		return storeError(err, "Reply")
	}
	return success(c, http.StatusOK, updated)
}

// UpdateStatus resolves or rejects an annotation. Repeating the current status is a no-op.
func (h *AnnotationHandler) UpdateStatus(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	if h.enforceAdminResolve && !actor.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "Only admins can change annotation status")
	}

	var req models.UpdateAnnotationStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	annotation, err := h.annotationRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Annotation")
	}
	if err := requireProject(actor, annotation.ProjectID); err != nil {
		return err
	}
	if err := workflow.AnnotationTransition(annotation.Status, req.Status); err != nil {
		return storeError(err, "Annotation")
	}

	updated, err := h.annotationRepository.UpdateStatus(ctx, annotation.ID, req.Status, workflow.IsResolved(req.Status))
	if err != nil {
		return storeError(err, "Annotation")
	}
	return success(c, http.StatusOK, updated)
}

// DeleteAnnotation removes an annotation; only its creator or an admin may do so
func (h *AnnotationHandler) DeleteAnnotation(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	annotation, err := h.annotationRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Annotation")
	}
	if err := requireProject(actor, annotation.ProjectID); err != nil {
		return err
	}
	if annotation.AddedBy != actor.ID && !actor.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "You are not authorized to delete this annotation")
	}

	if err := h.annotationRepository.Delete(ctx, annotation.ID); err != nil {
		return storeError(err, "Annotation")
	}
	return success(c, http.StatusOK, echo.Map{"id": annotation.ID})
}
