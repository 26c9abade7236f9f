package handlers

import (
	"net/http"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/labstack/echo/v4"
)

// ReviewHandler handles review reads and status transitions
type ReviewHandler struct {
	reviewRepository  repositories.ReviewRepository
	projectRepository repositories.ProjectRepository
}

// NewReviewHandler creates a new ReviewHandler
func NewReviewHandler(reviewRepo repositories.ReviewRepository, projectRepo repositories.ProjectRepository) *ReviewHandler {
	return &ReviewHandler{
		reviewRepository:  reviewRepo,
		projectRepository: projectRepo,
	}
}

// RegisterReviewRoutes registers review routes that need an actor
func (h *ReviewHandler) RegisterReviewRoutes(g *echo.Group) {
	g.GET("/reviews/:id", h.GetReview)
	g.GET("/projects/:project_id/review", h.GetReviewByProject)
	g.PUT("/reviews/:id/status", h.UpdateStatus)
}

// RegisterShareRoutes registers the public share link route. The link is the credential.
func (h *ReviewHandler) RegisterShareRoutes(e *echo.Echo) {
	e.GET("/api/v1/share/:link", h.GetByShareLink)
}

func (h *ReviewHandler) GetReview(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	review, err := h.reviewRepository.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err, "Review")
	}
	if err := requireProject(actor, review.ProjectID); err != nil {
		return err
	}
	return success(c, http.StatusOK, review)
}

func (h *ReviewHandler) GetReviewByProject(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	projectID := c.Param("project_id")
	if err := requireProject(actor, projectID); err != nil {
		return err
	}
	review, err := h.reviewRepository.GetByProjectID(c.Request().Context(), projectID)
	if err != nil {
		return storeError(err, "Review")
	}
	return success(c, http.StatusOK, review)
}

// UpdateStatus moves a review along PENDING -> IN_PROGRESS -> APPROVED|REJECTED
func (h *ReviewHandler) UpdateStatus(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	var req models.UpdateReviewStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	review, err := h.reviewRepository.GetByID(ctx, c.Param("id"))
	if err != nil {
		return storeError(err, "Review")
	}
	if err := requireProject(actor, review.ProjectID); err != nil {
		return err
	}
	if err := workflow.ReviewTransition(review.Status, req.Status); err != nil {
		return storeError(err, "Review")
	}

	updated, err := h.reviewRepository.UpdateStatus(ctx, review.ID, req.Status)
	if err != nil {
		return storeError(err, "Review")
	}
	return success(c, http.StatusOK, updated)
}

// GetByShareLink opens a review for a client holding its link
func (h *ReviewHandler) GetByShareLink(c echo.Context) error {
	ctx := c.Request().Context()
	review, err := h.reviewRepository.GetByShareLink(ctx, c.Param("link"))
	if err != nil {
		return storeError(err, "Review")
	}
	project, err := h.projectRepository.GetByID(ctx, review.ProjectID)
	if err != nil {
		return storeError(err, "Project")
	}
	return success(c, http.StatusOK, echo.Map{
		"review":              review,
		"project":             project,
		"annotationsDisabled": workflow.AnnotationsDisabled(review.Status),
	})
}
