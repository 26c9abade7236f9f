package handlers

import (
	"net/http"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/labstack/echo/v4"
)

// ProjectHandler lets studio staff set up projects and the files under review
type ProjectHandler struct {
	projectRepository repositories.ProjectRepository
	reviewRepository  repositories.ReviewRepository
	elementRepository repositories.ElementRepository
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(projectRepo repositories.ProjectRepository, reviewRepo repositories.ReviewRepository, elementRepo repositories.ElementRepository) *ProjectHandler {
	return &ProjectHandler{
		projectRepository: projectRepo,
		reviewRepository:  reviewRepo,
		elementRepository: elementRepo,
	}
}

// RegisterProjectRoutes registers project routes. Mutations are admin only.
func (h *ProjectHandler) RegisterProjectRoutes(g *echo.Group, admin echo.MiddlewareFunc) {
	g.POST("/projects", h.CreateProject, admin)
	g.GET("/projects/:project_id", h.GetProject)
	g.POST("/projects/:project_id/elements", h.CreateElement, admin)
}

// CreateProject creates a project together with its first review round
func (h *ProjectHandler) CreateProject(c echo.Context) error {
	var req models.CreateProjectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	project := &models.Project{Name: req.Name}
	if err := h.projectRepository.Create(ctx, project); err != nil {
		return storeError(err, "Project")
	}
	review := &models.Review{ProjectID: project.ID}
	if err := h.reviewRepository.Create(ctx, review); err != nil {
		return storeError(err, "Review")
	}
	return success(c, http.StatusCreated, echo.Map{"project": project, "review": review})
}

func (h *ProjectHandler) GetProject(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	projectID := c.Param("project_id")
	if err := requireProject(actor, projectID); err != nil {
		return err
	}
	project, err := h.projectRepository.GetByID(c.Request().Context(), projectID)
	if err != nil {
		return storeError(err, "Project")
	}
	return success(c, http.StatusOK, project)
}

type createElementRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	FileURL string `json:"fileUrl" validate:"omitempty,url"`
}

// CreateElement adds a file to the project's current review
func (h *ProjectHandler) CreateElement(c echo.Context) error {
	var req createElementRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	review, err := h.reviewRepository.GetByProjectID(ctx, c.Param("project_id"))
	if err != nil {
		return storeError(err, "Review")
	}
	element := &models.Element{
		ReviewID:  review.ID,
		ProjectID: review.ProjectID,
		Name:      req.Name,
		FileURL:   req.FileURL,
	}
	if err := h.elementRepository.Create(ctx, element); err != nil {
		return storeError(err, "Element")
	}
	return success(c, http.StatusCreated, element)
}
