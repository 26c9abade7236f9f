package middleware

import (
	"context"

	"github.com/anonto42/proofing/backend/internal/models"
)

const (
	HeaderShareLink = "X-Share-Link"
	HeaderActorName = "X-Actor-Name"
)

// ShareLinkResolver finds the review a share link opens
type ShareLinkResolver interface {
	GetByShareLink(ctx context.Context, link string) (*models.Review, error)
}

// shareActor is the anonymous client who opened a review by its link. The actor
// is scoped to the review's project.
func shareActor(ctx context.Context, r ShareLinkResolver, link, name string) (models.Actor, error) {
	review, err := r.GetByShareLink(ctx, link)
	if err != nil {
		return models.Actor{}, err
	}
	if name == "" {
		name = "Client"
	}
	id := link
	if len(id) > 8 {
		id = id[:8]
	}
	return models.Actor{ID: "share-" + id, Name: name, Role: models.RoleClient, ProjectID: review.ProjectID}, nil
}
