package repositories

import (
	"context"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"gorm.io/gorm"
)

// ReviewRepository defines the interface for review data operations
type ReviewRepository interface {
	Create(ctx context.Context, review *models.Review) error
	GetByID(ctx context.Context, id string) (*models.Review, error)
	GetByProjectID(ctx context.Context, projectID string) (*models.Review, error)
	GetByShareLink(ctx context.Context, link string) (*models.Review, error)
	UpdateStatus(ctx context.Context, id string, status models.ReviewStatus) (*models.Review, error)
}

// PostgresReviewRepository implements ReviewRepository for PostgreSQL
type PostgresReviewRepository struct {
	db *gorm.DB
}

// NewPostgresReviewRepository creates a new PostgresReviewRepository
func NewPostgresReviewRepository(db *gorm.DB) *PostgresReviewRepository {
	return &PostgresReviewRepository{db: db}
}

func withElements(db *gorm.DB) *gorm.DB {
	return db.Preload("Elements", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") })
}

func (r *PostgresReviewRepository) Create(ctx context.Context, review *models.Review) error {
	return r.db.WithContext(ctx).Create(review).Error
}

func (r *PostgresReviewRepository) GetByID(ctx context.Context, id string) (*models.Review, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByProjectID returns the most recent review round of a project
func (r *PostgresReviewRepository) GetByProjectID(ctx context.Context, projectID string) (*models.Review, error) {
	var review models.Review
	err := withElements(r.db.WithContext(ctx)).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		First(&review).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &review, nil
}

func (r *PostgresReviewRepository) GetByShareLink(ctx context.Context, link string) (*models.Review, error) {
	return r.first(ctx, "share_link = ?", link)
}

func (r *PostgresReviewRepository) UpdateStatus(ctx context.Context, id string, status models.ReviewStatus) (*models.Review, error) {
	res := r.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *PostgresReviewRepository) first(ctx context.Context, query string, arg string) (*models.Review, error) {
	var review models.Review
	if err := withElements(r.db.WithContext(ctx)).Where(query, arg).First(&review).Error; err != nil {
		return nil, notFound(err)
	}
	return &review, nil
}
