package repositories

import (
	"context"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"gorm.io/gorm"
)

// ElementRepository defines the interface for element data operations
type ElementRepository interface {
	Create(ctx context.Context, element *models.Element) error
	GetByID(ctx context.Context, id string) (*models.Element, error)
	UpdateStatus(ctx context.Context, id string, status models.ElementStatus) (*models.Element, error)
	UpdateStatusWithComment(ctx context.Context, id string, status models.ElementStatus, comment *models.Comment) (*models.Element, error)
}

// PostgresElementRepository implements ElementRepository for PostgreSQL
type PostgresElementRepository struct {
	db *gorm.DB
}

// NewPostgresElementRepository creates a new PostgresElementRepository
func NewPostgresElementRepository(db *gorm.DB) *PostgresElementRepository {
	return &PostgresElementRepository{db: db}
}

func (r *PostgresElementRepository) Create(ctx context.Context, element *models.Element) error {
	return r.db.WithContext(ctx).Omit("Comments").Create(element).Error
}

func (r *PostgresElementRepository) GetByID(ctx context.Context, id string) (*models.Element, error) {
	var element models.Element
	if err := r.db.WithContext(ctx).First(&element, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &element, nil
}

func (r *PostgresElementRepository) UpdateStatus(ctx context.Context, id string, status models.ElementStatus) (*models.Element, error) {
	return r.UpdateStatusWithComment(ctx, id, status, nil)
}

// UpdateStatusWithComment changes the element status and, when comment is set,
// stores the comment in the same transaction. Either both land or neither does.
func (r *PostgresElementRepository) UpdateStatusWithComment(ctx context.Context, id string, status models.ElementStatus, comment *models.Comment) (*models.Element, error) {
	var element models.Element
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&element, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		element.Status = status
		element.UpdatedAt = time.Now()
		if err := tx.Model(&element).Select("status", "updated_at").Updates(&element).Error; err != nil {
			return err
		}

		if comment != nil {
			comment.ElementID = id
			if err := tx.Omit("Replies").Create(comment).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &element, nil
}
