package repositories

import (
	"context"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"gorm.io/gorm"
)

// AnnotationRepository defines the interface for annotation and reply data operations
type AnnotationRepository interface {
	Create(ctx context.Context, annotation *models.Annotation) error
	GetByID(ctx context.Context, id string) (*models.Annotation, error)
	ListByProject(ctx context.Context, projectID, fileID string) ([]models.Annotation, error)
	UpdateStatus(ctx context.Context, id string, status models.AnnotationStatus, isResolved bool) (*models.Annotation, error)
	Delete(ctx context.Context, id string) error
	CreateReply(ctx context.Context, reply *models.AnnotationReply) error
	GetReply(ctx context.Context, id string) (*models.AnnotationReply, error)
	UpdateReply(ctx context.Context, id, content string) (*models.AnnotationReply, error)
}

// PostgresAnnotationRepository implements AnnotationRepository for PostgreSQL
type PostgresAnnotationRepository struct {
	db *gorm.DB
}

// NewPostgresAnnotationRepository creates a new PostgresAnnotationRepository
func NewPostgresAnnotationRepository(db *gorm.DB) *PostgresAnnotationRepository {
	return &PostgresAnnotationRepository{db: db}
}

func orderedReplies(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}

// Create stores a new annotation. Status defaults to PENDING.
func (r *PostgresAnnotationRepository) Create(ctx context.Context, annotation *models.Annotation) error {
	return r.db.WithContext(ctx).Omit("Replies").Create(annotation).Error
}

// GetByID retrieves an annotation with its replies in creation order
func (r *PostgresAnnotationRepository) GetByID(ctx context.Context, id string) (*models.Annotation, error) {
	var annotation models.Annotation
	err := r.db.WithContext(ctx).
		Preload("Replies", orderedReplies).
		First(&annotation, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &annotation, nil
}

// ListByProject retrieves the annotations of a project, optionally narrowed to one file
func (r *PostgresAnnotationRepository) ListByProject(ctx context.Context, projectID, fileID string) ([]models.Annotation, error) {
	q := r.db.WithContext(ctx).
		Preload("Replies", orderedReplies).
		Where("project_id = ?", projectID)
	if fileID != "" {
		q = q.Where("file_id = ?", fileID)
	}

	annotations := []models.Annotation{}
	if err := q.Order("created_at ASC").Find(&annotations).Error; err != nil {
		return nil, err
	}
	return annotations, nil
}

// UpdateStatus sets status and isResolved and returns the updated annotation
func (r *PostgresAnnotationRepository) UpdateStatus(ctx context.Context, id string, status models.AnnotationStatus, isResolved bool) (*models.Annotation, error) {
	res := r.db.WithContext(ctx).Model(&models.Annotation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "is_resolved": isResolved, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes an annotation together with its replies
func (r *PostgresAnnotationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("annotation_id = ?", id).Delete(&models.AnnotationReply{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Annotation{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateReply stores a reply under an existing annotation
func (r *PostgresAnnotationRepository) CreateReply(ctx context.Context, reply *models.AnnotationReply) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Annotation{}).Where("id = ?", reply.AnnotationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return tx.Create(reply).Error
	})
}

func (r *PostgresAnnotationRepository) GetReply(ctx context.Context, id string) (*models.AnnotationReply, error) {
	var reply models.AnnotationReply
	if err := r.db.WithContext(ctx).First(&reply, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &reply, nil
}

// UpdateReply replaces a reply's content. The last write wins.
func (r *PostgresAnnotationRepository) UpdateReply(ctx context.Context, id, content string) (*models.AnnotationReply, error) {
	res := r.db.WithContext(ctx).Model(&models.AnnotationReply{}).
		Where("id = ?", id).
		Updates(map[string]any{"content": content, "is_edited": true, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetReply(ctx, id)
}
