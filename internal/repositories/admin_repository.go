package repositories

import (
	"context"
	"strings"

	"github.com/anonto42/proofing/backend/internal/models"
	"gorm.io/gorm"
)

// AdminRepository defines the interface for admin account operations.
// Emails are matched case-insensitively.
type AdminRepository interface {
	Create(ctx context.Context, admin *models.Admin) error
	GetByID(ctx context.Context, id string) (*models.Admin, error)
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	GetByFirebaseUID(ctx context.Context, uid string) (*models.Admin, error)
	Update(ctx context.Context, admin *models.Admin) error
	Count(ctx context.Context) (int64, error)
}

// PostgresAdminRepository implements AdminRepository for PostgreSQL
type PostgresAdminRepository struct {
	db *gorm.DB
}

// NewPostgresAdminRepository creates a new PostgresAdminRepository
func NewPostgresAdminRepository(db *gorm.DB) *PostgresAdminRepository {
	return &PostgresAdminRepository{db: db}
}

func (r *PostgresAdminRepository) Create(ctx context.Context, admin *models.Admin) error {
	admin.Email = normalizeEmail(admin.Email)
	return notFound(r.db.WithContext(ctx).Create(admin).Error)
}

func (r *PostgresAdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.WithContext(ctx).First(&admin, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &admin, nil
}

func (r *PostgresAdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&admin).Error; err != nil {
		return nil, notFound(err)
	}
	return &admin, nil
}

func (r *PostgresAdminRepository) GetByFirebaseUID(ctx context.Context, uid string) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.WithContext(ctx).Where("firebase_uid = ?", uid).First(&admin).Error; err != nil {
		return nil, notFound(err)
	}
	return &admin, nil
}

func (r *PostgresAdminRepository) Update(ctx context.Context, admin *models.Admin) error {
	admin.Email = normalizeEmail(admin.Email)
	return notFound(r.db.WithContext(ctx).Save(admin).Error)
}

func (r *PostgresAdminRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Admin{}).Count(&n).Error
	return n, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
