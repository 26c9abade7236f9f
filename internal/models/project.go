package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project groups the reviews and annotations of one client engagement
type Project struct {
	ID          string       `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name        string       `json:"name" gorm:"size:255;not null"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Reviews     []Review     `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Annotations []Annotation `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// CreateProjectRequest defines the request body for creating a project
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}
