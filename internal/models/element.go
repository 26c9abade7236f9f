package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ElementStatus is the review state of one design file
type ElementStatus string

const (
	ElementPending       ElementStatus = "PENDING"
	ElementApproved      ElementStatus = "APPROVED"
	ElementRejected      ElementStatus = "REJECTED"
	ElementNeedsRevision ElementStatus = "NEEDS_REVISION"
)

// Element is a reviewable unit (a design file) inside a review
type Element struct {
	ID        string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	ReviewID  string        `json:"reviewId" gorm:"type:varchar(36);index;not null"`
	ProjectID string        `json:"projectId" gorm:"type:varchar(36);index"` // denormalized for room routing
	Name      string        `json:"name" gorm:"size:255"`
	FileURL   string        `json:"fileUrl,omitempty"`
	Status    ElementStatus `json:"status" gorm:"type:varchar(20);default:PENDING"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Comments  []Comment     `json:"-" gorm:"foreignKey:ElementID;constraint:OnDelete:CASCADE"`
}

func (e *Element) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ElementPending
	}
	return nil
}

// UpdateElementStatusRequest defines the request body for changing an element's status.
// A non-empty Comment is stored together with the status change.
type UpdateElementStatusRequest struct {
	Status    ElementStatus `json:"status" validate:"required,oneof=PENDING APPROVED REJECTED NEEDS_REVISION"`
	Comment   string        `json:"comment,omitempty" validate:"omitempty,max=2000"`
	UpdatedBy string        `json:"updatedBy,omitempty" validate:"omitempty,max=255"`
}
