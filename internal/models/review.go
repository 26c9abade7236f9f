package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewStatus is the state of a project's review round
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "PENDING"
	ReviewInProgress ReviewStatus = "IN_PROGRESS"
	ReviewApproved   ReviewStatus = "APPROVED"
	ReviewRejected   ReviewStatus = "REJECTED"
)

// Review is the client-facing review round of a project, reachable by share link
type Review struct {
	ID        string       `json:"id" gorm:"type:varchar(36);primaryKey"`
	ProjectID string       `json:"projectId" gorm:"type:varchar(36);index;not null"`
	ShareLink string       `json:"shareLink" gorm:"size:191;uniqueIndex;not null"`
	Status    ReviewStatus `json:"status" gorm:"type:varchar(20);default:PENDING"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Elements  []Element    `json:"elements,omitempty" gorm:"foreignKey:ReviewID;constraint:OnDelete:CASCADE"`
}

func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ShareLink == "" {
		r.ShareLink = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = ReviewPending
	}
	return nil
}

// UpdateReviewStatusRequest defines the request body for moving a review forward
type UpdateReviewStatusRequest struct {
	Status  ReviewStatus `json:"status" validate:"required,oneof=PENDING IN_PROGRESS APPROVED REJECTED"`
	Message string       `json:"message,omitempty" validate:"omitempty,max=2000"`
}
