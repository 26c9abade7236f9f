package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommentType classifies a comment in an element's stream
type CommentType string

const (
	CommentGeneral         CommentType = "GENERAL"
	CommentAnnotation      CommentType = "ANNOTATION"
	CommentApprovalRequest CommentType = "APPROVAL_REQUEST"
	CommentAdminReply      CommentType = "ADMIN_REPLY"
)

// CommentStatus is the lifecycle state of a comment
type CommentStatus string

const (
	CommentActive   CommentStatus = "ACTIVE"
	CommentResolved CommentStatus = "RESOLVED"
	CommentArchived CommentStatus = "ARCHIVED"
)

// Comment is a message on one element. A reply points at the root comment it answers
// through ParentID; threads are one level deep.
type Comment struct {
	ID          string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	ElementID   string        `json:"elementId" gorm:"type:varchar(36);index;not null"`
	CommentText string        `json:"commentText" gorm:"type:text;not null"`
	Type        CommentType   `json:"type" gorm:"type:varchar(30);default:GENERAL"`
	Status      CommentStatus `json:"status" gorm:"type:varchar(20);default:ACTIVE;index"`
	Coordinates *Coordinates  `json:"coordinates,omitempty" gorm:"type:text"`
	UserName    string        `json:"userName" gorm:"size:255"`
	ParentID    *string       `json:"parentId,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Replies     []Comment     `json:"replies,omitempty" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Type == "" {
		c.Type = CommentGeneral
	}
	if c.Status == "" {
		c.Status = CommentActive
	}
	return nil
}

// IsReply reports whether the comment answers another comment
func (c *Comment) IsReply() bool {
	return c.ParentID != nil && *c.ParentID != ""
}

// CreateCommentRequest defines the request body for creating a new comment
type CreateCommentRequest struct {
	CommentText string       `json:"commentText" validate:"required,min=1,max=2000"`
	Type        CommentType  `json:"type,omitempty" validate:"omitempty,oneof=GENERAL ANNOTATION APPROVAL_REQUEST ADMIN_REPLY"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	UserName    string       `json:"userName" validate:"required,max=255"`
	ParentID    *string      `json:"parentId,omitempty"`
}

// UpdateCommentRequest defines the request body for updating an existing comment
type UpdateCommentRequest struct {
	CommentText string        `json:"commentText,omitempty" validate:"omitempty,min=1,max=2000"`
	Status      CommentStatus `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE RESOLVED ARCHIVED"`
}
