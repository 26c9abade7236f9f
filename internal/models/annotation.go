package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnnotationStatus is the lifecycle state of an annotation
type AnnotationStatus string

const (
	AnnotationPending   AnnotationStatus = "PENDING"
	AnnotationCompleted AnnotationStatus = "COMPLETED"
	AnnotationRejected  AnnotationStatus = "REJECTED"
)

// Coordinates is a pin position in percent of the reviewed image.
// Stored as a serialized {x,y} pair.
type Coordinates struct {
	X float64 `json:"x" validate:"gte=0,lte=100"`
	Y float64 `json:"y" validate:"gte=0,lte=100"`
}

func (c Coordinates) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Coordinates) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), c)
	case []byte:
		return json.Unmarshal(v, c)
	default:
		return fmt.Errorf("unsupported coordinates column type %T", value)
	}
}

// Annotation is a positioned comment anchored on a reviewed file (PostgreSQL)
type Annotation struct {
	ID          string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	Content     string            `json:"content" gorm:"type:text;not null"`
	FileID      string            `json:"fileId" gorm:"type:varchar(36);index"`
	ProjectID   string            `json:"projectId" gorm:"type:varchar(36);index;not null"`
	AddedBy     string            `json:"addedBy" gorm:"size:64"`
	AddedByName string            `json:"addedByName" gorm:"size:255"`
	Coordinates *Coordinates      `json:"coordinates,omitempty" gorm:"type:text"`
	IsResolved  bool              `json:"isResolved" gorm:"default:false"`
	Status      AnnotationStatus  `json:"status" gorm:"type:varchar(20);default:PENDING;index"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Replies     []AnnotationReply `json:"replies" gorm:"foreignKey:AnnotationID;constraint:OnDelete:CASCADE"`
}

func (a *Annotation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AnnotationPending
	}
	return nil
}

// AnnotationReply is one message in an annotation thread. Replies are never reparented.
type AnnotationReply struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Content      string    `json:"content" gorm:"type:text;not null"`
	AnnotationID string    `json:"annotationId" gorm:"type:varchar(36);index;not null"`
	AddedBy      string    `json:"addedBy" gorm:"size:64"`
	AddedByName  string    `json:"addedByName" gorm:"size:255"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsEdited     bool      `json:"isEdited,omitempty" gorm:"default:false"`
}

func (r *AnnotationReply) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// CreateAnnotationRequest defines the request body for creating an annotation
type CreateAnnotationRequest struct {
	Content     string       `json:"content" validate:"required,min=1,max=2000"`
	FileID      string       `json:"fileId" validate:"required"`
	ProjectID   string       `json:"projectId" validate:"required"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	AddedBy     string       `json:"addedBy" validate:"omitempty,max=64"`
	AddedByName string       `json:"addedByName" validate:"omitempty,max=255"`
}

// CreateReplyRequest defines the request body for replying to an annotation
type CreateReplyRequest struct {
	AnnotationID string `json:"annotationId" validate:"required"`
	Content      string `json:"content" validate:"required,min=1,max=2000"`
	AddedBy      string `json:"addedBy" validate:"omitempty,max=64"`
	AddedByName  string `json:"addedByName" validate:"omitempty,max=255"`
}

// UpdateReplyRequest defines the request body for editing a reply
type UpdateReplyRequest struct {
	Content string `json:"content" validate:"required,min=1,max=2000"`
}

// UpdateAnnotationStatusRequest defines the request body for resolving or rejecting an annotation
type UpdateAnnotationStatusRequest struct {
	Status     AnnotationStatus `json:"status" validate:"required,oneof=PENDING COMPLETED REJECTED"`
	IsResolved *bool            `json:"isResolved,omitempty"`
}
