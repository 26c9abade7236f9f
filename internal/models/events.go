package models

import (
	"bytes"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Bus event names. Requests flow client→server, the past-tense names flow server→room.
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventJoinElement  = "join-element"
	EventLeaveElement = "leave-element"
	EventJoinFile     = "join-file"
	EventLeaveFile    = "leave-file"

	EventAddAnnotation          = "addAnnotation"
	EventAnnotationAdded        = "annotationAdded"
	EventDeleteAnnotation       = "deleteAnnotation"
	EventAnnotationDeleted      = "annotationDeleted"
	EventAddAnnotationReply     = "addAnnotationReply"
	EventAnnotationReplyAdded   = "annotationReplyAdded"
	EventEditAnnotationReply    = "editAnnotationReply"
	EventAnnotationReplyUpdated = "annotationReplyUpdated"

	EventAnnotationStatusChanged = "annotationStatusChanged"
	EventAnnotationStatusUpdated = "annotationStatusUpdated"
	EventUpdateElementStatus     = "updateElementStatus"
	EventStatusChanged           = "statusChanged"
	EventReviewStatusChanged     = "reviewStatusChanged"
	EventReviewStatusUpdated     = "reviewStatusUpdated"
	EventTyping                  = "typing"

	EventNewComment     = "new-comment"
	EventNewReply       = "new-reply"
	EventCommentUpdated = "comment-updated"
	EventCommentDeleted = "comment-deleted"

	EventError = "error"
)

// Room key prefixes
const (
	ProjectRoomPrefix = "project-"
	ElementRoomPrefix = "element-"
)

// ProjectRoom is the project-wide room key
func ProjectRoom(projectID string) string {
	return ProjectRoomPrefix + projectID
}

// ElementRoom is the room key of one element's comment stream
func ElementRoom(elementID string) string {
	return ElementRoomPrefix + elementID
}

// ProjectRef identifies a project room
type ProjectRef struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// ElementRef identifies an element room. FileID is accepted as an alias.
type ElementRef struct {
	ElementID string `json:"elementId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
}

func (r ElementRef) ID() string {
	if r.ElementID != "" {
		return r.ElementID
	}
	return r.FileID
}

// AnnotationMessage is the canonical bus form of an annotation
type AnnotationMessage struct {
	Annotation
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// NewAnnotationMessage wraps a stored annotation for broadcast
func NewAnnotationMessage(a Annotation) AnnotationMessage {
	ts := a.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return AnnotationMessage{Annotation: a, Timestamp: ts, Resolved: a.IsResolved}
}

// ReplyKind tags the shape a reply arrived in
type ReplyKind string

const (
	ReplyRaw    ReplyKind = "raw"
	ReplyRecord ReplyKind = "record"
)

var ErrEmptyReply = errors.New("reply payload is empty")

// ReplyPayload carries a reply either as bare text or as a full record.
// On the wire a raw reply is a JSON string and a record is an object.
type ReplyPayload struct {
	Kind    ReplyKind
	Content string
	Reply   *AnnotationReply
}

// RawReply builds a text-only reply payload
func RawReply(content string) ReplyPayload {
	return ReplyPayload{Kind: ReplyRaw, Content: content}
}

// RecordReply builds a reply payload from a stored record
func RecordReply(r AnnotationReply) ReplyPayload {
	return ReplyPayload{Kind: ReplyRecord, Reply: &r}
}

func (p ReplyPayload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ReplyRaw:
		return json.Marshal(p.Content)
	case ReplyRecord:
		if p.Reply == nil {
			return nil, ErrEmptyReply
		}
		return json.Marshal(p.Reply)
	default:
		return []byte("null"), nil
	}
}

func (p *ReplyPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ErrEmptyReply
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = RawReply(s)
		return nil
	}
	var r AnnotationReply
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*p = RecordReply(r)
	return nil
}

// Normalize turns either shape into a complete reply record under annotationID.
// Missing ids and timestamps are filled in; author fields fall back to the given ones.
func (p ReplyPayload) Normalize(annotationID, addedBy, addedByName string, now time.Time) (AnnotationReply, error) {
	var r AnnotationReply
	switch p.Kind {
	case ReplyRaw:
		r = AnnotationReply{Content: p.Content}
	case ReplyRecord:
		if p.Reply == nil {
			return r, ErrEmptyReply
		}
		r = *p.Reply
	default:
		return r, ErrEmptyReply
	}
	if r.Content == "" {
		return r, ErrEmptyReply
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AnnotationID = annotationID
	if r.AddedBy == "" {
		r.AddedBy = addedBy
	}
	if r.AddedByName == "" {
		r.AddedByName = addedByName
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r, nil
}

// AnnotationReplyMessage is the payload of addAnnotationReply / annotationReplyAdded
type AnnotationReplyMessage struct {
	ProjectID    string       `json:"projectId" validate:"required"`
	AnnotationID string       `json:"annotationId" validate:"required"`
	ElementID    string       `json:"elementId,omitempty"`
	FileID       string       `json:"fileId,omitempty"`
	AddedBy      string       `json:"addedBy,omitempty"`
	AddedByName  string       `json:"addedByName,omitempty"`
	Reply        ReplyPayload `json:"reply"`
}

// Element returns the element room target of the reply, if any
func (m AnnotationReplyMessage) Element() string {
	return ElementRef{ElementID: m.ElementID, FileID: m.FileID}.ID()
}

// AnnotationStatusMessage is the payload of annotationStatusChanged / annotationStatusUpdated
type AnnotationStatusMessage struct {
	AnnotationID string           `json:"annotationId" validate:"required"`
	ProjectID    string           `json:"projectId" validate:"required"`
	Status       AnnotationStatus `json:"status" validate:"required,oneof=PENDING COMPLETED REJECTED"`
	IsResolved   bool             `json:"isResolved"`
	UpdatedBy    string           `json:"updatedBy,omitempty"`
}

// AnnotationDeletedMessage is the payload of deleteAnnotation / annotationDeleted
type AnnotationDeletedMessage struct {
	AnnotationID string `json:"annotationId" validate:"required"`
	ProjectID    string `json:"projectId" validate:"required"`
}

// ElementStatusMessage is the payload of updateElementStatus / statusChanged
type ElementStatusMessage struct {
	ProjectID string        `json:"projectId" validate:"required"`
	ElementID string        `json:"elementId" validate:"required"`
	Status    ElementStatus `json:"status" validate:"required,oneof=PENDING APPROVED REJECTED NEEDS_REVISION"`
	UpdatedBy string        `json:"updatedBy,omitempty"`
	Comment   string        `json:"comment,omitempty"`
}

// ReviewStatusMessage is the payload of reviewStatusChanged / reviewStatusUpdated
type ReviewStatusMessage struct {
	ReviewID    string       `json:"reviewId" validate:"required"`
	ProjectID   string       `json:"projectId" validate:"required"`
	Status      ReviewStatus `json:"status" validate:"required,oneof=PENDING IN_PROGRESS APPROVED REJECTED"`
	Message     string       `json:"message,omitempty"`
	IsFromAdmin bool         `json:"isFromAdmin"`
}

// TypingMessage is the ephemeral typing indicator
type TypingMessage struct {
	ProjectID string `json:"projectId" validate:"required"`
	User      string `json:"user"`
	IsTyping  bool   `json:"isTyping"`
}

// CommentDeletedMessage is the payload of comment-deleted
type CommentDeletedMessage struct {
	ID        string `json:"id"`
	ElementID string `json:"elementId"`
}

// ErrorMessage is sent back to a session whose event was refused
type ErrorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
