package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/validators"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotMember    = errors.New("join the project room first")
	ErrForbidden    = errors.New("not allowed for this actor")
	ErrUnknownEvent = errors.New("unknown event")
)

const journalTimeout = 5 * time.Second

// ElementLookup resolves an element to its project for room access checks
type ElementLookup interface {
	GetByID(ctx context.Context, id string) (*models.Element, error)
}

type DispatcherOptions struct {
	Elements            ElementLookup
	Activities          repositories.ActivityRepository
	EnforceAdminResolve bool
	Logger              zerolog.Logger
}

// Dispatcher turns inbound session events into room membership changes and relays
type Dispatcher struct {
	hub        *Hub
	elements   ElementLookup
	activities repositories.ActivityRepository
	validate   *validators.CustomValidator
	log        zerolog.Logger

	enforceAdminResolve bool
	now                 func() time.Time
}

func NewDispatcher(hub *Hub, opts DispatcherOptions) *Dispatcher {
	activities := opts.Activities
	if activities == nil {
		activities = repositories.NopActivityRepository{}
	}
	return &Dispatcher{
		hub:                 hub,
		elements:            opts.Elements,
		activities:          activities,
		validate:            validators.NewValidator(),
		log:                 opts.Logger.With().Str("component", "dispatcher").Logger(),
		enforceAdminResolve: opts.EnforceAdminResolve,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements Handler. Refused events are answered with an error event.
func (d *Dispatcher) Handle(s *Session, env Envelope) {
	var err error
	switch env.Event {
	case models.EventJoinProject:
		err = d.joinProject(s, env)
	case models.EventLeaveProject:
		err = d.leaveProject(s, env)
	case models.EventJoinElement, models.EventJoinFile:
		err = d.joinElement(s, env)
	case models.EventLeaveElement, models.EventLeaveFile:
		err = d.leaveElement(s, env)
	case models.EventAddAnnotation:
		err = d.addAnnotation(s, env)
	case models.EventDeleteAnnotation:
		err = d.deleteAnnotation(s, env)
	case models.EventAddAnnotationReply:
		err = d.relayReply(s, env, models.EventAnnotationReplyAdded)
	case models.EventEditAnnotationReply:
		err = d.relayReply(s, env, models.EventAnnotationReplyUpdated)
	case models.EventAnnotationStatusChanged, models.EventAnnotationStatusUpdated:
		err = d.annotationStatus(s, env)
	case models.EventUpdateElementStatus:
		err = d.elementStatus(s, env)
	case models.EventReviewStatusChanged:
		err = d.reviewStatus(s, env)
	case models.EventTyping:
		err = d.typing(s, env)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
	}

	if err != nil {
		s.log.Debug().Err(err).Str("event", env.Event).Msg("event refused")
		_ = s.Send(models.EventError, models.ErrorMessage{Event: env.Event, Message: err.Error()})
	}
}

func (d *Dispatcher) bind(env Envelope, v any) error {
	if err := env.Bind(v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s payload: %s", env.Event, validators.Describe(err))
	}
	return nil
}

// member checks that the session is in the project room it is writing to
func member(s *Session, projectID string) error {
	if projectID == "" || !s.Joined(models.ProjectRoom(projectID)) {
		return ErrNotMember
	}
	return nil
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (d *Dispatcher) joinProject(s *Session, env Envelope) error {
	var ref models.ProjectRef
	if err := d.bind(env, &ref); err != nil {
		return err
	}
	if !s.Actor.CanAccessProject(ref.ProjectID) {
		return ErrForbidden
	}
	return s.Join(models.ProjectRoom(ref.ProjectID))
}

func (d *Dispatcher) leaveProject(s *Session, env Envelope) error {
	var ref models.ProjectRef
	if err := d.bind(env, &ref); err != nil {
		return err
	}
	return s.Leave(models.ProjectRoom(ref.ProjectID))
}

func (d *Dispatcher) joinElement(s *Session, env Envelope) error {
	var ref models.ElementRef
	if err := d.bind(env, &ref); err != nil {
		return err
	}
	id := ref.ID()
	if id == "" {
		return fmt.Errorf("invalid %s payload: elementId failed required", env.Event)
	}

	if d.elements != nil && !s.Actor.IsAdmin() {
		el, err := d.element(id)
		if err != nil {
			return err
		}
		if !s.Actor.CanAccessProject(el.ProjectID) {
			return ErrForbidden
		}
	}
	return s.Join(models.ElementRoom(id))
}

func (d *Dispatcher) element(id string) (*models.Element, error) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	el, err := d.elements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", id, err)
	}
	return el, nil
}

// inProject refuses relays into the room of an element that belongs to another
// project. Without an element lookup no element room can be written to.
func (d *Dispatcher) inProject(elementID, projectID string) error {
	if d.elements == nil {
		return ErrForbidden
	}
	el, err := d.element(elementID)
	if err != nil {
		return err
	}
	if el.ProjectID != projectID {
		return ErrForbidden
	}
	return nil
}

func (d *Dispatcher) leaveElement(s *Session, env Envelope) error {
	var ref models.ElementRef
	if err := d.bind(env, &ref); err != nil {
		return err
	}
	if ref.ID() == "" {
		return nil
	}
	return s.Leave(models.ElementRoom(ref.ID()))
}

// addAnnotation relays an already persisted annotation in its canonical form
func (d *Dispatcher) addAnnotation(s *Session, env Envelope) error {
	var a models.Annotation
	if err := env.Bind(&a); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	if a.Content == "" {
		return fmt.Errorf("invalid %s payload: content failed required", env.Event)
	}
	if err := member(s, a.ProjectID); err != nil {
		return err
	}
	if a.Coordinates != nil {
		if err := d.validate.Struct(a.Coordinates); err != nil {
			return fmt.Errorf("invalid %s payload: %s", env.Event, validators.Describe(err))
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = models.AnnotationPending
	a.IsResolved = false
	a.AddedBy = fallback(a.AddedBy, s.Actor.ID)
	a.AddedByName = fallback(a.AddedByName, s.Actor.Name)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.now()
	}
	if a.Replies == nil {
		a.Replies = []models.AnnotationReply{}
	}

	return d.hub.Broadcast(models.ProjectRoom(a.ProjectID), models.EventAnnotationAdded, models.NewAnnotationMessage(a), s)
}

func (d *Dispatcher) deleteAnnotation(s *Session, env Envelope) error {
	var msg models.AnnotationDeletedMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}
	return d.hub.Broadcast(models.ProjectRoom(msg.ProjectID), models.EventAnnotationDeleted, msg, s)
}

// relayReply normalizes either reply shape into a full record and relays it to
// the project room and, when the reply names one, the element room.
func (d *Dispatcher) relayReply(s *Session, env Envelope, out string) error {
	var msg models.AnnotationReplyMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}

	el := msg.Element()
	if el != "" {
		if err := d.inProject(el, msg.ProjectID); err != nil {
			return err
		}
	}

	edit := out == models.EventAnnotationReplyUpdated
	if edit && (msg.Reply.Kind != models.ReplyRecord || msg.Reply.Reply == nil || msg.Reply.Reply.ID == "") {
		return fmt.Errorf("invalid %s payload: reply.id failed required", env.Event)
	}

	reply, err := msg.Reply.Normalize(msg.AnnotationID, fallback(msg.AddedBy, s.Actor.ID), fallback(msg.AddedByName, s.Actor.Name), d.now())
	if err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	if edit {
		reply.IsEdited = true
		reply.UpdatedAt = d.now()
	}

	msg.Reply = models.RecordReply(reply)
	msg.AddedBy = reply.AddedBy
	msg.AddedByName = reply.AddedByName

	if err := d.hub.Broadcast(models.ProjectRoom(msg.ProjectID), out, msg, s); err != nil {
		return err
	}
	if el != "" {
		return d.hub.Broadcast(models.ElementRoom(el), out, msg, s)
	}
	return nil
}

func (d *Dispatcher) annotationStatus(s *Session, env Envelope) error {
	var msg models.AnnotationStatusMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}
	if d.enforceAdminResolve && !s.Actor.IsAdmin() {
		return ErrForbidden
	}

	msg.IsResolved = workflow.IsResolved(msg.Status)
	msg.UpdatedBy = fallback(msg.UpdatedBy, s.Actor.ID)

	room := models.ProjectRoom(msg.ProjectID)
	if err := d.hub.Broadcast(room, models.EventAnnotationStatusUpdated, msg, s); err != nil {
		return err
	}
	if err := d.hub.Broadcast(room, models.EventAnnotationStatusChanged, msg, s); err != nil {
		return err
	}
	d.journal(s, msg.ProjectID, models.EventAnnotationStatusUpdated, msg.AnnotationID, string(msg.Status), "")
	return nil
}

func (d *Dispatcher) elementStatus(s *Session, env Envelope) error {
	var msg models.ElementStatusMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}
	if err := d.inProject(msg.ElementID, msg.ProjectID); err != nil {
		return err
	}
	msg.UpdatedBy = fallback(msg.UpdatedBy, s.Actor.Name)

	if err := d.hub.Broadcast(models.ProjectRoom(msg.ProjectID), models.EventStatusChanged, msg, s); err != nil {
		return err
	}
	if err := d.hub.Broadcast(models.ElementRoom(msg.ElementID), models.EventStatusChanged, msg, s); err != nil {
		return err
	}
	d.journal(s, msg.ProjectID, models.EventStatusChanged, msg.ElementID, string(msg.Status), msg.Comment)
	return nil
}

// reviewStatus is relayed to the whole room, sender included, as confirmation
func (d *Dispatcher) reviewStatus(s *Session, env Envelope) error {
	var msg models.ReviewStatusMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}
	msg.IsFromAdmin = s.Actor.IsAdmin()

	if err := d.hub.Broadcast(models.ProjectRoom(msg.ProjectID), models.EventReviewStatusUpdated, msg, nil); err != nil {
		return err
	}
	d.journal(s, msg.ProjectID, models.EventReviewStatusUpdated, msg.ReviewID, string(msg.Status), msg.Message)
	return nil
}

func (d *Dispatcher) typing(s *Session, env Envelope) error {
	var msg models.TypingMessage
	if err := d.bind(env, &msg); err != nil {
		return err
	}
	if err := member(s, msg.ProjectID); err != nil {
		return err
	}
	msg.User = fallback(msg.User, s.Actor.Name)
	return d.hub.Broadcast(models.ProjectRoom(msg.ProjectID), models.EventTyping, msg, s)
}

func (d *Dispatcher) journal(s *Session, projectID, event, targetID, status, message string) {
	activity := &models.Activity{
		ProjectID: projectID,
		Event:     event,
		ActorID:   s.Actor.ID,
		ActorRole: s.Actor.Role,
		TargetID:  targetID,
		Status:    status,
		Message:   message,
		CreatedAt: d.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := d.activities.Record(ctx, activity); err != nil {
			d.log.Error().Err(err).Str("project", projectID).Str("event", event).Msg("failed to journal activity")
		}
	}()
}
