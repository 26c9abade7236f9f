// Package view keeps a local, de-duplicated copy of a project or element in
// sync with the durable store and the live event bus.
package view

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/rs/zerolog"
)

var (
	ErrAnnotationsDisabled = errors.New("annotations are disabled for this review")
	ErrNoReview            = errors.New("review not loaded")
	ErrClosed              = errors.New("view is closed")
)

const resyncTimeout = 10 * time.Second

// ProjectStore is the durable side of a project view. *api.Client implements it.
type ProjectStore interface {
	GetReviewByProject(ctx context.Context, projectID string) (*models.Review, error)
	ListAnnotations(ctx context.Context, projectID, fileID string) ([]models.Annotation, error)
	CreateAnnotation(ctx context.Context, req models.CreateAnnotationRequest) (*models.Annotation, error)
	CreateReply(ctx context.Context, req models.CreateReplyRequest) (*models.AnnotationReply, error)
	UpdateReply(ctx context.Context, id, content string) (*models.AnnotationReply, error)
	UpdateAnnotationStatus(ctx context.Context, id string, status models.AnnotationStatus) (*models.Annotation, error)
	DeleteAnnotation(ctx context.Context, id string) error
	UpdateElementStatus(ctx context.Context, id string, req models.UpdateElementStatusRequest) (*models.Element, *models.Comment, error)
	UpdateReviewStatus(ctx context.Context, id string, req models.UpdateReviewStatusRequest) (*models.Review, error)
}

// Bus is the live side of a view. *conn.Manager implements it.
type Bus interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Emit(event string, payload any) bool
	Subscribe(event string, h conn.Handler) func()
	IsConnected() bool
}

type Options struct {
	// TypingTimeout clears a typing indicator nobody refreshed. Default 1s.
	TypingTimeout time.Duration
	// ResyncOnReconnect reloads the view from the store after the bus reconnects
	ResyncOnReconnect bool
	// OnChange is called with the event name after local state changed
	OnChange func(event string)
	Logger   zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = time.Second
	}
	return o
}

// ProjectView binds one project: its annotations with their reply threads,
// the review gate and the element statuses.
type ProjectView struct {
	projectID string
	actor     models.Actor
	store     ProjectStore
	bus       Bus
	opts      Options
	log       zerolog.Logger

	mu          sync.Mutex
	annotations map[string]models.Annotation
	replies     map[string]map[string]models.AnnotationReply
	orphans     map[string]map[string]models.AnnotationReply
	deleted     map[string]struct{}
	review      *models.Review
	elements    map[string]models.ElementStatus
	typing      map[string]*time.Timer
	selfTimer   *time.Timer
	selfTyping  bool
	cancels     []func()
	closed      bool

	// loading counts Loads in flight; pending keeps the changes made meanwhile
	loading int
	pending []func() bool
}

// NewProjectView subscribes to the project's events and joins its room.
// Call Load to fill it from the store.
func NewProjectView(projectID string, actor models.Actor, store ProjectStore, bus Bus, opts Options) (*ProjectView, error) {
	opts = opts.withDefaults()
	v := &ProjectView{
		projectID:   projectID,
		actor:       actor,
		store:       store,
		bus:         bus,
		opts:        opts,
		log:         opts.Logger.With().Str("project_id", projectID).Logger(),
		annotations: make(map[string]models.Annotation),
		replies:     make(map[string]map[string]models.AnnotationReply),
		orphans:     make(map[string]map[string]models.AnnotationReply),
		deleted:     make(map[string]struct{}),
		elements:    make(map[string]models.ElementStatus),
		typing:      make(map[string]*time.Timer),
	}

	for _, event := range []string{
		models.EventAnnotationAdded,
		models.EventAnnotationDeleted,
		models.EventAnnotationReplyAdded,
		models.EventAnnotationReplyUpdated,
		models.EventAnnotationStatusUpdated,
		models.EventAnnotationStatusChanged,
		models.EventStatusChanged,
		models.EventReviewStatusUpdated,
		models.EventTyping,
	} {
		v.cancels = append(v.cancels, bus.Subscribe(event, v.Reconcile))
	}
	if opts.ResyncOnReconnect {
		v.cancels = append(v.cancels, bus.Subscribe(conn.EventReconnect, func(realtime.Envelope) {
			go v.resync()
		}))
	}

	if err := bus.JoinRoom(models.ProjectRoom(projectID)); err != nil {
		v.unsubscribe()
		return nil, err
	}
	return v, nil
}

func (v *ProjectView) ProjectID() string {
	return v.projectID
}

// Load replaces the local state with the store's. Queued replies whose
// annotation is still unknown are kept. Changes that arrive while the store
// is read are applied again on top of the snapshot.
func (v *ProjectView) Load(ctx context.Context) error {
	v.mu.Lock()
	v.loading++
	v.mu.Unlock()

	review, annotations, err := v.fetch(ctx)

	v.mu.Lock()
	v.loading--
	if err == nil {
		v.review = review
		v.elements = make(map[string]models.ElementStatus, len(review.Elements))
		for _, el := range review.Elements {
			v.elements[el.ID] = el.Status
		}
		v.annotations = make(map[string]models.Annotation, len(annotations))
		v.replies = make(map[string]map[string]models.AnnotationReply, len(annotations))
		v.deleted = make(map[string]struct{})
		for _, a := range annotations {
			v.upsertAnnotation(a)
		}
	}
	if v.loading == 0 {
		for _, apply := range v.pending {
			apply()
		}
		v.pending = nil
	}
	v.mu.Unlock()
	if err != nil {
		return err
	}

	v.log.Debug().Int("annotations", len(annotations)).Str("review_status", string(review.Status)).Msg("view loaded")
	v.changed("load")
	return nil
}

func (v *ProjectView) fetch(ctx context.Context) (*models.Review, []models.Annotation, error) {
	review, err := v.store.GetReviewByProject(ctx, v.projectID)
	if err != nil {
		return nil, nil, err
	}
	annotations, err := v.store.ListAnnotations(ctx, v.projectID, "")
	if err != nil {
		return nil, nil, err
	}
	return review, annotations, nil
}

// mutate applies fn to the local state. While a Load is reading the store
// fn is also kept, so the snapshot cannot undo it.
func (v *ProjectView) mutate(fn func() bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loading > 0 {
		v.pending = append(v.pending, fn)
	}
	return fn()
}

func (v *ProjectView) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	if err := v.Load(ctx); err != nil {
		v.log.Warn().Err(err).Msg("resync after reconnect failed")
	}
}

// upsertAnnotation merges a by id. An existing entry is only replaced by a
// strictly newer one. Replies carried by a and queued orphans are attached.
// Callers hold v.mu.
func (v *ProjectView) upsertAnnotation(a models.Annotation) bool {
	if _, gone := v.deleted[a.ID]; gone {
		return false
	}
	replies := a.Replies
	a.Replies = nil

	changed := false
	if cur, ok := v.annotations[a.ID]; !ok || a.UpdatedAt.After(cur.UpdatedAt) {
		v.annotations[a.ID] = a
		changed = true
	}
	if v.replies[a.ID] == nil {
		v.replies[a.ID] = make(map[string]models.AnnotationReply)
	}
	for _, r := range replies {
		if v.upsertReply(r) {
			changed = true
		}
	}
	for _, r := range v.orphans[a.ID] {
		if v.upsertReply(r) {
			changed = true
		}
	}
	delete(v.orphans, a.ID)
	return changed
}

// upsertReply attaches r under its annotation, or queues it until the
// annotation shows up. Callers hold v.mu.
func (v *ProjectView) upsertReply(r models.AnnotationReply) bool {
	if _, gone := v.deleted[r.AnnotationID]; gone {
		return false
	}
	thread := v.replies[r.AnnotationID]
	if _, ok := v.annotations[r.AnnotationID]; !ok {
		thread = v.orphans[r.AnnotationID]
		if thread == nil {
			thread = make(map[string]models.AnnotationReply)
			v.orphans[r.AnnotationID] = thread
		}
	}
	if cur, ok := thread[r.ID]; ok && !r.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	thread[r.ID] = r
	return true
}

func (v *ProjectView) removeAnnotation(id string) bool {
	_, ok := v.annotations[id]
	delete(v.annotations, id)
	delete(v.replies, id)
	delete(v.orphans, id)
	v.deleted[id] = struct{}{}
	return ok
}

// applyStatus sets an annotation's status regardless of its current one
func (v *ProjectView) applyStatus(id string, status models.AnnotationStatus) bool {
	a, ok := v.annotations[id]
	if !ok {
		return false
	}
	a.Status = status
	a.IsResolved = workflow.IsResolved(status)
	v.annotations[id] = a
	return true
}

// assemble copies an annotation with its replies sorted by creation.
// Callers hold v.mu.
func (v *ProjectView) assemble(a models.Annotation) models.Annotation {
	thread := v.replies[a.ID]
	a.Replies = make([]models.AnnotationReply, 0, len(thread))
	for _, r := range thread {
		a.Replies = append(a.Replies, r)
	}
	sort.Slice(a.Replies, func(i, j int) bool {
		ri, rj := a.Replies[i], a.Replies[j]
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return ri.ID < rj.ID
	})
	return a
}

// Annotations returns the annotations ordered by creation
func (v *ProjectView) Annotations() []models.Annotation {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Annotation, 0, len(v.annotations))
	for _, a := range v.annotations {
		out = append(out, v.assemble(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *ProjectView) Annotation(id string) (models.Annotation, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.annotations[id]
	if !ok {
		return models.Annotation{}, false
	}
	return v.assemble(a), true
}

// QueuedReplies counts the replies waiting for their annotation
func (v *ProjectView) QueuedReplies() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, thread := range v.orphans {
		n += len(thread)
	}
	return n
}

// AnnotationsDisabled reports whether the review gate is closed
func (v *ProjectView) AnnotationsDisabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.review != nil && workflow.AnnotationsDisabled(v.review.Status)
}

func (v *ProjectView) ReviewStatus() (models.ReviewStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.review == nil {
		return "", false
	}
	return v.review.Status, true
}

func (v *ProjectView) ElementStatus(id string) (models.ElementStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	status, ok := v.elements[id]
	return status, ok
}

func (v *ProjectView) IsConnected() bool {
	return v.bus.IsConnected()
}

func (v *ProjectView) check() error {
	if v.closed {
		return ErrClosed
	}
	return nil
}

// broadcast emits after the store write succeeded. A closed channel is not
// an error: the write is already durable.
func (v *ProjectView) broadcast(event string, payload any) {
	if !v.bus.Emit(event, payload) {
		v.log.Debug().Str("event", event).Msg("bus offline, change persisted only")
	}
}

func (v *ProjectView) changed(event string) {
	if v.opts.OnChange != nil {
		v.opts.OnChange(event)
	}
}

// AddAnnotation persists a new pin on fileID, merges the stored record and
// broadcasts it. It fails with ErrAnnotationsDisabled once the review is
// approved or rejected.
func (v *ProjectView) AddAnnotation(ctx context.Context, fileID, content string, coords *models.Coordinates) (*models.Annotation, error) {
	v.mu.Lock()
	err := v.check()
	if err == nil && v.review == nil {
		err = ErrNoReview
	}
	if err == nil && workflow.AnnotationsDisabled(v.review.Status) {
		err = ErrAnnotationsDisabled
	}
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	created, err := v.store.CreateAnnotation(ctx, models.CreateAnnotationRequest{
		Content:     content,
		FileID:      fileID,
		ProjectID:   v.projectID,
		Coordinates: coords,
		AddedBy:     v.actor.ID,
		AddedByName: v.actor.Name,
	})
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool {
		changed := v.upsertAnnotation(*created)
		// the first annotation moves the review forward on the server
		if v.review != nil && v.review.Status == models.ReviewPending {
			v.review.Status = models.ReviewInProgress
			changed = true
		}
		return changed
	})

	v.broadcast(models.EventAddAnnotation, created)
	v.changed(models.EventAnnotationAdded)
	return created, nil
}

// AddReply persists a reply under annotationID and broadcasts it
func (v *ProjectView) AddReply(ctx context.Context, annotationID, content string) (*models.AnnotationReply, error) {
	v.mu.Lock()
	err := v.check()
	fileID := v.annotations[annotationID].FileID
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	reply, err := v.store.CreateReply(ctx, models.CreateReplyRequest{
		AnnotationID: annotationID,
		Content:      content,
		AddedBy:      v.actor.ID,
		AddedByName:  v.actor.Name,
	})
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool { return v.upsertReply(*reply) })

	v.broadcast(models.EventAddAnnotationReply, v.replyMessage(fileID, *reply))
	v.changed(models.EventAnnotationReplyAdded)
	return reply, nil
}

// EditReply rewrites a reply. Concurrent edits resolve to the last write.
func (v *ProjectView) EditReply(ctx context.Context, replyID, content string) (*models.AnnotationReply, error) {
	v.mu.Lock()
	err := v.check()
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	reply, err := v.store.UpdateReply(ctx, replyID, content)
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool { return v.upsertReply(*reply) })
	v.mu.Lock()
	fileID := v.annotations[reply.AnnotationID].FileID
	v.mu.Unlock()

	v.broadcast(models.EventEditAnnotationReply, v.replyMessage(fileID, *reply))
	v.changed(models.EventAnnotationReplyUpdated)
	return reply, nil
}

func (v *ProjectView) replyMessage(fileID string, r models.AnnotationReply) models.AnnotationReplyMessage {
	return models.AnnotationReplyMessage{
		ProjectID:    v.projectID,
		AnnotationID: r.AnnotationID,
		FileID:       fileID,
		AddedBy:      r.AddedBy,
		AddedByName:  r.AddedByName,
		Reply:        models.RecordReply(r),
	}
}

// ResolveAnnotation marks an annotation COMPLETED. Resolving a resolved
// annotation does nothing.
func (v *ProjectView) ResolveAnnotation(ctx context.Context, id string) (*models.Annotation, error) {
	return v.setStatus(ctx, id, models.AnnotationCompleted)
}

func (v *ProjectView) RejectAnnotation(ctx context.Context, id string) (*models.Annotation, error) {
	return v.setStatus(ctx, id, models.AnnotationRejected)
}

func (v *ProjectView) setStatus(ctx context.Context, id string, status models.AnnotationStatus) (*models.Annotation, error) {
	v.mu.Lock()
	if err := v.check(); err != nil {
		v.mu.Unlock()
		return nil, err
	}
	if cur, ok := v.annotations[id]; ok && cur.Status == status {
		a := v.assemble(cur)
		v.mu.Unlock()
		return &a, nil
	}
	v.mu.Unlock()

	updated, err := v.store.UpdateAnnotationStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool {
		changed := v.upsertAnnotation(*updated)
		return v.applyStatus(id, updated.Status) || changed
	})

	v.broadcast(models.EventAnnotationStatusChanged, models.AnnotationStatusMessage{
		AnnotationID: id,
		ProjectID:    v.projectID,
		Status:       updated.Status,
		IsResolved:   updated.IsResolved,
		UpdatedBy:    v.actor.ID,
	})
	v.changed(models.EventAnnotationStatusUpdated)
	return updated, nil
}

func (v *ProjectView) DeleteAnnotation(ctx context.Context, id string) error {
	v.mu.Lock()
	err := v.check()
	v.mu.Unlock()
	if err != nil {
		return err
	}

	if err := v.store.DeleteAnnotation(ctx, id); err != nil {
		return err
	}

	v.mutate(func() bool { return v.removeAnnotation(id) })

	v.broadcast(models.EventDeleteAnnotation, models.AnnotationDeletedMessage{AnnotationID: id, ProjectID: v.projectID})
	v.changed(models.EventAnnotationDeleted)
	return nil
}

// UpdateElementStatus changes an element's status. A non-empty comment is
// stored together with the status.
func (v *ProjectView) UpdateElementStatus(ctx context.Context, elementID string, status models.ElementStatus, comment string) (*models.Element, *models.Comment, error) {
	v.mu.Lock()
	err := v.check()
	v.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	element, stored, err := v.store.UpdateElementStatus(ctx, elementID, models.UpdateElementStatusRequest{
		Status:    status,
		Comment:   comment,
		UpdatedBy: v.actor.Name,
	})
	if err != nil {
		return nil, nil, err
	}

	v.mutate(func() bool {
		v.elements[element.ID] = element.Status
		return true
	})

	v.broadcast(models.EventUpdateElementStatus, models.ElementStatusMessage{
		ProjectID: v.projectID,
		ElementID: element.ID,
		Status:    element.Status,
		UpdatedBy: v.actor.Name,
		Comment:   comment,
	})
	v.changed(models.EventStatusChanged)
	return element, stored, nil
}

// UpdateReviewStatus moves the review forward. Every view on the project,
// this one included, receives the change and updates its gate.
func (v *ProjectView) UpdateReviewStatus(ctx context.Context, status models.ReviewStatus, message string) (*models.Review, error) {
	v.mu.Lock()
	err := v.check()
	var reviewID string
	if err == nil && v.review == nil {
		err = ErrNoReview
	}
	if err == nil {
		reviewID = v.review.ID
	}
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	updated, err := v.store.UpdateReviewStatus(ctx, reviewID, models.UpdateReviewStatusRequest{Status: status, Message: message})
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool {
		if v.review == nil {
			return false
		}
		v.review.Status = updated.Status
		return true
	})

	v.broadcast(models.EventReviewStatusChanged, models.ReviewStatusMessage{
		ReviewID:    updated.ID,
		ProjectID:   v.projectID,
		Status:      updated.Status,
		Message:     message,
		IsFromAdmin: v.actor.IsAdmin(),
	})
	v.changed(models.EventReviewStatusUpdated)
	return updated, nil
}

// Reconcile folds one bus event into the local state. Duplicate deliveries
// leave the state unchanged.
func (v *ProjectView) Reconcile(env realtime.Envelope) {
	var changed bool
	var err error

	switch env.Event {
	case models.EventAnnotationAdded:
		var msg models.AnnotationMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.mutate(func() bool { return v.upsertAnnotation(msg.Annotation) })
		}
	case models.EventAnnotationDeleted:
		var msg models.AnnotationDeletedMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.mutate(func() bool { return v.removeAnnotation(msg.AnnotationID) })
		}
	case models.EventAnnotationReplyAdded, models.EventAnnotationReplyUpdated:
		var msg models.AnnotationReplyMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			var reply models.AnnotationReply
			reply, err = msg.Reply.Normalize(msg.AnnotationID, msg.AddedBy, msg.AddedByName, time.Now().UTC())
			if err == nil {
				changed = v.mutate(func() bool { return v.upsertReply(reply) })
			}
		}
	case models.EventAnnotationStatusUpdated, models.EventAnnotationStatusChanged:
		var msg models.AnnotationStatusMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.mutate(func() bool { return v.applyStatus(msg.AnnotationID, msg.Status) })
		}
	case models.EventStatusChanged:
		var msg models.ElementStatusMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.mutate(func() bool {
				changed := v.elements[msg.ElementID] != msg.Status
				v.elements[msg.ElementID] = msg.Status
				return changed
			})
		}
	case models.EventReviewStatusUpdated:
		var msg models.ReviewStatusMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.mutate(func() bool {
				if v.review == nil {
					v.review = &models.Review{ID: msg.ReviewID, ProjectID: msg.ProjectID}
				}
				changed := v.review.Status != msg.Status
				v.review.Status = msg.Status
				return changed
			})
		}
	case models.EventTyping:
		var msg models.TypingMessage
		if err = env.Bind(&msg); err == nil && msg.ProjectID == v.projectID {
			changed = v.peerTyping(msg.User, msg.IsTyping)
		}
	default:
		return
	}

	if err != nil {
		v.log.Warn().Err(err).Str("event", env.Event).Msg("dropping malformed event")
		return
	}
	if changed {
		v.changed(env.Event)
	}
}
