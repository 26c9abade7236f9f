package view

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/rs/zerolog"
)

var ErrNotLoaded = errors.New("element not loaded")

// CommentStore is the durable side of an element view. *api.Client implements it.
type CommentStore interface {
	GetElement(ctx context.Context, id string) (*models.Element, error)
	ListComments(ctx context.Context, elementID string) ([]models.Comment, error)
	CreateComment(ctx context.Context, elementID string, req models.CreateCommentRequest) (*models.Comment, error)
	UpdateComment(ctx context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error)
	DeleteComment(ctx context.Context, id string) error
	UpdateElementStatus(ctx context.Context, id string, req models.UpdateElementStatusRequest) (*models.Element, *models.Comment, error)
}

// ElementView binds the comment stream of one element. Comment writes go
// through the store only; the server broadcasts them to the element room.
type ElementView struct {
	elementID string
	actor     models.Actor
	store     CommentStore
	bus       Bus
	opts      Options
	log       zerolog.Logger

	mu       sync.Mutex
	element  *models.Element
	comments map[string]models.Comment
	cancels  []func()
	closed   bool

	loading int
	pending []func() bool
}

func NewElementView(elementID string, actor models.Actor, store CommentStore, bus Bus, opts Options) (*ElementView, error) {
	opts = opts.withDefaults()
	v := &ElementView{
		elementID: elementID,
		actor:     actor,
		store:     store,
		bus:       bus,
		opts:      opts,
		log:       opts.Logger.With().Str("element_id", elementID).Logger(),
		comments:  make(map[string]models.Comment),
	}
	for _, event := range []string{
		models.EventNewComment,
		models.EventNewReply,
		models.EventCommentUpdated,
		models.EventCommentDeleted,
		models.EventStatusChanged,
	} {
		v.cancels = append(v.cancels, bus.Subscribe(event, v.Reconcile))
	}

	if err := bus.JoinRoom(models.ElementRoom(elementID)); err != nil {
		v.unsubscribe()
		return nil, err
	}
	return v, nil
}

// Load replaces the local state with the store's, then applies again the
// changes that arrived while the store was read.
func (v *ElementView) Load(ctx context.Context) error {
	v.mu.Lock()
	v.loading++
	v.mu.Unlock()

	element, threads, err := v.fetch(ctx)

	v.mu.Lock()
	v.loading--
	if err == nil {
		v.element = element
		v.comments = make(map[string]models.Comment)
		for _, root := range threads {
			for _, reply := range root.Replies {
				v.upsert(reply)
			}
			v.upsert(root)
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

	v.changed("load")
	return nil
}

func (v *ElementView) fetch(ctx context.Context) (*models.Element, []models.Comment, error) {
	element, err := v.store.GetElement(ctx, v.elementID)
	if err != nil {
		return nil, nil, err
	}
	threads, err := v.store.ListComments(ctx, v.elementID)
	if err != nil {
		return nil, nil, err
	}
	return element, threads, nil
}

// mutate applies fn under v.mu and keeps it for replay while a Load runs
func (v *ElementView) mutate(fn func() bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loading > 0 {
		v.pending = append(v.pending, fn)
	}
	return fn()
}

// upsert stores c flat, keeping a newer copy. Callers hold v.mu.
func (v *ElementView) upsert(c models.Comment) bool {
	c.Replies = nil
	if cur, ok := v.comments[c.ID]; ok && !c.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	v.comments[c.ID] = c
	return true
}

// remove drops a comment and its replies. Callers hold v.mu.
func (v *ElementView) remove(id string) bool {
	_, ok := v.comments[id]
	delete(v.comments, id)
	for cid, c := range v.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(v.comments, cid)
		}
	}
	return ok
}

// Comments returns the root comments with their replies, oldest first.
// Replies whose root is not known yet are held back.
func (v *ElementView) Comments() []models.Comment {
	v.mu.Lock()
	defer v.mu.Unlock()

	replies := make(map[string][]models.Comment)
	roots := []models.Comment{}
	for _, c := range v.comments {
		if c.IsReply() {
			replies[*c.ParentID] = append(replies[*c.ParentID], c)
			continue
		}
		roots = append(roots, c)
	}
	byCreation(roots)
	for i := range roots {
		thread := replies[roots[i].ID]
		byCreation(thread)
		roots[i].Replies = thread
	}
	return roots
}

func byCreation(list []models.Comment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (v *ElementView) Status() (models.ElementStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.element == nil {
		return "", false
	}
	return v.element.Status, true
}

func (v *ElementView) changed(event string) {
	if v.opts.OnChange != nil {
		v.opts.OnChange(event)
	}
}

func (v *ElementView) create(ctx context.Context, req models.CreateCommentRequest, event string) (*models.Comment, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	c, err := v.store.CreateComment(ctx, v.elementID, req)
	if err != nil {
		return nil, err
	}
	v.mutate(func() bool { return v.upsert(*c) })
	v.changed(event)
	return c, nil
}

// AddComment posts a root comment, optionally pinned at coords
func (v *ElementView) AddComment(ctx context.Context, text string, coords *models.Coordinates) (*models.Comment, error) {
	return v.create(ctx, models.CreateCommentRequest{
		CommentText: text,
		Type:        models.CommentGeneral,
		Coordinates: coords,
		UserName:    v.actor.Name,
	}, models.EventNewComment)
}

// Reply answers a root comment. Admin replies are tagged as such.
func (v *ElementView) Reply(ctx context.Context, parentID, text string) (*models.Comment, error) {
	kind := models.CommentGeneral
	if v.actor.IsAdmin() {
		kind = models.CommentAdminReply
	}
	return v.create(ctx, models.CreateCommentRequest{
		CommentText: text,
		Type:        kind,
		UserName:    v.actor.Name,
		ParentID:    &parentID,
	}, models.EventNewReply)
}

func (v *ElementView) SetCommentStatus(ctx context.Context, id string, status models.CommentStatus) (*models.Comment, error) {
	c, err := v.store.UpdateComment(ctx, id, models.UpdateCommentRequest{Status: status})
	if err != nil {
		return nil, err
	}
	v.mutate(func() bool { return v.upsert(*c) })
	v.changed(models.EventCommentUpdated)
	return c, nil
}

func (v *ElementView) DeleteComment(ctx context.Context, id string) error {
	if err := v.store.DeleteComment(ctx, id); err != nil {
		return err
	}
	v.mutate(func() bool { return v.remove(id) })
	v.changed(models.EventCommentDeleted)
	return nil
}

// UpdateStatus changes the element's status together with an optional
// comment, then broadcasts the change to the project and element rooms.
func (v *ElementView) UpdateStatus(ctx context.Context, status models.ElementStatus, comment string) (*models.Element, error) {
	v.mu.Lock()
	var err error
	if v.closed {
		err = ErrClosed
	} else if v.element == nil {
		err = ErrNotLoaded
	}
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	element, stored, err := v.store.UpdateElementStatus(ctx, v.elementID, models.UpdateElementStatusRequest{
		Status:    status,
		Comment:   comment,
		UpdatedBy: v.actor.Name,
	})
	if err != nil {
		return nil, err
	}

	v.mutate(func() bool {
		if v.element == nil {
			v.element = element
		} else {
			v.element.Status = element.Status
		}
		if stored != nil {
			v.upsert(*stored)
		}
		return true
	})

	if !v.bus.Emit(models.EventUpdateElementStatus, models.ElementStatusMessage{
		ProjectID: element.ProjectID,
		ElementID: element.ID,
		Status:    element.Status,
		UpdatedBy: v.actor.Name,
		Comment:   comment,
	}) {
		v.log.Debug().Msg("bus offline, status persisted only")
	}
	v.changed(models.EventStatusChanged)
	return element, nil
}

// Reconcile folds one element room event into the local state
func (v *ElementView) Reconcile(env realtime.Envelope) {
	var changed bool
	var err error

	switch env.Event {
	case models.EventNewComment, models.EventNewReply, models.EventCommentUpdated:
		var c models.Comment
		if err = env.Bind(&c); err == nil && c.ElementID == v.elementID {
			changed = v.mutate(func() bool { return v.upsert(c) })
		}
	case models.EventCommentDeleted:
		var msg models.CommentDeletedMessage
		if err = env.Bind(&msg); err == nil && msg.ElementID == v.elementID {
			changed = v.mutate(func() bool { return v.remove(msg.ID) })
		}
	case models.EventStatusChanged:
		var msg models.ElementStatusMessage
		if err = env.Bind(&msg); err == nil && msg.ElementID == v.elementID {
			changed = v.mutate(func() bool {
				// an unloaded view takes the status from its snapshot
				if v.element == nil || v.element.ProjectID != msg.ProjectID {
					return false
				}
				changed := v.element.Status != msg.Status
				v.element.Status = msg.Status
				return changed
			})
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

func (v *ElementView) unsubscribe() {
	for _, cancel := range v.cancels {
		cancel()
	}
	v.cancels = nil
}

// Close stops listening and leaves the element room
func (v *ElementView) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.closed = true
	v.mu.Unlock()

	v.unsubscribe()
	return v.bus.LeaveRoom(models.ElementRoom(v.elementID))
}
