package view

import (
	"context"
	"sync"
	"testing"

	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/repositories"
	"github.com/anonto42/proofing/backend/internal/workflow"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// fakeStore plays the server's durable side over a MemoryStore
type fakeStore struct {
	m *repositories.MemoryStore

	mu     sync.Mutex
	fail   error
	writes int

	// duringList runs after a list read, before its result is returned
	duringList func()
}

func (s *fakeStore) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	return nil
}

func (s *fakeStore) failWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStore) GetReviewByProject(ctx context.Context, projectID string) (*models.Review, error) {
	return s.m.Reviews().GetByProjectID(ctx, projectID)
}

func (s *fakeStore) listed() {
	if s.duringList != nil {
		s.duringList()
	}
}

func (s *fakeStore) ListAnnotations(ctx context.Context, projectID, fileID string) ([]models.Annotation, error) {
	list, err := s.m.Annotations().ListByProject(ctx, projectID, fileID)
	s.listed()
	return list, err
}

func (s *fakeStore) CreateAnnotation(ctx context.Context, req models.CreateAnnotationRequest) (*models.Annotation, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	a := &models.Annotation{
		Content:     req.Content,
		FileID:      req.FileID,
		ProjectID:   req.ProjectID,
		AddedBy:     req.AddedBy,
		AddedByName: req.AddedByName,
		Coordinates: req.Coordinates,
		Status:      models.AnnotationPending,
	}
	if err := s.m.Annotations().Create(ctx, a); err != nil {
		return nil, err
	}
	if rv, err := s.m.Reviews().GetByProjectID(ctx, req.ProjectID); err == nil && rv.Status == models.ReviewPending {
		_, _ = s.m.Reviews().UpdateStatus(ctx, rv.ID, models.ReviewInProgress)
	}
	return a, nil
}

func (s *fakeStore) CreateReply(ctx context.Context, req models.CreateReplyRequest) (*models.AnnotationReply, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	r := &models.AnnotationReply{
		AnnotationID: req.AnnotationID,
		Content:      req.Content,
		AddedBy:      req.AddedBy,
		AddedByName:  req.AddedByName,
	}
	if err := s.m.Annotations().CreateReply(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *fakeStore) UpdateReply(ctx context.Context, id, content string) (*models.AnnotationReply, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	return s.m.Annotations().UpdateReply(ctx, id, content)
}

func (s *fakeStore) UpdateAnnotationStatus(ctx context.Context, id string, status models.AnnotationStatus) (*models.Annotation, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	return s.m.Annotations().UpdateStatus(ctx, id, status, workflow.IsResolved(status))
}

func (s *fakeStore) DeleteAnnotation(ctx context.Context, id string) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.m.Annotations().Delete(ctx, id)
}

func (s *fakeStore) UpdateElementStatus(ctx context.Context, id string, req models.UpdateElementStatusRequest) (*models.Element, *models.Comment, error) {
	if err := s.write(); err != nil {
		return nil, nil, err
	}
	var c *models.Comment
	if req.Comment != "" {
		c = &models.Comment{CommentText: req.Comment, Type: models.CommentGeneral, UserName: req.UpdatedBy}
	}
	el, err := s.m.Elements().UpdateStatusWithComment(ctx, id, req.Status, c)
	if err != nil {
		return nil, nil, err
	}
	return el, c, nil
}

func (s *fakeStore) UpdateReviewStatus(ctx context.Context, id string, req models.UpdateReviewStatusRequest) (*models.Review, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	return s.m.Reviews().UpdateStatus(ctx, id, req.Status)
}

func (s *fakeStore) GetElement(ctx context.Context, id string) (*models.Element, error) {
	return s.m.Elements().GetByID(ctx, id)
}

func (s *fakeStore) ListComments(ctx context.Context, elementID string) ([]models.Comment, error) {
	list, err := s.m.Comments().ListByElement(ctx, elementID)
	s.listed()
	return list, err
}

func (s *fakeStore) CreateComment(ctx context.Context, elementID string, req models.CreateCommentRequest) (*models.Comment, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	c := &models.Comment{
		ElementID:   elementID,
		CommentText: req.CommentText,
		Type:        req.Type,
		Coordinates: req.Coordinates,
		UserName:    req.UserName,
		ParentID:    req.ParentID,
	}
	if err := s.m.Comments().Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *fakeStore) UpdateComment(ctx context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	c, err := s.m.Comments().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.CommentText != "" {
		c.CommentText = req.CommentText
	}
	if req.Status != "" {
		c.Status = req.Status
	}
	if err := s.m.Comments().Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.m.Comments().Delete(ctx, id)
}

type emitted struct {
	Event   string
	Payload any
}

// fakeBus records emits and lets tests deliver frames to subscribers
type fakeBus struct {
	mu        sync.Mutex
	connected bool
	rooms     map[string]bool
	emits     []emitted
	subs      map[string]map[int]conn.Handler
	next      int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		connected: true,
		rooms:     make(map[string]bool),
		subs:      make(map[string]map[int]conn.Handler),
	}
}

func (b *fakeBus) JoinRoom(room string) error {
	b.mu.Lock()
	b.rooms[room] = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) LeaveRoom(room string) error {
	b.mu.Lock()
	delete(b.rooms, room)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Emit(event string, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return false
	}
	b.emits = append(b.emits, emitted{Event: event, Payload: payload})
	return true
}

func (b *fakeBus) Subscribe(event string, h conn.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if b.subs[event] == nil {
		b.subs[event] = make(map[int]conn.Handler)
	}
	b.subs[event][id] = h
	return func() {
		b.mu.Lock()
		delete(b.subs[event], id)
		b.mu.Unlock()
	}
}

func (b *fakeBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) setConnected(ok bool) {
	b.mu.Lock()
	b.connected = ok
	b.mu.Unlock()
}

func (b *fakeBus) inRoom(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[room]
}

func (b *fakeBus) sent() []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emitted, len(b.emits))
	copy(out, b.emits)
	return out
}

func (b *fakeBus) sentEvents() []string {
	var names []string
	for _, e := range b.sent() {
		names = append(names, e.Event)
	}
	return names
}

func (b *fakeBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, hs := range b.subs {
		n += len(hs)
	}
	return n
}

// deliver pushes payload through the wire codec to every subscriber of event
func (b *fakeBus) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := realtime.Encode(event, payload)
	require.NoError(t, err)
	env, err := realtime.Decode(frame)
	require.NoError(t, err)

	b.mu.Lock()
	var handlers []conn.Handler
	for _, h := range b.subs[event] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

// deliverRaw pushes a hand-written JSON payload
func (b *fakeBus) deliverRaw(t *testing.T, event, data string) {
	t.Helper()
	b.deliver(t, event, json.RawMessage(data))
}

type fixture struct {
	store   *fakeStore
	bus     *fakeBus
	project *models.Project
	review  *models.Review
	element *models.Element
}

var (
	admin  = models.Actor{ID: "admin-1", Name: "Designer", Role: models.RoleAdmin}
	client = models.Actor{ID: "share-abc", Name: "Dana", Role: models.RoleClient}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	m := repositories.NewMemoryStore()
	f := &fixture{store: &fakeStore{m: m}, bus: newFakeBus()}

	f.project = &models.Project{Name: "Spring campaign"}
	require.NoError(t, m.Projects().Create(ctx, f.project))
	f.review = &models.Review{ProjectID: f.project.ID}
	require.NoError(t, m.Reviews().Create(ctx, f.review))
	f.element = &models.Element{ReviewID: f.review.ID, ProjectID: f.project.ID, Name: "f1.png"}
	require.NoError(t, m.Elements().Create(ctx, f.element))
	return f
}

func (f *fixture) projectView(t *testing.T, actor models.Actor, opts Options) *ProjectView {
	t.Helper()
	v, err := NewProjectView(f.project.ID, actor, f.store, f.bus, opts)
	require.NoError(t, err)
	require.NoError(t, v.Load(context.Background()))
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func (f *fixture) seedAnnotation(t *testing.T, content string) *models.Annotation {
	t.Helper()
	a := &models.Annotation{Content: content, FileID: f.element.ID, ProjectID: f.project.ID, AddedBy: client.ID, AddedByName: client.Name}
	require.NoError(t, f.store.m.Annotations().Create(context.Background(), a))
	a.Replies = nil
	return a
}
