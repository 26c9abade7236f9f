package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
)

// MemoryStore keeps every entity in process memory. It backs tests and the
// "memory" database driver used for local demos; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	projects    map[string]models.Project
	reviews     map[string]models.Review
	elements    map[string]models.Element
	comments    map[string]models.Comment
	annotations map[string]models.Annotation
	replies     map[string]models.AnnotationReply
	activities  []models.Activity
	admins      map[string]models.Admin

	last time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]models.Project),
		reviews:     make(map[string]models.Review),
		elements:    make(map[string]models.Element),
		comments:    make(map[string]models.Comment),
		annotations: make(map[string]models.Annotation),
		replies:     make(map[string]models.AnnotationReply),
		admins:      make(map[string]models.Admin),
	}
}

func (m *MemoryStore) Projects() ProjectRepository       { return memProjects{m} }
func (m *MemoryStore) Reviews() ReviewRepository         { return memReviews{m} }
func (m *MemoryStore) Elements() ElementRepository       { return memElements{m} }
func (m *MemoryStore) Comments() CommentRepository       { return memComments{m} }
func (m *MemoryStore) Annotations() AnnotationRepository { return memAnnotations{m} }
func (m *MemoryStore) Activities() ActivityRepository    { return memActivities{m} }
func (m *MemoryStore) Admins() AdminRepository           { return memAdmins{m} }

// now returns a strictly increasing timestamp so creation order is stable; callers hold mu
func (m *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *MemoryStore) stamp(created *time.Time, updated *time.Time) {
	t := m.now()
	if created.IsZero() {
		*created = t
	}
	*updated = t
}

type memProjects struct{ m *MemoryStore }

func (r memProjects) Create(_ context.Context, p *models.Project) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_ = p.BeforeCreate(nil)
	r.m.stamp(&p.CreatedAt, &p.UpdatedAt)
	r.m.projects[p.ID] = *p
	return nil
}

func (r memProjects) GetByID(_ context.Context, id string) (*models.Project, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

type memReviews struct{ m *MemoryStore }

func (r memReviews) Create(_ context.Context, rv *models.Review) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_ = rv.BeforeCreate(nil)
	r.m.stamp(&rv.CreatedAt, &rv.UpdatedAt)
	stored := *rv
	stored.Elements = nil
	r.m.reviews[rv.ID] = stored
	return nil
}

// withElements attaches the review's elements; callers hold mu
func (r memReviews) withElements(rv models.Review) *models.Review {
	rv.Elements = []models.Element{}
	for _, el := range r.m.elements {
		if el.ReviewID == rv.ID {
			rv.Elements = append(rv.Elements, el)
		}
	}
	sort.Slice(rv.Elements, func(i, j int) bool { return rv.Elements[i].CreatedAt.Before(rv.Elements[j].CreatedAt) })
	return &rv
}

func (r memReviews) GetByID(_ context.Context, id string) (*models.Review, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	rv, ok := r.m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.withElements(rv), nil
}

func (r memReviews) GetByProjectID(_ context.Context, projectID string) (*models.Review, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var latest *models.Review
	for _, rv := range r.m.reviews {
		if rv.ProjectID != projectID {
			continue
		}
		if latest == nil || rv.CreatedAt.After(latest.CreatedAt) {
			rv := rv
			latest = &rv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return r.withElements(*latest), nil
}

func (r memReviews) GetByShareLink(_ context.Context, link string) (*models.Review, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, rv := range r.m.reviews {
		if rv.ShareLink == link {
			return r.withElements(rv), nil
		}
	}
	return nil, ErrNotFound
}

func (r memReviews) UpdateStatus(_ context.Context, id string, status models.ReviewStatus) (*models.Review, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rv, ok := r.m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	rv.Status = status
	rv.UpdatedAt = r.m.now()
	r.m.reviews[id] = rv
	return r.withElements(rv), nil
}

type memElements struct{ m *MemoryStore }

func (r memElements) Create(_ context.Context, el *models.Element) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_ = el.BeforeCreate(nil)
	r.m.stamp(&el.CreatedAt, &el.UpdatedAt)
	r.m.elements[el.ID] = *el
	return nil
}

func (r memElements) GetByID(_ context.Context, id string) (*models.Element, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	el, ok := r.m.elements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &el, nil
}

func (r memElements) UpdateStatus(ctx context.Context, id string, status models.ElementStatus) (*models.Element, error) {
	return r.UpdateStatusWithComment(ctx, id, status, nil)
}

func (r memElements) UpdateStatusWithComment(_ context.Context, id string, status models.ElementStatus, comment *models.Comment) (*models.Element, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	el, ok := r.m.elements[id]
	if !ok {
		return nil, ErrNotFound
	}
	el.Status = status
	el.UpdatedAt = r.m.now()
	r.m.elements[id] = el
	if comment != nil {
		comment.ElementID = id
		memComments{r.m}.insert(comment)
	}
	return &el, nil
}

type memComments struct{ m *MemoryStore }

// insert stores a comment; callers hold mu
func (r memComments) insert(c *models.Comment) {
	_ = c.BeforeCreate(nil)
	r.m.stamp(&c.CreatedAt, &c.UpdatedAt)
	stored := *c
	stored.Replies = nil
	r.m.comments[c.ID] = stored
}

func (r memComments) Create(_ context.Context, c *models.Comment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.insert(c)
	return nil
}

func (r memComments) GetByID(_ context.Context, id string) (*models.Comment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r memComments) ListByElement(_ context.Context, elementID string) ([]models.Comment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	roots := []models.Comment{}
	replies := make(map[string][]models.Comment)
	for _, c := range r.m.comments {
		if c.ElementID != elementID {
			continue
		}
		if c.IsReply() {
			replies[*c.ParentID] = append(replies[*c.ParentID], c)
			continue
		}
		roots = append(roots, c)
	}
	sortComments(roots)
	for i := range roots {
		thread := replies[roots[i].ID]
		sortComments(thread)
		roots[i].Replies = thread
	}
	return roots, nil
}

func sortComments(list []models.Comment) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}

func (r memComments) Update(_ context.Context, c *models.Comment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.comments[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = r.m.now()
	stored := *c
	stored.Replies = nil
	r.m.comments[c.ID] = stored
	return nil
}

func (r memComments) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.comments[id]; !ok {
		return ErrNotFound
	}
	for cid, c := range r.m.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(r.m.comments, cid)
		}
	}
	delete(r.m.comments, id)
	return nil
}

type memAnnotations struct{ m *MemoryStore }

// withReplies attaches replies in creation order; callers hold mu
func (r memAnnotations) withReplies(a models.Annotation) models.Annotation {
	a.Replies = []models.AnnotationReply{}
	for _, rp := range r.m.replies {
		if rp.AnnotationID == a.ID {
			a.Replies = append(a.Replies, rp)
		}
	}
	sort.Slice(a.Replies, func(i, j int) bool { return a.Replies[i].CreatedAt.Before(a.Replies[j].CreatedAt) })
	return a
}

func (r memAnnotations) Create(_ context.Context, a *models.Annotation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_ = a.BeforeCreate(nil)
	r.m.stamp(&a.CreatedAt, &a.UpdatedAt)
	if a.Replies == nil {
		a.Replies = []models.AnnotationReply{}
	}
	stored := *a
	stored.Replies = nil
	r.m.annotations[a.ID] = stored
	return nil
}

func (r memAnnotations) GetByID(_ context.Context, id string) (*models.Annotation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	a, ok := r.m.annotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	a = r.withReplies(a)
	return &a, nil
}

func (r memAnnotations) ListByProject(_ context.Context, projectID, fileID string) ([]models.Annotation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	list := []models.Annotation{}
	for _, a := range r.m.annotations {
		if a.ProjectID != projectID || (fileID != "" && a.FileID != fileID) {
			continue
		}
		list = append(list, r.withReplies(a))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r memAnnotations) UpdateStatus(_ context.Context, id string, status models.AnnotationStatus, isResolved bool) (*models.Annotation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.annotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Status = status
	a.IsResolved = isResolved
	a.UpdatedAt = r.m.now()
	r.m.annotations[id] = a
	a = r.withReplies(a)
	return &a, nil
}

func (r memAnnotations) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.annotations[id]; !ok {
		return ErrNotFound
	}
	for rid, rp := range r.m.replies {
		if rp.AnnotationID == id {
			delete(r.m.replies, rid)
		}
	}
	delete(r.m.annotations, id)
	return nil
}

func (r memAnnotations) CreateReply(_ context.Context, rp *models.AnnotationReply) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.annotations[rp.AnnotationID]; !ok {
		return ErrNotFound
	}
	_ = rp.BeforeCreate(nil)
	r.m.stamp(&rp.CreatedAt, &rp.UpdatedAt)
	r.m.replies[rp.ID] = *rp
	return nil
}

func (r memAnnotations) GetReply(_ context.Context, id string) (*models.AnnotationReply, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	rp, ok := r.m.replies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rp, nil
}

func (r memAnnotations) UpdateReply(_ context.Context, id, content string) (*models.AnnotationReply, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rp, ok := r.m.replies[id]
	if !ok {
		return nil, ErrNotFound
	}
	rp.Content = content
	rp.IsEdited = true
	rp.UpdatedAt = r.m.now()
	r.m.replies[id] = rp
	return &rp, nil
}

type memActivities struct{ m *MemoryStore }

func (r memActivities) Record(_ context.Context, a *models.Activity) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.m.now()
	}
	r.m.activities = append(r.m.activities, *a)
	return nil
}

func (r memActivities) ListByProject(_ context.Context, projectID string, limit int64) ([]models.Activity, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	list := []models.Activity{}
	for i := len(r.m.activities) - 1; i >= 0; i-- {
		if r.m.activities[i].ProjectID != projectID {
			continue
		}
		list = append(list, r.m.activities[i])
		if limit > 0 && int64(len(list)) == limit {
			break
		}
	}
	return list, nil
}

type memAdmins struct{ m *MemoryStore }

func (r memAdmins) Create(_ context.Context, a *models.Admin) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.Email = normalizeEmail(a.Email)
	for _, existing := range r.m.admins {
		if existing.Email == a.Email {
			return fmt.Errorf("admin %s: %w", a.Email, ErrConflict)
		}
	}
	_ = a.BeforeCreate(nil)
	r.m.stamp(&a.CreatedAt, &a.UpdatedAt)
	r.m.admins[a.ID] = *a
	return nil
}

func (r memAdmins) find(match func(models.Admin) bool) (*models.Admin, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, a := range r.m.admins {
		if match(a) {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (r memAdmins) GetByID(_ context.Context, id string) (*models.Admin, error) {
	return r.find(func(a models.Admin) bool { return a.ID == id })
}

func (r memAdmins) GetByEmail(_ context.Context, email string) (*models.Admin, error) {
	email = normalizeEmail(email)
	return r.find(func(a models.Admin) bool { return a.Email == email })
}

func (r memAdmins) GetByFirebaseUID(_ context.Context, uid string) (*models.Admin, error) {
	return r.find(func(a models.Admin) bool { return a.FirebaseUID != nil && *a.FirebaseUID == uid })
}

func (r memAdmins) Update(_ context.Context, a *models.Admin) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.admins[a.ID]; !ok {
		return ErrNotFound
	}
	a.Email = normalizeEmail(a.Email)
	a.UpdatedAt = r.m.now()
	r.m.admins[a.ID] = *a
	return nil
}

func (r memAdmins) Count(_ context.Context) (int64, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return int64(len(r.m.admins)), nil
}
