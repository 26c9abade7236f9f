package view_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/client/api"
	"github.com/anonto42/proofing/backend/internal/client/conn"
	"github.com/anonto42/proofing/backend/internal/client/view"
	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 3 * time.Second

// session is one actor's process: a channel, a REST client and a project view
type session struct {
	actor models.Actor
	bus   *conn.Manager
	rest  *api.Client
	view  *view.ProjectView
}

func open(t *testing.T, srv *testenv.Server, actor models.Actor, opts conn.Options) *session {
	t.Helper()
	ctx := context.Background()

	var rest *api.Client
	if actor.IsAdmin() {
		opts.Token = srv.Token(t, actor)
		rest = api.New(srv.URL, api.WithToken(opts.Token))
	} else {
		opts.ShareLink = srv.Review.ShareLink
		opts.Name = actor.Name
		rest = api.New(srv.URL, api.WithShareLink(srv.Review.ShareLink, actor.Name))
	}

	bus := conn.New(srv.WSURL(), opts)
	require.NoError(t, bus.Connect(ctx, srv.Project.ID))
	t.Cleanup(func() { _ = bus.Close() })

	v, err := view.NewProjectView(srv.Project.ID, actor, rest, bus, view.Options{})
	require.NoError(t, err)
	require.NoError(t, v.Load(ctx))
	t.Cleanup(func() { _ = v.Close() })

	return &session{actor: actor, bus: bus, rest: rest, view: v}
}

func collect(m *conn.Manager, event string) chan realtime.Envelope {
	ch := make(chan realtime.Envelope, 16)
	m.Subscribe(event, func(env realtime.Envelope) {
		select {
		case ch <- env:
		default:
		}
	})
	return ch
}

func waitFor(t *testing.T, ch chan realtime.Envelope) realtime.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(eventually):
		t.Fatal("event not received")
		return realtime.Envelope{}
	}
}

func assertNone(t *testing.T, ch chan realtime.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected %s: %s", env.Event, env.Data)
	case <-time.After(200 * time.Millisecond):
	}
}

func bothJoined(t *testing.T, srv *testenv.Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Members(models.ProjectRoom(srv.Project.ID)) == 2
	}, eventually, 10*time.Millisecond)
}

// addPin runs the client half of the first scenario and returns the stored pin
func addPin(t *testing.T, srv *testenv.Server, designer, dana *session) models.Annotation {
	t.Helper()
	added := collect(designer.bus, models.EventAnnotationAdded)

	created, err := dana.view.AddAnnotation(context.Background(), srv.Element.ID, "fix logo color", &models.Coordinates{X: 42.5, Y: 10.1})
	require.NoError(t, err)
	waitFor(t, added)

	list := designer.view.Annotations()
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	return list[0]
}

func TestScenario_ClientAnnotationReachesAdmin(t *testing.T) {
	srv := testenv.Start(t)
	designer := open(t, srv, testenv.Admin, conn.Options{})
	dana := open(t, srv, srv.Client("Dana"), conn.Options{})
	bothJoined(t, srv)

	pin := addPin(t, srv, designer, dana)

	stored, err := srv.Store.Annotations().GetByID(context.Background(), pin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnnotationPending, stored.Status)
	assert.False(t, stored.IsResolved)
	assert.Equal(t, srv.Element.ID, stored.FileID)

	require.NotNil(t, pin.Coordinates)
	assert.Equal(t, 42.5, pin.Coordinates.X)
	assert.Equal(t, 10.1, pin.Coordinates.Y)
	assert.Equal(t, "Dana", pin.AddedByName)
	assert.Len(t, dana.view.Annotations(), 1)
}

func TestScenario_AdminResolveReachesBothViews(t *testing.T) {
	srv := testenv.Start(t)
	designer := open(t, srv, testenv.Admin, conn.Options{})
	dana := open(t, srv, srv.Client("Dana"), conn.Options{})
	bothJoined(t, srv)
	pin := addPin(t, srv, designer, dana)

	resolved, err := designer.view.ResolveAnnotation(context.Background(), pin.ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)

	local, _ := designer.view.Annotation(pin.ID)
	assert.Equal(t, models.AnnotationCompleted, local.Status)
	require.Eventually(t, func() bool {
		a, ok := dana.view.Annotation(pin.ID)
		return ok && a.Status == models.AnnotationCompleted && a.IsResolved
	}, eventually, 10*time.Millisecond)

	stored, err := srv.Store.Annotations().GetByID(context.Background(), pin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnnotationCompleted, stored.Status)
	assert.True(t, stored.IsResolved)

	again, err := designer.view.ResolveAnnotation(context.Background(), pin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnnotationCompleted, again.Status)
}

func TestScenario_ApprovalClosesTheGate(t *testing.T) {
	srv := testenv.Start(t)
	designer := open(t, srv, testenv.Admin, conn.Options{})
	dana := open(t, srv, srv.Client("Dana"), conn.Options{})
	bothJoined(t, srv)
	addPin(t, srv, designer, dana)

	updates := collect(dana.bus, models.EventReviewStatusUpdated)
	_, err := designer.view.UpdateReviewStatus(context.Background(), models.ReviewApproved, "ship it")
	require.NoError(t, err)

	var msg models.ReviewStatusMessage
	require.NoError(t, waitFor(t, updates).Bind(&msg))
	assert.Equal(t, models.ReviewApproved, msg.Status)
	assert.True(t, msg.IsFromAdmin)

	require.Eventually(t, dana.view.AnnotationsDisabled, eventually, 10*time.Millisecond)
	require.Eventually(t, designer.view.AnnotationsDisabled, eventually, 10*time.Millisecond)

	for _, s := range []*session{dana, designer} {
		_, err := s.view.AddAnnotation(context.Background(), srv.Element.ID, "one more thing", nil)
		assert.ErrorIs(t, err, view.ErrAnnotationsDisabled)
	}
	list, err := srv.Store.Annotations().ListByProject(context.Background(), srv.Project.ID, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// gate holds reconnection attempts until released
type gate struct {
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) NextDelay(attempt int, _ error) (time.Duration, bool) {
	<-g.release
	return 0, attempt < 3
}

func (g *gate) Reset() {}

func TestScenario_OfflineReplyNeedsReload(t *testing.T) {
	srv := testenv.Start(t)
	designer := open(t, srv, testenv.Admin, conn.Options{})
	g := newGate()
	actor := srv.Client("Dana")
	dana := open(t, srv, actor, conn.Options{Retryer: g})
	// runs before the manager is closed
	t.Cleanup(g.open)
	bothJoined(t, srv)
	pin := addPin(t, srv, designer, dana)

	dropped := collect(dana.bus, conn.EventDisconnect)
	reconnected := collect(dana.bus, conn.EventReconnect)
	replies := collect(designer.bus, models.EventAnnotationReplyAdded)

	srv.Kick(models.ProjectRoom(srv.Project.ID), actor.ID)
	waitFor(t, dropped)
	assert.False(t, dana.view.IsConnected())

	reply, err := dana.view.AddReply(context.Background(), pin.ID, "offline reply")
	require.NoError(t, err)
	assert.False(t, dana.bus.Emit(models.EventTyping, models.TypingMessage{ProjectID: srv.Project.ID, IsTyping: true}))

	stored, err := srv.Store.Annotations().GetByID(context.Background(), pin.ID)
	require.NoError(t, err)
	require.Len(t, stored.Replies, 1)
	assert.Equal(t, reply.ID, stored.Replies[0].ID)
	assertNone(t, replies)

	g.open()
	waitFor(t, reconnected)
	bothJoined(t, srv)

	// rejoining does not replay what was missed
	assertNone(t, replies)
	seen, _ := designer.view.Annotation(pin.ID)
	assert.Empty(t, seen.Replies)

	require.NoError(t, designer.view.Load(context.Background()))
	seen, _ = designer.view.Annotation(pin.ID)
	require.Len(t, seen.Replies, 1)
	assert.Equal(t, "offline reply", seen.Replies[0].Content)
}

func TestScenario_TypingIndicatorExpires(t *testing.T) {
	srv := testenv.Start(t)
	designer := open(t, srv, testenv.Admin, conn.Options{})
	dana := open(t, srv, srv.Client("Dana"), conn.Options{})
	bothJoined(t, srv)

	dana.view.SendTyping(true)
	require.Eventually(t, func() bool {
		typing := designer.view.Typing()
		return len(typing) == 1 && typing[0] == "Dana"
	}, eventually, 10*time.Millisecond)

	// the sender's timer clears it after a second of silence
	require.Eventually(t, func() bool { return len(designer.view.Typing()) == 0 }, eventually, 20*time.Millisecond)
}
