package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/anonto42/proofing/backend/internal/testenv"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 3 * time.Second

func collect(m *Manager, event string) chan realtime.Envelope {
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
	case <-time.After(100 * time.Millisecond):
	}
}

func connect(t *testing.T, srv *testenv.Server, actor models.Actor, opts Options) *Manager {
	t.Helper()
	opts.Token = srv.Token(t, actor)
	m := New(srv.WSURL(), opts)
	require.NoError(t, m.Connect(context.Background(), srv.Project.ID))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func clientOf(srv *testenv.Server) models.Actor {
	return models.Actor{ID: "client-1", Name: "Client", Role: models.RoleClient, ProjectID: srv.Project.ID}
}

func TestManager_ConnectJoinsProjectRoom(t *testing.T) {
	srv := testenv.Start(t)
	m := connect(t, srv, testenv.Admin, Options{})

	assert.True(t, m.IsConnected())
	assert.Equal(t, []string{models.ProjectRoom(srv.Project.ID)}, m.Rooms())
	require.Eventually(t, func() bool {
		return srv.Members(models.ProjectRoom(srv.Project.ID)) == 1
	}, eventually, 10*time.Millisecond)

	// connecting again only joins the room
	require.NoError(t, m.Connect(context.Background(), srv.Project.ID))
	assert.Len(t, m.Rooms(), 1)
}

func TestManager_ConnectFailureIsReported(t *testing.T) {
	m := New("ws://127.0.0.1:1/ws", Options{HandshakeTimeout: time.Second})
	errs := collect(m, EventConnectError)

	err := m.Connect(context.Background(), "p1")
	require.Error(t, err)
	assert.False(t, m.IsConnected())
	assert.Equal(t, StateDisconnected, m.State())

	var ev ConnectionEvent
	require.NoError(t, waitFor(t, errs).Bind(&ev))
	assert.NotEmpty(t, ev.Message)
}

func TestManager_EmitWhileDisconnected(t *testing.T) {
	m := New("ws://127.0.0.1:1/ws", Options{})
	assert.False(t, m.Emit(models.EventTyping, models.TypingMessage{ProjectID: "p1"}))

	// rooms are remembered for the next connection
	require.NoError(t, m.JoinRoom(models.ElementRoom("e1")))
	assert.Equal(t, []string{models.ElementRoom("e1")}, m.Rooms())
}

func TestManager_RelaysToPeersButNotSender(t *testing.T) {
	srv := testenv.Start(t)
	room := models.ProjectRoom(srv.Project.ID)

	admin := connect(t, srv, testenv.Admin, Options{})
	client := connect(t, srv, clientOf(srv), Options{})
	require.Eventually(t, func() bool { return srv.Members(room) == 2 }, eventually, 10*time.Millisecond)

	atAdmin := collect(admin, models.EventAnnotationAdded)
	atClient := collect(client, models.EventAnnotationAdded)

	ok := client.Emit(models.EventAddAnnotation, models.Annotation{
		ID:          "a1",
		Content:     "fix logo color",
		FileID:      srv.Element.ID,
		ProjectID:   srv.Project.ID,
		Coordinates: &models.Coordinates{X: 42.5, Y: 10.1},
	})
	require.True(t, ok)

	var got models.AnnotationMessage
	require.NoError(t, waitFor(t, atAdmin).Bind(&got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, models.AnnotationPending, got.Status)
	assert.False(t, got.Resolved)
	assert.Equal(t, "client-1", got.AddedBy)

	assertNone(t, atClient)
}

func TestManager_RoomMembershipIsIdempotent(t *testing.T) {
	srv := testenv.Start(t)
	m := connect(t, srv, testenv.Admin, Options{})
	room := models.ElementRoom(srv.Element.ID)

	require.NoError(t, m.JoinRoom(room))
	require.NoError(t, m.JoinRoom(room))
	assert.Len(t, m.Rooms(), 2)
	require.Eventually(t, func() bool { return srv.Members(room) == 1 }, eventually, 10*time.Millisecond)

	require.NoError(t, m.LeaveRoom(room))
	require.NoError(t, m.LeaveRoom(room))
	require.NoError(t, m.LeaveRoom(models.ElementRoom("never-joined")))
	require.Eventually(t, func() bool { return srv.Members(room) == 0 }, eventually, 10*time.Millisecond)

	err := m.JoinRoom("lobby")
	assert.True(t, errors.Is(err, ErrUnknownRoom))
}

func TestManager_RejoinsRoomsAfterReconnect(t *testing.T) {
	srv := testenv.Start(t)
	projectRoom := models.ProjectRoom(srv.Project.ID)
	elementRoom := models.ElementRoom(srv.Element.ID)

	m := connect(t, srv, testenv.Admin, Options{ReconnectDelay: 20 * time.Millisecond})
	drops := collect(m, EventDisconnect)
	reconnects := collect(m, EventReconnect)
	comments := collect(m, models.EventNewComment)

	require.NoError(t, m.JoinRoom(elementRoom))
	require.Eventually(t, func() bool { return srv.Members(elementRoom) == 1 }, eventually, 10*time.Millisecond)

	srv.Kick(projectRoom, "")
	waitFor(t, drops)

	var ev ConnectionEvent
	require.NoError(t, waitFor(t, reconnects).Bind(&ev))
	assert.Equal(t, 1, ev.Attempt)
	assert.True(t, m.IsConnected())

	require.Eventually(t, func() bool {
		return srv.Members(projectRoom) == 1 && srv.Members(elementRoom) == 1
	}, eventually, 10*time.Millisecond)

	require.NoError(t, srv.Hub.Publish(elementRoom, models.EventNewComment, models.Comment{ID: "c1"}))
	var c models.Comment
	require.NoError(t, waitFor(t, comments).Bind(&c))
	assert.Equal(t, "c1", c.ID)
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	var served atomic.Int32
	kick := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-kick
		c.Close()
	}))
	defer srv.Close()

	m := New("ws"+strings.TrimPrefix(srv.URL, "http"), Options{
		MaxReconnectAttempts: 2,
		ReconnectDelay:       10 * time.Millisecond,
	})
	errs := collect(m, EventConnectError)
	failed := collect(m, EventReconnectFailed)
	require.NoError(t, m.Connect(context.Background(), "p1"))

	close(kick)

	var ev ConnectionEvent
	require.NoError(t, waitFor(t, errs).Bind(&ev))
	assert.Equal(t, 1, ev.Attempt)
	assert.Contains(t, ev.Message, "503")
	require.NoError(t, waitFor(t, errs).Bind(&ev))
	assert.Equal(t, 2, ev.Attempt)

	require.NoError(t, waitFor(t, failed).Bind(&ev))
	assert.Equal(t, 2, ev.Attempt)
	assert.False(t, m.IsConnected())
	assert.False(t, m.Emit(models.EventTyping, nil))

	require.NoError(t, m.Close())
	assert.Equal(t, int32(3), served.Load())
}

func TestManager_Close(t *testing.T) {
	srv := testenv.Start(t)
	m := New(srv.WSURL(), Options{Token: srv.Token(t, testenv.Admin)})
	drops := collect(m, EventDisconnect)
	require.NoError(t, m.Connect(context.Background(), srv.Project.ID))

	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.False(t, m.Emit(models.EventTyping, nil))
	assert.Error(t, m.Close())
	assert.Error(t, m.Connect(context.Background(), srv.Project.ID))

	require.Eventually(t, func() bool {
		return srv.Members(models.ProjectRoom(srv.Project.ID)) == 0
	}, eventually, 10*time.Millisecond)
	assertNone(t, drops)
}

func TestManager_Subscriptions(t *testing.T) {
	m := New("ws://unused", Options{})
	var first, second int
	var cancelFirst func()
	cancelFirst = m.Subscribe("x", func(realtime.Envelope) {
		first++
		cancelFirst()
	})
	m.Subscribe("x", func(realtime.Envelope) { second++ })

	env := realtime.Envelope{Event: "x", Data: json.RawMessage(`{}`)}
	m.dispatch(env)
	m.dispatch(env)
	assert.Equal(t, 1, first, "a handler may unsubscribe itself")
	assert.Equal(t, 2, second)

	m.Unsubscribe("x")
	m.Unsubscribe("never-subscribed")
	cancelFirst()
	m.dispatch(env)
	assert.Equal(t, 2, second)
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateClosing, true},
		{StateClosing, StateClosed, true},
		{StateDisconnected, StateConnected, false},
		{StateConnected, StateConnecting, false},
		{StateClosed, StateConnecting, false},
		{StateClosing, StateDisconnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := tt.from.validateTransitionTo(tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidState)
			}
		})
	}
}

func TestFixedDelay(t *testing.T) {
	r := FixedDelay(time.Second, 5)
	for attempt := 0; attempt < 5; attempt++ {
		d, ok := r.NextDelay(attempt, nil)
		assert.True(t, ok)
		assert.Equal(t, time.Second, d)
	}
	_, ok := r.NextDelay(5, nil)
	assert.False(t, ok)

	// a new outage starts over after Reset
	r.Reset()
	_, ok = r.NextDelay(0, errors.New("refused"))
	assert.True(t, ok)
}
