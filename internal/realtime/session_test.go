package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHub(t *testing.T, h *Hub, actors map[string]models.Actor) string {
	t.Helper()
	d := NewDispatcher(h, DispatcherOptions{EnforceAdminResolve: true, Logger: zerolog.Nop()})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actors[r.URL.Query().Get("as")]
		if !ok {
			http.Error(w, "unknown actor", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewSession(conn, h, actor, SessionOptions{PingInterval: time.Second}, zerolog.Nop()).Serve(d)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	b, err := Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := Decode(b)
	require.NoError(t, err)
	return env
}

func TestSession_RelaysBetweenConnections(t *testing.T) {
	h := startHub(t)
	url := serveHub(t, h, map[string]models.Actor{"admin": admin, "client": client})

	adminConn := dial(t, url+"?as=admin")
	clientConn := dial(t, url+"?as=client")

	send(t, adminConn, models.EventJoinProject, models.ProjectRef{ProjectID: "p1"})
	send(t, clientConn, models.EventJoinProject, models.ProjectRef{ProjectID: "p1"})
	require.Eventually(t, func() bool { return len(h.Members("project-p1")) == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, clientConn, models.EventAddAnnotation, map[string]any{
		"id": "a1", "content": "fix logo color", "fileId": "f1", "projectId": "p1",
		"coordinates": map[string]float64{"x": 42.5, "y": 10.1},
	})

	env := read(t, adminConn)
	require.Equal(t, models.EventAnnotationAdded, env.Event)
	var msg models.AnnotationMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "a1", msg.ID)
	assert.Equal(t, 10.1, msg.Coordinates.Y)
}

func TestSession_MalformedFrameGetsError(t *testing.T) {
	h := startHub(t)
	url := serveHub(t, h, map[string]models.Actor{"admin": admin})
	conn := dial(t, url+"?as=admin")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	assert.Equal(t, models.EventError, read(t, conn).Event)
}

func TestSession_DisconnectLeavesRooms(t *testing.T) {
	h := startHub(t)
	url := serveHub(t, h, map[string]models.Actor{"admin": admin})
	conn := dial(t, url+"?as=admin")

	send(t, conn, models.EventJoinProject, models.ProjectRef{ProjectID: "p1"})
	require.Eventually(t, func() bool { return len(h.Members("project-p1")) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return len(h.Rooms()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
