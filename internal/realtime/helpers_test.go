package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	admin  = models.Actor{ID: "admin-1", Name: "Designer", Role: models.RoleAdmin}
	client = models.Actor{ID: "client-1", Name: "Client", Role: models.RoleClient, ProjectID: "p1"}
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	h.Init()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// newTestSession builds a session without a network connection; frames
// delivered to it stay in its send queue.
func newTestSession(t *testing.T, h *Hub, actor models.Actor, buffer int) *Session {
	t.Helper()
	s := NewSession(nil, h, actor, SessionOptions{SendBuffer: buffer}, zerolog.Nop())
	require.NoError(t, h.Register(s))
	return s
}

func recv(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case frame, ok := <-s.send:
		require.True(t, ok, "send queue closed")
		env, err := Decode(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("session %s received nothing", s.ID)
		return Envelope{}
	}
}

// assertSilent waits for the relay loop to drain and checks nothing was queued for s
func assertSilent(t *testing.T, h *Hub, s *Session) {
	t.Helper()
	h.Rooms()
	select {
	case frame := <-s.send:
		t.Fatalf("session %s unexpectedly received %s", s.ID, frame)
	default:
	}
}

func frame(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	b, err := Encode(event, payload)
	require.NoError(t, err)
	env, err := Decode(b)
	require.NoError(t, err)
	return env
}
