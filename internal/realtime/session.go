package realtime

import (
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler receives every decoded frame a session reads
type Handler interface {
	Handle(s *Session, env Envelope)
}

type SessionOptions struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Session is one websocket connection to the hub
type Session struct {
	ID    string
	Actor models.Actor

	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	opts SessionOptions
	log  zerolog.Logger

	// rooms this session asked to join; touched only by the read goroutine
	joined map[string]struct{}
}

func NewSession(conn *websocket.Conn, hub *Hub, actor models.Actor, opts SessionOptions, log zerolog.Logger) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		ID:     id,
		Actor:  actor,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, opts.SendBuffer),
		opts:   opts,
		log:    log.With().Str("session", id).Str("actor", actor.ID).Logger(),
		joined: make(map[string]struct{}),
	}
}

// Serve pumps frames between the connection and the hub until either side closes.
// Frames read from the connection are passed to h in arrival order.
func (s *Session) Serve(h Handler) {
	if err := s.hub.Register(s); err != nil {
		s.log.Warn().Err(err).Msg("hub unavailable, closing connection")
		s.conn.Close()
		return
	}
	s.log.Debug().Str("role", string(s.Actor.Role)).Msg("session connected")

	go s.writePump()
	s.readPump(h)
}

// Join adds the session to room
func (s *Session) Join(room string) error {
	s.joined[room] = struct{}{}
	return s.hub.Join(s, room)
}

// Leave removes the session from room
func (s *Session) Leave(room string) error {
	delete(s.joined, room)
	return s.hub.Leave(s, room)
}

// Joined reports whether the session joined room
func (s *Session) Joined(room string) bool {
	_, ok := s.joined[room]
	return ok
}

// Send delivers an event to this session only
func (s *Session) Send(event string, payload any) error {
	return s.hub.SendTo(s, event, payload)
}

func (s *Session) readPump(h Handler) {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
		s.log.Debug().Msg("session disconnected")
	}()

	pongWait := s.opts.PingInterval * 10 / 9
	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := Decode(frame)
		if err != nil {
			_ = s.Send(models.EventError, models.ErrorMessage{Message: "malformed frame: " + err.Error()})
			continue
		}
		h.Handle(s, env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
