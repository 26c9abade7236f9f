// Package realtime is the websocket event bus: a hub that groups sessions into
// rooms and relays named events between them.
package realtime

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
)

var ErrHubClosed = errors.New("hub is not running")

const opsBuffer = 256

// Hub owns room membership. Every join, leave and broadcast is executed by a
// single relay goroutine, so frames reach the members of one room in the order
// they were published.
type Hub struct {
	ops  chan func()
	done chan struct{}
	stop context.CancelFunc

	// owned by the relay goroutine
	rooms    map[string]map[*Session]struct{}
	sessions map[*Session]map[string]struct{}

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		ops:      make(chan func(), opsBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
		log:      log.With().Str("component", "hub").Logger(),
	}
}

// Init starts the relay loop in the background. Stop it with Shutdown.
func (h *Hub) Init() {
	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	go h.Run(ctx)
}

// Run executes the relay loop until ctx is done. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.log.Info().Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info().Msg("relay loop stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

// Shutdown stops the relay loop and disconnects every session
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.stop != nil {
		h.stop()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) do(op func()) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// query runs op on the relay goroutine and waits for it
func (h *Hub) query(op func()) error {
	finished := make(chan struct{})
	if err := h.do(func() { op(); close(finished) }); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubClosed
		}
	}
}

// Register makes a session eligible for rooms and direct sends
func (h *Hub) Register(s *Session) error {
	return h.do(func() {
		if _, ok := h.sessions[s]; !ok {
			h.sessions[s] = make(map[string]struct{})
		}
	})
}

// Unregister removes the session from every room and closes its send queue.
// Calling it again is a no-op.
func (h *Hub) Unregister(s *Session) {
	_ = h.do(func() { h.remove(s) })
}

// Join adds the session to room, creating the room on first use
func (h *Hub) Join(s *Session, room string) error {
	return h.do(func() {
		joined, ok := h.sessions[s]
		if !ok {
			return
		}
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Session]struct{})
			h.rooms[room] = members
		}
		members[s] = struct{}{}
		joined[room] = struct{}{}
	})
}

// Leave removes the session from room. Leaving a room one is not in does nothing.
func (h *Hub) Leave(s *Session, room string) error {
	return h.do(func() { h.leave(s, room) })
}

// Broadcast delivers event to every member of room except exclude, which may be nil
func (h *Hub) Broadcast(room, event string, payload any, exclude *Session) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	return h.do(func() {
		for s := range h.rooms[room] {
			if s == exclude {
				continue
			}
			h.deliver(s, frame)
		}
	})
}

// Publish implements Bus
func (h *Hub) Publish(room, event string, payload any) error {
	return h.Broadcast(room, event, payload, nil)
}

// PublishExcept implements Bus
func (h *Hub) PublishExcept(room, event string, payload any, exclude *Session) error {
	return h.Broadcast(room, event, payload, exclude)
}

// SendTo delivers event to one session only
func (h *Hub) SendTo(s *Session, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	return h.do(func() {
		if _, ok := h.sessions[s]; ok {
			h.deliver(s, frame)
		}
	})
}

// Rooms returns the names of all non-empty rooms, sorted
func (h *Hub) Rooms() []string {
	var rooms []string
	_ = h.query(func() {
		rooms = make([]string, 0, len(h.rooms))
		for room := range h.rooms {
			rooms = append(rooms, room)
		}
	})
	sort.Strings(rooms)
	return rooms
}

// Members returns the sessions currently in room
func (h *Hub) Members(room string) []*Session {
	var members []*Session
	_ = h.query(func() {
		for s := range h.rooms[room] {
			members = append(members, s)
		}
	})
	return members
}

// Stats reports the number of sessions and rooms
func (h *Hub) Stats() (sessions, rooms int) {
	_ = h.query(func() {
		sessions, rooms = len(h.sessions), len(h.rooms)
	})
	return
}

func (h *Hub) deliver(s *Session, frame []byte) {
	select {
	case s.send <- frame:
	default:
		h.log.Warn().Str("session", s.ID).Msg("send queue full, dropping slow session")
		h.remove(s)
	}
}

func (h *Hub) leave(s *Session, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.sessions[s]; ok {
		delete(joined, room)
	}
}

func (h *Hub) remove(s *Session) {
	joined, ok := h.sessions[s]
	if !ok {
		return
	}
	for room := range joined {
		h.leave(s, room)
	}
	delete(h.sessions, s)
	close(s.send)
}

func (h *Hub) closeAll() {
	for s := range h.sessions {
		h.remove(s)
	}
}
