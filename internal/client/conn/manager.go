package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anonto42/proofing/backend/internal/models"
	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Local events fired by the manager itself. They never travel over the wire.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnect       = "reconnect"
	EventConnectError    = "connect_error"
	EventReconnectFailed = "reconnect_failed"
)

const (
	headerShareLink = "X-Share-Link"
	headerActorName = "X-Actor-Name"
)

var ErrUnknownRoom = errors.New("unknown room key")

// Handler receives one event. Handlers run on the manager's read goroutine,
// one at a time and in arrival order.
type Handler func(env realtime.Envelope)

// ConnectionEvent is the payload of the local connection events
type ConnectionEvent struct {
	Attempt int    `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
}

type Options struct {
	// Token is sent as a bearer token; ShareLink and Name identify a client instead
	Token     string
	ShareLink string
	Name      string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// Retryer replaces the fixed delay policy built from the two fields above
	Retryer Retryer

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the silence between server frames or pings
	ReadTimeout     time.Duration
	MaxMessageBytes int64

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = time.Minute
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	return o
}

type subscription struct {
	id uint64
	fn Handler
}

// Manager owns one websocket to the hub. It remembers the rooms it joined and
// joins them again after every reconnection, since the server starts each
// connection with no membership.
type Manager struct {
	url     string
	opts    Options
	retryer Retryer
	dialer  *websocket.Dialer
	log     zerolog.Logger

	stateMu sync.Mutex
	state   State
	conn    *websocket.Conn

	writeMu sync.Mutex

	roomsMu sync.Mutex
	rooms   map[string]struct{}

	subsMu  sync.RWMutex
	subs    map[string][]subscription
	nextSub uint64

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a manager for the websocket endpoint at url (ws:// or wss://)
func New(url string, opts Options) *Manager {
	opts = opts.withDefaults()
	retryer := opts.Retryer
	if retryer == nil {
		retryer = FixedDelay(opts.ReconnectDelay, opts.MaxReconnectAttempts)
	}
	return &Manager{
		url:     url,
		opts:    opts,
		retryer: retryer,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log:     opts.Logger.With().Str("component", "conn").Logger(),
		state:   StateDisconnected,
		rooms:   make(map[string]struct{}),
		subs:    make(map[string][]subscription),
		closeCh: make(chan struct{}),
	}
}

func (m *Manager) transitionTo(next State) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if err := m.state.validateTransitionTo(next); err != nil {
		return err
	}
	m.state = next
	m.log.Debug().Stringer("state", next).Msg("state transitioned")
	return nil
}

func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// IsConnected is advisory: the channel may drop right after it returns true
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect opens the channel and joins the project room. A failed first dial is
// returned to the caller and not retried; drops after that are.
func (m *Manager) Connect(ctx context.Context, projectID string) error {
	if m.IsConnected() {
		if projectID == "" {
			return nil
		}
		return m.JoinRoom(models.ProjectRoom(projectID))
	}
	if projectID != "" {
		m.remember(models.ProjectRoom(projectID))
	}

	if err := m.transitionTo(StateConnecting); err != nil {
		return err
	}
	conn, err := m.dial(ctx)
	if err != nil {
		if stateErr := m.transitionTo(StateDisconnected); stateErr != nil {
			m.log.Error().Err(stateErr).Msg("failed to transition to disconnected state")
		}
		m.fire(EventConnectError, ConnectionEvent{Message: err.Error()})
		return fmt.Errorf("connect: %w", err)
	}
	if err := m.established(conn); err != nil {
		return err
	}

	m.log.Info().Str("project_id", projectID).Msg("connected")
	m.fire(EventConnect, ConnectionEvent{})
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	if m.opts.ShareLink != "" {
		header.Set(headerShareLink, m.opts.ShareLink)
	}
	if m.opts.Name != "" {
		header.Set(headerActorName, m.opts.Name)
	}

	conn, res, err := m.dialer.DialContext(ctx, m.url, header)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("%w: %s", err, res.Status)
		}
		return nil, err
	}
	conn.SetReadLimit(m.opts.MaxMessageBytes)
	return conn, nil
}

// established publishes conn as the live connection, starts its read loop and
// joins every remembered room
func (m *Manager) established(conn *websocket.Conn) error {
	m.stateMu.Lock()
	if err := m.state.validateTransitionTo(StateConnected); err != nil {
		m.stateMu.Unlock()
		conn.Close()
		return err
	}
	m.state = StateConnected
	m.conn = conn
	m.stateMu.Unlock()

	m.wg.Add(1)
	go m.run(conn)

	for _, room := range m.Rooms() {
		event, payload, err := membership(room, true)
		if err != nil {
			continue
		}
		if !m.Emit(event, payload) {
			m.log.Warn().Str("room", room).Msg("failed to rejoin room")
		}
	}
	return nil
}

func (m *Manager) run(conn *websocket.Conn) {
	defer m.wg.Done()

	err := m.readLoop(conn)
	if !m.drop(conn) {
		return
	}
	m.log.Warn().Err(err).Msg("connection lost")
	m.fire(EventDisconnect, ConnectionEvent{Message: err.Error()})
	m.reconnect(err)
}

// drop marks conn as lost. It reports false when the manager is closing or
// conn was already replaced.
func (m *Manager) drop(conn *websocket.Conn) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.conn != conn || m.state != StateConnected {
		return false
	}
	m.state = StateDisconnected
	m.conn = nil
	conn.Close()
	return true
}

func (m *Manager) reconnect(lastErr error) {
	for attempt := 0; ; attempt++ {
		delay, ok := m.retryer.NextDelay(attempt, lastErr)
		if !ok {
			m.log.Error().Int("attempt", attempt).Msg("giving up reconnecting")
			m.fire(EventReconnectFailed, ConnectionEvent{Attempt: attempt, Message: lastErr.Error()})
			return
		}

		select {
		case <-m.closeCh:
			return
		case <-time.After(delay):
		}

		if err := m.transitionTo(StateConnecting); err != nil {
			return
		}
		conn, err := m.dial(context.Background())
		if err != nil {
			lastErr = err
			if stateErr := m.transitionTo(StateDisconnected); stateErr != nil {
				return
			}
			m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect failed")
			m.fire(EventConnectError, ConnectionEvent{Attempt: attempt + 1, Message: err.Error()})
			continue
		}
		if err := m.established(conn); err != nil {
			return
		}

		m.retryer.Reset()
		m.log.Info().Int("attempt", attempt+1).Msg("reconnected")
		m.fire(EventReconnect, ConnectionEvent{Attempt: attempt + 1})
		return
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.opts.WriteTimeout))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))

		env, err := realtime.Decode(frame)
		if err != nil {
			m.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		m.dispatch(env)
	}
}

// Emit sends one event. It returns false without blocking when the channel is
// down; the caller then relies on its store write alone.
func (m *Manager) Emit(event string, payload any) bool {
	m.stateMu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.stateMu.Unlock()
	if !connected || conn == nil {
		return false
	}

	frame, err := realtime.Encode(event, payload)
	if err != nil {
		m.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		m.log.Debug().Err(err).Str("event", event).Msg("failed to write event")
		return false
	}
	return true
}

// JoinRoom adds room to the membership set. While disconnected the join is
// sent on the next successful connection.
func (m *Manager) JoinRoom(room string) error {
	event, payload, err := membership(room, true)
	if err != nil {
		return err
	}
	if m.remember(room) {
		m.Emit(event, payload)
	}
	return nil
}

// LeaveRoom removes room from the membership set; leaving a room that was
// never joined does nothing
func (m *Manager) LeaveRoom(room string) error {
	event, payload, err := membership(room, false)
	if err != nil {
		return err
	}
	if m.forget(room) {
		m.Emit(event, payload)
	}
	return nil
}

// Rooms lists the remembered rooms
func (m *Manager) Rooms() []string {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (m *Manager) remember(room string) bool {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	if _, ok := m.rooms[room]; ok {
		return false
	}
	m.rooms[room] = struct{}{}
	return true
}

func (m *Manager) forget(room string) bool {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	if _, ok := m.rooms[room]; !ok {
		return false
	}
	delete(m.rooms, room)
	return true
}

// membership maps a room key to the join or leave event the hub understands
func membership(room string, join bool) (string, any, error) {
	if id, ok := strings.CutPrefix(room, models.ProjectRoomPrefix); ok && id != "" {
		if join {
			return models.EventJoinProject, models.ProjectRef{ProjectID: id}, nil
		}
		return models.EventLeaveProject, models.ProjectRef{ProjectID: id}, nil
	}
	if id, ok := strings.CutPrefix(room, models.ElementRoomPrefix); ok && id != "" {
		if join {
			return models.EventJoinElement, models.ElementRef{ElementID: id}, nil
		}
		return models.EventLeaveElement, models.ElementRef{ElementID: id}, nil
	}
	return "", nil, fmt.Errorf("%w %q", ErrUnknownRoom, room)
}

// Subscribe registers h for event. Several handlers may share an event; the
// returned func removes only this one.
func (m *Manager) Subscribe(event string, h Handler) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs[event] = append(m.subs[event], subscription{id: id, fn: h})
	return func() { m.unsubscribe(event, id) }
}

// Unsubscribe removes every handler of event
func (m *Manager) Unsubscribe(event string) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	delete(m.subs, event)
}

func (m *Manager) unsubscribe(event string, id uint64) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	list := m.subs[event]
	for i, s := range list {
		if s.id == id {
			m.subs[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[event]) == 0 {
		delete(m.subs, event)
	}
}

func (m *Manager) dispatch(env realtime.Envelope) {
	m.subsMu.RLock()
	handlers := append([]subscription(nil), m.subs[env.Event]...)
	m.subsMu.RUnlock()

	for _, s := range handlers {
		s.fn(env)
	}
}

func (m *Manager) fire(event string, payload ConnectionEvent) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.dispatch(realtime.Envelope{Event: event, Data: data})
}

// Close stops reconnecting and closes the channel. The manager cannot be reused.
func (m *Manager) Close() error {
	m.stateMu.Lock()
	if err := m.state.validateTransitionTo(StateClosing); err != nil {
		m.stateMu.Unlock()
		return err
	}
	m.state = StateClosing
	conn := m.conn
	m.conn = nil
	m.stateMu.Unlock()

	close(m.closeCh)
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.opts.WriteTimeout)); err != nil {
			m.log.Debug().Err(err).Msg("failed to write close message")
		}
		conn.Close()
	}
	m.wg.Wait()

	if err := m.transitionTo(StateClosed); err != nil {
		m.log.Error().Err(err).Msg("failed to transition to closed state")
	}
	m.log.Info().Msg("closed")
	return nil
}
