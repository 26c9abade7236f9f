package handlers

import (
	"net/http"
	"net/url"

	"github.com/anonto42/proofing/backend/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SocketHandler upgrades authenticated requests to hub sessions
type SocketHandler struct {
	hub        *realtime.Hub
	dispatcher realtime.Handler
	upgrader   websocket.Upgrader
	opts       realtime.SessionOptions
	log        zerolog.Logger
}

func NewSocketHandler(hub *realtime.Hub, dispatcher realtime.Handler, allowedOrigins []string, opts realtime.SessionOptions, log zerolog.Logger) *SocketHandler {
	return &SocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts: opts,
		log:  log,
	}
}

// originChecker allows requests without an Origin header (non-browser clients)
// and browsers whose origin is listed. "*" allows every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := set["*"]; ok {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err != nil || u.Host == "" {
			return false
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve blocks for the lifetime of the websocket
func (h *SocketHandler) Serve(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	realtime.NewSession(conn, h.hub, actor, h.opts, h.log).Serve(h.dispatcher)
	return nil
}
