package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HubStats reports live websocket sessions and rooms
type HubStats interface {
	Stats() (sessions, rooms int)
}

func HealthCheck(hub HubStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessions, rooms := hub.Stats()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "proofing-api",
			"sessions": sessions,
			"rooms":    rooms,
		})
	}
}
