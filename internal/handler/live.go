package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/cinedb/cinedb/internal/feed"
	"github.com/cinedb/cinedb/internal/middleware"
)

// LiveHandler upgrades GET /v1/live to a websocket attached to the hub.
// Browsers cannot set headers on a websocket handshake, so the device id
// may also come as ?device_id=.
type LiveHandler struct {
	Hub            *feed.Hub
	AllowedOrigins []string
	Log            logrus.FieldLogger
}

func (h *LiveHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
}

// checkOrigin accepts requests without Origin (non-browser clients) and
// browser requests from an allowed origin.
func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.Log.WithField("origin", origin).Warn("websocket rejected from unknown origin")
	return false
}

func (h *LiveHandler) Serve(c echo.Context) error {
	if h.Hub == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "live feed unavailable"})
	}
	deviceID := c.QueryParam("device_id")
	if deviceID == "" || len(deviceID) > 64 {
		deviceID = middleware.DeviceID(c)
	}
	up := h.upgrader()
	conn, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Log.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	feed.NewClient(h.Hub, conn, deviceID).Start()
	return nil
}
