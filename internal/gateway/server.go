package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// HandleWebSocket handles GET /gateway by upgrading to WebSocket.
func (m *Manager) HandleWebSocket(c echo.Context) error {
	m.ServeHTTP(c.Response(), c.Request())
	return nil
}

// ServeHTTP upgrades the request and starts the connection pumps.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway upgrade error", "error", err)
		return
	}

	conn := newConnection(ws, m)

	// Send HELLO with heartbeat interval.
	conn.SendPayload(GatewayPayload{
		Op: OpHello,
		Data: mustMarshal(HelloData{
			HeartbeatInterval: int(m.heartbeatInterval.Milliseconds()),
		}),
	})

	go conn.writePump()
	go conn.readPump()
}
