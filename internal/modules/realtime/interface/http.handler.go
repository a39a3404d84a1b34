package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"eventsWs/internal/modules/realtime/application/port"
	"eventsWs/internal/modules/realtime/infrastructure"
	"eventsWs/internal/shared/logging"
)

// Browsers connect from the web client origin; the token carried by auth is the only gate.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebsocketDeps is everything a connection needs to become a session.
type WebsocketDeps struct {
	Registry *infrastructure.Registry
	Bridge   port.EventBridge
	Verifier port.TokenVerifier
	Commands *infrastructure.CommandTable
	Session  infrastructure.SessionConfig
}

// NewWebsocketHandler upgrades the request and serves the relay protocol until the
// client goes away. The receive loop runs on the request goroutine.
func NewWebsocketHandler(deps WebsocketDeps) echo.HandlerFunc {
	return func(c echo.Context) error {
		peerIP := c.RealIP()

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			slog.Error("ws handler upgrade failed", slog.String("ip", peerIP), logging.Err(err))
			return err
		}

		session := infrastructure.NewSession(conn, deps.Bridge, deps.Verifier, deps.Commands, deps.Session)
		deps.Registry.Attach(session)
		slog.Info("ws handler upgrade success", slog.String("clientId", session.ID()), slog.String("ip", peerIP), slog.String("path", c.Path()))

		go session.WritePump()
		session.ReadPump(c.Request().Context())
		return nil
	}
}
