package transport

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

type sessionCounter interface {
	Count() int
}

type brokerSessionCounter interface {
	Sessions() int
}

type HealthResponse struct {
	Status         string `json:"status"`
	Sessions       int    `json:"sessions"`
	BrokerSessions int    `json:"brokerSessions"`
}

// NewHealthHandler reports live websocket sessions and the sessions holding broker resources.
func NewHealthHandler(sessions sessionCounter, broker brokerSessionCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := json.Marshal(HealthResponse{
			Status:         "ok",
			Sessions:       sessions.Count(),
			BrokerSessions: broker.Sessions(),
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "health encode failed")
		}
		return c.JSONBlob(http.StatusOK, body)
	}
}
