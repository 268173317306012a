package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HouseholdResolver returns the household the request's caller belongs to.
type HouseholdResolver func(r *http.Request) (string, error)

// HandleWebSocket upgrades authenticated requests and subscribes them to
// their caller's household.
func HandleWebSocket(hub *Hub, resolve HouseholdResolver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		householdID, err := resolve(r)
		if err != nil || householdID == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // mobile and web clients connect from any origin
		})
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, householdID)
		client.Run(r.Context())
	}
}
