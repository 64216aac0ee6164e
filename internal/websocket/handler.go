package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/stayvia/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a hub
// client of the calling user. An empty origins list accepts any origin.
func HandleWebSocket(hub *Hub, origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns:     origins,
			InsecureSkipVerify: len(origins) == 0,
		})
		if err != nil {
			hub.logger.Warn("accept websocket", "user", userID, "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, userID).Run(r.Context())
	}
}
