package websocket

import (
	"log"
	"net/http"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/observe"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Console and driver apps are served from other origins
		return true
	},
}

// HandleWebSocket upgrades an authenticated connection and attaches it to a stream:
// dispatchers get the whole shift, drivers get their own status.
// Query: ?token=<jwt>&shift_id=<shift>
func HandleWebSocket(hub *Hub, broker *observe.Broker, ingestor LocationIngestor, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userClaims middleware.UserClaims

		// Try to get token from query parameter first (for WebSocket connections)
		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			claims, err := middleware.ParseToken(jwtSecret, tokenString)
			if err != nil {
				log.Printf("❌ Invalid token in query parameter: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userClaims = claims
		} else {
			// Fallback: Get user from context (set by Auth middleware)
			var ok bool
			userClaims, ok = middleware.GetUserFromContext(r)
			if !ok {
				log.Println("❌ No user in context for WebSocket connection")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		shiftID := r.URL.Query().Get("shift_id")
		if shiftID == "" {
			http.Error(w, "shift_id is required", http.StatusBadRequest)
			return
		}

		var (
			sub *observe.Subscription
			err error
		)
		switch userClaims.Role {
		case middleware.RoleDispatcher:
			sub, err = broker.Subscribe(r.Context(), shiftID)
		case middleware.RoleDriver:
			sub, err = broker.SubscribeDriver(r.Context(), shiftID, userClaims.UserID)
		default:
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				http.Error(w, "Shift not found", http.StatusNotFound)
				return
			}
			log.Printf("❌ Failed to open stream for %s on shift %s: %v", userClaims.UserID, shiftID, err)
			http.Error(w, "Failed to load shift", http.StatusInternalServerError)
			return
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			broker.Unsubscribe(sub)
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, shiftID, conn, hub, broker, sub, ingestor)
		if !hub.Register(client) {
			broker.Unsubscribe(sub)
			conn.Close()
			return
		}

		// Start pumps in separate goroutines
		go client.WritePump()
		go client.ReadPump()
	}
}
