package handlers

import (
	"log"
	"net/http"

	"tradepost/internal/middleware"
	"tradepost/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket handles WebSocket connection requests. Browsers cannot
// set headers on the upgrade request, so the JWT arrives as a query
// parameter instead of an Authorization header.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			log.Println("WebSocket connection failed: Missing token")
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			log.Printf("WebSocket connection failed: Invalid token: %v", err)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		userID := claims.UserID
		if userID == uuid.Nil {
			log.Println("WebSocket connection failed: Nil userID in token claims")
			http.Error(w, "Invalid user ID in token", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for User %s: %v", userID, err)
			// Cannot write an HTTP error after the upgrade attempt
			return
		}

		client := websocket.NewClient(s.Hub, s.Router, userID, conn)
		s.Hub.Register(client)

		log.Printf("WebSocket client registered for User %s", userID)

		go client.WritePump()
		go client.ReadPump()
	}
}
