package handlers

import (
	"net/http"
	"time"
)

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		respondJSON(w, map[string]interface{}{
			"status":          "healthy",
			"active_chats":    s.Engine.ChatCount(),
			"connected_users": s.Hub.UserCount(),
			"server_time":     time.Now(),
		})
	}
}

// HandleMetrics exposes the in-process request and latency counters
func (s *Server) HandleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		respondJSON(w, s.Metrics.Snapshot())
	}
}
