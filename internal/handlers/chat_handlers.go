package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tradepost/internal/middleware"
	"tradepost/internal/models"

	"github.com/google/uuid"
)

// StartChatRequest opens (or reopens) the chat for a listing with a peer
type StartChatRequest struct {
	ListingID string `json:"listingId"`
	PeerID    string `json:"peerId"`
}

// SendMessageRequest carries a message posted over HTTP rather than the
// websocket. TempID is echoed back so the client can reconcile optimistic UI.
type SendMessageRequest struct {
	ChatID  string                `json:"chatId"`
	TempID  string                `json:"tempId,omitempty"`
	Content models.MessageContent `json:"content"`
}

// MarkReadRequest marks every unread message in a chat as read
type MarkReadRequest struct {
	ChatID string `json:"chatId"`
}

// ChatStatusRequest archives, blocks or reactivates a chat
type ChatStatusRequest struct {
	ChatID string `json:"chatId"`
	Status string `json:"status"`
}

// HandleStartChat handles POST /chat/start. Starting the same listing/pair
// chat twice returns the existing session.
func (s *Server) HandleStartChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req StartChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		listingID, err := uuid.Parse(req.ListingID)
		if err != nil {
			http.Error(w, "Invalid listing ID", http.StatusBadRequest)
			return
		}

		peerID, err := uuid.Parse(req.PeerID)
		if err != nil {
			http.Error(w, "Invalid peer ID", http.StatusBadRequest)
			return
		}

		if peerID == userID {
			http.Error(w, "Cannot start a chat with yourself", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()

		chat, created, err := s.Directory.GetOrCreateChat(ctx, listingID, userID, peerID)
		if err != nil {
			respondError(w, err)
			return
		}

		if created {
			// Headers must be in place before the status line goes out
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
		}
		respondJSON(w, map[string]interface{}{
			"chat":    chat,
			"created": created,
		})
	}
}

// HandleListChats handles GET /chat/list, newest activity first
func (s *Server) HandleListChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit, offset := parsePaging(r, 20)

		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()

		chats, total, err := s.Directory.ListChatsForUser(ctx, userID, limit, offset)
		if err != nil {
			respondError(w, err)
			return
		}

		respondJSON(w, map[string]interface{}{
			"chats": chats,
			"total": total,
		})
	}
}

// HandleGetMessages handles GET /chat/messages?chatId=, oldest first
func (s *Server) HandleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		chatID, err := uuid.Parse(r.URL.Query().Get("chatId"))
		if err != nil {
			http.Error(w, "Invalid chat ID", http.StatusBadRequest)
			return
		}

		limit, offset := parsePaging(r, 50)

		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()

		chat, err := s.Directory.GetChat(ctx, chatID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !chat.HasParticipant(userID) {
			http.Error(w, "Not a participant of this chat", http.StatusForbidden)
			return
		}

		messages, total, err := s.Store.ListMessages(ctx, chatID, limit, offset)
		if err != nil {
			respondError(w, err)
			return
		}

		respondJSON(w, map[string]interface{}{
			"messages": messages,
			"total":    total,
		})
	}
}

// HandleSendMessage handles POST /chat/send. The message goes through the
// same serialized per-chat path as websocket sends, then fans out to any
// connected recipients.
func (s *Server) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		chatID, err := uuid.Parse(req.ChatID)
		if err != nil {
			http.Error(w, "Invalid chat ID", http.StatusBadRequest)
			return
		}

		startTime := time.Now()
		message, err := s.Engine.SendMessage(chatID, userID, req.Content)
		if err != nil {
			s.Metrics.IncrementErrors()
			respondError(w, err)
			return
		}
		s.Metrics.AddOperationLatency("http_send_message", time.Since(startTime))

		s.Router.FanOutMessage(message, req.TempID)

		respondJSON(w, message)
	}
}

// HandleMarkRead handles POST /chat/read
func (s *Server) HandleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req MarkReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		chatID, err := uuid.Parse(req.ChatID)
		if err != nil {
			http.Error(w, "Invalid chat ID", http.StatusBadRequest)
			return
		}

		result, err := s.Engine.MarkRead(chatID, userID)
		if err != nil {
			respondError(w, err)
			return
		}

		// FanOutReadReceipt stays silent when nothing was marked
		s.Router.FanOutReadReceipt(result)

		respondJSON(w, result)
	}
}

// HandleChatStatus handles POST /chat/status
func (s *Server) HandleChatStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req ChatStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		chatID, err := uuid.Parse(req.ChatID)
		if err != nil {
			http.Error(w, "Invalid chat ID", http.StatusBadRequest)
			return
		}

		status := models.ChatStatus(req.Status)
		if !models.ValidChatStatus(status) {
			http.Error(w, "Invalid chat status", http.StatusBadRequest)
			return
		}

		chat, err := s.Engine.SetChatStatus(chatID, userID, status)
		if err != nil {
			respondError(w, err)
			return
		}

		respondJSON(w, chat)
	}
}

// parsePaging reads limit/offset query parameters with a default page size
func parsePaging(r *http.Request, defaultLimit int64) (int64, int64) {
	limit := defaultLimit
	offset := int64(0)

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
