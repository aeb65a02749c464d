package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradepost/internal/database"
	"tradepost/internal/engine"
	"tradepost/internal/engine/actors"
	"tradepost/internal/middleware"
	"tradepost/internal/models"
	"tradepost/internal/utils"
	"tradepost/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *database.MemoryStore) {
	store := database.NewMemoryStore()
	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, store, metrics, 5*time.Second, 2*time.Second)
	hub := websocket.NewHub()
	router := websocket.NewRouter(hub, eng, nil, metrics)
	return NewServer(system, eng, hub, router, store, store, metrics, 5*time.Second), store
}

func doRequest(t *testing.T, handler http.HandlerFunc, method, target string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req = req.WithContext(middleware.SetUserIDInContext(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestChatFlow(t *testing.T) {
	server, _ := newTestServer()
	buyer := uuid.New()
	seller := uuid.New()
	listingID := uuid.New()

	// Step 1: buyer opens a chat about the listing
	w := doRequest(t, server.HandleStartChat(), "POST", "/chat/start", buyer, StartChatRequest{
		ListingID: listingID.String(),
		PeerID:    seller.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var startResp struct {
		Chat    models.ChatSession `json:"chat"`
		Created bool               `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))
	assert.True(t, startResp.Created)
	chatID := startResp.Chat.ID
	t.Logf("Chat created with ID: %s", chatID)

	// Step 2: the seller starting the same chat gets the existing session
	w = doRequest(t, server.HandleStartChat(), "POST", "/chat/start", seller, StartChatRequest{
		ListingID: listingID.String(),
		PeerID:    buyer.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))
	assert.False(t, startResp.Created)
	assert.Equal(t, chatID, startResp.Chat.ID)

	// Step 3: buyer sends two messages
	for _, text := range []string{"is this available?", "I can pick it up today"} {
		w = doRequest(t, server.HandleSendMessage(), "POST", "/chat/send", buyer, SendMessageRequest{
			ChatID:  chatID.String(),
			Content: models.MessageContent{Type: models.ContentTypeText, Text: text},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	// Step 4: the seller's chat list shows the unread count
	w = doRequest(t, server.HandleListChats(), "GET", "/chat/list", seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Chats []models.ChatSession `json:"chats"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Equal(t, int64(1), listResp.Total)
	assert.Equal(t, int64(2), listResp.Chats[0].UnreadFor(seller))
	assert.Equal(t, int64(0), listResp.Chats[0].UnreadFor(buyer))

	// Step 5: seller reads the history
	w = doRequest(t, server.HandleGetMessages(), "GET", "/chat/messages?chatId="+chatID.String(), seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messagesResp struct {
		Messages []models.Message `json:"messages"`
		Total    int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messagesResp))
	require.Equal(t, int64(2), messagesResp.Total)
	assert.Equal(t, int64(1), messagesResp.Messages[0].Seq)
	assert.Equal(t, int64(2), messagesResp.Messages[1].Seq)

	// Step 6: seller marks the chat read
	w = doRequest(t, server.HandleMarkRead(), "POST", "/chat/read", seller, MarkReadRequest{
		ChatID: chatID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var readResp actors.ReadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &readResp))
	assert.Len(t, readResp.MessageIDs, 2)
	assert.Equal(t, int64(0), readResp.Remaining)

	w = doRequest(t, server.HandleListChats(), "GET", "/chat/list", seller, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Equal(t, int64(0), listResp.Chats[0].UnreadFor(seller))
}

func TestStartChatValidation(t *testing.T) {
	server, _ := newTestServer()
	userID := uuid.New()

	// Chatting with yourself is rejected
	w := doRequest(t, server.HandleStartChat(), "POST", "/chat/start", userID, StartChatRequest{
		ListingID: uuid.New().String(),
		PeerID:    userID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed IDs are rejected
	w = doRequest(t, server.HandleStartChat(), "POST", "/chat/start", userID, StartChatRequest{
		ListingID: "nope",
		PeerID:    uuid.New().String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing auth context is rejected
	w = doRequest(t, server.HandleStartChat(), "POST", "/chat/start", uuid.Nil, StartChatRequest{
		ListingID: uuid.New().String(),
		PeerID:    uuid.New().String(),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong method is rejected
	w = doRequest(t, server.HandleStartChat(), "GET", "/chat/start", userID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSendMessageErrorMapping(t *testing.T) {
	server, store := newTestServer()
	buyer := uuid.New()
	seller := uuid.New()

	chat, _, err := store.GetOrCreateChat(context.Background(), uuid.New(), buyer, seller)
	require.NoError(t, err)

	// An outsider gets 403
	w := doRequest(t, server.HandleSendMessage(), "POST", "/chat/send", uuid.New(), SendMessageRequest{
		ChatID:  chat.ID.String(),
		Content: models.MessageContent{Type: models.ContentTypeText, Text: "hi"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// An unknown chat gets 404
	w = doRequest(t, server.HandleSendMessage(), "POST", "/chat/send", buyer, SendMessageRequest{
		ChatID:  uuid.New().String(),
		Content: models.MessageContent{Type: models.ContentTypeText, Text: "hi"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A blocked chat gets 409
	require.NoError(t, store.SetChatStatus(context.Background(), chat.ID, models.ChatStatusBlocked))
	w = doRequest(t, server.HandleSendMessage(), "POST", "/chat/send", buyer, SendMessageRequest{
		ChatID:  chat.ID.String(),
		Content: models.MessageContent{Type: models.ContentTypeText, Text: "hi"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChatStatusEndpoint(t *testing.T) {
	server, store := newTestServer()
	buyer := uuid.New()
	seller := uuid.New()

	chat, _, err := store.GetOrCreateChat(context.Background(), uuid.New(), buyer, seller)
	require.NoError(t, err)

	w := doRequest(t, server.HandleChatStatus(), "POST", "/chat/status", seller, ChatStatusRequest{
		ChatID: chat.ID.String(),
		Status: "blocked",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.ChatStatusBlocked, updated.Status)

	// Unknown status values never reach the engine
	w = doRequest(t, server.HandleChatStatus(), "POST", "/chat/status", seller, ChatStatusRequest{
		ChatID: chat.ID.String(),
		Status: "deleted",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessagesRequiresParticipantship(t *testing.T) {
	server, store := newTestServer()
	buyer := uuid.New()

	chat, _, err := store.GetOrCreateChat(context.Background(), uuid.New(), buyer, uuid.New())
	require.NoError(t, err)

	w := doRequest(t, server.HandleGetMessages(), "GET", "/chat/messages?chatId="+chat.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.HandleHealth()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
}
