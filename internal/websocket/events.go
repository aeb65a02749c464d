package websocket

import (
	"encoding/json"
	"time"

	"tradepost/internal/models"

	"github.com/google/uuid"
)

// WebSocket event types
const (
	// Inbound (client -> server)
	EventPing        = "ping"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventMarkRead    = "mark_read"

	// Outbound (server -> client)
	EventPong                = "pong"
	EventMessage             = "message"
	EventMessageNotification = "message_notification"
	EventUserTyping          = "user_typing"
	EventReadReceipt         = "read_receipt"
	EventError               = "error"
)

// Event is the wire envelope for every websocket frame in both directions.
type Event struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chatId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SendMessagePayload is the data of an inbound send_message event. TempID
// is an optional client-side correlation id echoed back on the resulting
// message event so the sender can reconcile its optimistic UI.
type SendMessagePayload struct {
	TempID  string                `json:"tempId,omitempty"`
	Content models.MessageContent `json:"content"`
}

// MessagePayload is the data of an outbound message event.
type MessagePayload struct {
	TempID  string          `json:"tempId,omitempty"`
	Message *models.Message `json:"message"`
}

// NotificationPayload is the data of a message_notification event, the
// lightweight signal sent to participants who have not joined the chat view.
type NotificationPayload struct {
	ChatID   uuid.UUID       `json:"chatId"`
	Message  *models.Message `json:"message"`
	SenderID uuid.UUID       `json:"senderId"`
}

// TypingPayload is the data of typing / stop_typing / user_typing events.
type TypingPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	UserID uuid.UUID `json:"userId"`
	Typing bool      `json:"typing"`
}

// ErrorPayload is the data of an error event, delivered only to the
// connection whose call failed. Code and ChatID give the client enough to
// retry.
type ErrorPayload struct {
	ChatID  string `json:"chatId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalEvent(eventType string, chatID string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Event{
		Type:      eventType,
		ChatID:    chatID,
		Data:      raw,
		Timestamp: time.Now(),
	})
}
