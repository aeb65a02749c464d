package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"tradepost/internal/engine/actors"
	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/google/uuid"
)

// ChatService is the serialized persistence path the router hands chat
// mutations to. Implemented by engine.Engine.
type ChatService interface {
	SendMessage(chatID, senderID uuid.UUID, content models.MessageContent) (*models.Message, error)
	MarkRead(chatID, userID uuid.UUID) (*actors.ReadResult, error)
	Participants(ctx context.Context, chatID uuid.UUID) ([2]uuid.UUID, error)
}

// Publisher forwards fan-out payloads to other server instances. The
// pubsub bridge implements it; NoopPublisher stands in for single-instance
// deployments.
type Publisher interface {
	PublishChat(chatID uuid.UUID, exceptUserID uuid.UUID, payload []byte)
	PublishUser(userID uuid.UUID, payload []byte)
}

// NoopPublisher drops everything. Used when no Redis bridge is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishChat(uuid.UUID, uuid.UUID, []byte) {}
func (NoopPublisher) PublishUser(uuid.UUID, []byte)            {}

// Router turns inbound connection events into persistence calls and
// outbound deliveries. Validation and persistence errors go back to the
// initiating connection only; other participants never observe a failed
// call.
type Router struct {
	hub       *Hub
	service   ChatService
	publisher Publisher
	metrics   *utils.MetricsCollector

	// Bounds the read-only participant lookups the router performs itself.
	lookupTimeout time.Duration
}

func NewRouter(hub *Hub, service ChatService, publisher Publisher, metrics *utils.MetricsCollector) *Router {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Router{
		hub:           hub,
		service:       service,
		publisher:     publisher,
		metrics:       metrics,
		lookupTimeout: 2 * time.Second,
	}
}

// Dispatch routes one inbound frame from a connection.
func (r *Router) Dispatch(client *Client, raw []byte) {
	r.metrics.IncrementRequests()

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Printf("Router: malformed frame from user %s: %v", client.UserID, err)
		r.sendError(client, "", utils.NewAppError(utils.ErrInvalidInput, "malformed event", err))
		return
	}

	switch event.Type {
	case EventPing:
		r.sendEvent(client, EventPong, "", nil)

	case EventJoinChat:
		r.handleJoin(client, event)

	case EventLeaveChat:
		r.handleLeave(client, event)

	case EventSendMessage:
		r.handleSendMessage(client, event)

	case EventTyping:
		r.handleTyping(client, event, true)

	case EventStopTyping:
		r.handleTyping(client, event, false)

	case EventMarkRead:
		r.handleMarkRead(client, event)

	default:
		log.Printf("Router: unknown event type %q from user %s", event.Type, client.UserID)
		r.sendError(client, event.ChatID, utils.NewAppError(utils.ErrInvalidInput, "unknown event type: "+event.Type, nil))
	}
}

func (r *Router) chatID(client *Client, event Event) (uuid.UUID, bool) {
	chatID, err := uuid.Parse(event.ChatID)
	if err != nil {
		r.sendError(client, event.ChatID, utils.NewAppError(utils.ErrInvalidInput, "missing or invalid chatId", err))
		return uuid.Nil, false
	}
	return chatID, true
}

// isParticipant checks chat membership for join/typing, which bypass the
// actor path.
func (r *Router) isParticipant(chatID, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.lookupTimeout)
	defer cancel()

	participants, err := r.service.Participants(ctx, chatID)
	if err != nil {
		return err
	}
	if participants[0] != userID && participants[1] != userID {
		return utils.NewNotParticipantError(userID.String(), chatID.String())
	}
	return nil
}

func (r *Router) handleJoin(client *Client, event Event) {
	chatID, ok := r.chatID(client, event)
	if !ok {
		return
	}
	if err := r.isParticipant(chatID, client.UserID); err != nil {
		r.metrics.IncrementErrors()
		r.sendError(client, event.ChatID, err)
		return
	}
	r.hub.Join(client, chatID)
	log.Printf("Router: user %s joined chat %s", client.UserID, chatID)
}

func (r *Router) handleLeave(client *Client, event Event) {
	chatID, ok := r.chatID(client, event)
	if !ok {
		return
	}
	r.hub.Leave(client, chatID)
	log.Printf("Router: user %s left chat %s", client.UserID, chatID)
}

func (r *Router) handleSendMessage(client *Client, event Event) {
	chatID, ok := r.chatID(client, event)
	if !ok {
		return
	}

	var payload SendMessagePayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		r.sendError(client, event.ChatID, utils.NewAppError(utils.ErrInvalidInput, "invalid send_message payload", err))
		return
	}

	message, err := r.service.SendMessage(chatID, client.UserID, payload.Content)
	if err != nil {
		// No partial broadcast: nothing was delivered to anyone else.
		r.metrics.IncrementErrors()
		r.sendError(client, event.ChatID, err)
		return
	}

	r.FanOutMessage(message, payload.TempID)
}

// FanOutMessage delivers a persisted message: the full message to every
// connection joined to the chat (the sender's other devices included), and
// a notification to every non-sender participant's connections so closed
// chat views still surface activity. The HTTP send path reuses this after
// going through the same actor.
func (r *Router) FanOutMessage(message *models.Message, tempID string) {
	chatIDStr := message.ChatID.String()

	msgPayload, err := marshalEvent(EventMessage, chatIDStr, MessagePayload{TempID: tempID, Message: message})
	if err != nil {
		log.Printf("Router: failed to marshal message event: %v", err)
		return
	}
	r.hub.BroadcastToChat(message.ChatID, msgPayload)
	r.publisher.PublishChat(message.ChatID, uuid.Nil, msgPayload)

	notification, err := marshalEvent(EventMessageNotification, chatIDStr, NotificationPayload{
		ChatID:   message.ChatID,
		Message:  message,
		SenderID: message.SenderID,
	})
	if err != nil {
		log.Printf("Router: failed to marshal notification event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.lookupTimeout)
	defer cancel()
	participants, err := r.service.Participants(ctx, message.ChatID)
	if err != nil {
		log.Printf("Router: participant lookup failed for chat %s: %v", message.ChatID, err)
		return
	}
	for _, participant := range participants {
		if participant == message.SenderID {
			continue
		}
		r.hub.SendToUser(participant, notification)
		r.publisher.PublishUser(participant, notification)
	}
}

// handleTyping broadcasts a volatile typing signal to the other
// connections joined to the chat. Never persisted, never echoed back to
// any of the sender's own connections, and allowed to get lost.
func (r *Router) handleTyping(client *Client, event Event, typing bool) {
	chatID, ok := r.chatID(client, event)
	if !ok {
		return
	}
	if err := r.isParticipant(chatID, client.UserID); err != nil {
		r.sendError(client, event.ChatID, err)
		return
	}

	payload, err := marshalEvent(EventUserTyping, event.ChatID, TypingPayload{
		ChatID: chatID,
		UserID: client.UserID,
		Typing: typing,
	})
	if err != nil {
		log.Printf("Router: failed to marshal typing event: %v", err)
		return
	}
	r.hub.BroadcastToChatExcept(chatID, client.UserID, payload)
	r.publisher.PublishChat(chatID, client.UserID, payload)
}

func (r *Router) handleMarkRead(client *Client, event Event) {
	chatID, ok := r.chatID(client, event)
	if !ok {
		return
	}

	result, err := r.service.MarkRead(chatID, client.UserID)
	if err != nil {
		r.metrics.IncrementErrors()
		r.sendError(client, event.ChatID, err)
		return
	}

	r.FanOutReadReceipt(result)
}

// FanOutReadReceipt tells the chat's joined connections that the reader
// caught up, so their read indicators update live. A sweep that marked
// nothing stays silent.
func (r *Router) FanOutReadReceipt(result *actors.ReadResult) {
	if len(result.MessageIDs) == 0 {
		return
	}
	payload, err := marshalEvent(EventReadReceipt, result.ChatID.String(), result)
	if err != nil {
		log.Printf("Router: failed to marshal read receipt: %v", err)
		return
	}
	r.hub.BroadcastToChatExcept(result.ChatID, result.UserID, payload)
	r.publisher.PublishChat(result.ChatID, result.UserID, payload)
}

func (r *Router) sendEvent(client *Client, eventType string, chatID string, data interface{}) {
	payload, err := marshalEvent(eventType, chatID, data)
	if err != nil {
		log.Printf("Router: failed to marshal %s event: %v", eventType, err)
		return
	}
	r.hub.deliver(client, payload)
}

// sendError reports a failed call to the initiating connection only.
func (r *Router) sendError(client *Client, chatID string, err error) {
	code := utils.ErrInvalidInput
	if appErr, ok := err.(*utils.AppError); ok {
		code = appErr.Code
	}
	r.sendEvent(client, EventError, chatID, ErrorPayload{
		ChatID:  chatID,
		Code:    code,
		Message: err.Error(),
	})
}
