package actors

import (
	"context"
	"errors"
	"log"
	"time"

	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for ChatActor
type (
	SendMessageMsg struct {
		SenderID uuid.UUID             `json:"senderId"`
		Content  models.MessageContent `json:"content"`
	}

	MarkReadMsg struct {
		UserID uuid.UUID `json:"userId"`
	}

	SetChatStatusMsg struct {
		UserID uuid.UUID         `json:"userId"`
		Status models.ChatStatus `json:"status"`
	}
)

// ReadResult is the outcome of a MarkReadMsg: which messages gained a
// marker and what the recomputed unread counter settled at.
type ReadResult struct {
	ChatID     uuid.UUID   `json:"chatId"`
	UserID     uuid.UUID   `json:"userId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	Remaining  int64       `json:"remaining"`
	ReadAt     time.Time   `json:"readAt"`
}

// ChatActor owns all mutations for a single chat session. Its mailbox is
// the per-chat serialization point: two sends, or a send racing a read, are
// applied one at a time for this chat while other chats proceed in
// parallel on their own actors.
type ChatActor struct {
	chatID    uuid.UUID
	store     MessageStore
	directory ChatDirectory
	metrics   *utils.MetricsCollector

	// Bounds each store/directory operation issued by this actor.
	storeTimeout time.Duration
}

func NewChatActor(chatID uuid.UUID, store MessageStore, directory ChatDirectory, metrics *utils.MetricsCollector, storeTimeout time.Duration) actor.Actor {
	return &ChatActor{
		chatID:       chatID,
		store:        store,
		directory:    directory,
		metrics:      metrics,
		storeTimeout: storeTimeout,
	}
}

func (a *ChatActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *SendMessageMsg:
		a.handleSendMessage(context, msg)
	case *MarkReadMsg:
		a.handleMarkRead(context, msg)
	case *SetChatStatusMsg:
		a.handleSetStatus(context, msg)
	}
}

func (a *ChatActor) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.storeTimeout)
}

// persistenceError classifies a store failure: deadline overruns become
// PERSISTENCE_TIMEOUT, everything else PERSISTENCE_FAILURE. Validation
// errors (already AppErrors with their own codes) pass through unchanged.
func persistenceError(operation string, err error) *utils.AppError {
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.Code != utils.ErrDatabase {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewPersistenceTimeoutError(operation, err)
	}
	return utils.NewPersistenceFailureError(operation, err)
}

// loadChatForUser fetches the session and checks the caller belongs to it.
func (a *ChatActor) loadChatForUser(ctx context.Context, userID uuid.UUID) (*models.ChatSession, *utils.AppError) {
	chat, err := a.directory.GetChat(ctx, a.chatID)
	if err != nil {
		return nil, persistenceError("get chat", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, utils.NewNotParticipantError(userID.String(), a.chatID.String())
	}
	return chat, nil
}

func (a *ChatActor) handleSendMessage(context actor.Context, msg *SendMessageMsg) {
	startTime := time.Now()

	ctx, cancel := a.opContext()
	defer cancel()

	chat, appErr := a.loadChatForUser(ctx, msg.SenderID)
	if appErr != nil {
		context.Respond(appErr)
		return
	}

	// Archived and blocked chats reject sends outright.
	if chat.Status != models.ChatStatusActive {
		context.Respond(utils.NewChatNotActiveError(a.chatID.String(), string(chat.Status)))
		return
	}

	if err := msg.Content.Validate(); err != nil {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, err.Error(), nil))
		return
	}

	message := &models.Message{
		ID:        uuid.New(),
		ChatID:    a.chatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Status:    models.MessageStatusSent,
		CreatedAt: time.Now(),
	}

	persisted, err := a.store.AppendMessage(ctx, message)
	if err != nil {
		log.Printf("ChatActor %s: append failed: %v", a.chatID, err)
		context.Respond(persistenceError("append message", err))
		return
	}

	// Counter updates ride in the same serialized unit as the append. The
	// sender's own counter is never incremented.
	if other, ok := chat.OtherParticipant(msg.SenderID); ok {
		if err := a.directory.IncrementUnread(ctx, a.chatID, other, 1); err != nil {
			log.Printf("ChatActor %s: unread increment failed for %s: %v", a.chatID, other, err)
		}
	}
	if err := a.directory.SetLastMessage(ctx, a.chatID, persisted.ID); err != nil {
		log.Printf("ChatActor %s: last-message update failed: %v", a.chatID, err)
	}

	a.metrics.AddOperationLatency("send_message", time.Since(startTime))
	context.Respond(persisted)
}

func (a *ChatActor) handleMarkRead(context actor.Context, msg *MarkReadMsg) {
	startTime := time.Now()

	ctx, cancel := a.opContext()
	defer cancel()

	if _, appErr := a.loadChatForUser(ctx, msg.UserID); appErr != nil {
		context.Respond(appErr)
		return
	}

	unread, err := a.store.ListUnreadFor(ctx, a.chatID, msg.UserID)
	if err != nil {
		context.Respond(persistenceError("list unread", err))
		return
	}

	readAt := time.Now()
	result := &ReadResult{
		ChatID: a.chatID,
		UserID: msg.UserID,
		ReadAt: readAt,
	}
	for _, m := range unread {
		added, err := a.store.AddReadMarker(ctx, m.ID, msg.UserID, readAt)
		if err != nil {
			context.Respond(persistenceError("add read marker", err))
			return
		}
		if added {
			result.MessageIDs = append(result.MessageIDs, m.ID)
		}
	}

	// Recompute instead of writing zero: a message persisted between the
	// ListUnreadFor snapshot and this point is not in the batch and must
	// keep its increment.
	remaining, err := a.store.CountUnreadFor(ctx, a.chatID, msg.UserID)
	if err != nil {
		context.Respond(persistenceError("count unread", err))
		return
	}
	if err := a.directory.SetUnread(ctx, a.chatID, msg.UserID, remaining); err != nil {
		context.Respond(persistenceError("set unread", err))
		return
	}
	result.Remaining = remaining

	a.metrics.AddOperationLatency("mark_read", time.Since(startTime))
	context.Respond(result)
}

func (a *ChatActor) handleSetStatus(context actor.Context, msg *SetChatStatusMsg) {
	ctx, cancel := a.opContext()
	defer cancel()

	if !models.ValidChatStatus(msg.Status) {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "unknown chat status: "+string(msg.Status), nil))
		return
	}

	if _, appErr := a.loadChatForUser(ctx, msg.UserID); appErr != nil {
		context.Respond(appErr)
		return
	}

	if err := a.directory.SetChatStatus(ctx, a.chatID, msg.Status); err != nil {
		context.Respond(persistenceError("set chat status", err))
		return
	}

	chat, err := a.directory.GetChat(ctx, a.chatID)
	if err != nil {
		context.Respond(persistenceError("get chat", err))
		return
	}
	context.Respond(chat)
}
