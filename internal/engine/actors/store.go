package actors

import (
	"context"
	"time"

	"tradepost/internal/models"

	"github.com/google/uuid"
)

// MessageStore is the durable, per-chat-ordered message log the chat actors
// write to. Implemented by database.MongoDB; database.MemoryStore provides
// the same contract for tests and the simulator.
type MessageStore interface {
	// AppendMessage persists msg and assigns its per-chat sequence number.
	// Appends for one chat are atomic with respect to each other.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// AddReadMarker records that userID read the message. Adding is
	// idempotent and never touches the sender's own messages; the returned
	// bool reports whether a marker was newly added.
	AddReadMarker(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error)

	SetMessageStatus(ctx context.Context, messageID uuid.UUID, status models.MessageStatus) error

	// ListUnreadFor returns messages in chatID without a marker from userID,
	// excluding userID's own, oldest first.
	ListUnreadFor(ctx context.Context, chatID, userID uuid.UUID) ([]*models.Message, error)

	// CountUnreadFor recomputes the unread counter from the log.
	CountUnreadFor(ctx context.Context, chatID, userID uuid.UUID) (int64, error)

	ListMessages(ctx context.Context, chatID uuid.UUID, limit, offset int64) ([]*models.Message, int64, error)
}

// ChatDirectory is the durable registry of chat sessions: participants,
// status, last-message pointer and per-participant unread counters.
type ChatDirectory interface {
	GetChat(ctx context.Context, chatID uuid.UUID) (*models.ChatSession, error)

	// GetOrCreateChat is the idempotent dedup point: concurrent calls for
	// the same {listing, unordered pair} all return the same session.
	GetOrCreateChat(ctx context.Context, listingID, userA, userB uuid.UUID) (*models.ChatSession, bool, error)

	// IncrementUnread must be an atomic add, never read-modify-write.
	IncrementUnread(ctx context.Context, chatID, userID uuid.UUID, delta int64) error

	SetUnread(ctx context.Context, chatID, userID uuid.UUID, value int64) error
	SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error
	SetChatStatus(ctx context.Context, chatID uuid.UUID, status models.ChatStatus) error
	ListChatsForUser(ctx context.Context, userID uuid.UUID, limit, offset int64) ([]*models.ChatSession, int64, error)
}
