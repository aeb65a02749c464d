package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatStatus tracks the lifecycle of a chat session. Chats are never
// deleted; they are archived or blocked instead.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
	ChatStatusBlocked  ChatStatus = "blocked"
)

// ValidChatStatus reports whether s is one of the known chat statuses.
func ValidChatStatus(s ChatStatus) bool {
	switch s {
	case ChatStatusActive, ChatStatusArchived, ChatStatusBlocked:
		return true
	}
	return false
}

// ChatSession is a conversation between exactly two users about one listing.
// Participants are stored in canonical (sorted) order so that the
// {listing, pair} identity is stable regardless of who opened the chat.
type ChatSession struct {
	ID            uuid.UUID        `json:"id"`
	ListingID     uuid.UUID        `json:"listingId"`
	Participants  [2]uuid.UUID     `json:"participants"`
	Status        ChatStatus       `json:"status"`
	LastMessageID *uuid.UUID       `json:"lastMessageId,omitempty"`
	Unread        map[string]int64 `json:"unreadCount"`
	MessageSeq    int64            `json:"-"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// CanonicalPair returns a and b in canonical order (lexicographic by string
// form). Both chat creation and lookup use this so an unordered pair of
// participants always maps to the same document.
func CanonicalPair(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() > b.String() {
		return [2]uuid.UUID{b, a}
	}
	return [2]uuid.UUID{a, b}
}

// HasParticipant reports whether userID is one of the two chat participants.
func (c *ChatSession) HasParticipant(userID uuid.UUID) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// OtherParticipant returns the participant that is not userID.
func (c *ChatSession) OtherParticipant(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return uuid.Nil, false
}

// UnreadFor returns the unread counter for userID, zero if absent.
func (c *ChatSession) UnreadFor(userID uuid.UUID) int64 {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID.String()]
}
