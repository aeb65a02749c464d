package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery progress of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// ContentType is the closed set of message payload kinds.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeLocation ContentType = "location"
)

// GeoPoint is a location payload attached to a location message.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MessageContent is a closed variant: exactly one of Text, ImageURL or
// Location is meaningful depending on Type.
type MessageContent struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"imageUrl,omitempty"`
	Location *GeoPoint   `json:"location,omitempty"`
}

// Validate checks that the content carries the payload its type requires.
func (c MessageContent) Validate() error {
	switch c.Type {
	case ContentTypeText:
		if c.Text == "" {
			return fmt.Errorf("text message requires non-empty text")
		}
	case ContentTypeImage:
		if c.ImageURL == "" {
			return fmt.Errorf("image message requires an image reference")
		}
	case ContentTypeLocation:
		if c.Location == nil {
			return fmt.Errorf("location message requires a location payload")
		}
	default:
		return fmt.Errorf("unknown content type %q", c.Type)
	}
	return nil
}

// ReadMarker records that a user has read a message. Markers only ever grow
// and never reference the sender.
type ReadMarker struct {
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single entry in a chat's append-only log. Seq is the per-chat
// ordering token assigned by the store on append.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	ChatID    uuid.UUID      `json:"chatId"`
	SenderID  uuid.UUID      `json:"senderId"`
	Content   MessageContent `json:"content"`
	Seq       int64          `json:"seq"`
	ReadBy    []ReadMarker   `json:"readBy,omitempty"`
	Status    MessageStatus  `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ReadBy reports whether userID already has a read marker on the message.
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
