package database

import (
	"context"
	"fmt"
	"time"

	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageDocument represents the MongoDB document structure for messages
type MessageDocument struct {
	ID        string               `bson:"_id"`
	ChatID    string               `bson:"chatId"`
	SenderID  string               `bson:"senderId"`
	Content   contentDocument      `bson:"content"`
	Seq       int64                `bson:"seq"`
	ReadBy    []readMarkerDocument `bson:"readBy"`
	Status    string               `bson:"status"`
	CreatedAt time.Time            `bson:"createdAt"`
}

type contentDocument struct {
	Type     string           `bson:"type"`
	Text     string           `bson:"text,omitempty"`
	ImageURL string           `bson:"imageUrl,omitempty"`
	Location *models.GeoPoint `bson:"location,omitempty"`
}

type readMarkerDocument struct {
	UserID string    `bson:"userId"`
	ReadAt time.Time `bson:"readAt"`
}

func messageToDocument(msg *models.Message) *MessageDocument {
	doc := &MessageDocument{
		ID:       msg.ID.String(),
		ChatID:   msg.ChatID.String(),
		SenderID: msg.SenderID.String(),
		Content: contentDocument{
			Type:     string(msg.Content.Type),
			Text:     msg.Content.Text,
			ImageURL: msg.Content.ImageURL,
			Location: msg.Content.Location,
		},
		Seq:       msg.Seq,
		ReadBy:    []readMarkerDocument{},
		Status:    string(msg.Status),
		CreatedAt: msg.CreatedAt,
	}
	for _, r := range msg.ReadBy {
		doc.ReadBy = append(doc.ReadBy, readMarkerDocument{
			UserID: r.UserID.String(),
			ReadAt: r.ReadAt,
		})
	}
	return doc
}

func documentToMessage(doc *MessageDocument) (*models.Message, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %v", doc.ID, err)
	}
	chatID, err := uuid.Parse(doc.ChatID)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %v", doc.ChatID, err)
	}
	senderID, err := uuid.Parse(doc.SenderID)
	if err != nil {
		return nil, fmt.Errorf("invalid sender id %q: %v", doc.SenderID, err)
	}

	msg := &models.Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: senderID,
		Content: models.MessageContent{
			Type:     models.ContentType(doc.Content.Type),
			Text:     doc.Content.Text,
			ImageURL: doc.Content.ImageURL,
			Location: doc.Content.Location,
		},
		Seq:       doc.Seq,
		Status:    models.MessageStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
	}
	for _, r := range doc.ReadBy {
		readerID, err := uuid.Parse(r.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid reader id %q: %v", r.UserID, err)
		}
		msg.ReadBy = append(msg.ReadBy, models.ReadMarker{UserID: readerID, ReadAt: r.ReadAt})
	}
	return msg, nil
}

// unreadFilter matches messages in chatID that userID has not read and did
// not send. Both the unread listing and the recomputed counter use it, so
// counters always agree with the derivable source of truth.
func unreadFilter(chatID, userID uuid.UUID) bson.M {
	return bson.M{
		"chatId":        chatID.String(),
		"senderId":      bson.M{"$ne": userID.String()},
		"readBy.userId": bson.M{"$ne": userID.String()},
	}
}

// AppendMessage persists a new message, assigning the next per-chat sequence
// number via an atomic $inc on the chat document. That counter is the
// per-chat ordering token: two appends can never receive the same sequence
// or observe each other out of order.
func (m *MongoDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var chatDoc struct {
		MessageSeq int64 `bson:"messageSeq"`
	}
	err := m.Chats.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.ChatID.String()},
		bson.M{"$inc": bson.M{"messageSeq": 1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"messageSeq": 1}),
	).Decode(&chatDoc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewChatNotFoundError(msg.ChatID.String())
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to allocate message sequence", err)
	}

	msg.Seq = chatDoc.MessageSeq
	if _, err := m.Messages.InsertOne(ctx, messageToDocument(msg)); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to save message", err)
	}

	return msg, nil
}

// AddReadMarker appends a read marker for userID and advances the message
// status to read. The filter excludes the sender's own messages and any
// message already carrying the user's marker, so markers are monotonic and
// never duplicated. Returns whether a marker was actually added.
func (m *MongoDB) AddReadMarker(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	result, err := m.Messages.UpdateOne(ctx,
		bson.M{
			"_id":           messageID.String(),
			"senderId":      bson.M{"$ne": userID.String()},
			"readBy.userId": bson.M{"$ne": userID.String()},
		},
		bson.M{
			"$push": bson.M{"readBy": readMarkerDocument{UserID: userID.String(), ReadAt: at}},
			"$set":  bson.M{"status": string(models.MessageStatusRead)},
		},
	)
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to add read marker", err)
	}
	return result.ModifiedCount > 0, nil
}

// SetMessageStatus updates the delivery status of a message.
func (m *MongoDB) SetMessageStatus(ctx context.Context, messageID uuid.UUID, status models.MessageStatus) error {
	result, err := m.Messages.UpdateOne(ctx,
		bson.M{"_id": messageID.String()},
		bson.M{"$set": bson.M{"status": string(status)}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update message status", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewAppError(utils.ErrNotFound, "message not found: "+messageID.String(), nil)
	}
	return nil
}

// ListUnreadFor returns the messages in chatID that userID has not read,
// oldest first.
func (m *MongoDB) ListUnreadFor(ctx context.Context, chatID, userID uuid.UUID) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := m.Messages.Find(ctx, unreadFilter(chatID, userID), opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list unread messages", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.Message
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		msg, err := documentToMessage(&doc)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// CountUnreadFor recomputes the unread counter from the message log itself.
func (m *MongoDB) CountUnreadFor(ctx context.Context, chatID, userID uuid.UUID) (int64, error) {
	count, err := m.Messages.CountDocuments(ctx, unreadFilter(chatID, userID))
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count unread messages", err)
	}
	return count, nil
}

// ListMessages returns one page of a chat's history in chronological order,
// plus the total message count. Pagination walks backwards from the newest
// message, matching how chat clients load history.
func (m *MongoDB) ListMessages(ctx context.Context, chatID uuid.UUID, limit, offset int64) ([]*models.Message, int64, error) {
	filter := bson.M{"chatId": chatID.String()}

	total, err := m.Messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to count messages", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to list messages", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.Message
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		msg, err := documentToMessage(&doc)
		if err != nil {
			return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		messages = append(messages, msg)
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, total, nil
}
