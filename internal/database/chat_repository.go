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

// ChatDocument represents the MongoDB document structure for chat sessions
type ChatDocument struct {
	ID            string           `bson:"_id"`
	ListingID     string           `bson:"listingId"`
	PairKey       string           `bson:"pairKey"`
	Participants  []string         `bson:"participants"`
	Status        string           `bson:"status"`
	LastMessageID *string          `bson:"lastMessageId,omitempty"`
	Unread        map[string]int64 `bson:"unread"`
	MessageSeq    int64            `bson:"messageSeq"`
	CreatedAt     time.Time        `bson:"createdAt"`
	UpdatedAt     time.Time        `bson:"updatedAt"`
}

// PairKey builds the canonical identity of an unordered participant pair.
func PairKey(a, b uuid.UUID) string {
	pair := models.CanonicalPair(a, b)
	return pair[0].String() + "|" + pair[1].String()
}

func chatToDocument(chat *models.ChatSession) *ChatDocument {
	doc := &ChatDocument{
		ID:        chat.ID.String(),
		ListingID: chat.ListingID.String(),
		PairKey:   PairKey(chat.Participants[0], chat.Participants[1]),
		Participants: []string{
			chat.Participants[0].String(),
			chat.Participants[1].String(),
		},
		Status:     string(chat.Status),
		Unread:     chat.Unread,
		MessageSeq: chat.MessageSeq,
		CreatedAt:  chat.CreatedAt,
		UpdatedAt:  chat.UpdatedAt,
	}
	if chat.LastMessageID != nil {
		s := chat.LastMessageID.String()
		doc.LastMessageID = &s
	}
	return doc
}

func documentToChat(doc *ChatDocument) (*models.ChatSession, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %v", doc.ID, err)
	}
	listingID, err := uuid.Parse(doc.ListingID)
	if err != nil {
		return nil, fmt.Errorf("invalid listing id %q: %v", doc.ListingID, err)
	}
	if len(doc.Participants) != 2 {
		return nil, fmt.Errorf("chat %s has %d participants, want 2", doc.ID, len(doc.Participants))
	}
	p0, err := uuid.Parse(doc.Participants[0])
	if err != nil {
		return nil, fmt.Errorf("invalid participant id %q: %v", doc.Participants[0], err)
	}
	p1, err := uuid.Parse(doc.Participants[1])
	if err != nil {
		return nil, fmt.Errorf("invalid participant id %q: %v", doc.Participants[1], err)
	}

	chat := &models.ChatSession{
		ID:           id,
		ListingID:    listingID,
		Participants: [2]uuid.UUID{p0, p1},
		Status:       models.ChatStatus(doc.Status),
		Unread:       doc.Unread,
		MessageSeq:   doc.MessageSeq,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if chat.Unread == nil {
		chat.Unread = make(map[string]int64)
	}
	if doc.LastMessageID != nil {
		lastID, err := uuid.Parse(*doc.LastMessageID)
		if err != nil {
			return nil, fmt.Errorf("invalid last message id %q: %v", *doc.LastMessageID, err)
		}
		chat.LastMessageID = &lastID
	}
	return chat, nil
}

// GetChat retrieves a chat session by ID.
func (m *MongoDB) GetChat(ctx context.Context, chatID uuid.UUID) (*models.ChatSession, error) {
	var doc ChatDocument
	err := m.Chats.FindOne(ctx, bson.M{"_id": chatID.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewChatNotFoundError(chatID.String())
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to get chat", err)
	}
	return documentToChat(&doc)
}

// GetOrCreateChat returns the active chat for {listing, unordered pair},
// creating it if absent. The dedup rides on a single findOneAndUpdate
// upsert keyed by the canonical pair, so N concurrent calls converge on one
// document. The bool result reports whether this call created the chat.
func (m *MongoDB) GetOrCreateChat(ctx context.Context, listingID, userA, userB uuid.UUID) (*models.ChatSession, bool, error) {
	pair := models.CanonicalPair(userA, userB)
	now := time.Now()
	candidateID := uuid.New().String()

	filter := bson.M{
		"listingId": listingID.String(),
		"pairKey":   PairKey(userA, userB),
		"status":    string(models.ChatStatusActive),
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          candidateID,
			"listingId":    listingID.String(),
			"pairKey":      PairKey(userA, userB),
			"participants": []string{pair[0].String(), pair[1].String()},
			"status":       string(models.ChatStatusActive),
			"unread": map[string]int64{
				pair[0].String(): 0,
				pair[1].String(): 0,
			},
			"messageSeq": int64(0),
			"createdAt":  now,
			"updatedAt":  now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc ChatDocument
	if err := m.Chats.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		// Two concurrent upserts for the same new pair can both miss the
		// filter; the loser's insert then trips the unique {listingId,
		// pairKey} index. Re-running the lookup returns the winner's chat.
		if mongo.IsDuplicateKeyError(err) {
			if err := m.Chats.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
				return nil, false, utils.NewAppError(utils.ErrDatabase, "failed to get or create chat", err)
			}
		} else {
			return nil, false, utils.NewAppError(utils.ErrDatabase, "failed to get or create chat", err)
		}
	}

	chat, err := documentToChat(&doc)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrDatabase, "failed to decode chat", err)
	}
	return chat, doc.ID == candidateID, nil
}

// IncrementUnread atomically adds delta to userID's unread counter. The $inc
// makes concurrent increments for the same chat additive rather than
// last-writer-wins.
func (m *MongoDB) IncrementUnread(ctx context.Context, chatID, userID uuid.UUID, delta int64) error {
	result, err := m.Chats.UpdateOne(ctx,
		bson.M{"_id": chatID.String(), "participants": userID.String()},
		bson.M{
			"$inc": bson.M{"unread." + userID.String(): delta},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to increment unread count", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewChatNotFoundError(chatID.String())
	}
	return nil
}

// SetUnread overwrites userID's unread counter with an absolute value. Only
// the reconciler calls this, and only with a freshly recomputed count.
func (m *MongoDB) SetUnread(ctx context.Context, chatID, userID uuid.UUID, value int64) error {
	result, err := m.Chats.UpdateOne(ctx,
		bson.M{"_id": chatID.String(), "participants": userID.String()},
		bson.M{"$set": bson.M{"unread." + userID.String(): value, "updatedAt": time.Now()}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to set unread count", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewChatNotFoundError(chatID.String())
	}
	return nil
}

// SetLastMessage updates the chat's last-message pointer.
func (m *MongoDB) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	result, err := m.Chats.UpdateOne(ctx,
		bson.M{"_id": chatID.String()},
		bson.M{"$set": bson.M{"lastMessageId": messageID.String(), "updatedAt": time.Now()}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to set last message", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewChatNotFoundError(chatID.String())
	}
	return nil
}

// SetChatStatus archives, blocks or reactivates a chat.
func (m *MongoDB) SetChatStatus(ctx context.Context, chatID uuid.UUID, status models.ChatStatus) error {
	result, err := m.Chats.UpdateOne(ctx,
		bson.M{"_id": chatID.String()},
		bson.M{"$set": bson.M{"status": string(status), "updatedAt": time.Now()}},
	)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update chat status", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewChatNotFoundError(chatID.String())
	}
	return nil
}

// ListChatsForUser returns the user's active chats, most recently updated
// first, plus the total count for pagination.
func (m *MongoDB) ListChatsForUser(ctx context.Context, userID uuid.UUID, limit, offset int64) ([]*models.ChatSession, int64, error) {
	filter := bson.M{
		"participants": userID.String(),
		"status":       string(models.ChatStatusActive),
	}

	total, err := m.Chats.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to count chats", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := m.Chats.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to list chats", err)
	}
	defer cursor.Close(ctx)

	var chats []*models.ChatSession
	for cursor.Next(ctx) {
		var doc ChatDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to decode chat", err)
		}
		chat, err := documentToChat(&doc)
		if err != nil {
			return nil, 0, utils.NewAppError(utils.ErrDatabase, "failed to decode chat", err)
		}
		chats = append(chats, chat)
	}

	return chats, total, nil
}
