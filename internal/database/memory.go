package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the Message Store and Chat
// Directory contracts. It backs the test suite and lets the simulator run
// without a MongoDB instance. A single mutex is fine here: unlike the
// presence registry this is not a hot shared path in production.
type MemoryStore struct {
	mu       sync.Mutex
	chats    map[uuid.UUID]*models.ChatSession
	byPair   map[string]uuid.UUID // listingId|pairKey -> chatID, active chats only
	messages map[uuid.UUID][]*models.Message
	byID     map[uuid.UUID]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[uuid.UUID]*models.ChatSession),
		byPair:   make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID][]*models.Message),
		byID:     make(map[uuid.UUID]*models.Message),
	}
}

func pairLookupKey(listingID, a, b uuid.UUID) string {
	return listingID.String() + "|" + PairKey(a, b)
}

func copyChat(chat *models.ChatSession) *models.ChatSession {
	out := *chat
	out.Unread = make(map[string]int64, len(chat.Unread))
	for k, v := range chat.Unread {
		out.Unread[k] = v
	}
	if chat.LastMessageID != nil {
		id := *chat.LastMessageID
		out.LastMessageID = &id
	}
	return &out
}

func copyMessage(msg *models.Message) *models.Message {
	out := *msg
	out.ReadBy = append([]models.ReadMarker(nil), msg.ReadBy...)
	return &out
}

func (s *MemoryStore) GetChat(ctx context.Context, chatID uuid.UUID) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, utils.NewChatNotFoundError(chatID.String())
	}
	return copyChat(chat), nil
}

func (s *MemoryStore) GetOrCreateChat(ctx context.Context, listingID, userA, userB uuid.UUID) (*models.ChatSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairLookupKey(listingID, userA, userB)
	if chatID, ok := s.byPair[key]; ok {
		return copyChat(s.chats[chatID]), false, nil
	}

	pair := models.CanonicalPair(userA, userB)
	now := time.Now()
	chat := &models.ChatSession{
		ID:           uuid.New(),
		ListingID:    listingID,
		Participants: pair,
		Status:       models.ChatStatusActive,
		Unread: map[string]int64{
			pair[0].String(): 0,
			pair[1].String(): 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[chat.ID] = chat
	s.byPair[key] = chat.ID
	return copyChat(chat), true, nil
}

func (s *MemoryStore) IncrementUnread(ctx context.Context, chatID, userID uuid.UUID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || !chat.HasParticipant(userID) {
		return utils.NewChatNotFoundError(chatID.String())
	}
	chat.Unread[userID.String()] += delta
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetUnread(ctx context.Context, chatID, userID uuid.UUID, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || !chat.HasParticipant(userID) {
		return utils.NewChatNotFoundError(chatID.String())
	}
	chat.Unread[userID.String()] = value
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return utils.NewChatNotFoundError(chatID.String())
	}
	id := messageID
	chat.LastMessageID = &id
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetChatStatus(ctx context.Context, chatID uuid.UUID, status models.ChatStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return utils.NewChatNotFoundError(chatID.String())
	}
	key := pairLookupKey(chat.ListingID, chat.Participants[0], chat.Participants[1])
	if status == models.ChatStatusActive {
		s.byPair[key] = chat.ID
	} else if s.byPair[key] == chat.ID {
		// Archived and blocked chats no longer satisfy the active-pair dedup.
		delete(s.byPair, key)
	}
	chat.Status = status
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListChatsForUser(ctx context.Context, userID uuid.UUID, limit, offset int64) ([]*models.ChatSession, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.ChatSession
	for _, chat := range s.chats {
		if chat.Status == models.ChatStatusActive && chat.HasParticipant(userID) {
			all = append(all, chat)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	total := int64(len(all))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	var page []*models.ChatSession
	for _, chat := range all[offset:end] {
		page = append(page, copyChat(chat))
	}
	return page, total, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return nil, utils.NewChatNotFoundError(msg.ChatID.String())
	}
	chat.MessageSeq++
	msg.Seq = chat.MessageSeq
	stored := copyMessage(msg)
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], stored)
	s.byID[msg.ID] = stored
	return copyMessage(stored), nil
}

func (s *MemoryStore) AddReadMarker(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[messageID]
	if !ok {
		return false, utils.NewAppError(utils.ErrNotFound, "message not found: "+messageID.String(), nil)
	}
	if msg.SenderID == userID || msg.IsReadBy(userID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, models.ReadMarker{UserID: userID, ReadAt: at})
	msg.Status = models.MessageStatusRead
	return true, nil
}

func (s *MemoryStore) SetMessageStatus(ctx context.Context, messageID uuid.UUID, status models.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[messageID]
	if !ok {
		return utils.NewAppError(utils.ErrNotFound, "message not found: "+messageID.String(), nil)
	}
	msg.Status = status
	return nil
}

func (s *MemoryStore) ListUnreadFor(ctx context.Context, chatID, userID uuid.UUID) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unread []*models.Message
	for _, msg := range s.messages[chatID] {
		if msg.SenderID != userID && !msg.IsReadBy(userID) {
			unread = append(unread, copyMessage(msg))
		}
	}
	return unread, nil
}

func (s *MemoryStore) CountUnreadFor(ctx context.Context, chatID, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, msg := range s.messages[chatID] {
		if msg.SenderID != userID && !msg.IsReadBy(userID) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit, offset int64) ([]*models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.messages[chatID]
	total := int64(len(log))

	// Page backwards from the newest, then return chronological order.
	end := total - offset
	if end <= 0 {
		return nil, total, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	var page []*models.Message
	for _, msg := range log[start:end] {
		page = append(page, copyMessage(msg))
	}
	return page, total, nil
}
