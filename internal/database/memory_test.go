package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetOrCreateChatDedup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	listingID := uuid.New()
	a := uuid.New()
	b := uuid.New()

	first, created, err := store.GetOrCreateChat(ctx, listingID, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.CanonicalPair(a, b), first.Participants)
	assert.Equal(t, models.ChatStatusActive, first.Status)

	// Same pair in the opposite order converges on the same chat
	second, created, err := store.GetOrCreateChat(ctx, listingID, b, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different listing for the same pair is a separate chat
	other, created, err := store.GetOrCreateChat(ctx, uuid.New(), a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestMemoryStoreGetOrCreateChatConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	listingID := uuid.New()
	a := uuid.New()
	b := uuid.New()

	const callers = 16
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate the pair order so both spellings race
			userX, userY := a, b
			if i%2 == 1 {
				userX, userY = b, a
			}
			chat, created, err := store.GetOrCreateChat(ctx, listingID, userX, userY)
			mu.Lock()
			defer mu.Unlock()
			errs[i] = err
			if err != nil {
				return
			}
			ids[i] = chat.ID
			if created {
				createdCount++
			}
		}(i)
	}
	wg.Wait()

	// All callers converge on one chat and exactly one call created it
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, createdCount)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestMemoryStoreArchivedChatDoesNotDedup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	listingID := uuid.New()
	a := uuid.New()
	b := uuid.New()

	first, _, err := store.GetOrCreateChat(ctx, listingID, a, b)
	require.NoError(t, err)
	require.NoError(t, store.SetChatStatus(ctx, first.ID, models.ChatStatusArchived))

	// The archived chat no longer satisfies the active-pair identity, so a
	// new start opens a fresh session.
	second, created, err := store.GetOrCreateChat(ctx, listingID, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryStoreAppendAssignsSequence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	chat, _, err := store.GetOrCreateChat(ctx, uuid.New(), a, b)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		msg, err := store.AppendMessage(ctx, &models.Message{
			ID:       uuid.New(),
			ChatID:   chat.ID,
			SenderID: a,
			Content:  models.MessageContent{Type: models.ContentTypeText, Text: "m"},
			Status:   models.MessageStatusSent,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
	}

	_, err = store.AppendMessage(ctx, &models.Message{ID: uuid.New(), ChatID: uuid.New()})
	assert.True(t, utils.IsErrorCode(err, utils.ErrChatNotFound))
}

func TestMemoryStoreReadMarkers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sender := uuid.New()
	reader := uuid.New()
	chat, _, err := store.GetOrCreateChat(ctx, uuid.New(), sender, reader)
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, &models.Message{
		ID:       uuid.New(),
		ChatID:   chat.ID,
		SenderID: sender,
		Content:  models.MessageContent{Type: models.ContentTypeText, Text: "m"},
		Status:   models.MessageStatusSent,
	})
	require.NoError(t, err)

	// The sender can never mark its own message
	added, err := store.AddReadMarker(ctx, msg.ID, sender, time.Now())
	require.NoError(t, err)
	assert.False(t, added)

	added, err = store.AddReadMarker(ctx, msg.ID, reader, time.Now())
	require.NoError(t, err)
	assert.True(t, added)

	// Duplicate markers are not recorded
	added, err = store.AddReadMarker(ctx, msg.ID, reader, time.Now())
	require.NoError(t, err)
	assert.False(t, added)

	messages, _, err := store.ListMessages(ctx, chat.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Len(t, messages[0].ReadBy, 1)
	assert.Equal(t, models.MessageStatusRead, messages[0].Status)

	count, err := store.CountUnreadFor(ctx, chat.ID, reader)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStoreListMessagesPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := uuid.New()
	chat, _, err := store.GetOrCreateChat(ctx, uuid.New(), a, uuid.New())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.AppendMessage(ctx, &models.Message{
			ID:       uuid.New(),
			ChatID:   chat.ID,
			SenderID: a,
			Content:  models.MessageContent{Type: models.ContentTypeText, Text: "m"},
		})
		require.NoError(t, err)
	}

	// First page holds the newest messages, in chronological order
	page, total, err := store.ListMessages(ctx, chat.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].Seq)
	assert.Equal(t, int64(5), page[1].Seq)

	page, _, err = store.ListMessages(ctx, chat.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, int64(3), page[1].Seq)

	// Offset past the end yields an empty page, not an error
	page, _, err = store.ListMessages(ctx, chat.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStoreListChatsForUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	user := uuid.New()

	older, _, err := store.GetOrCreateChat(ctx, uuid.New(), user, uuid.New())
	require.NoError(t, err)
	newer, _, err := store.GetOrCreateChat(ctx, uuid.New(), user, uuid.New())
	require.NoError(t, err)
	archived, _, err := store.GetOrCreateChat(ctx, uuid.New(), user, uuid.New())
	require.NoError(t, err)
	require.NoError(t, store.SetChatStatus(ctx, archived.ID, models.ChatStatusArchived))

	// Touch the first chat so it becomes the most recently active
	require.NoError(t, store.SetLastMessage(ctx, older.ID, uuid.New()))

	chats, total, err := store.ListChatsForUser(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "archived chats are excluded")
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ID)
	assert.Equal(t, newer.ID, chats[1].ID)
}
