package database

import (
	"testing"
	"time"

	"tradepost/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, uuid.New()))
	assert.Equal(t, PairKey(a, a), a.String()+"|"+a.String())
}

func TestChatDocumentRoundTrip(t *testing.T) {
	lastMessageID := uuid.New()
	chat := &models.ChatSession{
		ID:            uuid.New(),
		ListingID:     uuid.New(),
		Participants:  models.CanonicalPair(uuid.New(), uuid.New()),
		Status:        models.ChatStatusArchived,
		LastMessageID: &lastMessageID,
		Unread:        map[string]int64{"x": 3},
		MessageSeq:    17,
		CreatedAt:     time.Now().Add(-time.Hour),
		UpdatedAt:     time.Now(),
	}

	doc := chatToDocument(chat)
	assert.Equal(t, PairKey(chat.Participants[0], chat.Participants[1]), doc.PairKey)

	decoded, err := documentToChat(doc)
	require.NoError(t, err)
	assert.Equal(t, chat, decoded)
}

func TestDocumentToChatRejectsCorruptDocuments(t *testing.T) {
	valid := chatToDocument(&models.ChatSession{
		ID:           uuid.New(),
		ListingID:    uuid.New(),
		Participants: [2]uuid.UUID{uuid.New(), uuid.New()},
		Status:       models.ChatStatusActive,
	})

	badID := *valid
	badID.ID = "not-a-uuid"
	_, err := documentToChat(&badID)
	assert.Error(t, err)

	badParticipants := *valid
	badParticipants.Participants = []string{valid.Participants[0]}
	_, err = documentToChat(&badParticipants)
	assert.Error(t, err)

	noUnread := *valid
	noUnread.Unread = nil
	decoded, err := documentToChat(&noUnread)
	require.NoError(t, err)
	assert.NotNil(t, decoded.Unread, "missing unread map decodes as empty, not nil")
}
