package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tradepost/internal/engine/actors"
	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService is an in-memory ChatService with scriptable failures.
type stubService struct {
	participants map[uuid.UUID][2]uuid.UUID
	sendErr      error
	markErr      error
	markEmpty    bool
	nextSeq      int64
}

func newStubService() *stubService {
	return &stubService{participants: make(map[uuid.UUID][2]uuid.UUID)}
}

func (s *stubService) addChat(chatID uuid.UUID, a, b uuid.UUID) {
	s.participants[chatID] = models.CanonicalPair(a, b)
}

func (s *stubService) SendMessage(chatID, senderID uuid.UUID, content models.MessageContent) (*models.Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if _, ok := s.participants[chatID]; !ok {
		return nil, utils.NewChatNotFoundError(chatID.String())
	}
	s.nextSeq++
	return &models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Seq:       s.nextSeq,
		Status:    models.MessageStatusSent,
		CreatedAt: time.Now(),
	}, nil
}

func (s *stubService) MarkRead(chatID, userID uuid.UUID) (*actors.ReadResult, error) {
	if s.markErr != nil {
		return nil, s.markErr
	}
	result := &actors.ReadResult{
		ChatID: chatID,
		UserID: userID,
		ReadAt: time.Now(),
	}
	if !s.markEmpty {
		result.MessageIDs = []uuid.UUID{uuid.New()}
	}
	return result, nil
}

func (s *stubService) Participants(ctx context.Context, chatID uuid.UUID) ([2]uuid.UUID, error) {
	pair, ok := s.participants[chatID]
	if !ok {
		return [2]uuid.UUID{}, utils.NewChatNotFoundError(chatID.String())
	}
	return pair, nil
}

// capturePublisher records cross-instance fan-out calls.
type capturePublisher struct {
	chatCalls []capturedChatPublish
	userCalls []uuid.UUID
}

type capturedChatPublish struct {
	chatID uuid.UUID
	except uuid.UUID
}

func (p *capturePublisher) PublishChat(chatID uuid.UUID, exceptUserID uuid.UUID, payload []byte) {
	p.chatCalls = append(p.chatCalls, capturedChatPublish{chatID: chatID, except: exceptUserID})
}

func (p *capturePublisher) PublishUser(userID uuid.UUID, payload []byte) {
	p.userCalls = append(p.userCalls, userID)
}

func drainEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.Send:
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	default:
		t.Fatal("expected a queued event, channel is empty")
		return Event{}
	}
}

func frame(t *testing.T, eventType string, chatID uuid.UUID, data interface{}) []byte {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		require.NoError(t, err)
		raw = encoded
	}
	payload, err := json.Marshal(Event{Type: eventType, ChatID: chatID.String(), Data: raw})
	require.NoError(t, err)
	return payload
}

func TestRouterPing(t *testing.T) {
	hub := NewHub()
	router := NewRouter(hub, newStubService(), nil, utils.NewMetricsCollector())

	client := NewClient(hub, router, uuid.New(), nil)
	hub.Register(client)

	router.Dispatch(client, []byte(`{"type":"ping"}`))

	event := drainEvent(t, client)
	assert.Equal(t, EventPong, event.Type)
}

func TestRouterJoinRequiresParticipantship(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	router := NewRouter(hub, service, nil, utils.NewMetricsCollector())

	chatID := uuid.New()
	member := NewClient(hub, router, uuid.New(), nil)
	stranger := NewClient(hub, router, uuid.New(), nil)
	service.addChat(chatID, member.UserID, uuid.New())
	hub.Register(member)
	hub.Register(stranger)

	router.Dispatch(member, frame(t, EventJoinChat, chatID, nil))
	assert.Len(t, hub.JoinedClients(chatID), 1)
	assert.Len(t, member.Send, 0, "a successful join is silent")

	router.Dispatch(stranger, frame(t, EventJoinChat, chatID, nil))
	assert.Len(t, hub.JoinedClients(chatID), 1, "stranger must not enter the channel")

	event := drainEvent(t, stranger)
	assert.Equal(t, EventError, event.Type)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(event.Data, &errPayload))
	assert.Equal(t, utils.ErrNotParticipant, errPayload.Code)
	assert.Len(t, member.Send, 0, "errors go to the initiator only")
}

func TestRouterSendMessageFanOut(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	publisher := &capturePublisher{}
	router := NewRouter(hub, service, publisher, utils.NewMetricsCollector())

	chatID := uuid.New()
	senderID := uuid.New()
	peerID := uuid.New()
	service.addChat(chatID, senderID, peerID)

	senderPhone := NewClient(hub, router, senderID, nil)
	senderLaptop := NewClient(hub, router, senderID, nil)
	peerInChat := NewClient(hub, router, peerID, nil)
	peerElsewhere := NewClient(hub, router, peerID, nil)

	for _, c := range []*Client{senderPhone, senderLaptop, peerInChat, peerElsewhere} {
		hub.Register(c)
	}
	hub.Join(senderPhone, chatID)
	hub.Join(peerInChat, chatID)
	// senderLaptop and peerElsewhere are online but not viewing the chat

	router.Dispatch(senderPhone, frame(t, EventSendMessage, chatID, SendMessagePayload{
		TempID:  "tmp-42",
		Content: models.MessageContent{Type: models.ContentTypeText, Text: "hello"},
	}))

	// Joined connections get the full message, the sending device included
	event := drainEvent(t, senderPhone)
	assert.Equal(t, EventMessage, event.Type)
	var msgPayload MessagePayload
	require.NoError(t, json.Unmarshal(event.Data, &msgPayload))
	assert.Equal(t, "tmp-42", msgPayload.TempID)
	assert.Equal(t, int64(1), msgPayload.Message.Seq)

	event = drainEvent(t, peerInChat)
	assert.Equal(t, EventMessage, event.Type)

	// Non-sender participants also get a notification on every device
	event = drainEvent(t, peerInChat)
	assert.Equal(t, EventMessageNotification, event.Type)
	event = drainEvent(t, peerElsewhere)
	assert.Equal(t, EventMessageNotification, event.Type)

	// The sender's other device is not in the chat channel and is not a
	// notification target either
	assert.Len(t, senderLaptop.Send, 0)

	// Cross-instance mirror of the local fan-out
	require.Len(t, publisher.chatCalls, 1)
	assert.Equal(t, chatID, publisher.chatCalls[0].chatID)
	assert.Equal(t, uuid.Nil, publisher.chatCalls[0].except)
	assert.Equal(t, []uuid.UUID{peerID}, publisher.userCalls)
}

func TestRouterSendMessageFailureReachesInitiatorOnly(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	publisher := &capturePublisher{}
	router := NewRouter(hub, service, publisher, utils.NewMetricsCollector())

	chatID := uuid.New()
	sender := NewClient(hub, router, uuid.New(), nil)
	peer := NewClient(hub, router, uuid.New(), nil)
	service.addChat(chatID, sender.UserID, peer.UserID)
	service.sendErr = utils.NewChatNotActiveError(chatID.String(), "blocked")

	hub.Register(sender)
	hub.Register(peer)
	hub.Join(sender, chatID)
	hub.Join(peer, chatID)

	router.Dispatch(sender, frame(t, EventSendMessage, chatID, SendMessagePayload{
		Content: models.MessageContent{Type: models.ContentTypeText, Text: "hi"},
	}))

	event := drainEvent(t, sender)
	assert.Equal(t, EventError, event.Type)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(event.Data, &errPayload))
	assert.Equal(t, utils.ErrChatNotActive, errPayload.Code)

	assert.Len(t, peer.Send, 0, "no partial delivery on failure")
	assert.Empty(t, publisher.chatCalls)
	assert.Empty(t, publisher.userCalls)
}

func TestRouterTypingExcludesTypist(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	publisher := &capturePublisher{}
	router := NewRouter(hub, service, publisher, utils.NewMetricsCollector())

	chatID := uuid.New()
	typistID := uuid.New()
	peerID := uuid.New()
	service.addChat(chatID, typistID, peerID)

	typistPhone := NewClient(hub, router, typistID, nil)
	typistLaptop := NewClient(hub, router, typistID, nil)
	peer := NewClient(hub, router, peerID, nil)
	for _, c := range []*Client{typistPhone, typistLaptop, peer} {
		hub.Register(c)
		hub.Join(c, chatID)
	}

	router.Dispatch(typistPhone, frame(t, EventTyping, chatID, nil))

	event := drainEvent(t, peer)
	assert.Equal(t, EventUserTyping, event.Type)
	var typingPayload TypingPayload
	require.NoError(t, json.Unmarshal(event.Data, &typingPayload))
	assert.Equal(t, typistID, typingPayload.UserID)
	assert.True(t, typingPayload.Typing)

	assert.Len(t, typistPhone.Send, 0)
	assert.Len(t, typistLaptop.Send, 0, "typing never echoes to any device of the typist")

	require.Len(t, publisher.chatCalls, 1)
	assert.Equal(t, typistID, publisher.chatCalls[0].except)

	router.Dispatch(typistPhone, frame(t, EventStopTyping, chatID, nil))
	event = drainEvent(t, peer)
	require.NoError(t, json.Unmarshal(event.Data, &typingPayload))
	assert.False(t, typingPayload.Typing)
}

func TestRouterMarkReadBroadcastsReceipt(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	router := NewRouter(hub, service, nil, utils.NewMetricsCollector())

	chatID := uuid.New()
	reader := NewClient(hub, router, uuid.New(), nil)
	peer := NewClient(hub, router, uuid.New(), nil)
	service.addChat(chatID, reader.UserID, peer.UserID)

	for _, c := range []*Client{reader, peer} {
		hub.Register(c)
		hub.Join(c, chatID)
	}

	router.Dispatch(reader, frame(t, EventMarkRead, chatID, nil))

	event := drainEvent(t, peer)
	assert.Equal(t, EventReadReceipt, event.Type)
	var result actors.ReadResult
	require.NoError(t, json.Unmarshal(event.Data, &result))
	assert.Equal(t, reader.UserID, result.UserID)
	assert.Len(t, result.MessageIDs, 1)

	assert.Len(t, reader.Send, 0, "the reader already knows it read the chat")
}

func TestRouterMarkReadEmptySweepStaysSilent(t *testing.T) {
	hub := NewHub()
	service := newStubService()
	service.markEmpty = true
	publisher := &capturePublisher{}
	router := NewRouter(hub, service, publisher, utils.NewMetricsCollector())

	chatID := uuid.New()
	reader := NewClient(hub, router, uuid.New(), nil)
	peer := NewClient(hub, router, uuid.New(), nil)
	service.addChat(chatID, reader.UserID, peer.UserID)

	for _, c := range []*Client{reader, peer} {
		hub.Register(c)
		hub.Join(c, chatID)
	}

	router.Dispatch(reader, frame(t, EventMarkRead, chatID, nil))

	// Nothing was marked, so nobody hears about it
	assert.Len(t, peer.Send, 0)
	assert.Len(t, reader.Send, 0)
	assert.Empty(t, publisher.chatCalls)
}

func TestRouterRejectsMalformedFrames(t *testing.T) {
	hub := NewHub()
	router := NewRouter(hub, newStubService(), nil, utils.NewMetricsCollector())

	client := NewClient(hub, router, uuid.New(), nil)
	hub.Register(client)

	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"warp_drive"}`),
		frame(t, EventSendMessage, uuid.New(), nil), // no payload
	}
	for i, raw := range cases {
		router.Dispatch(client, raw)
		event := drainEvent(t, client)
		assert.Equal(t, EventError, event.Type, fmt.Sprintf("case %d", i))
	}
}
