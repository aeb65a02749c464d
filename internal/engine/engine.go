package engine

import (
	"context"
	"time"

	"tradepost/internal/engine/actors"
	"tradepost/internal/models"
	"tradepost/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
)

// Engine routes chat operations to one actor per chat session. The actor
// mailbox serializes sendMessage/markRead for a chat; unrelated chats run
// on independent actors and never contend. Actors are spawned lazily on
// first use.
type Engine struct {
	system    *actor.ActorSystem
	root      *actor.RootContext
	store     actors.MessageStore
	directory actors.ChatDirectory
	metrics   *utils.MetricsCollector

	// chatID string -> *actor.PID
	pids cmap.ConcurrentMap

	requestTimeout time.Duration
	storeTimeout   time.Duration
}

func NewEngine(system *actor.ActorSystem, store actors.MessageStore, directory actors.ChatDirectory, metrics *utils.MetricsCollector, requestTimeout, storeTimeout time.Duration) *Engine {
	return &Engine{
		system:         system,
		root:           system.Root,
		store:          store,
		directory:      directory,
		metrics:        metrics,
		pids:           cmap.New(),
		requestTimeout: requestTimeout,
		storeTimeout:   storeTimeout,
	}
}

// chatPID returns the PID for chatID's actor, spawning it on first use.
// The Upsert callback runs under the shard lock, so two concurrent callers
// cannot spawn two actors for the same chat.
func (e *Engine) chatPID(chatID uuid.UUID) *actor.PID {
	result := e.pids.Upsert(chatID.String(), nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if exists {
			return valueInMap
		}
		props := actor.PropsFromProducer(func() actor.Actor {
			return actors.NewChatActor(chatID, e.store, e.directory, e.metrics, e.storeTimeout)
		})
		return e.root.Spawn(props)
	})
	return result.(*actor.PID)
}

// request sends msg to the chat's actor and normalizes the response:
// AppError responses become Go errors, a future timeout becomes
// PERSISTENCE_TIMEOUT (the store write may still complete; the caller just
// must not broadcast).
func (e *Engine) request(chatID uuid.UUID, msg interface{}) (interface{}, error) {
	future := e.root.RequestFuture(e.chatPID(chatID), msg, e.requestTimeout)
	result, err := future.Result()
	if err != nil {
		return nil, utils.NewPersistenceTimeoutError("chat actor request", err)
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}
	return result, nil
}

// SendMessage persists a message on the chat's serialized path and returns
// it with sequence number and status assigned.
func (e *Engine) SendMessage(chatID, senderID uuid.UUID, content models.MessageContent) (*models.Message, error) {
	result, err := e.request(chatID, &actors.SendMessageMsg{SenderID: senderID, Content: content})
	if err != nil {
		return nil, err
	}
	return result.(*models.Message), nil
}

// MarkRead runs the read-receipt reconciliation for userID on chatID.
func (e *Engine) MarkRead(chatID, userID uuid.UUID) (*actors.ReadResult, error) {
	result, err := e.request(chatID, &actors.MarkReadMsg{UserID: userID})
	if err != nil {
		return nil, err
	}
	return result.(*actors.ReadResult), nil
}

// SetChatStatus archives, blocks or reactivates a chat on its serialized path.
func (e *Engine) SetChatStatus(chatID, userID uuid.UUID, status models.ChatStatus) (*models.ChatSession, error) {
	result, err := e.request(chatID, &actors.SetChatStatusMsg{UserID: userID, Status: status})
	if err != nil {
		return nil, err
	}
	return result.(*models.ChatSession), nil
}

// Participants returns the participant set of a chat. Read-only, so it goes
// straight to the directory rather than through the actor.
func (e *Engine) Participants(ctx context.Context, chatID uuid.UUID) ([2]uuid.UUID, error) {
	chat, err := e.directory.GetChat(ctx, chatID)
	if err != nil {
		return [2]uuid.UUID{}, err
	}
	return chat.Participants, nil
}

// ChatCount reports how many chat actors this process has spawned.
func (e *Engine) ChatCount() int {
	return e.pids.Count()
}
