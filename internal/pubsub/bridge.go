// Package pubsub fans websocket deliveries out across server instances.
// Each instance publishes its chat and user payloads to Redis channels and
// replays payloads published by the other instances into its local hub, so
// a message sent through one process reaches recipients connected to
// another.
package pubsub

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"tradepost/internal/websocket"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	chatChannelPrefix = "tradepost:chat:"
	userChannelPrefix = "tradepost:user:"
)

// envelope wraps a websocket payload on the wire. Origin lets an instance
// drop its own publications; Except carries the user excluded from a chat
// broadcast (typing and read receipts never go back to their originator).
type envelope struct {
	Origin  string          `json:"origin"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge implements websocket.Publisher over Redis pub/sub.
type Bridge struct {
	client     *redis.Client
	hub        *websocket.Hub
	instanceID string
}

func NewBridge(addr, password string, db int, hub *websocket.Hub) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}

	return &Bridge{
		client:     client,
		hub:        hub,
		instanceID: uuid.New().String(),
	}, nil
}

func (b *Bridge) publish(ctx context.Context, channel string, exceptUserID uuid.UUID, payload []byte) {
	env := envelope{
		Origin:  b.instanceID,
		Payload: payload,
	}
	if exceptUserID != uuid.Nil {
		env.Except = exceptUserID.String()
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Bridge: failed to marshal envelope: %v", err)
		return
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("Bridge: publish to %s failed: %v", channel, err)
	}
}

// PublishChat forwards a chat-scoped payload to the other instances.
func (b *Bridge) PublishChat(chatID uuid.UUID, exceptUserID uuid.UUID, payload []byte) {
	b.publish(context.Background(), chatChannelPrefix+chatID.String(), exceptUserID, payload)
}

// PublishUser forwards a user-scoped payload to the other instances.
func (b *Bridge) PublishUser(userID uuid.UUID, payload []byte) {
	b.publish(context.Background(), userChannelPrefix+userID.String(), uuid.Nil, payload)
}

// Run subscribes to the fan-out channels and replays remote payloads into
// the local hub until ctx is cancelled. Payloads this instance published
// itself are dropped.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.client.PSubscribe(ctx, chatChannelPrefix+"*", userChannelPrefix+"*")
	defer pubsub.Close()

	log.Printf("Bridge: instance %s subscribed to fan-out channels", b.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handle(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Printf("Bridge: malformed envelope on %s: %v", msg.Channel, err)
		return
	}
	if env.Origin == b.instanceID {
		return
	}

	switch {
	case strings.HasPrefix(msg.Channel, chatChannelPrefix):
		chatID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, chatChannelPrefix))
		if err != nil {
			log.Printf("Bridge: invalid chat channel %s", msg.Channel)
			return
		}
		if env.Except != "" {
			exceptID, err := uuid.Parse(env.Except)
			if err == nil {
				b.hub.BroadcastToChatExcept(chatID, exceptID, env.Payload)
				return
			}
		}
		b.hub.BroadcastToChat(chatID, env.Payload)

	case strings.HasPrefix(msg.Channel, userChannelPrefix):
		userID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, userChannelPrefix))
		if err != nil {
			log.Printf("Bridge: invalid user channel %s", msg.Channel)
			return
		}
		b.hub.SendToUser(userID, env.Payload)
	}
}

func (b *Bridge) Close() error {
	return b.client.Close()
}
