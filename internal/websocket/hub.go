package websocket

import (
	"log"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
)

// clientSet values stored in the hub maps are treated as immutable: every
// mutation installs a fresh copy under the shard lock, so readers can
// iterate a snapshot without holding anything.
type clientSet map[*Client]struct{}

func (s clientSet) with(c *Client) clientSet {
	next := make(clientSet, len(s)+1)
	for k := range s {
		next[k] = struct{}{}
	}
	next[c] = struct{}{}
	return next
}

func (s clientSet) without(c *Client) clientSet {
	next := make(clientSet, len(s))
	for k := range s {
		if k != c {
			next[k] = struct{}{}
		}
	}
	return next
}

// Hub is the process-local presence registry: which users have live
// connections, and which connections have joined which chat channels. It
// holds no chat state of its own and never touches durable storage. Both
// maps are sharded concurrent maps, so traffic on unrelated users and
// chats never serializes on a single lock.
type Hub struct {
	// userID -> clientSet of that user's live connections (multi-device).
	users cmap.ConcurrentMap
	// chatID -> clientSet of connections currently joined to the chat.
	chats cmap.ConcurrentMap
}

func NewHub() *Hub {
	return &Hub{
		users: cmap.New(),
		chats: cmap.New(),
	}
}

// Register adds a connection to its user's presence entry. Registering the
// same connection twice is a no-op.
func (h *Hub) Register(client *Client) {
	h.users.Upsert(client.UserID.String(), nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exists {
			return clientSet{client: {}}
		}
		return valueInMap.(clientSet).with(client)
	})
	log.Printf("Hub: client registered for user %s (connections: %d)", client.UserID, len(h.ConnectionsFor(client.UserID)))
}

// removeFromSet installs a copy of the stored set without client, then
// drops the entry if the stored set is empty. The shrink and the delete are
// separate shard-lock acquisitions: the shard's RWMutex is not reentrant,
// so no map call may run inside another callback on the same map.
func removeFromSet(m cmap.ConcurrentMap, key string, client *Client) {
	m.Upsert(key, nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exists {
			return clientSet{}
		}
		return valueInMap.(clientSet).without(client)
	})
	m.RemoveCb(key, func(_ string, v interface{}, exists bool) bool {
		return exists && len(v.(clientSet)) == 0
	})
}

// Unregister removes a connection from its user's presence entry and from
// every chat channel it joined. Idempotent: unregistering a connection that
// is already gone is a no-op.
func (h *Hub) Unregister(client *Client) {
	for _, chatID := range client.joinedChats() {
		h.Leave(client, chatID)
	}

	removeFromSet(h.users, client.UserID.String(), client)
	log.Printf("Hub: client unregistered for user %s", client.UserID)
}

// ConnectionsFor returns the live connections of userID; empty when the
// user is offline. Never blocks beyond a shard read lock.
func (h *Hub) ConnectionsFor(userID uuid.UUID) []*Client {
	v, ok := h.users.Get(userID.String())
	if !ok {
		return nil
	}
	set := v.(clientSet)
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// Join adds the connection to a chat channel. Idempotent.
func (h *Hub) Join(client *Client, chatID uuid.UUID) {
	client.addJoined(chatID)
	h.chats.Upsert(chatID.String(), nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exists {
			return clientSet{client: {}}
		}
		return valueInMap.(clientSet).with(client)
	})
}

// Leave removes the connection from a chat channel. Idempotent; leaving a
// chat that was never joined is a no-op.
func (h *Hub) Leave(client *Client, chatID uuid.UUID) {
	client.removeJoined(chatID)
	removeFromSet(h.chats, chatID.String(), client)
}

// JoinedClients returns the connections currently joined to chatID.
func (h *Hub) JoinedClients(chatID uuid.UUID) []*Client {
	v, ok := h.chats.Get(chatID.String())
	if !ok {
		return nil
	}
	set := v.(clientSet)
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// BroadcastToChat delivers payload to every connection joined to chatID,
// including all of the sender's own connections.
func (h *Hub) BroadcastToChat(chatID uuid.UUID, payload []byte) {
	for _, client := range h.JoinedClients(chatID) {
		h.deliver(client, payload)
	}
}

// BroadcastToChatExcept delivers payload to connections joined to chatID,
// skipping every connection belonging to exceptUserID.
func (h *Hub) BroadcastToChatExcept(chatID uuid.UUID, exceptUserID uuid.UUID, payload []byte) {
	for _, client := range h.JoinedClients(chatID) {
		if client.UserID == exceptUserID {
			continue
		}
		h.deliver(client, payload)
	}
}

// SendToUser delivers payload to every live connection of userID,
// regardless of joined chats. No-op when the user is offline.
func (h *Hub) SendToUser(userID uuid.UUID, payload []byte) {
	for _, client := range h.ConnectionsFor(userID) {
		h.deliver(client, payload)
	}
}

// deliver queues payload on a connection's send buffer. A full buffer
// drops the payload for that connection rather than blocking the caller.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		log.Printf("Hub: send buffer full for a connection of user %s, dropping payload", client.UserID)
	}
}

// UserCount reports how many distinct users are currently online.
func (h *Hub) UserCount() int {
	return h.users.Count()
}
