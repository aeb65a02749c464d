package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client is a middleman between one websocket connection and the hub. A
// user with several devices holds several Clients.
type Client struct {
	Hub *Hub

	// The authenticated user this connection represents.
	UserID uuid.UUID

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// Router receives this connection's inbound events.
	Router *Router

	mu     sync.Mutex
	joined map[uuid.UUID]struct{}
}

func NewClient(hub *Hub, router *Router, userID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		Hub:    hub,
		Router: router,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		joined: make(map[uuid.UUID]struct{}),
	}
}

func (c *Client) addJoined(chatID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[chatID] = struct{}{}
}

func (c *Client) removeJoined(chatID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, chatID)
}

func (c *Client) joinedChats() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	chats := make([]uuid.UUID, 0, len(c.joined))
	for id := range c.joined {
		chats = append(chats, id)
	}
	return chats
}

// ReadPump pumps events from the websocket connection to the router. It
// unregisters the connection when the peer goes away; store writes already
// in flight are unaffected.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		log.Printf("WebSocket Client ReadPump stopped for User %s", c.UserID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for User %s: %v", c.UserID, err)
			}
			break
		}
		c.Router.Dispatch(c, message)
	}
}

// WritePump pumps payloads from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		log.Printf("WebSocket Client WritePump stopped for User %s", c.UserID)
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("WebSocket write error (NextWriter) for User %s: %v", c.UserID, err)
				return
			}
			w.Write(message)

			// Add queued chat messages to the current websocket message.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'}) // Add newline between messages
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				log.Printf("WebSocket write error (Close) for User %s: %v", c.UserID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket write error (Ping) for User %s: %v", c.UserID, err)
				return
			}
		}
	}
}
