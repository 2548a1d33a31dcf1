// Package realtime pushes "aggregate changed" messages to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cppla/learnquest/services"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type client struct {
	userID uint
	conn   *websocket.Conn
	send   chan []byte
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans messages out to the websocket clients of each user on this instance.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*client]struct{}
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{clients: make(map[uint]map[*client]struct{}), log: log}
}

// Serve registers conn for userID and blocks until the client goes away.
func (h *Hub) Serve(conn *websocket.Conn, userID uint) {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)
	go c.writePump()
	defer h.remove(c)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only listen; reading drives pong and close handling
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debugw("ws client connected", "user_id", c.userID)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers msg to the user's clients on this instance. Clients that cannot keep up are
// disconnected rather than blocking the caller.
func (h *Hub) Publish(_ context.Context, msg services.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.deliver(msg.UserID, data)
	return nil
}

// deliver sends under the read lock. remove closes send under the write lock, so a send never
// races a close.
func (h *Hub) deliver(userID uint, data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnw("ws client too slow, disconnecting", "user_id", userID)
		h.remove(c)
	}
}

// ClientCount is the number of connected clients across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
