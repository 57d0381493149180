package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"crashgame/internal/metrics"
)

const (
	BROADCAST_BUFFER = 100
	CLIENT_BUFFER    = 256
	WRITE_WAIT       = 10 * time.Second
)

// wsConn is the part of a websocket connection the hub writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected player. Messages are written by a single writer
// goroutine, in the order they were queued.
type Client struct {
	conn   wsConn
	userID string
	send   chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	// snapshots at or below stateSeq are already covered by the state
	// sent with SendState
	hasState bool
	stateSeq uint64
	lastSeq  uint64
}

func (c *Client) UserID() string {
	return c.userID
}

// Done is closed once the writer has flushed its queue and closed the conn.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send queues a message for this client only. It reports false when the
// client's queue is full.
func (c *Client) Send(message interface{}) bool {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Send marshal error: %v", err)
		return false
	}
	return c.enqueue(data)
}

// SendState queues a full snapshot under msgType. It is dropped when a
// newer snapshot is already queued.
func (c *Client) SendState(msgType string, snap Snapshot) bool {
	data, err := json.Marshal(WSMessage{Type: msgType, Data: snap})
	if err != nil {
		log.Printf("[WS] Send marshal error: %v", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if snap.Seq < c.lastSeq {
		return true
	}
	if !c.push(data) {
		return false
	}
	c.hasState, c.stateSeq, c.lastSeq = true, snap.Seq, snap.Seq
	return true
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	return c.push(data)
}

func (c *Client) enqueueSnapshot(msg stateMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.hasState && msg.seq <= c.stateSeq {
		return true
	}
	if !c.push(msg.data) {
		return false
	}
	c.lastSeq = max(c.lastSeq, msg.seq)
	return true
}

func (c *Client) push(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Write error for user %s: %v", c.userID, err)
		}
	}
	c.conn.Close()
	close(c.done)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type stateMessage struct {
	seq  uint64
	data []byte
}

// Hub fans snapshots out to every connected client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan stateMessage
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan stateMessage, BROADCAST_BUFFER),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			metrics.ConnectedClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			log.Printf("[WS] Client connected: %s (Total: %d)", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.userID, len(h.clients))
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.enqueueSnapshot(message) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				metrics.SnapshotsDropped.WithLabelValues("slow_client").Inc()
				log.Printf("[WS] Client %s is too slow, disconnecting", client.userID)
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.close()
				}
				h.mu.Unlock()
			}
		}
	}
}

func (h *Hub) Stop() {
	close(h.stopChan)
}

// Broadcast implements Transport. Snapshots are marshalled here, in engine
// order, so every client receives them in the order they were produced.
func (h *Hub) Broadcast(snap Snapshot) {
	data, err := json.Marshal(WSMessage{Type: "game_state", Data: snap})
	if err != nil {
		log.Printf("[WS] Marshal error: %v", err)
		return
	}
	select {
	case h.broadcast <- stateMessage{seq: snap.Seq, data: data}:
	default:
		metrics.SnapshotsDropped.WithLabelValues("hub_full").Inc()
		log.Printf("[WS] Broadcast channel full, dropping snapshot %d", snap.Seq)
	}
}

// ConnectedPlayers implements Transport.
func (h *Hub) ConnectedPlayers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(h.clients))
	players := make([]string, 0, len(h.clients))
	for client := range h.clients {
		if client.userID == "" || client.userID == "anonymous" || seen[client.userID] {
			continue
		}
		seen[client.userID] = true
		players = append(players, client.userID)
	}
	return players
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	return h.addClient(conn, userID)
}

func (h *Hub) addClient(conn wsConn, userID string) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, CLIENT_BUFFER),
		done:   make(chan struct{}),
	}
	go client.writePump()
	select {
	case h.register <- client:
	case <-h.stopChan:
		client.close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopChan:
	}
}
