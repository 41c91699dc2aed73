package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub fans planning-stage updates out to the WebSocket clients of each
// circle. Clients subscribe to one circle and receive every stage change as
// a JSON snapshot.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu sync.RWMutex

	// latest holds the last snapshot per circle so a freshly connected
	// client renders the current stage without waiting for the next change.
	latestMu sync.RWMutex
	latest   map[string][]byte

	maxConnections   int
	totalConnections int
}

// Client is one WebSocket subscriber bound to a circle.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	circleID     string
	lastActivity time.Time
}

type broadcastMessage struct {
	circleID string
	payload  []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The mobile clients connect from app webviews with no stable origin.
		return true
	},
}

func NewHub() *Hub {
	return &Hub{
		clients:        map[string]map[*Client]bool{},
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *broadcastMessage, 64),
		latest:         map[string][]byte{},
		maxConnections: 10000,
	}
}

// Run processes registrations and broadcasts. Call once, in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.circleID] == nil {
				h.clients[client.circleID] = map[*Client]bool{}
			}
			h.clients[client.circleID][client] = true
			h.totalConnections++
			h.mu.Unlock()

			h.latestMu.RLock()
			snapshot := h.latest[client.circleID]
			h.latestMu.RUnlock()
			if snapshot != nil {
				select {
				case client.send <- snapshot:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.circleID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					h.totalConnections--
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.circleID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.latestMu.Lock()
			h.latest[msg.circleID] = msg.payload
			h.latestMu.Unlock()

			h.mu.Lock()
			for client := range h.clients[msg.circleID] {
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer; drop the connection rather than block
					// every other client of the circle.
					close(client.send)
					delete(h.clients[msg.circleID], client)
					h.totalConnections--
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues payload for every client of the circle. Non-blocking;
// under backpressure the newest snapshot still lands in the latest map.
func (h *Hub) Broadcast(circleID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal broadcast for circle %s: %v", circleID, err)
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{circleID: circleID, payload: data}:
	default:
		log.Printf("broadcast channel full, dropping update for circle %s", circleID)
	}
}

// ConnectionCount reports the number of open WebSocket connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConnections
}

// ServeWS upgrades the request and subscribes it to the circle's updates.
func (h *Hub) ServeWS(c *gin.Context) {
	circleID := c.Param("id")

	h.mu.RLock()
	full := h.totalConnections >= h.maxConnections
	h.mu.RUnlock()
	if full {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection limit reached"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, 256),
		circleID:     circleID,
		lastActivity: time.Now(),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		c.lastActivity = time.Now()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
