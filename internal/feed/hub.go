// Package feed streams resolution events to WebSocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stratushq/entitlements/internal/journal"
	"github.com/stratushq/entitlements/internal/logging"
	"github.com/stratushq/entitlements/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub maintains active subscribers and fans resolution events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     zerolog.Logger

	// allowedOrigins holds Origin patterns permitted to connect, e.g.
	// "https://ops.example.com" or "https://*.example.com". Empty means
	// same-host only.
	allowedOrigins []string

	// getCatalog supplies the payload sent to newly connected clients.
	getCatalog func() any
}

// Message is the envelope for every frame the hub sends.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewHub creates a hub. getCatalog may be nil; connected clients then only
// receive the welcome frame.
func NewHub(allowedOrigins []string, getCatalog func() any) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		logger:         logging.NewLogger("feed"),
		allowedOrigins: allowedOrigins,
		getCatalog:     getCatalog,
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetFeedClients(count)
			h.logger.Info().Str("client", client.id).Int("clients", count).Msg("Feed client connected")

			h.sendTo(client, Message{
				Type: "welcome",
				Data: map[string]string{"service": "entitlementd"},
			})
			if h.getCatalog != nil {
				h.sendTo(client, Message{Type: "catalog", Data: h.getCatalog()})
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetFeedClients(count)
			h.logger.Info().Str("client", client.id).Int("clients", count).Msg("Feed client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it.
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
					h.mu.Unlock()
				}
			}

		case <-pingTicker.C:
			h.broadcastMessage(Message{
				Type: "ping",
				Data: map[string]int64{"timestamp": time.Now().Unix()},
			})

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.SetFeedClients(0)
			return
		}
	}
}

// BroadcastResolution fans one resolution event out to all subscribers.
func (h *Hub) BroadcastResolution(ev journal.Event) {
	h.broadcastMessage(Message{Type: "resolution", Data: ev})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal feed message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("Feed broadcast channel full")
	}
}

func (h *Hub) sendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal feed message")
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn().Str("client", client.id).Str("type", msg.Type).Msg("Client send buffer full")
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   generateClientID(),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// checkOrigin allows non-browser clients (no Origin header), same-host
// requests, and origins matching a configured pattern.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}

	for _, pattern := range h.allowedOrigins {
		if pattern == "*" || wildcard.Match(pattern, origin) {
			return true
		}
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("client", c.id).Msg("Feed read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed feed message")
			continue
		}

		switch msg.Type {
		case "ping":
			c.hub.sendTo(c, Message{
				Type: "pong",
				Data: map[string]int64{"timestamp": time.Now().Unix()},
			})
		case "requestCatalog":
			if c.hub.getCatalog != nil {
				c.hub.sendTo(c, Message{Type: "catalog", Data: c.hub.getCatalog()})
			}
		default:
			c.hub.logger.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Received feed message")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain anything already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.send:
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
