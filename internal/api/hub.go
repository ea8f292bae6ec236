package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/uuid"
)

// EventConnectivityChanged is broadcast on every online/offline transition.
const EventConnectivityChanged = "connectivity.changed"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts clients without an Origin header and pages served
// from the local machine.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether the client asked for this event type. A client
// with no subscriptions receives everything.
func (c *client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

type outbound struct {
	eventType string
	payload   []byte
	// to limits delivery to one client.
	to *client
}

// Hub fans sync and connectivity events out to websocket clients.
type Hub struct {
	clients    map[string]*client
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

var _ syncpkg.SyncEventHandler = (*Hub)(nil)

// NewHub creates a hub. Run must be called for messages to flow.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run manages clients until ctx is done, then disconnects them all.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.setCount(0)
			return nil

		case c := <-h.register:
			h.clients[c.id] = c
			h.setCount(len(h.clients))
			logging.Debug("websocket client connected", map[string]interface{}{"client": c.id, "total": len(h.clients)})

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.setCount(len(h.clients))
			logging.Debug("websocket client disconnected", map[string]interface{}{"client": c.id, "total": len(h.clients)})

		case msg := <-h.broadcast:
			if msg.to != nil {
				if c, ok := h.clients[msg.to.id]; ok {
					select {
					case c.send <- msg.payload:
					default:
					}
				}
				continue
			}
			for id, c := range h.clients {
				if !c.wants(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow client.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a message for every interested client. It never
// blocks; when the hub is saturated the message is dropped.
func (h *Hub) Broadcast(eventType, message string, data map[string]interface{}) {
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Error("failed to marshal websocket message", err, map[string]interface{}{"type": eventType})
		return
	}
	select {
	case h.broadcast <- outbound{eventType: eventType, payload: payload}:
	default:
		logging.Warn("websocket hub is full, event dropped", map[string]interface{}{"type": eventType})
	}
}

// OnSyncEvent implements syncpkg.SyncEventHandler.
func (h *Hub) OnSyncEvent(event syncpkg.SyncEvent) {
	h.Broadcast(string(event.Type), event.Message, event.Data)
}

// WatchConnectivity broadcasts monitor transitions until ctx is done.
func (h *Hub) WatchConnectivity(ctx context.Context, m *connectivity.Monitor) error {
	events, unsubscribe := m.Subscribe(8)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast(EventConnectivityChanged, "", map[string]interface{}{
				"online": ev.Online,
				"source": ev.Source,
				"at":     ev.At,
			})
		}
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := &client{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           h,
		subscriptions: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// clientMessage is what clients send: subscribe, unsubscribe or ping.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("websocket read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

func (c *client) writePump() {
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
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a direct answer to this client through the hub, which owns
// the send channel.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = time.Now().Unix()
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	select {
	case c.hub.broadcast <- outbound{payload: payload, to: c}:
	default:
	}
}
