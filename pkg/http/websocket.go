package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/metrics"
	"callguard/pkg/session"
)

// Message types pushed to dashboard clients
const (
	MessageSnapshot = "snapshot"
	MessageAlert    = "alert"
	MessageSaved    = "saved"
)

// HubMessage is one update pushed to dashboard clients
type HubMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// AlertPayload is the data of an alert message
type AlertPayload struct {
	SessionID string                    `json:"sessionId"`
	RiskLevel analysis.RiskLevel        `json:"riskLevel"`
	Analysis  analysis.DetailedAnalysis `json:"analysis"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a connected WebSocket client
type Client struct {
	hub    *SessionHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger
}

// SessionHub pushes controller updates to WebSocket clients. It implements
// session.Observer; notifications never block the controller, and a client
// that cannot keep up is disconnected.
type SessionHub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	running    bool
	done       chan struct{}

	// latest snapshot message, replayed to new clients
	lastMu   sync.RWMutex
	last     []byte
	now      func() time.Time
	upgrader websocket.Upgrader
}

var _ session.Observer = (*SessionHub)(nil)

// NewSessionHub creates a new session hub
func NewSessionHub(logger *logrus.Logger) *SessionHub {
	return &SessionHub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Dashboard may be served from another origin
				return true
			},
		},
	}
}

// Run processes registrations and broadcasts until ctx is done. A hub runs
// once.
func (h *SessionHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket session hub")
	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		h.running = false
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mutex.Unlock()
		metrics.SetWebSocketClients(0)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket session hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()

			if last := h.latest(); last != nil {
				client.send <- last
			}
			metrics.SetWebSocketClients(count)
			h.logger.WithField("clients", count).Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()

			metrics.SetWebSocketClients(count)
			h.logger.WithField("clients", count).Info("Client disconnected from WebSocket")

		case data := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Dropping slow WebSocket client")
				}
			}
			count := len(h.clients)
			h.mutex.Unlock()
			metrics.SetWebSocketClients(count)
		}
	}
}

func (h *SessionHub) latest() []byte {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	return h.last
}

func (h *SessionHub) publish(msgType string, data interface{}) []byte {
	payload, err := json.Marshal(HubMessage{Type: msgType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		h.logger.WithError(err).WithField("type", msgType).Error("Failed to marshal hub message")
		return nil
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.WithField("type", msgType).Warn("Hub broadcast queue full, dropping update")
	}
	return payload
}

// SessionUpdated broadcasts a snapshot and keeps it for new clients
func (h *SessionHub) SessionUpdated(snapshot session.Snapshot) {
	if payload := h.publish(MessageSnapshot, snapshot); payload != nil {
		h.lastMu.Lock()
		h.last = payload
		h.lastMu.Unlock()
	}
}

// CriticalAlert broadcasts the one-time alert of a session
func (h *SessionHub) CriticalAlert(sessionID string, a analysis.DetailedAnalysis) {
	h.publish(MessageAlert, AlertPayload{SessionID: sessionID, RiskLevel: a.Level(), Analysis: a})
}

// SessionSaved broadcasts a new history entry
func (h *SessionHub) SessionSaved(entry analysis.HistoryEntry) {
	h.publish(MessageSaved, newHistoryItem(entry))
}

// ClientCount returns the number of connected clients
func (h *SessionHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether Run is active
func (h *SessionHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// ServeWs upgrades the request and subscribes the client to updates
func (h *SessionHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	if !h.IsRunning() {
		http.Error(w, "session updates unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: h.logger,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards client input and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket client closed unexpectedly")
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON document per frame
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
