package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cableguard/internal/models"
)

// frame is the envelope sent to dashboard clients.
type frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub maintains the set of connected dashboard clients and fans monitoring
// events out to them. A client that cannot keep up is dropped rather than
// allowed to block the broadcaster.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        logger,
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info("dashboard client connected", zap.String("addr", client.conn.RemoteAddr().String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropping slow dashboard client", zap.String("addr", client.conn.RemoteAddr().String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastAnomaly sends an anomaly event to all connected clients.
func (h *Hub) BroadcastAnomaly(event models.AnomalyEvent) {
	h.send("anomaly", event)
}

// BroadcastAlert sends an alert to all connected clients.
func (h *Hub) BroadcastAlert(alert models.Alert) {
	h.send("alert", alert)
}

func (h *Hub) send(kind string, payload interface{}) {
	data, err := json.Marshal(frame{Type: kind, Payload: payload})
	if err != nil {
		h.log.Error("failed to marshal broadcast frame", zap.String("type", kind), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast channel full; the monitor must never block on the UI.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
