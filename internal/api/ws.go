package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/logging"
)

// Hub fans system events out to connected websocket clients
type Hub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a websocket hub and subscribes it to the event bus
func NewHub(bus *events.Bus, log *logging.Logger) *Hub {
	h := &Hub{
		log: log.WithComponent("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
	bus.SubscribeAll(h.Broadcast)
	return h
}

// Handle upgrades an HTTP request to a websocket connection
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "remote", conn.RemoteAddr().String())

	// Reader loop exists only to notice disconnects
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every connected client
func (h *Hub) Broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}

// Clients reports the connected client count
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
