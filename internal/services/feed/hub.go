// Package feed pushes detection events to websocket clients.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
)

const broadcastBufferSize = 256

// Message is sent to and received from clients.
type Message struct {
	Type      string    `json:"type"` // detection, ping, pong, error
	Stream    string    `json:"stream,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Hub fans detection events out to every connected client.
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBufferSize),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "feed"),
	}
}

// Run starts the hub's main loop and disconnects every client when ctx
// ends. Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("feed hub started")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.clientsMu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.conn.Close()
			}
			h.clientsMu.Unlock()
			h.logger.Info("feed hub stopped")
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.Info("client connected", "remote", client.remoteAddr)

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientsMu.Unlock()
			h.logger.Info("client disconnected", "remote", client.remoteAddr)

		case msg := <-h.broadcast:
			h.clientsMu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Буфер клиента переполнен, пропускаем
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Publish queues a detection for every client. It never blocks.
func (h *Hub) Publish(event models.DetectionEvent) error {
	data, err := json.Marshal(Message{
		Type:      "detection",
		Stream:    event.StreamID,
		Message:   event.Message,
		Timestamp: &event.Timestamp,
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast buffer full, dropping detection", "stream", event.StreamID)
	}
	return nil
}

// Observer returns an observer forwarding detections of streamID to clients.
func (h *Hub) Observer(streamID string) *observer.Func {
	return observer.NewFunc(func(message string) error {
		return h.Publish(models.DetectionEvent{
			StreamID:  streamID,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn, r.RemoteAddr)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
