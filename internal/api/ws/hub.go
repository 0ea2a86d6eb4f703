package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; the API key guards the route
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	eventID uuid.UUID // uuid.Nil receives every event
}

type message struct {
	eventID uuid.UUID
	data    []byte
}

// Hub maintains active WebSocket clients and broadcasts photo notifications.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub event loop until ctx is done. Call this in a goroutine.
// Only Run touches the client set.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			observability.WSConnections.Inc()
			h.logger.Debug("ws client connected", "event_filter", client.eventID)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.logger.Debug("ws client disconnected")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.eventID != uuid.Nil && client.eventID != msg.eventID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, disconnect.
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Broadcast queues n for every client subscribed to its event. It never
// blocks; when the hub is saturated the notification is dropped.
func (h *Hub) Broadcast(n models.PhotoNotification) {
	data, err := json.Marshal(dto.WSEvent{
		Type:          n.Type,
		PhotoID:       n.PhotoID,
		EventID:       n.EventID,
		Status:        string(n.Status),
		FacesDetected: n.FacesDetected,
		Error:         n.Error,
		Timestamp:     n.Timestamp,
	})
	if err != nil {
		h.logger.Error("marshal ws event", "error", err)
		return
	}

	select {
	case h.broadcast <- message{eventID: n.EventID, data: data}:
	default:
		h.logger.Warn("ws broadcast queue full, dropping notification", "photo_id", n.PhotoID, "type", n.Type)
	}
}

// HandleNotification decodes a queued photo notification and broadcasts it.
// It has the queue.MessageHandler signature.
func (h *Hub) HandleNotification(_ context.Context, data []byte) error {
	var n models.PhotoNotification
	if err := json.Unmarshal(data, &n); err != nil {
		// Redelivery cannot fix a malformed payload.
		h.logger.Error("drop malformed photo notification", "error", err)
		return nil
	}
	h.Broadcast(n)
	return nil
}

// HandleWS handles WebSocket upgrade requests. An optional event_id query
// parameter limits the feed to one event.
func (h *Hub) HandleWS(c *gin.Context) {
	var filter uuid.UUID
	if s := c.Query("event_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("invalid event_id %q", s)})
			return
		}
		filter = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		eventID: filter,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
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

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Incoming messages are ignored; reading detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
