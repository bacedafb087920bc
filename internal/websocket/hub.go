package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live connections grouped into rooms. The queue channel shares
// one room ("queue"); every match gets its own room ("match_<id>"). A client
// belongs to exactly one room for its lifetime.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// Message is an addressed outbound frame. UserID narrows delivery to one
// user in the room; ExcludeUserID skips one user; both empty means the
// whole room.
type Message struct {
	Room          string
	UserID        string
	ExcludeUserID string
	Payload       interface{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run owns the room map. Must run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[client.room]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[client.room] = room
	}
	room[client] = true

	h.logger.Info("WebSocket client joined room",
		zap.String("userId", client.userID),
		zap.String("room", client.room),
		zap.Int("roomSize", len(room)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, exists := h.rooms[client.room]
	if !exists || !room[client] {
		return
	}

	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.room)
	}

	h.logger.Info("WebSocket client left room",
		zap.String("userId", client.userID),
		zap.String("room", client.room),
		zap.Int("roomSize", len(room)))
}

func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[message.Room] {
		if message.UserID != "" && client.userID != message.UserID {
			continue
		}
		if message.ExcludeUserID != "" && client.userID == message.ExcludeUserID {
			continue
		}

		select {
		case client.send <- message.Payload:
		default:
			// A reader this far behind is as good as gone.
			h.logger.Warn("Client send channel full, dropping connection",
				zap.String("userId", client.userID),
				zap.String("room", client.room))
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// SendToUser delivers a payload to one user's connection in a room.
func (h *Hub) SendToUser(room, userID string, payload interface{}) {
	h.broadcast <- &Message{Room: room, UserID: userID, Payload: payload}
}

// SendToRoom delivers a payload to every connection in a room.
func (h *Hub) SendToRoom(room string, payload interface{}) {
	h.broadcast <- &Message{Room: room, Payload: payload}
}

// BroadcastRoomExcept delivers a payload to everyone in a room but one user.
func (h *Hub) BroadcastRoomExcept(room, excludeUserID string, payload interface{}) {
	h.broadcast <- &Message{Room: room, ExcludeUserID: excludeUserID, Payload: payload}
}
