package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session receives the decoded frames of one connection and its disconnect.
type Session interface {
	HandleMessage(msg *Inbound)
	OnDisconnect()
}

// Client is one websocket connection bound to a room and a session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan interface{}
	userID  string
	room    string
	session Session
	logger  *zap.Logger
}

// Upgrade upgrades the HTTP request and returns the registered client. The
// caller attaches a session via Serve.
func Upgrade(hub *Hub, w http.ResponseWriter, r *http.Request, userID, room string, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan interface{}, 64),
		userID: userID,
		room:   room,
		logger: logger,
	}, nil
}

// Serve registers the client and starts both pumps.
func (c *Client) Serve(session Session) {
	c.session = session
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// Send queues a payload for this connection only, bypassing the hub.
func (c *Client) Send(payload interface{}) {
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Client send channel full, dropping message",
			zap.String("userId", c.userID),
			zap.String("room", c.room))
	}
}

// Close terminates the connection; the read pump handles cleanup.
func (c *Client) Close() {
	c.conn.Close()
}

// readPump decodes inbound frames into the envelope and dispatches them to
// the session. Runs until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.session.OnDisconnect()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					zap.String("userId", c.userID),
					zap.Error(err))
			}
			break
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(newError("invalid message format"))
			continue
		}

		c.session.HandleMessage(&msg)
	}
}

// writePump serializes queued payloads onto the connection and keeps the
// ping/pong heartbeat alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(payload)
			if err != nil {
				c.logger.Error("Failed to marshal message",
					zap.String("userId", c.userID),
					zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write message",
					zap.String("userId", c.userID),
					zap.Error(err))
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
