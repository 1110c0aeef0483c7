package ws

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"projecttree/backend/internal/models"
)

const maxMessageSize = 64 * 1024

type Client struct {
	ID        ulid.ULID
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	ProjectID uuid.UUID
	UserID    uuid.UUID
	Username  string
	Role      string

	room *Room
	// owned by the room goroutine
	joined      bool
	sessionHeld bool
	sendClosed  bool
}

func NewClient(hub *Hub, conn *websocket.Conn, projectID, userID uuid.UUID, username, role string) *Client {
	return &Client{
		ID:        ulid.Make(),
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, hub.opts.SendBuffer),
		ProjectID: projectID,
		UserID:    userID,
		Username:  username,
		Role:      role,
	}
}

func (c *Client) CanEdit() bool {
	return models.ProjectMember{Role: c.Role}.CanEdit()
}

func (c *Client) closeSend() {
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.Send)
}

// Serve registers the client and starts its pumps.
func (c *Client) Serve() error {
	if err := c.Hub.Register(c); err != nil {
		c.Conn.Close()
		return err
	}
	go c.WritePump()
	go c.ReadPump()
	return nil
}

// ReadPump hands each frame to the room and waits for it to be applied, so a
// connection's commands are processed in order.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	pongWait := c.Hub.opts.PongWait
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "conn", c.ID.String(), "error", err)
			}
			return
		}
		room := c.room
		room.do(func() { room.handle(c, data) })
	}
}

// WritePump drains Send to the socket and keeps the connection alive with
// pings. It closes the socket when Send is closed.
func (c *Client) WritePump() {
	writeWait := c.Hub.opts.WriteWait
	ticker := time.NewTicker(c.Hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
