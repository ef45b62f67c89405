package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/thereayou/roomchat/internal/composer"
	"github.com/thereayou/roomchat/internal/handlers/dto"
	"github.com/thereayou/roomchat/internal/models"
	"github.com/thereayou/roomchat/internal/syncengine"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	// Large enough for a base64 image staged through compose_attachment.
	maxMessageSize = 8 << 20

	sendQueueSize = 256
)

type ClientMessageHandler interface {
	HandleMessage(client *Client, msg *Message) error
}

// Client is one websocket connection. It owns a Sync Engine attached to the
// room the connection is viewing and the draft being composed there.
type Client struct {
	ID     uuid.UUID
	Author models.Author
	Conn   *websocket.Conn
	Hub    *Hub
	Engine *syncengine.Engine
	Draft  *composer.Draft

	resolver dto.Resolver
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// switchMu serializes room changes.
	switchMu sync.Mutex

	mu     sync.RWMutex
	roomID string
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, author models.Author, engine *syncengine.Engine, resolver dto.Resolver) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:       uuid.New(),
		Author:   author,
		Conn:     conn,
		Hub:      hub,
		Engine:   engine,
		Draft:    &composer.Draft{},
		resolver: resolver,
		send:     make(chan []byte, sendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context is cancelled when the connection goes away.
func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// JoinRoom points the connection at roomID: the previous view is detached
// and a fresh one attached. The draft is kept.
func (c *Client) JoinRoom(roomID string) error {
	if roomID == "" {
		return ErrInvalidMessage
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}
	if c.RoomID() == roomID {
		return nil
	}

	c.leaveLocked()

	if err := c.Engine.Attach(c.ctx, roomID); err != nil {
		return err
	}

	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()

	c.Hub.JoinRoom(c, roomID)
	return nil
}

// LeaveRoom detaches the view without closing the connection.
func (c *Client) LeaveRoom() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	c.leaveLocked()
}

func (c *Client) leaveLocked() {
	c.Engine.Detach()

	c.mu.Lock()
	old := c.roomID
	c.roomID = ""
	c.mu.Unlock()

	if old != "" {
		c.Hub.LeaveRoom(c, old)
	}
}

// ReadPump reads intents from the connection until it closes.
func (c *Client) ReadPump(handler ClientMessageHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				glog.Warningf("ws: client %s read error: %v", c.ID, err)
			}
			return
		}

		msg.UserID = c.Author.ID

		switch msg.Type {
		case TypePong:
			c.Conn.SetReadDeadline(time.Now().Add(pongWait))
			continue

		case TypeRoomJoin:
			if err := c.JoinRoom(msg.RoomID); err != nil {
				glog.Warningf("ws: client %s join %q: %v", c.ID, msg.RoomID, err)
				c.SendError(err.Error())
			}
			continue

		case TypeRoomLeave:
			c.LeaveRoom()
			continue
		}

		if handler != nil {
			if err := handler.HandleMessage(c, &msg); err != nil {
				glog.V(1).Infof("ws: client %s %s: %v", c.ID, msg.Type, err)
				c.SendError(err.Error())
			}
		}
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
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

// SyncPump pushes the room view to the connection each time it changes.
// Change signals coalesce, so a snapshot that does not fit in the send queue
// cannot be retried later; the connection is closed instead.
func (c *Client) SyncPump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.Engine.Changes():
			err := c.pushSnapshot()
			switch {
			case errors.Is(err, ErrClientQueueFull):
				glog.Warningf("ws: client %s is not keeping up, closing", c.ID)
				c.Hub.Unregister(c)
				c.shutdown()
				return
			case err != nil:
				glog.Warningf("ws: client %s snapshot dropped: %v", c.ID, err)
			}
		}
	}
}

func (c *Client) pushSnapshot() error {
	state := c.Engine.State()
	if state == syncengine.Detached {
		return nil
	}

	payload := dto.SnapshotPayload{
		RoomID:   c.Engine.RoomID(),
		State:    state.String(),
		Messages: dto.NewMessageResponses(c.Engine.Messages(), c.resolver),
	}
	if err := c.Engine.Interrupted(); err != nil {
		payload.Interrupted = err.Error()
	}

	return c.SendMessage(TypeSnapshot, payload)
}

func (c *Client) SendMessage(msgType MessageType, data interface{}) error {
	msg := Message{
		Type:      msgType,
		RoomID:    c.RoomID(),
		UserID:    c.Author.ID,
		Timestamp: time.Now(),
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = jsonData
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(msgData)
}

func (c *Client) SendError(errorMsg string) {
	c.SendMessage(TypeError, map[string]string{
		"error": errorMsg,
	})
}

func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// shutdown detaches the view, leaves the room and closes the send queue.
// Safe to call more than once.
func (c *Client) shutdown() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.roomID
	c.roomID = ""
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	c.Engine.Detach()
	if old != "" {
		c.Hub.LeaveRoom(c, old)
	}
}
