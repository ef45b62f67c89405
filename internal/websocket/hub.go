package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// MessageType names a frame on the wire.
type MessageType string

const (
	// Connection
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"

	// Room view
	TypeSnapshot MessageType = "snapshot"

	// Client intents
	TypeComposeText       MessageType = "compose_text"
	TypeComposeAttachment MessageType = "compose_attachment"
	TypeClearAttachment   MessageType = "clear_attachment"
	TypeSubmit            MessageType = "submit"
	TypeMessage           MessageType = "message"
	TypeMessageSent       MessageType = "message_sent"
	TypeReact             MessageType = "react"

	// Presence
	TypeRoomJoin  MessageType = "room_join"
	TypeRoomLeave MessageType = "room_leave"
	TypeRoomUsers MessageType = "room_users"
)

type Message struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Hub struct {
	clients map[uuid.UUID]*Client

	// Clients by the room they are viewing
	rooms map[string]map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		rooms:      make(map[string]map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run serves registrations and pings until Stop.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop detaches every connection's room view and closes the connections.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.shutdown()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	glog.V(1).Infof("ws: client registered: %s (user %s)", client.ID, client.Author.ID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.mu.Unlock()

	if ok {
		client.shutdown()
		glog.V(1).Infof("ws: client unregistered: %s (user %s)", client.ID, client.Author.ID)
	}
}

// JoinRoom records the client as present in roomID and tells the others.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client

	if data, err := json.Marshal(Message{
		Type:      TypeRoomJoin,
		RoomID:    roomID,
		UserID:    client.Author.ID,
		Timestamp: time.Now(),
	}); err == nil {
		h.broadcastToRoomExcept(roomID, data, client.ID)
	}

	h.sendRoomUsers(client, roomID)
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomUnsafe(client, roomID)
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := room[client.ID]; !ok {
		return
	}
	delete(room, client.ID)

	if len(room) == 0 {
		delete(h.rooms, roomID)
		return
	}

	if data, err := json.Marshal(Message{
		Type:      TypeRoomLeave,
		RoomID:    roomID,
		UserID:    client.Author.ID,
		Timestamp: time.Now(),
	}); err == nil {
		h.broadcastToRoomExcept(roomID, data, client.ID)
	}
}

func (h *Hub) broadcastToRoomExcept(roomID string, message []byte, excludeID uuid.UUID) {
	for _, client := range h.rooms[roomID] {
		if client.ID == excludeID {
			continue
		}
		if err := client.enqueue(message); err != nil {
			glog.V(1).Infof("ws: client %s: %v", client.ID, err)
		}
	}
}

func (h *Hub) sendRoomUsers(client *Client, roomID string) {
	users := h.roomUsersUnsafe(roomID)

	data, err := json.Marshal(users)
	if err != nil {
		return
	}
	msg, err := json.Marshal(Message{
		Type:      TypeRoomUsers,
		RoomID:    roomID,
		UserID:    client.Author.ID,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	if err := client.enqueue(msg); err != nil {
		glog.Warningf("ws: failed to send room users to client %s: %v", client.ID, err)
	}
}

func (h *Hub) ping() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(Message{Type: TypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}
	for _, client := range h.clients {
		_ = client.enqueue(data)
	}
}

// RoomUsers returns the distinct users connected to roomID.
func (h *Hub) RoomUsers(roomID string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomUsersUnsafe(roomID)
}

func (h *Hub) roomUsersUnsafe(roomID string) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	users := make([]uuid.UUID, 0)
	for _, c := range h.rooms[roomID] {
		if !seen[c.Author.ID] {
			seen[c.Author.ID] = true
			users = append(users, c.Author.ID)
		}
	}
	return users
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
