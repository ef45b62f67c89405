package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/roomchat/internal/websocket"
)

type RoomHandler struct {
	hub *websocket.Hub
}

func NewRoomHandler(hub *websocket.Hub) *RoomHandler {
	return &RoomHandler{hub: hub}
}

// GetRoomUsers lists the users with a live connection viewing the room.
func (h *RoomHandler) GetRoomUsers(c *gin.Context) {
	roomID := c.Param("room")
	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"users":   h.hub.RoomUsers(roomID),
	})
}
