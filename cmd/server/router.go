package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thereayou/roomchat/internal/handlers"
	"github.com/thereayou/roomchat/internal/middleware"
	"github.com/thereayou/roomchat/pkg/auth"
)

type endpoints struct {
	auth        *handlers.AuthHandler
	user        *handlers.UserHandler
	room        *handlers.RoomHandler
	messages    *handlers.HTTPMessageHandler
	attachments *handlers.AttachmentHandler
	websocket   *handlers.WebSocketHandler
}

func APIEndpoints(r *gin.Engine, h endpoints, jwtMgr *auth.JWTManager, rdb *redis.Client) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/attachments/*key", h.attachments.Serve)

	r.GET("/ws", middleware.WSAuthMiddleware(jwtMgr, rdb), h.websocket.HandleWebSocket)

	api := r.Group("/api/v1", middleware.AuthMiddleware(jwtMgr, rdb))
	{
		api.POST("/auth/logout", h.auth.Logout)
		api.GET("/me", h.user.GetMe)
		api.GET("/reactions/palette", h.messages.GetPalette)

		rooms := api.Group("/rooms/:room")
		{
			rooms.GET("/users", h.room.GetRoomUsers)
			rooms.GET("/messages", h.messages.GetRoomMessages)
			rooms.POST("/messages", h.messages.SendMessage)
			rooms.PUT("/messages/:id/reactions", h.messages.React)
		}
	}
}
