package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/thereayou/roomchat/internal/handlers/dto"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/middleware"
	"github.com/thereayou/roomchat/internal/syncengine"
	ws "github.com/thereayou/roomchat/internal/websocket"
)

// WebSocketHandler upgrades connections and gives each one its own room view.
type WebSocketHandler struct {
	hub            *ws.Hub
	messageHandler *MessageHandler
	log            messagelog.Log
	syncOpts       syncengine.Options
	resolver       dto.Resolver
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, messageHandler *MessageHandler, log messagelog.Log, syncOpts syncengine.Options, resolver dto.Resolver, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		messageHandler: messageHandler,
		log:            log,
		syncOpts:       syncOpts,
		resolver:       resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker accepts any origin when allowed is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket upgrades the request and attaches the connection to the
// room named by the room query parameter, if any.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	author, ok := middleware.CurrentAuthor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.V(1).Infof("ws: upgrade failed: %v", err)
		return
	}

	engine := syncengine.New(h.log, h.syncOpts)
	client := ws.NewClient(h.hub, conn, author, engine, h.resolver)

	h.hub.Register(client)

	go client.WritePump()
	go client.SyncPump()

	if roomID := c.Query("room"); roomID != "" {
		if err := client.JoinRoom(roomID); err != nil {
			glog.Warningf("ws: client %s attach %q: %v", client.ID, roomID, err)
			client.SendError(err.Error())
		}
	}

	go client.ReadPump(h.messageHandler)
}
